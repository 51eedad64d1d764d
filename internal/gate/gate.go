// Package gate verifies that the process was launched by a trusted host.
//
// The host passes a pre-shared cookie and the list of application protocol
// versions it speaks through the environment. Both are checked once, before
// anything else starts; a mismatch is always fatal.
package gate

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultCookieKey   = "ARCADE_RPC_PLUGIN"
	DefaultCookieValue = "arcade-rpc-plugin-protocol"
	DefaultVersionsKey = "PLUGIN_PROTOCOL_VERSIONS"
	DefaultAppProtocol = 2
)

var (
	// ErrUntrustedHost means the cookie is missing or wrong.
	ErrUntrustedHost = errors.New("plugin was not launched by a trusted host")

	// ErrUnsupportedProtocol means the host does not offer our protocol version.
	ErrUnsupportedProtocol = errors.New("unsupported plugin protocol version")
)

// Requirements names the environment contract between host and plugin.
type Requirements struct {
	CookieKey   string
	CookieValue string
	VersionsKey string
	AppProtocol int
}

// DefaultRequirements returns the contract expected by the stock host.
func DefaultRequirements() Requirements {
	return Requirements{
		CookieKey:   DefaultCookieKey,
		CookieValue: DefaultCookieValue,
		VersionsKey: DefaultVersionsKey,
		AppProtocol: DefaultAppProtocol,
	}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// CheckEnv runs Check against the process environment.
func CheckEnv(req Requirements) (int, error) {
	return Check(os.LookupEnv, req)
}

// Check validates the cookie and negotiates the application protocol version.
// It returns the negotiated version on success.
func Check(lookup LookupFunc, req Requirements) (int, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cookie, ok := lookup(req.CookieKey)
	if !ok || cookie == "" {
		return 0, fmt.Errorf("%w: %s is not set", ErrUntrustedHost, req.CookieKey)
	}
	// Constant-time comparison; the cookie is a shared secret.
	if subtle.ConstantTimeCompare([]byte(cookie), []byte(req.CookieValue)) != 1 {
		return 0, fmt.Errorf("%w: %s has an unexpected value", ErrUntrustedHost, req.CookieKey)
	}

	raw, ok := lookup(req.VersionsKey)
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, fmt.Errorf("%w: %s is not set", ErrUnsupportedProtocol, req.VersionsKey)
	}
	versions, err := ParseVersions(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedProtocol, err)
	}
	for _, v := range versions {
		if v == req.AppProtocol {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: host offers %v, plugin speaks %d", ErrUnsupportedProtocol, versions, req.AppProtocol)
}

// ParseVersions parses a single version or a list separated by commas and/or
// whitespace ("2", "1,2", "1, 2", "1 2"). Entries that are not positive
// integers are skipped; a list with none left is an error.
func ParseVersions(raw string) ([]int, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty protocol version list")
	}

	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no valid protocol version in %q", raw)
	}
	return out, nil
}
