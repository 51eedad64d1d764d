// Package capability defines the contract between the RPC runtime and the
// object that does the plugin's actual work, plus the static method table the
// dispatch loop resolves calls against.
package capability

import (
	"context"
	"encoding/json"
)

//go:generate mockgen -destination=mocks/mock_capability.go -package=mocks github.com/mattjoyce/plugrpc/internal/capability Capability

// Capability is implemented by every plugin served over the runtime.
//
// Identity methods must be cheap and side-effect free. Initialize may be called
// more than once; a failed Initialize must leave the previous configuration in
// place. Cleanup is always called once the session ends and must tolerate being
// called again.
type Capability interface {
	Identify() string
	Describe() string
	Version() string
	Kind() Kind
	Initialize(ctx context.Context, config json.RawMessage) error
	Cleanup(ctx context.Context) error

	// Operations lists the domain operations (everything beyond the base
	// contract). It is read once when the table is built.
	Operations() []Operation
}

// Kind is the category a plugin reports through Kind and Type.
type Kind string

const (
	KindSource      Kind = "source"
	KindBuild       Kind = "build"
	KindTest        Kind = "test"
	KindDeploy      Kind = "deploy"
	KindSecurity    Kind = "security"
	KindNotify      Kind = "notify"
	KindApproval    Kind = "approval"
	KindStorage     Kind = "storage"
	KindAnalytics   Kind = "analytics"
	KindIntegration Kind = "integration"
	KindCustom      Kind = "custom"
)

var knownKinds = map[Kind]bool{
	KindSource: true, KindBuild: true, KindTest: true, KindDeploy: true,
	KindSecurity: true, KindNotify: true, KindApproval: true, KindStorage: true,
	KindAnalytics: true, KindIntegration: true, KindCustom: true,
}

// Valid reports whether k is one of the kinds hosts understand.
func (k Kind) Valid() bool {
	return knownKinds[k]
}

// Info is the identity record returned by GetInfo.
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Kind        Kind     `json:"kind"`
	Operations  []string `json:"operations"`
}
