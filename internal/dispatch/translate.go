package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattjoyce/plugrpc/internal/capability"
	"github.com/mattjoyce/plugrpc/internal/protocol"
)

// DefaultFailureMarkers are the prefixes the stock host treats as an error
// when a call returns a bare string.
func DefaultFailureMarkers() []string {
	return []string{"错误", "失败"}
}

const emptyFailure = "operation failed"

// Translator turns an Outcome into a Response.
//
// A string value that starts with one of the failure markers is reported as
// an error rather than a result. Older hosts and plugins signal failures this
// way; an empty marker list turns it off.
type Translator struct {
	markers []string
}

// NewTranslator returns a Translator using markers. Empty entries are ignored.
func NewTranslator(markers []string) *Translator {
	kept := make([]string, 0, len(markers))
	for _, m := range markers {
		if m != "" {
			kept = append(kept, m)
		}
	}
	return &Translator{markers: kept}
}

// Translate builds the response for id.
func (t *Translator) Translate(id json.RawMessage, out capability.Outcome) *protocol.Response {
	switch out.Kind() {
	case capability.OutcomeFailure:
		msg := out.Message()
		if msg == "" {
			msg = emptyFailure
		}
		return protocol.ErrorResponse(id, msg)

	case capability.OutcomeValue:
		if s, ok := out.Payload().(string); ok && t.isFailureMarked(s) {
			return protocol.ErrorResponse(id, s)
		}
		data, err := json.Marshal(out.Payload())
		if err != nil {
			return protocol.ErrorResponse(id, fmt.Sprintf("encode result: %v", err))
		}
		return protocol.NewResponse(id, data, nil)

	default:
		return protocol.NewResponse(id, nil, nil)
	}
}

func (t *Translator) isFailureMarked(s string) bool {
	for _, m := range t.markers {
		if strings.HasPrefix(s, m) {
			return true
		}
	}
	return false
}
