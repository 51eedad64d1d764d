package dispatch

import "fmt"

// State is the position of a Session in its request cycle.
type State int32

const (
	StateAwaitingRequest State = iota
	StateDecoding
	StateResolving
	StateInvoking
	StateEncoding
	StateSending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateDecoding:
		return "decoding"
	case StateResolving:
		return "resolving"
	case StateInvoking:
		return "invoking"
	case StateEncoding:
		return "encoding"
	case StateSending:
		return "sending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
