package capability

import "fmt"

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	OutcomeVoid OutcomeKind = iota
	OutcomeValue
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeVoid:
		return "void"
	case OutcomeValue:
		return "value"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is what an operation hands back to the runtime: nothing, a value to
// serialize, or a failure message. The zero Outcome is Void.
type Outcome struct {
	kind    OutcomeKind
	payload any
	message string
}

// Void reports success with no value.
func Void() Outcome {
	return Outcome{kind: OutcomeVoid}
}

// Value reports success carrying v. v must be JSON-encodable.
func Value(v any) Outcome {
	return Outcome{kind: OutcomeValue, payload: v}
}

// Fail reports a failure with msg as the wire error.
func Fail(msg string) Outcome {
	return Outcome{kind: OutcomeFailure, message: msg}
}

// Failf is Fail with formatting.
func Failf(format string, args ...any) Outcome {
	return Fail(fmt.Sprintf(format, args...))
}

// FromError maps a nil error to Void and anything else to Fail.
func FromError(err error) Outcome {
	if err != nil {
		return Fail(err.Error())
	}
	return Void()
}

func (o Outcome) Kind() OutcomeKind { return o.kind }
func (o Outcome) Payload() any      { return o.payload }
func (o Outcome) Message() string   { return o.message }
func (o Outcome) Failed() bool      { return o.kind == OutcomeFailure }
