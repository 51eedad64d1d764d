package capability

import (
	"context"
	"errors"
	"fmt"
)

// ErrArity is returned when a call carries the wrong number of arguments.
var ErrArity = errors.New("wrong number of arguments")

// Shape is the declared return shape of an operation.
type Shape int

const (
	ShapeVoid Shape = iota
	ShapeValue
	ShapeValueOrVoid
)

func (s Shape) String() string {
	switch s {
	case ShapeVoid:
		return "void"
	case ShapeValue:
		return "value"
	case ShapeValueOrVoid:
		return "value-or-void"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// ParseShape is the inverse of Shape.String. Empty selects ShapeValueOrVoid.
func ParseShape(s string) (Shape, error) {
	switch s {
	case "void":
		return ShapeVoid, nil
	case "value":
		return ShapeValue, nil
	case "", "value-or-void":
		return ShapeValueOrVoid, nil
	default:
		return 0, fmt.Errorf("unknown return shape %q", s)
	}
}

// Handler executes one operation.
type Handler func(ctx context.Context, args Args) Outcome

// Operation is one entry of the method table.
type Operation struct {
	Name string

	// Arity is the number of positional arguments. The last Optional of them
	// may be omitted by the caller and read as null.
	Arity    int
	Optional int

	Returns Shape
	Invoke  Handler
}

// CheckArity validates the argument count against the declaration.
func (op Operation) CheckArity(args Args) error {
	lowest := op.Arity - op.Optional
	if len(args) > op.Arity || len(args) < lowest {
		if op.Optional == 0 {
			return fmt.Errorf("%s: %w: want %d, got %d", op.Name, ErrArity, op.Arity, len(args))
		}
		return fmt.Errorf("%s: %w: want %d to %d, got %d", op.Name, ErrArity, lowest, op.Arity, len(args))
	}
	return nil
}

// Call checks arity and invokes the handler. A void operation only carries a
// string value out, which the translator may report as an error; any other
// value is dropped.
func (op Operation) Call(ctx context.Context, args Args) Outcome {
	if err := op.CheckArity(args); err != nil {
		return Fail(err.Error())
	}
	out := op.Invoke(ctx, args)
	if op.Returns == ShapeVoid && out.Kind() == OutcomeValue {
		if _, ok := out.Payload().(string); !ok {
			return Void()
		}
	}
	return out
}
