package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownMethod is returned by Resolve for names not in the table.
var ErrUnknownMethod = errors.New("unknown method")

// Table maps bare method names to operations. It is built once and never
// modified, so concurrent reads are safe.
type Table struct {
	ops   map[string]Operation
	stats *CallStats
}

// NewTable binds c: the base contract, the host-facing aliases, the built-ins
// and c's domain operations. Duplicate names are rejected.
func NewTable(c Capability) (*Table, error) {
	t := &Table{ops: make(map[string]Operation), stats: newCallStats()}

	identity := func(name string, get func() any) Operation {
		return Operation{Name: name, Returns: ShapeValue, Invoke: func(context.Context, Args) Outcome {
			return Value(get())
		}}
	}
	initialize := func(name string) Operation {
		return Operation{Name: name, Arity: 1, Optional: 1, Returns: ShapeVoid, Invoke: func(ctx context.Context, args Args) Outcome {
			var config json.RawMessage
			if !args.IsNull(0) {
				config = args.Raw(0)
			}
			return FromError(c.Initialize(ctx, config))
		}}
	}

	base := []Operation{
		identity("Identify", func() any { return c.Identify() }),
		identity("Name", func() any { return c.Identify() }),
		identity("Describe", func() any { return c.Describe() }),
		identity("Description", func() any { return c.Describe() }),
		identity("Version", func() any { return c.Version() }),
		identity("Kind", func() any { return string(c.Kind()) }),
		identity("Type", func() any { return string(c.Kind()) }),
		initialize("Initialize"),
		initialize("Init"),
		{Name: "Cleanup", Returns: ShapeVoid, Invoke: func(ctx context.Context, _ Args) Outcome {
			return FromError(c.Cleanup(ctx))
		}},
		{Name: "Ping", Returns: ShapeValue, Invoke: func(context.Context, Args) Outcome {
			return Value("pong")
		}},
		{Name: "GetInfo", Returns: ShapeValue, Invoke: func(context.Context, Args) Outcome {
			return Value(Info{
				Name:        c.Identify(),
				Description: c.Describe(),
				Version:     c.Version(),
				Kind:        c.Kind(),
				Operations:  t.Names(),
			})
		}},
		{Name: "GetMetrics", Arity: 1, Optional: 1, Returns: ShapeValue, Invoke: func(context.Context, Args) Outcome {
			return Value(t.stats.metrics(c))
		}},
	}

	for _, op := range append(base, c.Operations()...) {
		if err := t.add(op); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) add(op Operation) error {
	switch {
	case op.Name == "" || strings.Contains(op.Name, "."):
		return fmt.Errorf("invalid operation name %q", op.Name)
	case op.Invoke == nil:
		return fmt.Errorf("operation %s has no handler", op.Name)
	case op.Arity < 0 || op.Optional < 0 || op.Optional > op.Arity:
		return fmt.Errorf("operation %s: invalid arity %d (optional %d)", op.Name, op.Arity, op.Optional)
	}
	if _, exists := t.ops[op.Name]; exists {
		return fmt.Errorf("duplicate operation %s", op.Name)
	}
	t.ops[op.Name] = op
	return nil
}

// BareName strips any dotted qualifier: "Plugin.Send" becomes "Send".
func BareName(method string) string {
	return method[strings.LastIndex(method, ".")+1:]
}

// Resolve looks up method by its bare name.
func (t *Table) Resolve(method string) (Operation, error) {
	name := BareName(method)
	op, ok := t.ops[name]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	return op, nil
}

// Stats returns the call counters reported by GetMetrics.
func (t *Table) Stats() *CallStats {
	return t.stats
}

// Names returns every registered name, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.ops))
	for name := range t.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
