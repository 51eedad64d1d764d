package capability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckArity(t *testing.T) {
	op := Operation{Name: "Send", Arity: 2, Optional: 1}

	assert.NoError(t, op.CheckArity(Args{json.RawMessage(`"m"`)}))
	assert.NoError(t, op.CheckArity(Args{json.RawMessage(`"m"`), json.RawMessage(`null`)}))

	err := op.CheckArity(Args{})
	assert.True(t, errors.Is(err, ErrArity))
	err = op.CheckArity(Args{nil, nil, nil})
	assert.True(t, errors.Is(err, ErrArity))
	assert.Contains(t, err.Error(), "want 1 to 2, got 3")

	strict := Operation{Name: "Version"}
	err = strict.CheckArity(Args{json.RawMessage(`1`)})
	assert.Contains(t, err.Error(), "want 0, got 1")
}

func TestCallArityFailureSkipsHandler(t *testing.T) {
	called := false
	op := Operation{Name: "Send", Arity: 1, Invoke: func(context.Context, Args) Outcome {
		called = true
		return Void()
	}}

	out := op.Call(context.Background(), Args{})
	assert.True(t, out.Failed())
	assert.False(t, called)
}

func TestCallVoidShape(t *testing.T) {
	tests := []struct {
		name     string
		returned Outcome
		wantKind OutcomeKind
	}{
		{"void stays void", Void(), OutcomeVoid},
		{"non-string value dropped", Value(map[string]int{"sent": 1}), OutcomeVoid},
		{"error string kept", Value("失败: smtp down"), OutcomeValue},
		{"failure kept", Fail("boom"), OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := Operation{Name: "Send", Returns: ShapeVoid, Invoke: func(context.Context, Args) Outcome {
				return tt.returned
			}}
			assert.Equal(t, tt.wantKind, op.Call(context.Background(), nil).Kind())
		})
	}
}

func TestOutcomeConstructors(t *testing.T) {
	var zero Outcome
	assert.Equal(t, OutcomeVoid, zero.Kind())
	assert.Equal(t, OutcomeValue, Value(nil).Kind())
	assert.Equal(t, "x 3", Failf("x %d", 3).Message())
	assert.Equal(t, OutcomeVoid, FromError(nil).Kind())
	assert.Equal(t, "boom", FromError(errors.New("boom")).Message())
	assert.Equal(t, "failure", OutcomeFailure.String())
}

func TestParseShape(t *testing.T) {
	for _, s := range []Shape{ShapeVoid, ShapeValue, ShapeValueOrVoid} {
		got, err := ParseShape(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	got, err := ParseShape("")
	require.NoError(t, err)
	assert.Equal(t, ShapeValueOrVoid, got)
	_, err = ParseShape("stream")
	assert.Error(t, err)
}

func TestArgs(t *testing.T) {
	args := Args{
		json.RawMessage(`"hello"`),
		json.RawMessage(`null`),
		json.RawMessage(`"{\"prefix\":\"ci\"}"`),
		json.RawMessage(`{"prefix":"raw"}`),
		json.RawMessage(`"not json"`),
		json.RawMessage(`""`),
		json.RawMessage(`42`),
	}

	s, err := args.String(0)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	s, err = args.String(1)
	require.NoError(t, err)
	assert.Empty(t, s)

	_, err = args.String(6)
	assert.Error(t, err)

	assert.True(t, args.IsNull(1))
	assert.True(t, args.IsNull(99))
	assert.Nil(t, args.Raw(-1))

	doc, err := args.JSON(2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prefix":"ci"}`, string(doc))

	doc, err = args.JSON(3)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prefix":"raw"}`, string(doc))

	_, err = args.JSON(4)
	assert.Error(t, err)

	doc, err = args.JSON(5)
	require.NoError(t, err)
	assert.Nil(t, doc)

	var cfg struct {
		Prefix string `json:"prefix"`
	}
	require.NoError(t, args.Decode(2, &cfg))
	assert.Equal(t, "ci", cfg.Prefix)
	assert.Error(t, args.Decode(6, &cfg))
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindNotify.Valid())
	assert.False(t, Kind("printer").Valid())
}
