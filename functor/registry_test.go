package functor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func foo(ctx context.Context, args []any) (any, error) {
	return true, nil
}

func TestAddFunctor(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.Add("foo", Func(foo)))

	// adding again should fail
	assert.False(t, reg.Add("foo", Func(foo)))
	assert.Equal(t, 1, reg.Len())
}

func TestAddRejectsEmptyNameAndNil(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.Add("", Func(foo)))
	assert.False(t, reg.Add("nil", nil))
	assert.Zero(t, reg.Len())
}

func TestOriginalRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	require.True(t, reg.Add("who", Func(func(ctx context.Context, args []any) (any, error) {
		return "first", nil
	})))
	require.False(t, reg.Add("who", Func(func(ctx context.Context, args []any) (any, error) {
		return "second", nil
	})))

	got, err := reg.Call(context.Background(), "who", nil)
	require.NoError(t, err)
	assert.Equal(t, "first", got)
}

func TestGetFunctor(t *testing.T) {
	reg := NewRegistry()
	require.True(t, reg.Add("foo", Func(foo)))

	h := reg.Get("foo")
	assert.True(t, h.Valid())
	assert.Equal(t, "foo", h.Name())
	assert.NotNil(t, h.Functor())

	missing := reg.Get("bar")
	assert.False(t, missing.Valid())
	assert.Equal(t, "", missing.Name())
	assert.Nil(t, missing.Functor())
}

func TestCallFunctor(t *testing.T) {
	reg := NewRegistry()
	require.True(t, reg.Add("foo", Func(foo)))

	got, err := reg.Call(context.Background(), "foo", nil)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestCallUnknownMethod(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Call(context.Background(), "bar", nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestCallHandlerError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("disk on fire")
	require.True(t, reg.Add("fail", Func(func(ctx context.Context, args []any) (any, error) {
		return nil, boom
	})))

	_, err := reg.Call(context.Background(), "fail", nil)
	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "fail", he.Method)
	assert.Equal(t, "disk on fire", he.Error())
	assert.ErrorIs(t, err, boom)
}

func TestCallRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	require.True(t, reg.Add("panic", Func(func(ctx context.Context, args []any) (any, error) {
		panic("oops")
	})))

	_, err := reg.Call(context.Background(), "panic", nil)
	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Contains(t, he.Error(), "oops")
}

func TestRegisterReflect(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("add", func(a, b int) int { return a + b }))

	got, err := reg.Call(context.Background(), "add", []any{float64(1), float64(2)})
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	_, err = reg.Call(context.Background(), "add", []any{float64(1)})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = reg.Call(context.Background(), "add", []any{"one", float64(2)})
	assert.ErrorIs(t, err, ErrInvalidParams)

	err = reg.Register("add", func() {})
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestRegisterReflectStructsAndContext(t *testing.T) {
	reg := NewRegistry()
	type ctxKey struct{}

	require.NoError(t, reg.Register("norm", func(ctx context.Context, p point) (map[string]any, error) {
		if p.X < 0 {
			return nil, errors.New("negative x")
		}
		return map[string]any{"sum": p.X + p.Y, "tag": ctx.Value(ctxKey{})}, nil
	}))

	ctx := context.WithValue(context.Background(), ctxKey{}, "seen")
	got, err := reg.Call(ctx, "norm", []any{map[string]any{"x": float64(2), "y": float64(5)}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sum": 7, "tag": "seen"}, got)

	_, err = reg.Call(ctx, "norm", []any{map[string]any{"x": float64(-1)}})
	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "negative x", he.Error())
}

func TestRegisterRejectsBadSignatures(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("notfunc", 42))
	assert.Error(t, reg.Register("variadic", func(xs ...int) {}))
	assert.Error(t, reg.Register("twoValues", func() (int, int) { return 0, 0 }))
	assert.Error(t, reg.Register("chan", func(c chan int) {}))
	assert.Zero(t, reg.Len())
}

func TestNullArgumentIsZeroValue(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("echo", func(s string) string { return "<" + s + ">" }))

	got, err := reg.Call(context.Background(), "echo", []any{nil})
	require.NoError(t, err)
	assert.Equal(t, "<>", got)
}

func TestTemporary(t *testing.T) {
	base := errors.New("busy")
	err := Temporary(base)
	assert.True(t, IsTemporary(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsTemporary(base))
	assert.Equal(t, "busy", err.Error())

	// still recognised once the registry wraps it
	reg := NewRegistry()
	require.True(t, reg.Add("busy", Func(func(ctx context.Context, args []any) (any, error) {
		return nil, err
	})))
	_, callErr := reg.Call(context.Background(), "busy", nil)
	assert.True(t, IsTemporary(callErr))
	assert.Equal(t, "busy", callErr.Error())
}

func TestNames(t *testing.T) {
	reg := NewRegistry()
	reg.Add("b", Func(foo))
	reg.Add("a", Func(foo))
	reg.Add("c", Func(foo))
	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())
}
