// Package functor implements the registry of named native functions the script host can invoke.
//
// A Functor takes the ordered, loosely typed arguments of a request and produces one result value
// or an error. Plain closures are adapted with Func; arbitrary Go functions are adapted with
// Reflect, which converts each JSON-shaped argument into the declared parameter type.
package functor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Functor is an invocable handler registered under a name.
type Functor interface {
	Invoke(ctx context.Context, args []any) (any, error)
}

// Func adapts an ordinary function to the Functor interface.
type Func func(ctx context.Context, args []any) (any, error)

func (f Func) Invoke(ctx context.Context, args []any) (any, error) {
	return f(ctx, args)
}

var (
	ErrUnknownMethod         = errors.New("unknown method")
	ErrDuplicateRegistration = errors.New("functor already registered")
	ErrInvalidParams         = errors.New("invalid params")
	errorType                = reflect.TypeOf((*error)(nil)).Elem()
	contextType              = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// HandlerError reports a failure raised by a functor itself.
// Its message is the functor's own failure description.
type HandlerError struct {
	Method string
	Err    error
}

func (e *HandlerError) Error() string { return e.Err.Error() }

func (e *HandlerError) Unwrap() error { return e.Err }

// temporaryError marks a failure that may succeed when retried. Its text is the
// wrapped error's, so the peer sees the functor's own description.
type temporaryError struct{ err error }

func (e *temporaryError) Error() string { return e.err.Error() }

func (e *temporaryError) Unwrap() error { return e.err }

// Temporary marks err as a failure that may succeed when retried.
func Temporary(err error) error {
	return &temporaryError{err: err}
}

// IsTemporary reports whether err was marked with Temporary.
func IsTemporary(err error) bool {
	var te *temporaryError
	return errors.As(err, &te)
}

// reflectFunctor calls a Go function through reflection.
type reflectFunctor struct {
	fn        reflect.Value
	withCtx   bool           // first parameter is a context.Context
	params    []reflect.Type // parameters after the optional context
	result    reflect.Type   // nil when the function only returns an error (or nothing)
	errorLast bool           // last return value is an error
}

// Reflect adapts fn to a Functor. fn may take a leading context.Context followed by
// any JSON-decodable parameters, and may return (), (T), (error) or (T, error).
func Reflect(fn any) (Functor, error) {
	if fn == nil {
		return nil, errors.New("functor: nil function")
	}
	if f, ok := fn.(Functor); ok {
		return f, nil
	}
	if f, ok := fn.(func(context.Context, []any) (any, error)); ok {
		return Func(f), nil
	}
	rf, err := reflectValue(reflect.ValueOf(fn))
	if err != nil {
		return nil, err
	}
	return rf, nil
}

func reflectValue(v reflect.Value) (*reflectFunctor, error) {
	typ := v.Type()
	if typ.Kind() != reflect.Func {
		return nil, fmt.Errorf("functor: expected a function, got %s", typ.Kind())
	}
	if typ.IsVariadic() {
		return nil, fmt.Errorf("functor: variadic functions are not supported")
	}

	rf := &reflectFunctor{fn: v}
	for i := 0; i < typ.NumIn(); i++ {
		in := typ.In(i)
		if i == 0 && in == contextType {
			rf.withCtx = true
			continue
		}
		switch in.Kind() {
		case reflect.Chan, reflect.Func, reflect.UnsafePointer:
			return nil, fmt.Errorf("functor: parameter %d of type %s cannot be decoded", i, in)
		}
		rf.params = append(rf.params, in)
	}

	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errorType {
			rf.errorLast = true
		} else {
			rf.result = typ.Out(0)
		}
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("functor: second return value must be error, got %s", typ.Out(1))
		}
		rf.result = typ.Out(0)
		rf.errorLast = true
	default:
		return nil, fmt.Errorf("functor: too many return values (%d)", typ.NumOut())
	}
	return rf, nil
}

func (rf *reflectFunctor) Invoke(ctx context.Context, args []any) (any, error) {
	if len(args) != len(rf.params) {
		return nil, fmt.Errorf("%w: expected %d arguments, got %d", ErrInvalidParams, len(rf.params), len(args))
	}

	in := make([]reflect.Value, 0, len(rf.params)+1)
	if rf.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, arg := range args {
		v, err := convertArg(arg, rf.params[i])
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrInvalidParams, i, err)
		}
		in = append(in, v)
	}

	out := rf.fn.Call(in)

	var err error
	if rf.errorLast {
		if last := out[len(out)-1]; !last.IsNil() {
			err = last.Interface().(error)
		}
	}
	if err != nil {
		return nil, err
	}
	if rf.result == nil {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// convertArg turns a JSON-shaped value into a value of type t. Values already
// assignable are used as is; everything else goes through a JSON round trip.
func convertArg(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}

	data, err := json.Marshal(arg)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}
