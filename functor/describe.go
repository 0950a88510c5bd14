package functor

import (
	"context"
	"reflect"

	"github.com/invopop/jsonschema"
)

// DescribeMethod is the name under which RegisterDescribe installs the introspection functor.
const DescribeMethod = "rpc.describe"

// MethodDesc describes one registered functor. Params and Result carry a JSON Schema
// only for functors built by Reflect; closures are opaque.
type MethodDesc struct {
	Name   string               `json:"name"`
	Params []*jsonschema.Schema `json:"params,omitempty"`
	Result *jsonschema.Schema   `json:"result,omitempty"`
}

var reflector = jsonschema.Reflector{DoNotReference: true, Anonymous: true}

// Describe returns a description of every registered functor, sorted by name.
func (r *Registry) Describe() []MethodDesc {
	names := r.Names()
	descs := make([]MethodDesc, 0, len(names))
	for _, name := range names {
		desc := MethodDesc{Name: name}
		if rf, ok := r.Get(name).Functor().(*reflectFunctor); ok {
			for _, p := range rf.params {
				desc.Params = append(desc.Params, schemaOf(p))
			}
			if rf.result != nil {
				desc.Result = schemaOf(rf.result)
			}
		}
		descs = append(descs, desc)
	}
	return descs
}

// RegisterDescribe installs the rpc.describe functor, which lets the remote side
// list what this registry serves. It returns false if the name is taken.
func RegisterDescribe(r *Registry) bool {
	return r.Add(DescribeMethod, Func(func(ctx context.Context, args []any) (any, error) {
		return r.Describe(), nil
	}))
}

func schemaOf(t reflect.Type) *jsonschema.Schema {
	s := reflector.ReflectFromType(t)
	s.Version = ""
	return s
}
