package functor

import (
	"fmt"
	"reflect"
)

// AddService registers every suitable exported method of rcvr as "Type.Method",
// where Type is the name of the struct rcvr points to. Methods whose signature
// Reflect cannot adapt are skipped.
//
// It returns the number of functors registered. A name clash stops the scan
// with ErrDuplicateRegistration; methods registered before the clash stay.
func (r *Registry) AddService(rcvr any) (int, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return 0, fmt.Errorf("functor: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return 0, fmt.Errorf("functor: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	val := reflect.ValueOf(rcvr)
	serviceName := typ.Elem().Name()

	added := 0
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		rf, err := reflectValue(val.Method(i))
		if err != nil {
			continue
		}

		name := serviceName + "." + method.Name
		if !r.Add(name, rf) {
			return added, fmt.Errorf("add service %s: %w: %s", serviceName, ErrDuplicateRegistration, name)
		}
		added++
	}
	return added, nil
}
