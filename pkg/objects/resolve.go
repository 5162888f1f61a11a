package objects

import (
	"context"
	"fmt"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// child resolves name on obj: dispatch table getter, replacement getter,
// Resolvable, then map key.
func child(obj any, name string) (any, bool, error) {
	if obj == nil {
		return nil, false, nil
	}
	if t, ok := tableOf(obj); ok {
		if v, found, err := t.child(obj, name); found || err != nil {
			return v, found, err
		}
	}
	if r, ok := obj.(Resolvable); ok {
		if v, found := r.Child(name); found {
			return v, true, nil
		}
	}
	switch m := obj.(type) {
	case Mapper:
		v, ok := m.Lookup(name)
		return v, ok, nil
	case map[string]any:
		v, ok := m[name]
		return v, ok, nil
	}
	return nil, false, nil
}

// setChild assigns name on obj: dispatch table setter, Resolvable, then map
// put.
func setChild(obj any, name string, value any) (bool, error) {
	if t, ok := tableOf(obj); ok {
		if found, err := t.setChild(obj, name, value); found {
			return true, err
		}
	}
	switch m := obj.(type) {
	case Resolvable:
		return true, m.SetChild(name, value)
	case Mapper:
		m.Store(name, value)
		return true, nil
	case map[string]any:
		m[name] = value
		return true, nil
	}
	return false, nil
}

// invoke calls method on obj: dispatch table (aliases, methods, dynamic),
// Resolvable, then DynamicInvoker. A panic in the method is returned as an
// error.
func invoke(ctx context.Context, obj any, method string, args Args) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("method %s panicked: %v", method, r)
		}
	}()

	if t, ok := tableOf(obj); ok {
		if v, found, err := t.invoke(ctx, obj, method, args); found {
			return v, err
		}
	}
	switch o := obj.(type) {
	case Resolvable:
		return o.Invoke(ctx, method, args)
	case DynamicInvoker:
		return o.InvokeDynamic(ctx, method, args)
	}
	return nil, rpcerrors.New(rpcerrors.ErrUnknownObject, method, "unknown method")
}
