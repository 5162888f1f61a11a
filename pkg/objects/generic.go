package objects

import (
	"context"
	"maps"
	"slices"
	"sync"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// GenericObject is an untyped object: a concurrent map of children plus
// optional methods registered at runtime. Typed objects may embed it to
// receive injected objects and free-form children.
type GenericObject struct {
	mu       sync.RWMutex
	children map[string]any
	methods  map[string]func(ctx context.Context, args Args) (any, error)
}

// NewGenericObject returns an empty GenericObject.
func NewGenericObject() *GenericObject {
	return &GenericObject{}
}

// Lookup implements Mapper.
func (g *GenericObject) Lookup(key string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.children[key]
	return v, ok
}

// Store implements Mapper. A nil value removes key.
func (g *GenericObject) Store(key string, value any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if value == nil {
		delete(g.children, key)
		return
	}
	if g.children == nil {
		g.children = map[string]any{}
	}
	g.children[key] = value
}

// Keys returns the child names, sorted.
func (g *GenericObject) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Sorted(maps.Keys(g.children))
}

// Handle registers a runtime method.
func (g *GenericObject) Handle(method string, fn func(ctx context.Context, args Args) (any, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.methods == nil {
		g.methods = map[string]func(context.Context, Args) (any, error){}
	}
	g.methods[method] = fn
}

// InvokeDynamic implements DynamicInvoker. Besides registered methods it
// answers "get", "put" and "keys" on its children.
func (g *GenericObject) InvokeDynamic(ctx context.Context, method string, args Args) (any, error) {
	g.mu.RLock()
	fn, ok := g.methods[method]
	g.mu.RUnlock()
	if ok {
		return fn(ctx, args)
	}

	switch method {
	case "get":
		key, err := args.String(0)
		if err != nil {
			return nil, err
		}
		v, _ := g.Lookup(key)
		return v, nil
	case "put":
		key, err := args.String(0)
		if err != nil {
			return nil, err
		}
		prev, _ := g.Lookup(key)
		g.Store(key, args.Get(1))
		return prev, nil
	case "keys":
		return g.Keys(), nil
	}
	return nil, rpcerrors.New(rpcerrors.ErrUnknownObject, method, "unknown method")
}
