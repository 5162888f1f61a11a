package objects

import (
	"context"
	"reflect"
	"sync"
)

// Resolvable is implemented by objects that resolve their own children and
// methods without a dispatch table.
type Resolvable interface {
	Child(name string) (value any, ok bool)
	SetChild(name string, value any) error
	Invoke(ctx context.Context, method string, args Args) (any, error)
}

// Mapper is implemented by generic objects that store children by key.
// It is the last resort of path resolution.
type Mapper interface {
	Lookup(key string) (any, bool)
	Store(key string, value any)
}

// DynamicInvoker handles methods that no table entry matches.
type DynamicInvoker interface {
	InvokeDynamic(ctx context.Context, method string, args Args) (any, error)
}

// MethodFunc implements one method of T.
type MethodFunc[T any] func(ctx context.Context, obj T, args Args) (any, error)

// Type is the dispatch table of T. Tables are built once with Define and
// are read-only afterwards.
type Type[T any] struct {
	name         string
	getters      map[string]func(T) (any, error)
	replacements map[string]func(T) (any, error)
	setters      map[string]func(T, any) error
	methods      map[string]MethodFunc[T]
	aliases      map[string]string
	dynamic      func(ctx context.Context, obj T, method string, args Args) (any, error)
}

// dispatcher is the type-erased view of a Type used during resolution.
type dispatcher interface {
	typeName() string
	child(obj any, name string) (any, bool, error)
	setChild(obj any, name string, value any) (bool, error)
	invoke(ctx context.Context, obj any, method string, args Args) (any, bool, error)
}

var (
	tablesMu sync.RWMutex
	tables   = map[reflect.Type]dispatcher{}
)

// Define creates and registers the dispatch table of T under name. A later
// Define for the same T replaces the earlier table.
func Define[T any](name string) *Type[T] {
	t := &Type[T]{
		name:         name,
		getters:      map[string]func(T) (any, error){},
		replacements: map[string]func(T) (any, error){},
		setters:      map[string]func(T, any) error{},
		methods:      map[string]MethodFunc[T]{},
		aliases:      map[string]string{},
	}
	tablesMu.Lock()
	tables[reflect.TypeFor[T]()] = t
	tablesMu.Unlock()
	return t
}

func tableOf(obj any) (dispatcher, bool) {
	if obj == nil {
		return nil, false
	}
	tablesMu.RLock()
	defer tablesMu.RUnlock()
	d, ok := tables[reflect.TypeOf(obj)]
	return d, ok
}

// Name returns the type name given to Define.
func (t *Type[T]) Name() string { return t.name }

// Getter exposes child name.
func (t *Type[T]) Getter(name string, fn func(T) (any, error)) *Type[T] {
	t.getters[name] = fn
	return t
}

// ReplacementGetter exposes child name when no Getter of that name exists.
// It serves children whose natural accessor cannot be declared, such as a
// child computed from another object.
func (t *Type[T]) ReplacementGetter(name string, fn func(T) (any, error)) *Type[T] {
	t.replacements[name] = fn
	return t
}

// Setter makes child name writable.
func (t *Type[T]) Setter(name string, fn func(T, any) error) *Type[T] {
	t.setters[name] = fn
	return t
}

// Method registers method name.
func (t *Type[T]) Method(name string, fn MethodFunc[T]) *Type[T] {
	t.methods[name] = fn
	return t
}

// Replace routes calls of method to replacement. Aliases take precedence
// over a method of the same name.
func (t *Type[T]) Replace(method, replacement string) *Type[T] {
	t.aliases[method] = replacement
	return t
}

// Dynamic handles methods without a table entry.
func (t *Type[T]) Dynamic(fn func(ctx context.Context, obj T, method string, args Args) (any, error)) *Type[T] {
	t.dynamic = fn
	return t
}

func (t *Type[T]) typeName() string { return t.name }

func (t *Type[T]) child(obj any, name string) (any, bool, error) {
	o := obj.(T)
	if fn, ok := t.getters[name]; ok {
		v, err := fn(o)
		return v, true, err
	}
	if fn, ok := t.replacements[name]; ok {
		v, err := fn(o)
		return v, true, err
	}
	return nil, false, nil
}

func (t *Type[T]) setChild(obj any, name string, value any) (bool, error) {
	fn, ok := t.setters[name]
	if !ok {
		return false, nil
	}
	return true, fn(obj.(T), value)
}

func (t *Type[T]) invoke(ctx context.Context, obj any, method string, args Args) (any, bool, error) {
	o := obj.(T)
	if alias, ok := t.aliases[method]; ok {
		if fn, ok := t.methods[alias]; ok {
			v, err := fn(ctx, o, args)
			return v, true, err
		}
	}
	if fn, ok := t.methods[method]; ok {
		v, err := fn(ctx, o, args)
		return v, true, err
	}
	if t.dynamic != nil {
		v, err := t.dynamic(ctx, o, method, args)
		return v, true, err
	}
	return nil, false, nil
}
