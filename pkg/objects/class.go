package objects

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/dittorpc/pkg/config"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/session"
)

// GenericClass is used when an application configures no class. Its
// objects are empty GenericObjects.
const GenericClass = "generic"

// Hook runs on an object at construction or teardown.
type Hook func(ctx context.Context, obj any, env *Env) error

// Constructor is implemented by objects with a construct hook of their own.
type Constructor interface {
	Construct(ctx context.Context, env *Env) error
}

// Destroyer is implemented by objects with a destroy hook of their own.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// ParentAware is implemented by objects that want their parent object.
type ParentAware interface {
	SetParent(parent any)
}

// Injectable is implemented by objects that receive injected objects.
// Objects that are not Injectable but are Mappers get them stored as
// children.
type Injectable interface {
	Inject(name string, value any)
}

// Class describes how life-cycle objects are built.
type Class struct {
	Name string

	// New allocates an instance.
	New func() any

	// Isolated objects never get a parent.
	Isolated bool

	// Construct holds at most one hook, counting a Constructor
	// implementation on the instance.
	Construct []Hook

	// Destroy hooks run in order on teardown. Their errors are logged.
	Destroy []Hook
}

// Env is the environment an object is constructed in.
type Env struct {
	Application string

	// Session is nil for application objects.
	Session *session.Session

	// Parent is nil for isolated and application objects.
	Parent any

	Lookup   config.Lookup
	Provider *Provider
}

// Property returns a free-form application property.
func (e *Env) Property(key string) string {
	return e.Lookup.Property(config.AppKey(e.Application, config.KeyProperties+"."+key))
}

var (
	classesMu sync.RWMutex
	classes   = map[string]*Class{}
)

// RegisterClass makes c available to the configuration by name, replacing
// any earlier class of the same name.
func RegisterClass(c Class) error {
	if c.Name == "" || c.New == nil {
		return errors.New("class needs a name and a constructor")
	}
	if len(c.Construct) > 1 {
		return rpcerrors.NewConfigurationError(c.Name,
			fmt.Errorf("class declares %d construct hooks, at most one is allowed", len(c.Construct)))
	}
	classesMu.Lock()
	defer classesMu.Unlock()
	classes[strings.ToLower(c.Name)] = &c
	return nil
}

// MustRegisterClass is RegisterClass for package initialisation.
func MustRegisterClass(c Class) {
	if err := RegisterClass(c); err != nil {
		panic(err)
	}
}

// UnregisterClass removes a class.
func UnregisterClass(name string) {
	classesMu.Lock()
	defer classesMu.Unlock()
	delete(classes, strings.ToLower(name))
}

// LookupClass returns the class registered as name.
func LookupClass(name string) (*Class, bool) {
	classesMu.RLock()
	defer classesMu.RUnlock()
	c, ok := classes[strings.ToLower(name)]
	return c, ok
}

// ClassNames returns the registered classes, sorted.
func ClassNames() []string {
	classesMu.RLock()
	defer classesMu.RUnlock()
	out := make([]string, 0, len(classes))
	for n := range classes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// constructHook returns the single construct hook of obj, or an error when
// the class and the instance declare more than one.
func (c *Class) constructHook(obj any) (Hook, error) {
	hooks := c.Construct
	if ctor, ok := obj.(Constructor); ok {
		hooks = append(hooks[:len(hooks):len(hooks)], func(ctx context.Context, _ any, env *Env) error {
			return ctor.Construct(ctx, env)
		})
	}
	switch len(hooks) {
	case 0:
		return nil, nil
	case 1:
		return hooks[0], nil
	default:
		return nil, rpcerrors.NewConfigurationError(c.Name,
			fmt.Errorf("class declares %d construct hooks, at most one is allowed", len(hooks)))
	}
}

// destroyHooks returns the class hooks followed by the instance's own.
func (c *Class) destroyHooks(obj any) []Hook {
	hooks := c.Destroy
	if d, ok := obj.(Destroyer); ok {
		hooks = append(hooks[:len(hooks):len(hooks)], func(ctx context.Context, _ any, _ *Env) error {
			return d.Destroy(ctx)
		})
	}
	return hooks
}

func init() {
	MustRegisterClass(Class{
		Name: GenericClass,
		New:  func() any { return NewGenericObject() },
	})
}
