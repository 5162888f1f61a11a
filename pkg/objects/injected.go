package objects

import (
	"context"
	"errors"

	"github.com/marmos91/dittorpc/pkg/config"
)

// Injector produces the value injected under its name into every new
// life-cycle object. A nil value is not injected.
type Injector func(ctx context.Context, env *Env) (any, error)

// Names of the built-in injected objects.
const (
	InjectSession = "session"
	InjectConfig  = "config"
)

func defaultInjectors() map[string]Injector {
	return map[string]Injector{
		InjectSession: func(_ context.Context, env *Env) (any, error) {
			if env.Session == nil {
				return nil, nil
			}
			return env.Session, nil
		},
		InjectConfig: func(_ context.Context, env *Env) (any, error) {
			return &AppConfig{lookup: env.Lookup, application: env.Application}, nil
		},
	}
}

// AppConfig is the read-only view of an application's free-form
// properties. Children resolve to property values, so "config.pageSize"
// reads applications.<app>.properties.pageSize.
type AppConfig struct {
	lookup      config.Lookup
	application string
}

var errReadOnly = errors.New("application configuration is read-only")

// Get returns the property at key or "".
func (c *AppConfig) Get(key string) string {
	return c.lookup.Property(config.AppKey(c.application, config.KeyProperties+"."+key))
}

// Child implements Resolvable.
func (c *AppConfig) Child(name string) (any, bool) {
	v := c.Get(name)
	return v, v != ""
}

// SetChild implements Resolvable.
func (c *AppConfig) SetChild(string, any) error {
	return errReadOnly
}

// Invoke implements Resolvable. Only "get" is supported.
func (c *AppConfig) Invoke(_ context.Context, method string, args Args) (any, error) {
	if method != "get" {
		return nil, errReadOnly
	}
	key, err := args.String(0)
	if err != nil {
		return nil, err
	}
	return c.Get(key), nil
}
