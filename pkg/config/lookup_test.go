package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapLookup(t *testing.T) {
	l := MapLookup{
		"applications.bank.access.deny_objects": "a, b,,c",
		"session.max_inactive_interval":         "90s",
		"flag":                                  "true",
	}

	assert.Equal(t, []string{"a", "b", "c"}, l.Properties("applications.bank.access.deny_objects"))
	assert.Equal(t, 90*time.Second, Duration(l, "Session.Max_Inactive_Interval", time.Second))
	assert.Equal(t, time.Second, Duration(l, "missing", time.Second))
	assert.True(t, Bool(l, "flag", false))
	assert.Equal(t, "x", String(l, "missing", "x"))
	assert.Nil(t, l.Properties("missing"))
}

func TestAppKey(t *testing.T) {
	assert.Equal(t, "applications.bank.security.manager", AppKey("Bank", KeySecurityManager))
}

func TestSourceFromConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Applications["shop"] = ApplicationConfig{
		LifeCycleClass: "shop.cart",
		Security:       SecurityConfig{Manager: "token", CacheMode: "session"},
		Access:         AccessConfig{DenyMethods: []string{"drop*", "reset"}},
	}
	ApplyDefaults(cfg)

	src, err := NewSourceFromConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "shop.cart", src.Property(AppKey("shop", KeyLifeCycleClass)))
	assert.Equal(t, "token", src.Property(AppKey("shop", KeySecurityManager)))
	assert.Equal(t, []string{"drop*", "reset"}, src.Properties(AppKey("shop", KeyDenyMethods)))
	assert.Equal(t, "", src.Property(AppKey("nope", KeySecurityManager)))
	assert.Equal(t, DefaultMaxInactiveInterval, Duration(src, "session.max_inactive_interval", 0))
	assert.Equal(t, []string{"demo", "shop"}, src.Keys("applications"))

	round, err := src.Config()
	require.NoError(t, err)
	assert.Equal(t, "shop.cart", round.Applications["shop"].LifeCycleClass)
}

func TestChangedApplications(t *testing.T) {
	prev := map[string]any{
		"applications.a.security.manager": "allow",
		"applications.b.security.manager": "allow",
		"logging.level":                   "INFO",
	}
	next := map[string]any{
		"applications.a.security.manager": "database",
		"applications.b.security.manager": "allow",
		"applications.c.lifecycle_class":  "x",
		"logging.level":                   "DEBUG",
	}
	assert.Equal(t, []string{"a", "c"}, changedApplications(prev, next))
}

func TestSourceWatchReload(t *testing.T) {
	path := writeConfig(t, "applications:\n  bank:\n    security:\n      manager: allow\n")
	src, err := NewSource(path)
	require.NoError(t, err)

	changed := make(chan []string, 4)
	src.Watch(func(apps []string) { changed <- apps })

	require.NoError(t, os.WriteFile(path, []byte("applications:\n  bank:\n    security:\n      manager: database\n"), 0o600))

	select {
	case apps := <-changed:
		assert.Equal(t, []string{"bank"}, apps)
		assert.Equal(t, "database", src.Property(AppKey("bank", KeySecurityManager)))
	case <-time.After(5 * time.Second):
		t.Skip("filesystem notifications unavailable")
	}
}
