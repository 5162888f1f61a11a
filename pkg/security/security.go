// Package security authenticates sessions through pluggable security
// managers and caches manager instances per application or per session.
package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/dittorpc/pkg/session"
)

// Manager validates the credentials carried by a session.
//
// Implementations must be safe for concurrent use when cached in
// application mode.
type Manager interface {
	// Validate authenticates s. A non-nil error rejects the session.
	Validate(ctx context.Context, s *session.Session) error

	// Release logs out and frees resources held by the manager.
	Release(ctx context.Context) error
}

// PasswordChanger is implemented by managers that can change passwords.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, s *session.Session, oldPassword, newPassword string) error
}

// Options are the free-form settings of an application's security section.
type Options map[string]string

// Get returns the option at key or def.
func (o Options) Get(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}

// Factory creates a manager for application.
type Factory func(application string, opts Options) (Manager, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a manager class available by name, replacing any earlier
// registration.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(name)] = f
}

// Unregister removes a manager class.
func Unregister(name string) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	delete(factories, strings.ToLower(name))
}

func lookupFactory(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[strings.ToLower(name)]
	return f, ok
}

// Names returns the registered manager classes, sorted.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CacheMode selects how manager instances are shared.
type CacheMode string

const (
	// CacheApplication shares one manager between all sessions of an
	// application.
	CacheApplication CacheMode = "application"

	// CacheSession creates one manager per session and releases it when
	// the session is destroyed.
	CacheSession CacheMode = "session"
)

// ParseCacheMode parses s, defaulting to CacheApplication.
func ParseCacheMode(s string) (CacheMode, error) {
	switch CacheMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", CacheApplication:
		return CacheApplication, nil
	case CacheSession:
		return CacheSession, nil
	default:
		return CacheApplication, fmt.Errorf("unknown cache mode %q", s)
	}
}

// Credentials returns the user name and password of s. Sub sessions
// without their own credentials use their master's.
func Credentials(s *session.Session) (user, password string) {
	user = s.UserName()
	password = s.Properties().String(session.PropPassword)
	if password == "" && s.IsSub() {
		password = s.Master().Properties().String(session.PropPassword)
	}
	return user, password
}

func init() {
	Register(AllowName, NewAllow)
	Register(TokenName, NewToken)
}
