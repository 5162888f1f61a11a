package security

import (
	"context"
	"strings"

	"github.com/marmos91/dittorpc/pkg/config"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/session"
)

// AccessController decides which objects and methods a session may reach.
type AccessController interface {
	// CheckObject is called for every resolved segment of an object path.
	CheckObject(ctx context.Context, s *session.Session, path string) error

	// CheckMethod is called before a method is invoked on object.
	CheckMethod(ctx context.Context, s *session.Session, object, method string) error
}

// AllowAll permits every access.
type AllowAll struct{}

func (AllowAll) CheckObject(context.Context, *session.Session, string) error { return nil }

func (AllowAll) CheckMethod(context.Context, *session.Session, string, string) error { return nil }

// ConfigAccess denies the object paths and methods listed in each
// application's access section. Entries match exactly, or by prefix when
// they end in "*". Method entries may be qualified as "object.method".
type ConfigAccess struct {
	Lookup config.Lookup
}

func (a ConfigAccess) CheckObject(_ context.Context, s *session.Session, path string) error {
	for _, pattern := range a.Lookup.Properties(config.AppKey(s.Application(), config.KeyDenyObjects)) {
		if matchPattern(pattern, path) {
			return rpcerrors.NewSecurityError(path, "object access denied")
		}
	}
	return nil
}

func (a ConfigAccess) CheckMethod(_ context.Context, s *session.Session, object, method string) error {
	qualified := method
	if object != "" {
		qualified = object + "." + method
	}
	for _, pattern := range a.Lookup.Properties(config.AppKey(s.Application(), config.KeyDenyMethods)) {
		if matchPattern(pattern, method) || matchPattern(pattern, qualified) {
			return rpcerrors.NewSecurityError(qualified, "method access denied")
		}
	}
	return nil
}

func matchPattern(pattern, name string) bool {
	pattern = strings.TrimSpace(pattern)
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}
