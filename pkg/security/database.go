package security

import (
	"context"
	"errors"
	"strconv"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/security/userstore"
	"github.com/marmos91/dittorpc/pkg/session"
)

// DatabaseName is the class name of the Database manager.
const DatabaseName = "database"

// Database validates user name and password against the user store.
//
// Options:
//
//	min_password_length  minimum length of new passwords (default 8)
type Database struct {
	store       userstore.Store
	application string
	minLength   int
}

// DatabaseFactory returns a Factory of Database managers sharing store.
func DatabaseFactory(store userstore.Store) Factory {
	return func(application string, opts Options) (Manager, error) {
		if store == nil {
			return nil, errors.New("user store not configured")
		}
		minLength, err := strconv.Atoi(opts.Get("min_password_length", "8"))
		if err != nil || minLength < 1 {
			return nil, errors.New("min_password_length must be a positive integer")
		}
		return &Database{store: store, application: application, minLength: minLength}, nil
	}
}

func (d *Database) Validate(ctx context.Context, s *session.Session) error {
	user, password := Credentials(s)
	if user == "" {
		return rpcerrors.NewSecurityError(s.Application(), "missing user name")
	}
	if _, err := d.store.Authenticate(ctx, user, password, d.application); err != nil {
		return mapStoreError(s.Application(), err)
	}
	return nil
}

func (d *Database) ChangePassword(ctx context.Context, s *session.Session, oldPassword, newPassword string) error {
	user, _ := Credentials(s)
	if user == "" {
		return rpcerrors.NewSecurityError(s.Application(), "missing user name")
	}
	if len(newPassword) < d.minLength {
		return rpcerrors.NewInvalidArgumentError("password must be at least %d characters", d.minLength)
	}
	if _, err := d.store.Authenticate(ctx, user, oldPassword, d.application); err != nil {
		return mapStoreError(s.Application(), err)
	}
	return d.store.SetPassword(ctx, user, newPassword)
}

// Release is a no-op: the store is shared and closed by its owner.
func (d *Database) Release(context.Context) error { return nil }

func mapStoreError(application string, err error) error {
	switch {
	case errors.Is(err, userstore.ErrUserDisabled):
		return rpcerrors.NewSecurityError(application, "account disabled")
	case errors.Is(err, userstore.ErrApplicationDenied):
		return rpcerrors.NewSecurityError(application, "application not permitted")
	case errors.Is(err, userstore.ErrInvalidCredentials), errors.Is(err, userstore.ErrUserNotFound):
		return rpcerrors.NewSecurityError(application, "invalid credentials")
	default:
		return err
	}
}
