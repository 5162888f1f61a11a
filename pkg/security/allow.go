package security

import (
	"context"

	"github.com/marmos91/dittorpc/pkg/session"
)

// AllowName is the class name of the Allow manager.
const AllowName = "allow"

// Allow accepts every session. It is the built-in fallback.
type Allow struct{}

// NewAllow is the Factory of Allow.
func NewAllow(string, Options) (Manager, error) { return Allow{}, nil }

func (Allow) Validate(context.Context, *session.Session) error { return nil }

func (Allow) Release(context.Context) error { return nil }
