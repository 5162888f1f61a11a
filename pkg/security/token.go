package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/session"
)

// TokenName is the class name of the Token manager.
const TokenName = "token"

// MinSecretLength is the minimum HMAC secret length.
const MinSecretLength = 32

// Token accepts sessions whose password is a JWT signed with the
// application's secret. The token subject is the user name and its
// audience must contain the application.
//
// Options:
//
//	secret  HMAC signing key, at least 32 characters (required)
//	issuer  required issuer claim (optional)
type Token struct {
	secret      []byte
	issuer      string
	application string
}

// NewToken is the Factory of Token.
func NewToken(application string, opts Options) (Manager, error) {
	secret := opts.Get("secret", "")
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d characters", MinSecretLength)
	}
	return &Token{secret: []byte(secret), issuer: opts.Get("issuer", ""), application: application}, nil
}

func (t *Token) Validate(_ context.Context, s *session.Session) error {
	user, raw := Credentials(s)
	if raw == "" {
		return rpcerrors.NewSecurityError(s.Application(), "missing token")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(t.application),
	}
	if t.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(t.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return rpcerrors.NewSecurityError(s.Application(), "token expired")
		}
		return rpcerrors.NewSecurityError(s.Application(), "invalid token")
	}

	switch {
	case claims.Subject == "":
		return rpcerrors.NewSecurityError(s.Application(), "token without subject")
	case user == "":
		s.Properties().SetQuiet(session.PropUserName, claims.Subject)
	case user != claims.Subject:
		return rpcerrors.NewSecurityError(s.Application(), "token subject mismatch")
	}
	return nil
}

func (t *Token) Release(context.Context) error { return nil }

// IssueToken signs a token accepted by a Token manager configured with
// secret for application.
func IssueToken(secret, user, application, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   user,
		Audience:  jwt.ClaimStrings{application},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
