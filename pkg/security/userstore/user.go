package userstore

import (
	"errors"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the bcrypt cost of new password hashes.
const DefaultBcryptCost = 10

// MaxPasswordLength is the bcrypt input limit.
const MaxPasswordLength = 72

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrUserDisabled       = errors.New("user account is disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrApplicationDenied  = errors.New("user may not use this application")
	ErrPasswordTooLong    = errors.New("password must be at most 72 characters")
	ErrEmptyUsername      = errors.New("username is required")
)

// User is an account of the database security manager.
type User struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	Username     string `gorm:"uniqueIndex;not null;size:255" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`
	Enabled      bool   `gorm:"default:true" json:"enabled"`

	// Applications is a comma separated allow list. Empty allows all.
	Applications string `gorm:"size:1024" json:"applications,omitempty"`

	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// ApplicationList returns the parsed application allow list.
func (u *User) ApplicationList() []string {
	if u.Applications == "" {
		return nil
	}
	var out []string
	for _, a := range strings.Split(u.Applications, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, strings.ToLower(a))
		}
	}
	return out
}

// MayUse reports whether the user may open sessions of application.
func (u *User) MayUse(application string) bool {
	apps := u.ApplicationList()
	return len(apps) == 0 || slices.Contains(apps, strings.ToLower(application))
}

// HashPassword creates a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against a bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
