// Package userstore persists the accounts checked by the "database"
// security manager. SQLite and PostgreSQL are supported through GORM.
package userstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the account surface used by security managers and the CLI.
type Store interface {
	// Authenticate returns the user when password matches, the account is
	// enabled and application is permitted.
	Authenticate(ctx context.Context, username, password, application string) (*User, error)

	// SetPassword replaces the password of username.
	SetPassword(ctx context.Context, username, password string) error

	GetUser(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CreateUser(ctx context.Context, username, password string, applications []string) (*User, error)
	SetEnabled(ctx context.Context, username string, enabled bool) error
	DeleteUser(ctx context.Context, username string) error

	Close() error
}

// GORMStore implements Store using GORM.
type GORMStore struct {
	db     *gorm.DB
	config *Config
}

var _ Store = (*GORMStore)(nil)

// New opens the user store described by config and migrates its schema.
func New(config *Config) (*GORMStore, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		if config.SQLite.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(config.SQLite.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	case DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &GORMStore{db: db, config: config}, nil
}

// DB returns the underlying GORM connection.
func (s *GORMStore) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GORMStore) GetUser(ctx context.Context, username string) (*User, error) {
	return getByField[User](s.db, ctx, "username", username, ErrUserNotFound)
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := s.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *GORMStore) CreateUser(ctx context.Context, username, password string, applications []string) (*User, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrEmptyUsername
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username:     username,
		PasswordHash: hash,
		Enabled:      true,
		Applications: strings.Join(applications, ","),
		CreatedAt:    time.Now(),
	}
	if _, err := createWithID(s.db, ctx, user, func(u *User, id string) { u.ID = id }, user.ID, ErrDuplicateUser); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *GORMStore) SetPassword(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.updateByUsername(ctx, username, map[string]any{"password_hash": hash})
}

func (s *GORMStore) SetEnabled(ctx context.Context, username string, enabled bool) error {
	return s.updateByUsername(ctx, username, map[string]any{"enabled": enabled})
}

func (s *GORMStore) DeleteUser(ctx context.Context, username string) error {
	return deleteByField[User](s.db, ctx, "username", username, ErrUserNotFound)
}

func (s *GORMStore) Authenticate(ctx context.Context, username, password, application string) (*User, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.Enabled {
		return nil, ErrUserDisabled
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.MayUse(application) {
		return nil, ErrApplicationDenied
	}

	// Last login is informational.
	_ = s.updateByUsername(ctx, username, map[string]any{"last_login": time.Now()})
	return user, nil
}

func (s *GORMStore) updateByUsername(ctx context.Context, username string, fields map[string]any) error {
	result := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
