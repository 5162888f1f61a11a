// Package profile stores the admin API endpoints and tokens used by drpc.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	// DefaultDir is the directory under the user config home.
	DefaultDir = "drpc"
	// FileName is the profile file name.
	FileName = "profiles.json"

	filePermissions = 0600
	dirPermissions  = 0700
)

var (
	ErrNoCurrentProfile = errors.New("no current profile set")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrNotLoggedIn      = errors.New("not logged in - run 'drpc login' first")
)

// Profile is one admin API endpoint.
type Profile struct {
	ServerURL string    `json:"server_url"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token is missing or expires within a minute.
func (p *Profile) Expired(now time.Time) bool {
	if p.Token == "" {
		return true
	}
	if p.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(time.Minute).After(p.ExpiresAt)
}

type file struct {
	Current  string              `json:"current"`
	Profiles map[string]*Profile `json:"profiles"`
}

// Store persists profiles as JSON.
type Store struct {
	path string
	data file
}

// DefaultPath returns $XDG_CONFIG_HOME/drpc/profiles.json, falling back to
// ~/.config.
func DefaultPath() (string, error) {
	home := os.Getenv("XDG_CONFIG_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		home = filepath.Join(userHome, ".config")
	}
	return filepath.Join(home, DefaultDir, FileName), nil
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: file{Profiles: map[string]*Profile{}}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("invalid profile file %s: %w", path, err)
	}
	if s.data.Profiles == nil {
		s.data.Profiles = map[string]*Profile{}
	}
	return s, nil
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPermissions); err != nil {
		return fmt.Errorf("cannot create profile directory: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, filePermissions)
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Current returns the current profile.
func (s *Store) Current() (*Profile, error) {
	if s.data.Current == "" {
		return nil, ErrNoCurrentProfile
	}
	return s.Get(s.data.Current)
}

// CurrentName returns the name of the current profile.
func (s *Store) CurrentName() string { return s.data.Current }

// Get returns a profile by name.
func (s *Store) Get(name string) (*Profile, error) {
	p, ok := s.data.Profiles[name]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

// Names returns the profile names in order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.data.Profiles))
	for name := range s.data.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set stores p under name and makes it current.
func (s *Store) Set(name string, p *Profile) error {
	s.data.Profiles[name] = p
	s.data.Current = name
	return s.save()
}

// Use makes name the current profile.
func (s *Store) Use(name string) error {
	if _, ok := s.data.Profiles[name]; !ok {
		return ErrProfileNotFound
	}
	s.data.Current = name
	return s.save()
}

// Delete removes a profile.
func (s *Store) Delete(name string) error {
	if _, ok := s.data.Profiles[name]; !ok {
		return ErrProfileNotFound
	}
	delete(s.data.Profiles, name)
	if s.data.Current == name {
		s.data.Current = ""
	}
	return s.save()
}

// Logout clears the token of the current profile.
func (s *Store) Logout() error {
	p, err := s.Current()
	if err != nil {
		return err
	}
	p.Token = ""
	p.ExpiresAt = time.Time{}
	return s.save()
}
