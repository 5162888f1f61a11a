package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		profile Profile
		want    bool
	}{
		{"no token", Profile{}, true},
		{"no expiry", Profile{Token: "t"}, false},
		{"expired", Profile{Token: "t", ExpiresAt: now.Add(-time.Hour)}, true},
		{"expires within a minute", Profile{Token: "t", ExpiresAt: now.Add(30 * time.Second)}, true},
		{"valid", Profile{Token: "t", ExpiresAt: now.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.profile.Expired(now))
		})
	}
}

func TestStoreLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drpc", FileName)

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Current()
	assert.ErrorIs(t, err, ErrNoCurrentProfile)

	require.NoError(t, s.Set("local", &Profile{ServerURL: "http://localhost:8080", Token: "abc"}))
	require.NoError(t, s.Set("prod", &Profile{ServerURL: "https://rpc.example.com"}))
	assert.Equal(t, []string{"local", "prod"}, s.Names())
	assert.Equal(t, "prod", s.CurrentName())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, reopened.Use("local"))
	p, err := reopened.Current()
	require.NoError(t, err)
	assert.Equal(t, "abc", p.Token)

	require.NoError(t, reopened.Logout())
	p, err = reopened.Current()
	require.NoError(t, err)
	assert.Empty(t, p.Token)

	require.NoError(t, reopened.Delete("local"))
	assert.Empty(t, reopened.CurrentName())
	assert.ErrorIs(t, reopened.Use("local"), ErrProfileNotFound)
}

func TestOpenInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := Open(path)
	assert.Error(t, err)
}
