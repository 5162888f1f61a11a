package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittorpc/internal/audit"
	_ "github.com/marmos91/dittorpc/internal/demo"
	"github.com/marmos91/dittorpc/pkg/client"
	"github.com/marmos91/dittorpc/pkg/config"
	"github.com/marmos91/dittorpc/pkg/security/userstore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Metrics.Enabled = true
	cfg.Audit.Enabled = true
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "users.db")
	return cfg
}

// start runs rt until the test ends and returns its base URL.
func start(t *testing.T, rt *Runtime) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("runtime did not stop")
		}
	})

	require.Eventually(t, func() bool { return rt.API().Port() != 0 }, 2*time.Second, 10*time.Millisecond)
	return fmt.Sprintf("http://127.0.0.1:%d", rt.API().Port())
}

func TestRuntimeServesDemoApplication(t *testing.T) {
	rt, err := New(testConfig(t), Options{InMemoryAudit: true})
	require.NoError(t, err)
	base := start(t, rt)
	ctx := context.Background()

	c := client.New(client.NewHTTPTransport(base+"/services/rpc"), client.Options{})
	require.NoError(t, c.Create(ctx, "demo", nil))
	v, err := c.Call(ctx, "", "increment", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	require.NoError(t, c.Destroy(ctx))

	records, err := rt.Journal().List(ctx, audit.Query{Application: "demo"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, audit.EventDestroyed, records[0].Event)
	assert.Equal(t, audit.EventCreated, records[1].Event)

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRuntimeDatabaseManager(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Enabled = false
	cfg.Applications["secure"] = config.ApplicationConfig{
		LifeCycleClass: "demo.counter",
		Security:       config.SecurityConfig{Manager: "database", CacheMode: "application"},
	}

	store, err := userstore.New(&cfg.Database)
	require.NoError(t, err)
	_, err = store.CreateUser(context.Background(), "alice", "correct-horse", []string{"secure"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	rt, err := New(cfg, Options{})
	require.NoError(t, err)
	base := start(t, rt)
	ctx := context.Background()

	ok := client.New(client.NewHTTPTransport(base+"/services/rpc"), client.Options{})
	require.NoError(t, ok.Create(ctx, "secure", map[string]any{"user": "alice", "password": "correct-horse"}))
	assert.NotEmpty(t, ok.SessionID())

	bad := client.New(client.NewHTTPTransport(base+"/services/rpc"), client.Options{})
	assert.Error(t, bad.Create(ctx, "secure", map[string]any{"user": "alice", "password": "wrong"}))
}

func TestUsesManager(t *testing.T) {
	cfg := config.GetDefaultConfig()
	assert.False(t, usesManager(cfg, "database"))

	cfg.Applications["x"] = config.ApplicationConfig{Security: config.SecurityConfig{Manager: "Database"}}
	assert.True(t, usesManager(cfg, "database"))
}

func TestCloseBeforeRun(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(cfg, Options{InMemoryAudit: true})
	require.NoError(t, err)
	assert.NoError(t, rt.Close(context.Background()))
}
