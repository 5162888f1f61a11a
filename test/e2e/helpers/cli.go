//go:build e2e

package helpers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

var (
	buildOnce sync.Once
	binary    string
	buildErr  error
)

// FindBinary returns the drpc binary, building it once per test run.
// DRPC_BINARY overrides the lookup.
func FindBinary(t *testing.T) string {
	t.Helper()

	if path := os.Getenv("DRPC_BINARY"); path != "" {
		return path
	}
	buildOnce.Do(func() {
		root, err := findProjectRoot()
		if err != nil {
			buildErr = err
			return
		}
		binary = filepath.Join(os.TempDir(), "drpc-e2e")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/drpc/")
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("failed to build drpc: %w\n%s", err, out)
		}
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return binary
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		dir = parent
	}
}

var (
	envOnce sync.Once
	envDir  string
)

// Env returns the environment of drpc subprocesses. Profiles are kept in a
// private config home so tests never touch the user's.
func Env(t *testing.T) []string {
	t.Helper()
	envOnce.Do(func() {
		envDir, _ = os.MkdirTemp("", "drpc-e2e-home")
	})
	var env []string
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, "XDG_CONFIG_HOME=") && !strings.HasPrefix(e, "DITTORPC_") {
			env = append(env, e)
		}
	}
	return append(env, "XDG_CONFIG_HOME="+envDir)
}

// CLIRunner runs drpc commands with JSON output.
type CLIRunner struct {
	t          *testing.T
	configFile string
	serverURL  string
	token      string
}

// NewCLIRunner creates a runner for the server at serverURL configured by
// configFile.
func NewCLIRunner(t *testing.T, configFile, serverURL string) *CLIRunner {
	return &CLIRunner{t: t, configFile: configFile, serverURL: serverURL}
}

// SetToken sets the bearer token passed with --token.
func (r *CLIRunner) SetToken(token string) {
	r.token = token
}

// Run executes drpc with --output json, --config, --server and --token
// prepended.
func (r *CLIRunner) Run(args ...string) ([]byte, error) {
	full := []string{"--output", "json", "--config", r.configFile}
	if r.serverURL != "" {
		full = append(full, "--server", r.serverURL)
	}
	if r.token != "" {
		full = append(full, "--token", r.token)
	}
	return r.RunRaw(append(full, args...)...)
}

// RunRaw executes drpc with args as given.
func (r *CLIRunner) RunRaw(args ...string) ([]byte, error) {
	cmd := exec.Command(FindBinary(r.t), args...)
	cmd.Env = Env(r.t)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("drpc %s failed: %w\nstderr: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// RunJSON runs args and decodes the JSON output into v.
func (r *CLIRunner) RunJSON(v any, args ...string) {
	r.t.Helper()
	out, err := r.Run(args...)
	if err != nil {
		r.t.Fatal(err)
	}
	if err := json.Unmarshal(out, v); err != nil {
		r.t.Fatalf("failed to decode output of drpc %s: %v\n%s", strings.Join(args, " "), err, out)
	}
}

// MintToken mints an admin token for role with drpc token.
func (r *CLIRunner) MintToken(role string) string {
	r.t.Helper()
	var token struct {
		AccessToken string `json:"access_token"`
	}
	r.RunJSON(&token, "token", "--role", role)
	if token.AccessToken == "" {
		r.t.Fatal("drpc token returned no token")
	}
	return token.AccessToken
}
