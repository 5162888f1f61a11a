//go:build e2e

package helpers

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/marmos91/dittorpc/pkg/config"
)

// JWTSecret signs the admin tokens of test servers.
const JWTSecret = "e2e-secret-key-for-testing-only-32chars"

// ServerProcess manages a drpc server subprocess.
type ServerProcess struct {
	cmd           *exec.Cmd
	port          int
	logFile       string
	configFile    string
	process       *os.Process
	logFileHandle *os.File
}

// FindFreePort finds an available TCP port by binding to :0.
func FindFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer func() { _ = listener.Close() }()
	return listener.Addr().(*net.TCPAddr).Port
}

// TestConfig returns the default configuration with a free port, the admin
// API and push channel enabled and the audit journal and user store under
// dir.
func TestConfig(t *testing.T, dir string) *config.Config {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = "DEBUG"
	cfg.Logging.Output = "stdout"
	cfg.Server.Port = FindFreePort(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Server.Push.Enabled = true
	cfg.Server.Admin.Enabled = true
	cfg.Server.Admin.JWTSecret = JWTSecret
	cfg.Metrics.Enabled = true
	cfg.Audit.Enabled = true
	cfg.Audit.Path = filepath.Join(dir, "audit")
	cfg.Database.SQLite.Path = filepath.Join(dir, "users.db")
	return cfg
}

// WriteConfig saves cfg to dir/config.yaml and returns the path.
func WriteConfig(t *testing.T, dir string, cfg *config.Config) string {
	t.Helper()

	path := filepath.Join(dir, "config.yaml")
	if err := config.SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// StartServerProcess starts drpc with the config at configPath and waits
// until /health answers.
func StartServerProcess(t *testing.T, configPath string, port int) *ServerProcess {
	t.Helper()

	logFile := filepath.Join(filepath.Dir(configPath), "drpc.log")
	cmd := exec.Command(FindBinary(t), "start", "--config", configPath)
	cmd.Env = Env(t)

	logFileHandle, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("Failed to create log file: %v", err)
	}
	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle

	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		t.Fatalf("Failed to start drpc: %v", err)
	}

	sp := &ServerProcess{
		cmd:           cmd,
		port:          port,
		logFile:       logFile,
		configFile:    configPath,
		process:       cmd.Process,
		logFileHandle: logFileHandle,
	}
	t.Cleanup(sp.ForceKill)

	if err := sp.WaitReady(10 * time.Second); err != nil {
		sp.DumpLogs(t)
		t.Fatalf("Server failed to become ready: %v", err)
	}
	return sp
}

// WaitReady polls /health until it returns 200 or timeout elapses.
func (sp *ServerProcess) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 500 * time.Millisecond}

	var lastErr error
	for time.Now().Before(deadline) {
		resp, err := client.Get(sp.URL() + "/health")
		if err != nil {
			lastErr = err
			time.Sleep(100 * time.Millisecond)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = fmt.Errorf("health check returned %d: %s", resp.StatusCode, body)
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not healthy after %v: %w", timeout, lastErr)
}

// StopGracefully sends SIGTERM and waits for a clean exit.
func (sp *ServerProcess) StopGracefully() error {
	if err := sp.process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- sp.cmd.Wait() }()
	select {
	case err := <-done:
		sp.process = nil
		return err
	case <-time.After(10 * time.Second):
		return fmt.Errorf("process did not exit within 10s")
	}
}

// ForceKill terminates the server, trying SIGTERM first.
func (sp *ServerProcess) ForceKill() {
	if sp.process != nil {
		_ = sp.process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() {
			_, _ = sp.process.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = sp.process.Kill()
			<-done
		}
		sp.process = nil
	}
	if sp.logFileHandle != nil {
		_ = sp.logFileHandle.Close()
		sp.logFileHandle = nil
	}
}

// URL returns the base URL of the server.
func (sp *ServerProcess) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", sp.port)
}

// ConfigFile returns the path of the server's configuration.
func (sp *ServerProcess) ConfigFile() string {
	return sp.configFile
}

// DumpLogs prints the server log.
func (sp *ServerProcess) DumpLogs(t *testing.T) {
	t.Helper()
	content, err := os.ReadFile(sp.logFile)
	if err != nil {
		t.Logf("Could not read log file: %v", err)
		return
	}
	t.Logf("Server logs:\n%s", content)
}
