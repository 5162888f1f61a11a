package kerberos

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
)

// keytabPollInterval is the default interval between keytab change checks.
const keytabPollInterval = 60 * time.Second

// reloader swaps in a freshly read keytab.
type reloader interface {
	ReloadKeytab() error
}

// KeytabManager polls a keytab file's modification time and triggers a
// reload when it changes. Polling survives the atomic rename that kadmin
// and k5srvutil use to replace keytabs.
type KeytabManager struct {
	path     string
	target   reloader
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	lastMod  time.Time
}

// NewKeytabManager creates a keytab poller (not yet started).
func NewKeytabManager(path string, target reloader) *KeytabManager {
	return &KeytabManager{
		path:     path,
		target:   target,
		interval: keytabPollInterval,
		stopCh:   make(chan struct{}),
	}
}

// Start records the current modification time and begins polling.
func (km *KeytabManager) Start() error {
	km.mu.Lock()
	defer km.mu.Unlock()

	info, err := os.Stat(km.path)
	if err != nil {
		return fmt.Errorf("keytab file not accessible: %w", err)
	}
	km.lastMod = info.ModTime()

	go km.pollLoop()

	logger.Info("Keytab hot-reload started",
		"path", km.path,
		"poll_interval", km.interval.String(),
	)
	return nil
}

// Stop ends polling. Safe to call multiple times or before Start.
func (km *KeytabManager) Stop() {
	km.stopOnce.Do(func() { close(km.stopCh) })
}

func (km *KeytabManager) pollLoop() {
	ticker := time.NewTicker(km.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			km.checkAndReload()
		case <-km.stopCh:
			return
		}
	}
}

// checkAndReload reloads the keytab when its modification time changed.
// It reports whether a reload happened.
func (km *KeytabManager) checkAndReload() bool {
	km.mu.Lock()
	defer km.mu.Unlock()

	info, err := os.Stat(km.path)
	if err != nil {
		logger.Error("Keytab file stat failed", "path", km.path, "error", err)
		return false
	}

	modTime := info.ModTime()
	if modTime.Equal(km.lastMod) {
		return false
	}

	if err := km.target.ReloadKeytab(); err != nil {
		logger.Error("Keytab reload failed", "path", km.path, "error", err)
		return false
	}

	km.lastMod = modTime
	logger.Info("Keytab reloaded successfully", "path", km.path)
	return true
}

// resolveKeytabPath applies the DITTORPC_KERBEROS_KEYTAB override.
func resolveKeytabPath(configPath string) string {
	if envPath := os.Getenv("DITTORPC_KERBEROS_KEYTAB"); envPath != "" {
		return envPath
	}
	return configPath
}

// resolveServicePrincipal applies the DITTORPC_KERBEROS_PRINCIPAL override.
func resolveServicePrincipal(configPrincipal string) string {
	if envSPN := os.Getenv("DITTORPC_KERBEROS_PRINCIPAL"); envSPN != "" {
		return envSPN
	}
	return configPrincipal
}

// resolveKrb5ConfPath applies the DITTORPC_KERBEROS_KRB5CONF override and
// falls back to /etc/krb5.conf.
func resolveKrb5ConfPath(configPath string) string {
	if envPath := os.Getenv("DITTORPC_KERBEROS_KRB5CONF"); envPath != "" {
		return envPath
	}
	if configPath != "" {
		return configPath
	}
	return "/etc/krb5.conf"
}
