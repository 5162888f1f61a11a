package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittorpc/internal/bytesize"
)

// Defaults that other packages fall back to when a Lookup has no value.
const (
	DefaultReaperInterval      = 10 * time.Second
	DefaultMaxInactiveInterval = 30 * time.Minute
	DefaultResponseWaitTimeout = 10 * time.Second
	DefaultExpiredMemory       = 4096
	DefaultSerializer          = "universal"
	DefaultSecurityManager     = "allow"
	DefaultCacheMode           = "application"
	DefaultCompression         = 16 * bytesize.KiB
	DefaultMaxFrameSize        = 32 * bytesize.MiB
)

// ApplyDefaults fills zero-valued fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyServerDefaults(&cfg.Server)
	applySessionDefaults(&cfg.Session)
	applyProtocolDefaults(&cfg.Protocol)
	applyAuditDefaults(&cfg.Audit)
	cfg.Database.ApplyDefaults()

	for name, app := range cfg.Applications {
		applyApplicationDefaults(&app)
		cfg.Applications[name] = app
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 100
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.Push.PingInterval == 0 {
		cfg.Push.PingInterval = 30 * time.Second
	}
	if cfg.Admin.TokenTTL == 0 {
		cfg.Admin.TokenTTL = time.Hour
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.ReaperInterval == 0 {
		cfg.ReaperInterval = DefaultReaperInterval
	}
	if cfg.MaxInactiveInterval == 0 {
		cfg.MaxInactiveInterval = DefaultMaxInactiveInterval
	}
	if cfg.ResponseWaitTimeout == 0 {
		cfg.ResponseWaitTimeout = DefaultResponseWaitTimeout
	}
	if cfg.ExpiredMemory == 0 {
		cfg.ExpiredMemory = DefaultExpiredMemory
	}
}

func applyProtocolDefaults(cfg *ProtocolConfig) {
	if cfg.CompressionThreshold == 0 {
		cfg.CompressionThreshold = DefaultCompression
	}
	if cfg.DefaultSerializer == "" {
		cfg.DefaultSerializer = DefaultSerializer
	}
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.Retention == 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
}

func applyApplicationDefaults(cfg *ApplicationConfig) {
	if cfg.Security.Manager == "" {
		cfg.Security.Manager = DefaultSecurityManager
	}
	if cfg.Security.CacheMode == "" {
		cfg.Security.CacheMode = DefaultCacheMode
	}
}

// GetDefaultConfig returns a Config with every default applied and one demo
// application.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Applications: map[string]ApplicationConfig{
			"demo": {
				LifeCycleClass:   "demo.counter",
				ApplicationClass: "demo.board",
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
