// Package config loads the DittoRPC server configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (DITTORPC_*, "." replaced by "_")
//  2. Configuration file (YAML)
//  3. Default values
//
// The session engine does not consume Config directly. It reads through the
// narrow Lookup interface, which lets per-application settings change on hot
// reload without restarting the server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/dittorpc/internal/bytesize"
	"github.com/marmos91/dittorpc/pkg/security/userstore"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of configuration environment variables.
const EnvPrefix = "DITTORPC"

// Config is the complete server configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Protocol  ProtocolConfig  `mapstructure:"protocol" yaml:"protocol"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`

	// Database backs the "database" security manager.
	Database userstore.Config `mapstructure:"database" yaml:"database"`

	// Applications is keyed by application name.
	Applications map[string]ApplicationConfig `mapstructure:"applications" yaml:"applications" validate:"dive"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled    bool            `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string          `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool            `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64         `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics. When disabled no collectors are
// registered and the /metrics route is not mounted.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// ServerConfig controls the HTTP transport.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	// MaxFrameSize bounds request frames, both on the wire and once a
	// compressed payload is inflated.
	MaxFrameSize bytesize.ByteSize `mapstructure:"max_frame_size" yaml:"max_frame_size"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Push      PushConfig      `mapstructure:"push" yaml:"push"`
	Admin     AdminConfig     `mapstructure:"admin" yaml:"admin"`
}

// RateLimitConfig is a per client IP token bucket on the RPC endpoint.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" validate:"gte=0" yaml:"burst"`
}

// PushConfig controls the websocket push channel.
type PushConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
}

// AdminConfig controls the admin REST API.
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// JWTSecret signs admin bearer tokens. At least 32 characters.
	JWTSecret string        `mapstructure:"jwt_secret" validate:"omitempty,min=32" yaml:"jwt_secret,omitempty"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// SessionConfig holds server-wide session defaults.
type SessionConfig struct {
	ReaperInterval      time.Duration `mapstructure:"reaper_interval" validate:"gt=0" yaml:"reaper_interval"`
	MaxInactiveInterval time.Duration `mapstructure:"max_inactive_interval" validate:"gt=0" yaml:"max_inactive_interval"`

	// AliveInterval bounds the time between client alive signals. Zero
	// disables the alive check.
	AliveInterval time.Duration `mapstructure:"alive_interval" yaml:"alive_interval"`

	// ResponseWaitTimeout bounds how long a retried request waits for the
	// in-flight original to produce its response.
	ResponseWaitTimeout time.Duration `mapstructure:"response_wait_timeout" validate:"gt=0" yaml:"response_wait_timeout"`

	// ExpiredMemory is how many removed session ids are remembered so later
	// lookups report SessionExpired rather than UnknownSession.
	ExpiredMemory int `mapstructure:"expired_memory" validate:"gte=0" yaml:"expired_memory"`
}

// ProtocolConfig controls framing and serialization.
type ProtocolConfig struct {
	CompressionThreshold bytesize.ByteSize `mapstructure:"compression_threshold" yaml:"compression_threshold"`
	DefaultSerializer    string            `mapstructure:"default_serializer" validate:"required" yaml:"default_serializer"`
	Serializers          SerializerRules   `mapstructure:"serializers" yaml:"serializers"`
}

// SerializerRules is an allow/deny list of serializer names. An empty allow
// list allows everything not denied.
type SerializerRules struct {
	Allow []string `mapstructure:"allow" yaml:"allow,omitempty"`
	Deny  []string `mapstructure:"deny" yaml:"deny,omitempty"`
}

// AuditConfig controls the session audit journal.
type AuditConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Path      string        `mapstructure:"path" validate:"required_if=Enabled true" yaml:"path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// ApplicationConfig configures one application.
type ApplicationConfig struct {
	// LifeCycleClass names the registered class of per-session objects.
	LifeCycleClass string `mapstructure:"lifecycle_class" yaml:"lifecycle_class,omitempty"`

	// ApplicationClass names the registered class of the shared
	// application object.
	ApplicationClass string `mapstructure:"application_class" yaml:"application_class,omitempty"`

	MaxInactiveInterval    time.Duration `mapstructure:"max_inactive_interval" yaml:"max_inactive_interval,omitempty"`
	SubMaxInactiveInterval time.Duration `mapstructure:"sub_max_inactive_interval" yaml:"sub_max_inactive_interval,omitempty"`
	AliveInterval          time.Duration `mapstructure:"alive_interval" yaml:"alive_interval,omitempty"`

	Security SecurityConfig `mapstructure:"security" yaml:"security"`
	Access   AccessConfig   `mapstructure:"access" yaml:"access"`

	// Properties are free-form values readable by application objects.
	Properties map[string]string `mapstructure:"properties" yaml:"properties,omitempty"`
}

// SecurityConfig selects the security manager of an application.
type SecurityConfig struct {
	Manager   string            `mapstructure:"manager" yaml:"manager"`
	CacheMode string            `mapstructure:"cache_mode" validate:"omitempty,oneof=application session" yaml:"cache_mode"`
	Options   map[string]string `mapstructure:"options" yaml:"options,omitempty"`
}

// AccessConfig lists denied object paths and methods. Entries are exact
// names or prefixes ending in "*".
type AccessConfig struct {
	DenyObjects []string `mapstructure:"deny_objects" yaml:"deny_objects,omitempty"`
	DenyMethods []string `mapstructure:"deny_methods" yaml:"deny_methods,omitempty"`
}

// Load reads configuration from configPath (or the default location),
// the environment and defaults, then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load with user-facing errors when the file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Initialize one first:\n"+
				"  drpc config init\n\n"+
				"Or pass a custom file:\n"+
				"  drpc <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it with:\n"+
			"  drpc config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML with owner-only permissions.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnvs registers every struct key with viper so environment variables
// override values absent from the file. Maps are skipped.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		switch {
		case f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Time{}):
			bindEnvs(v, f.Type, key+".")
		case f.Type.Kind() == reflect.Map:
		default:
			_ = v.BindEnv(key)
		}
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook accepts "64KiB" style strings and plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts "30s" style strings. Raw numbers are nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dittorpc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dittorpc")
}

// GetConfigDir returns the configuration directory.
func GetConfigDir() string {
	return getConfigDir()
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
