package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const header = `# DittoRPC Configuration File
#
# Every value can be overridden by an environment variable named
# DITTORPC_<SECTION>_<KEY>, e.g. DITTORPC_LOGGING_LEVEL=DEBUG.
#
# Application names are case-insensitive and stored in lower case.

`

// InitConfig writes a default configuration to the default location.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration to path. An existing file
// is only replaced when force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
	}

	body, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, append([]byte(header), body...), 0o600)
}
