package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/cmd/drpc/cmdutil"
	"github.com/marmos91/dittorpc/internal/bootstrap"
	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/telemetry"
	"github.com/marmos91/dittorpc/pkg/config"

	// Sample classes referenced by the default configuration.
	_ "github.com/marmos91/dittorpc/internal/demo"
)

const serviceName = "dittorpc"

var (
	pidFile  string
	noReload bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the DittoRPC server",
	Long: `Start the DittoRPC server in the foreground with the specified configuration.

Application settings are reloaded when the configuration file changes:
security managers and the application object of every changed application
are evicted. Live sessions keep running.

Examples:
  # Start with the default configuration file
  drpc start

  # Start with a custom config file
  drpc start --config /etc/dittorpc/config.yaml

  # Override settings from the environment
  DITTORPC_LOGGING_LEVEL=DEBUG drpc start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the process ID to this file")
	startCmd.Flags().BoolVar(&noReload, "no-reload", false, "Do not watch the configuration file for changes")
}

func runStart(cmd *cobra.Command, args []string) error {
	configFile := cmdutil.Flags.ConfigFile
	cfg, err := config.MustLoad(configFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("Telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("DittoRPC starting", "version", Version, "commit", Commit)
	logger.Info("Configuration loaded", "source", configSource(configFile))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if cfg.Telemetry.Profiling.Enabled {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	var opts bootstrap.Options
	if !noReload {
		path := configFile
		if path == "" {
			path = config.GetDefaultConfigPath()
		}
		if opts.Source, err = config.NewSource(path); err != nil {
			return fmt.Errorf("failed to watch configuration: %w", err)
		}
	}

	rt, err := bootstrap.New(cfg, opts)
	if err != nil {
		return err
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, fmt.Appendf(nil, "%d", os.Getpid()), 0o644); err != nil {
			_ = rt.Close(context.Background())
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")
	if err := rt.Run(ctx); err != nil {
		logger.Error("Server error", logger.Err(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// configSource describes where the configuration was loaded from.
func configSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	return config.GetDefaultConfigPath()
}
