package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults.
// No CLI flags are bound; configPath only selects the file.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("AREASCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("areascope")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".areascope"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("control_plane.pause_timeout_seconds", cfg.ControlPlane.PauseTimeoutSeconds)
	v.SetDefault("control_plane.stats_sample_interval_seconds", cfg.ControlPlane.StatsSampleIntervalSeconds)
	v.SetDefault("control_plane.stall_threshold_minutes", cfg.ControlPlane.StallThresholdMinutes)
	v.SetDefault("control_plane.max_tasks_listed", cfg.ControlPlane.MaxTasksListed)
	v.SetDefault("control_plane.log_retention", cfg.ControlPlane.LogRetention)
	v.SetDefault("control_plane.sampler_join_timeout", cfg.ControlPlane.SamplerJoinTimeout)
	v.SetDefault("control_plane.checkpoint_poll_delay", cfg.ControlPlane.CheckpointPollDelay)

	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	v.SetDefault("scheduler.reconciliation_window", cfg.Scheduler.ReconciliationWindow)
	v.SetDefault("scheduler.misfire_grace_seconds", cfg.Scheduler.MisfireGraceSeconds)

	v.SetDefault("listing_sink.uri", cfg.ListingSink.URI)
	v.SetDefault("listing_sink.database", cfg.ListingSink.Database)
	v.SetDefault("listing_sink.collection", cfg.ListingSink.Collection)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.port", cfg.API.Port)
}
