package config

import (
	"fmt"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	cp := cfg.ControlPlane
	if cp.PauseTimeoutSeconds <= 0 {
		return fmt.Errorf("control_plane.pause_timeout_seconds must be > 0, got %d", cp.PauseTimeoutSeconds)
	}
	if cp.StatsSampleIntervalSeconds <= 0 {
		return fmt.Errorf("control_plane.stats_sample_interval_seconds must be > 0, got %d", cp.StatsSampleIntervalSeconds)
	}
	if cp.StallThresholdMinutes <= 0 {
		return fmt.Errorf("control_plane.stall_threshold_minutes must be > 0, got %d", cp.StallThresholdMinutes)
	}
	if cp.MaxTasksListed <= 0 {
		return fmt.Errorf("control_plane.max_tasks_listed must be > 0, got %d", cp.MaxTasksListed)
	}
	if cp.LogRetention < 0 {
		return fmt.Errorf("control_plane.log_retention must be >= 0")
	}

	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}
	if cfg.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be >= 1, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns must be >= 0, got %d", cfg.Database.MaxIdleConns)
	}

	if cfg.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0")
	}
	if cfg.Scheduler.ReconciliationWindow <= 0 {
		return fmt.Errorf("scheduler.reconciliation_window must be > 0")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}
	if cfg.API.Enabled {
		if cfg.API.Port < 1 || cfg.API.Port > 65535 {
			return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
		}
	}

	return nil
}
