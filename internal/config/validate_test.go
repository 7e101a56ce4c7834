package config

import (
	"strings"
	"testing"
)

func TestValidateRejectsNonPositiveControlPlaneFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ControlPlane.PauseTimeoutSeconds = 0
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "pause_timeout_seconds") {
		t.Errorf("Validate() = %v, want an error about pause_timeout_seconds", err)
	}
}

func TestValidateRejectsEmptyDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.DSN = ""
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "dsn") {
		t.Errorf("Validate() = %v, want an error about dsn", err)
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("Validate() = %v, want an error about logging.level", err)
	}
}

func TestValidateRejectsBadLoggingFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "xml"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "logging.format") {
		t.Errorf("Validate() = %v, want an error about logging.format", err)
	}
}

func TestValidateSkipsPortChecksWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 0
	cfg.API.Enabled = false
	cfg.API.Port = -1
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() = %v, want nil when disabled ports are left unchecked", err)
	}
}

func TestValidateRejectsOutOfRangeMetricsPortWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 70000
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "metrics.port") {
		t.Errorf("Validate() = %v, want an error about metrics.port", err)
	}
}
