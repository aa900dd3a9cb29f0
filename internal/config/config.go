// Package config loads voxelops configuration.
//
// Values are resolved from, highest precedence first: VOXELOPS_* environment
// variables, a YAML file, and the defaults returned by Default.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/voxelops/internal/logging"
	"github.com/fyrsmithlabs/voxelops/internal/sanitize"
	"github.com/fyrsmithlabs/voxelops/internal/telemetry"
)

// Config holds the complete voxelops configuration.
type Config struct {
	Audit     AuditConfig      `koanf:"audit"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Metrics   MetricsConfig    `koanf:"metrics"`
	Secrets   SecretsConfig    `koanf:"secrets"`
}

// AuditConfig controls where audit sinks are written.
type AuditConfig struct {
	// LogDir is used for runs that do not name their own directory. When
	// empty, runs fall back to <output_dir>/logs of their inputs.
	LogDir string `koanf:"log_dir"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SecretsConfig controls redaction of captured tool output.
type SecretsConfig struct {
	Enabled bool `koanf:"enabled"`
	// Allowlists are gitleaks-format TOML files. Missing files are skipped.
	Allowlists []string `koanf:"allowlists"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:         false,
			Addr:            "127.0.0.1:9464",
			ShutdownTimeout: 5 * time.Second,
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - audit.log_dir contains ".." segments
//   - the logging or telemetry section is invalid
//   - metrics are enabled without an address or shutdown timeout
//   - a secrets allowlist path contains ".." segments
func (c *Config) Validate() error {
	if c.Audit.LogDir != "" {
		if _, err := sanitize.ValidatePath(c.Audit.LogDir, ""); err != nil {
			return fmt.Errorf("invalid audit.log_dir: %w", err)
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return errors.New("metrics.addr is required when metrics are enabled")
		}
		if c.Metrics.ShutdownTimeout <= 0 {
			return errors.New("metrics.shutdown_timeout must be positive")
		}
	}
	for _, p := range c.Secrets.Allowlists {
		if _, err := sanitize.ValidatePath(p, ""); err != nil {
			return fmt.Errorf("invalid secrets.allowlists entry %q: %w", p, err)
		}
	}
	return nil
}
