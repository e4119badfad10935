// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Heal    HealConfig    `mapstructure:"heal" yaml:"heal"`
	Subject SubjectConfig `mapstructure:"subject" yaml:"subject"`
	Oracle  OracleConfig  `mapstructure:"oracle" yaml:"oracle"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// HealConfig bounds the repair loop. Every limit here is a safety budget:
// the loop must terminate even when failures remain.
type HealConfig struct {
	MaxIterations        int     `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxFixesPerRun       int     `mapstructure:"max_fixes_per_run" yaml:"max_fixes_per_run"`
	MaxLinesChanged      int     `mapstructure:"max_lines_changed" yaml:"max_lines_changed"`
	FailuresPerIteration int     `mapstructure:"failures_per_iteration" yaml:"failures_per_iteration"`
	MinApplyConfidence   float64 `mapstructure:"min_apply_confidence" yaml:"min_apply_confidence"`
	AutoCommit           bool    `mapstructure:"auto_commit" yaml:"auto_commit"`
	UseAIForUnknown      bool    `mapstructure:"use_ai_for_unknown" yaml:"use_ai_for_unknown"`
	OscillationWindow    int     `mapstructure:"oscillation_window" yaml:"oscillation_window"`
	RequireNetProgress   bool    `mapstructure:"require_net_progress" yaml:"require_net_progress"`
	RollbackDir          string  `mapstructure:"rollback_dir" yaml:"rollback_dir"`
	HistoryFile          string  `mapstructure:"history_file" yaml:"history_file"`
	GitAuthorName        string  `mapstructure:"git_author_name" yaml:"git_author_name"`
	GitAuthorEmail       string  `mapstructure:"git_author_email" yaml:"git_author_email"`
}

// SubjectConfig locates the program being healed: the production script, the
// extracted module the tests exercise, and the test suite itself.
type SubjectConfig struct {
	ScriptPath  string   `mapstructure:"script_path" yaml:"script_path"`
	ModulePath  string   `mapstructure:"module_path" yaml:"module_path"`
	TestDir     string   `mapstructure:"test_dir" yaml:"test_dir"`
	TestCommand []string `mapstructure:"test_command" yaml:"test_command"`
	FixtureDir  string   `mapstructure:"fixture_dir" yaml:"fixture_dir"`
}

// OracleConfig configures the optional AI collaborator used as a fallback
// patch source.
type OracleConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Model             string        `mapstructure:"model" yaml:"model"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mendloop")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Heal --
	v.SetDefault("heal.max_iterations", 3)
	v.SetDefault("heal.max_fixes_per_run", 5)
	v.SetDefault("heal.max_lines_changed", 50)
	v.SetDefault("heal.failures_per_iteration", 3)
	v.SetDefault("heal.min_apply_confidence", 0.5)
	v.SetDefault("heal.auto_commit", true)
	v.SetDefault("heal.use_ai_for_unknown", true)
	v.SetDefault("heal.oscillation_window", 10)
	v.SetDefault("heal.require_net_progress", true)
	v.SetDefault("heal.rollback_dir", ".mendloop/rollback")
	v.SetDefault("heal.history_file", ".mendloop/history.json")
	v.SetDefault("heal.git_author_name", "mendloop-bot")
	v.SetDefault("heal.git_author_email", "bot@mendloop.dev")

	// -- Subject --
	v.SetDefault("subject.script_path", "cc_usage.sh")
	v.SetDefault("subject.module_path", "tests/parser_extracted.py")
	v.SetDefault("subject.test_dir", "tests")
	v.SetDefault("subject.test_command", []string{"python3", "-m", "pytest", "--tb=short", "-v", "-q"})
	v.SetDefault("subject.fixture_dir", "tests/fixtures")

	// -- Oracle --
	v.SetDefault("oracle.enabled", true)
	v.SetDefault("oracle.model", "gemini-2.5-pro")
	v.SetDefault("oracle.endpoint", "https://generativelanguage.googleapis.com/v1beta/models")
	v.SetDefault("oracle.timeout", "5m")
	v.SetDefault("oracle.requests_per_minute", 10.0)
}

// NewDefaultConfig creates a configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("oracle.api_key", "MENDLOOP_ORACLE_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the key if Unmarshal didn't pick it up.
	if cfg.Oracle.Enabled && cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = os.Getenv("MENDLOOP_ORACLE_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Heal.Validate(); err != nil {
		return fmt.Errorf("heal configuration invalid: %w", err)
	}
	if c.Subject.ModulePath == "" {
		return fmt.Errorf("subject.module_path is a required configuration field")
	}
	if len(c.Subject.TestCommand) == 0 {
		return fmt.Errorf("subject.test_command must not be empty")
	}
	if err := c.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the heal loop budgets.
func (h *HealConfig) Validate() error {
	if h.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be greater than 0")
	}
	if h.MaxFixesPerRun <= 0 {
		return fmt.Errorf("max_fixes_per_run must be greater than 0")
	}
	if h.MaxLinesChanged <= 0 {
		return fmt.Errorf("max_lines_changed must be greater than 0")
	}
	if h.OscillationWindow <= 0 {
		return fmt.Errorf("oscillation_window must be greater than 0")
	}
	if h.MinApplyConfidence < 0.0 || h.MinApplyConfidence > 1.0 {
		return fmt.Errorf("min_apply_confidence must be between 0.0 and 1.0")
	}
	return nil
}

// Validate checks the Oracle configuration.
func (o *OracleConfig) Validate() error {
	if !o.Enabled {
		return nil
	}
	if o.Model == "" || o.Endpoint == "" {
		return fmt.Errorf("oracle.model and oracle.endpoint are required when the oracle is enabled")
	}
	if o.RequestsPerMinute <= 0 {
		return fmt.Errorf("oracle.requests_per_minute must be positive")
	}
	return nil
}
