package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is searched when no --config flag is given.
const DefaultPath = "reasond.yaml"

// Config holds all reasond configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	RuleEngine  RuleEngineConfig  `yaml:"rule_engine"`
	LogicEngine LogicEngineConfig `yaml:"logic_engine"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Resources   ResourcesConfig   `yaml:"resources"`
	Tools       ToolsConfig       `yaml:"tools"`
	Audit       AuditConfig       `yaml:"audit"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
	MaxBodyBytes     int64  `yaml:"max_body_bytes"`
}

// RuleEngineConfig selects and configures the rule engine backend.
type RuleEngineConfig struct {
	// Mode is "embedded" or "subprocess".
	Mode                 string   `yaml:"mode"`
	BinaryPath           string   `yaml:"binary_path"`
	HandshakeTimeoutMs   int      `yaml:"handshake_timeout_ms"`
	DefaultEvalTimeoutMs int      `yaml:"default_eval_timeout_ms"`
	SentinelMarker       string   `yaml:"sentinel_marker"`
	DenyList             []string `yaml:"deny_list"`
}

// LogicEngineConfig configures the logic engine.
type LogicEngineConfig struct {
	// HomeDir, when set, has every *.pl file under it consulted into new
	// sessions.
	HomeDir      string `yaml:"home_dir"`
	MaxSolutions int    `yaml:"max_solutions"`
}

// SessionsConfig bounds session admission.
type SessionsConfig struct {
	MaxConcurrent    int    `yaml:"max_concurrent"`
	MaxPerUser       int    `yaml:"max_per_user"`
	MaxQueueDepth    int    `yaml:"max_queue_depth"`
	MaxInflightEvals int    `yaml:"max_inflight_evals"`
	TTLSeconds       int    `yaml:"ttl_seconds"`
	Eviction         string `yaml:"eviction"`
}

// ResourcesConfig is the default per-session budget.
type ResourcesConfig struct {
	MaxFacts    int `yaml:"max_facts"`
	MaxRules    int `yaml:"max_rules"`
	MaxMemoryMB int `yaml:"max_memory_mb"`
}

// ToolsConfig configures the callback tool registry.
type ToolsConfig struct {
	DefaultEvaluator string `yaml:"default_evaluator"`
	EvaluatorURL     string `yaml:"evaluator_url"`
	LLMModel         string `yaml:"llm_model"`
}

// AuditConfig configures the SQLite evaluation ledger.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			RequestTimeoutMs: 30000,
			MaxBodyBytes:     1 << 20,
		},
		RuleEngine: RuleEngineConfig{
			Mode:                 "embedded",
			HandshakeTimeoutMs:   5000,
			DefaultEvalTimeoutMs: 2000,
			SentinelMarker:       "__END__",
			DenyList:             []string{"system", "load", "save", "open", "close"},
		},
		LogicEngine: LogicEngineConfig{
			MaxSolutions: 10000,
		},
		Sessions: SessionsConfig{
			MaxConcurrent:    100,
			MaxPerUser:       10,
			MaxQueueDepth:    10,
			MaxInflightEvals: 16,
			TTLSeconds:       3600,
			Eviction:         "lru",
		},
		Resources: ResourcesConfig{
			MaxFacts:    1000,
			MaxRules:    500,
			MaxMemoryMB: 128,
		},
		Tools: ToolsConfig{
			DefaultEvaluator: "evaluate",
			LLMModel:         "gemini-2.0-flash",
		},
		Audit: AuditConfig{
			Path: "reasond-audit.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; a present but unparsable file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("REASOND_EVALUATOR_URL"); url != "" {
		c.Tools.EvaluatorURL = url
	}
	if dir := os.Getenv("REASOND_LOGIC_HOME"); dir != "" {
		c.LogicEngine.HomeDir = dir
	}
	if ms := os.Getenv("REASOND_DEFAULT_TIMEOUT_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			c.RuleEngine.DefaultEvalTimeoutMs = n
		}
	}
	if port := os.Getenv("REASOND_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
}

// RequestTimeout returns the per-request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.RequestTimeoutMs) * time.Millisecond
}

// SessionTTL returns the idle eviction threshold as a duration.
func (c *Config) SessionTTL() time.Duration {
	if c.Sessions.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.Sessions.TTLSeconds) * time.Second
}

// HandshakeTimeout returns the subprocess handshake deadline as a duration.
func (c *Config) HandshakeTimeout() time.Duration {
	if c.RuleEngine.HandshakeTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RuleEngine.HandshakeTimeoutMs) * time.Millisecond
}

// ValidModes lists the supported rule engine backends.
var ValidModes = []string{"embedded", "subprocess"}

// ValidLevels lists the supported log levels.
var ValidLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}

	validMode := false
	for _, m := range ValidModes {
		if c.RuleEngine.Mode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("invalid rule engine mode: %s (valid: %v)", c.RuleEngine.Mode, ValidModes)
	}
	if c.RuleEngine.Mode == "subprocess" && c.RuleEngine.BinaryPath == "" {
		return fmt.Errorf("subprocess mode requires rule_engine.binary_path")
	}
	if c.RuleEngine.SentinelMarker == "" {
		return fmt.Errorf("sentinel_marker must not be empty")
	}
	if c.RuleEngine.DefaultEvalTimeoutMs <= 0 {
		return fmt.Errorf("default_eval_timeout_ms must be positive, got %d", c.RuleEngine.DefaultEvalTimeoutMs)
	}

	switch {
	case c.Sessions.MaxConcurrent <= 0:
		return fmt.Errorf("sessions.max_concurrent must be positive, got %d", c.Sessions.MaxConcurrent)
	case c.Sessions.MaxPerUser <= 0:
		return fmt.Errorf("sessions.max_per_user must be positive, got %d", c.Sessions.MaxPerUser)
	case c.Sessions.MaxQueueDepth <= 0:
		return fmt.Errorf("sessions.max_queue_depth must be positive, got %d", c.Sessions.MaxQueueDepth)
	case c.Sessions.MaxInflightEvals <= 0:
		return fmt.Errorf("sessions.max_inflight_evals must be positive, got %d", c.Sessions.MaxInflightEvals)
	}
	if c.Sessions.Eviction != "" && c.Sessions.Eviction != "lru" {
		return fmt.Errorf("unsupported eviction policy: %s", c.Sessions.Eviction)
	}

	validLevel := false
	for _, l := range ValidLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLevels)
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit.enabled requires audit.path")
	}
	return nil
}
