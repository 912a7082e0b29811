// Package config loads MedAlert settings from an optional YAML file and
// environment variables. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"` // debug | info | warn | error
	HTTP     HTTPConfig    `yaml:"http"`
	GRPC     GRPCConfig    `yaml:"grpc"`
	Rules    RulesConfig   `yaml:"rules"`
	History  HistoryConfig `yaml:"history"`
	Action   ActionConfig  `yaml:"action"`
	Twilio   TwilioConfig  `yaml:"twilio"`
	Collab   CollabConfig  `yaml:"collab"`
	Audit    AuditConfig   `yaml:"audit"`
}

type HTTPConfig struct {
	Port           string  `yaml:"port"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"` // 0 disables rate limiting
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type GRPCConfig struct {
	Port string `yaml:"port"` // empty disables the health server
}

type RulesConfig struct {
	Path string `yaml:"path"`
}

type HistoryConfig struct {
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"` // when set, replaces the file ledger
}

type ActionConfig struct {
	TriggerThreshold  float64 `yaml:"trigger_threshold"`
	AnalyzeConfidence float64 `yaml:"analyze_confidence"`
	CallTimeoutMs     int     `yaml:"call_timeout_ms"`
	CooldownS         int     `yaml:"cooldown_s"` // 0 keeps the triggered flag informational only
	RedisAddr         string  `yaml:"redis_addr"`
	RedisPassword     string  `yaml:"redis_password"`
	RedisDB           int     `yaml:"redis_db"`
}

// CallTimeout returns the per-call dispatch timeout.
func (a ActionConfig) CallTimeout() time.Duration {
	return time.Duration(a.CallTimeoutMs) * time.Millisecond
}

// Cooldown returns the debounce window; zero means no debouncing.
func (a ActionConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownS) * time.Second
}

type TwilioConfig struct {
	AccountSID   string `yaml:"account_sid"`
	AuthToken    string `yaml:"auth_token"`
	FromNumber   string `yaml:"from_number"`
	DoctorNumber string `yaml:"doctor_number"`
}

type CollabConfig struct {
	TranscribeEndpoint string `yaml:"transcribe_endpoint"`
	ExtractEndpoint    string `yaml:"extract_endpoint"`
}

type AuditConfig struct {
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Port:           "8000",
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Rules:   RulesConfig{Path: "rules.json"},
		History: HistoryConfig{Path: "history.json"},
		Action: ActionConfig{
			TriggerThreshold:  0.7,
			AnalyzeConfidence: 0.9,
			CallTimeoutMs:     15_000,
		},
	}
}

// DefaultFile is the config file read when neither --config nor
// MEDALERT_CONFIG names one.
const DefaultFile = "medalert.yaml"

// Path returns the config file location from MEDALERT_CONFIG, or DefaultFile.
func Path() string {
	return envOrDefault("MEDALERT_CONFIG", DefaultFile)
}

// Load reads configuration from a YAML file, then applies environment
// overrides. An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("config.Load: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Action.TriggerThreshold <= 0 || c.Action.TriggerThreshold > 1 {
		return fmt.Errorf("action.trigger_threshold must be in (0, 1], got %v", c.Action.TriggerThreshold)
	}
	if c.Action.AnalyzeConfidence <= 0 || c.Action.AnalyzeConfidence > 1 {
		return fmt.Errorf("action.analyze_confidence must be in (0, 1], got %v", c.Action.AnalyzeConfidence)
	}
	if c.Action.CallTimeoutMs <= 0 {
		return fmt.Errorf("action.call_timeout_ms must be positive, got %d", c.Action.CallTimeoutMs)
	}
	if c.Action.CooldownS < 0 {
		return fmt.Errorf("action.cooldown_s must not be negative, got %d", c.Action.CooldownS)
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must not be negative, got %v", c.HTTP.RateLimitRPS)
	}
	return nil
}

func applyEnv(c *Config) {
	c.LogLevel = envOrDefault("MEDALERT_LOG_LEVEL", c.LogLevel)
	c.HTTP.Port = envOrDefault("MEDALERT_HTTP_PORT", c.HTTP.Port)
	c.HTTP.RateLimitRPS = envOrDefaultFloat("MEDALERT_RATE_LIMIT_RPS", c.HTTP.RateLimitRPS)
	c.HTTP.RateLimitBurst = envOrDefaultInt("MEDALERT_RATE_LIMIT_BURST", c.HTTP.RateLimitBurst)
	c.GRPC.Port = envOrDefault("MEDALERT_GRPC_PORT", c.GRPC.Port)
	c.Rules.Path = envOrDefault("MEDALERT_RULES_PATH", c.Rules.Path)
	c.History.Path = envOrDefault("MEDALERT_HISTORY_PATH", c.History.Path)
	c.History.PostgresDSN = envOrDefault("POSTGRES_DSN", c.History.PostgresDSN)

	c.Action.TriggerThreshold = envOrDefaultFloat("MEDALERT_TRIGGER_THRESHOLD", c.Action.TriggerThreshold)
	c.Action.AnalyzeConfidence = envOrDefaultFloat("MEDALERT_ANALYZE_CONFIDENCE", c.Action.AnalyzeConfidence)
	c.Action.CallTimeoutMs = envOrDefaultInt("MEDALERT_CALL_TIMEOUT_MS", c.Action.CallTimeoutMs)
	c.Action.CooldownS = envOrDefaultInt("MEDALERT_COOLDOWN_S", c.Action.CooldownS)
	c.Action.RedisAddr = envOrDefault("REDIS_ADDR", c.Action.RedisAddr)
	c.Action.RedisPassword = envOrDefault("REDIS_PASSWORD", c.Action.RedisPassword)
	c.Action.RedisDB = envOrDefaultInt("REDIS_DB", c.Action.RedisDB)

	c.Twilio.AccountSID = envOrDefault("TWILIO_ACCOUNT_SID", c.Twilio.AccountSID)
	c.Twilio.AuthToken = envOrDefault("TWILIO_AUTH_TOKEN", c.Twilio.AuthToken)
	c.Twilio.FromNumber = envOrDefault("TWILIO_PHONE_NUMBER", c.Twilio.FromNumber)
	c.Twilio.DoctorNumber = envOrDefault("DOCTOR_PHONE_NUMBER", c.Twilio.DoctorNumber)

	c.Collab.TranscribeEndpoint = envOrDefault("TRANSCRIBE_ENDPOINT", c.Collab.TranscribeEndpoint)
	c.Collab.ExtractEndpoint = envOrDefault("EXTRACT_ENDPOINT", c.Collab.ExtractEndpoint)
	c.Audit.ClickHouseDSN = envOrDefault("CLICKHOUSE_DSN", c.Audit.ClickHouseDSN)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
