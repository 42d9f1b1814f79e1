// Package config handles service configuration
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/wintrack/wintrack/internal/errors"
)

// StrategyToggles enables or disables individual window lookup strategies.
type StrategyToggles struct {
	ProcessName bool `yaml:"process_name"`
	ProcessPath bool `yaml:"process_path"`
	WindowTitle bool `yaml:"window_title"`
	ClassName   bool `yaml:"class_name"`
	FuzzyMatch  bool `yaml:"fuzzy_match"`
}

// Config is an immutable configuration value. Build one with Default, Load,
// or Merge; never mutate a shared instance.
type Config struct {
	HTTPAddr string

	TargetPattern       string
	ProcessPartialMatch bool
	Strategies          StrategyToggles

	FinderBaseInterval time.Duration
	FinderMinInterval  time.Duration
	FinderMaxInterval  time.Duration

	EnableAutoRecovery  bool
	MaxRecoveryAttempts int
	RecoveryCooldown    time.Duration

	FPSMax          int
	SessionTimeout  time.Duration
	MaxFrameWidth   int
	HashDistanceMax int
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		HTTPAddr:            ":8000",
		ProcessPartialMatch: true,
		Strategies: StrategyToggles{
			ProcessName: true,
			ProcessPath: true,
			WindowTitle: true,
			ClassName:   true,
			FuzzyMatch:  true,
		},
		FinderBaseInterval:  time.Second,
		FinderMinInterval:   500 * time.Millisecond,
		FinderMaxInterval:   30 * time.Second,
		EnableAutoRecovery:  true,
		MaxRecoveryAttempts: 5,
		RecoveryCooldown:    10 * time.Second,
		FPSMax:              30,
		SessionTimeout:      3 * time.Second,
		MaxFrameWidth:       1280,
		HashDistanceMax:     5,
	}
}

// Load builds a configuration from environment variables over defaults.
func Load() Config {
	c := Default()
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.TargetPattern = getEnv("TARGET_PATTERN", c.TargetPattern)
	c.ProcessPartialMatch = getEnvBool("PROCESS_PARTIAL_MATCH", c.ProcessPartialMatch)
	c.Strategies.ProcessName = getEnvBool("STRATEGY_PROCESS_NAME", true)
	c.Strategies.ProcessPath = getEnvBool("STRATEGY_PROCESS_PATH", true)
	c.Strategies.WindowTitle = getEnvBool("STRATEGY_WINDOW_TITLE", true)
	c.Strategies.ClassName = getEnvBool("STRATEGY_CLASS_NAME", true)
	c.Strategies.FuzzyMatch = getEnvBool("STRATEGY_FUZZY_MATCH", true)
	c.FinderBaseInterval = getEnvSeconds("FINDER_BASE_INTERVAL", c.FinderBaseInterval)
	c.FinderMinInterval = getEnvSeconds("FINDER_MIN_INTERVAL", c.FinderMinInterval)
	c.FinderMaxInterval = getEnvSeconds("FINDER_MAX_INTERVAL", c.FinderMaxInterval)
	c.EnableAutoRecovery = getEnvBool("ENABLE_AUTO_RECOVERY", c.EnableAutoRecovery)
	c.MaxRecoveryAttempts = getEnvInt("MAX_RECOVERY_ATTEMPTS", c.MaxRecoveryAttempts)
	c.RecoveryCooldown = getEnvSeconds("RECOVERY_COOLDOWN", c.RecoveryCooldown)
	c.FPSMax = getEnvInt("FPS_MAX", c.FPSMax)
	c.SessionTimeout = getEnvSeconds("SESSION_TIMEOUT", c.SessionTimeout)
	c.MaxFrameWidth = getEnvInt("MAX_FRAME_WIDTH", c.MaxFrameWidth)
	c.HashDistanceMax = getEnvInt("HASH_DISTANCE_MAX", c.HashDistanceMax)
	return c
}

// Overrides carries a partial configuration; nil fields leave the base value
// untouched. YAML config files unmarshal into this type.
type Overrides struct {
	HTTPAddr            *string          `yaml:"http_addr"`
	TargetPattern       *string          `yaml:"target_pattern"`
	ProcessPartialMatch *bool            `yaml:"process_partial_match"`
	Strategies          *StrategyToggles `yaml:"strategies"`
	FinderBaseInterval  *float64         `yaml:"smart_finder_base_interval"`
	FinderMinInterval   *float64         `yaml:"smart_finder_min_interval"`
	FinderMaxInterval   *float64         `yaml:"smart_finder_max_interval"`
	EnableAutoRecovery  *bool            `yaml:"enable_auto_recovery"`
	MaxRecoveryAttempts *int             `yaml:"max_recovery_attempts"`
	RecoveryCooldown    *float64         `yaml:"recovery_cooldown"`
	FPSMax              *int             `yaml:"fps_max"`
	SessionTimeout      *float64         `yaml:"session_timeout"`
	MaxFrameWidth       *int             `yaml:"max_frame_width"`
	HashDistanceMax     *int             `yaml:"hash_distance_max"`
}

// LoadFile parses a YAML overrides file.
func LoadFile(path string) (Overrides, error) {
	var o Overrides
	data, err := os.ReadFile(path)
	if err != nil {
		return o, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "parse config file %s", path)
	}
	return o, nil
}

// Merge returns a new Config with non-nil override fields applied. Pure: the
// receiver and the overrides are never modified.
func (c Config) Merge(o Overrides) Config {
	if o.HTTPAddr != nil {
		c.HTTPAddr = *o.HTTPAddr
	}
	if o.TargetPattern != nil {
		c.TargetPattern = *o.TargetPattern
	}
	if o.ProcessPartialMatch != nil {
		c.ProcessPartialMatch = *o.ProcessPartialMatch
	}
	if o.Strategies != nil {
		c.Strategies = *o.Strategies
	}
	if o.FinderBaseInterval != nil {
		c.FinderBaseInterval = seconds(*o.FinderBaseInterval)
	}
	if o.FinderMinInterval != nil {
		c.FinderMinInterval = seconds(*o.FinderMinInterval)
	}
	if o.FinderMaxInterval != nil {
		c.FinderMaxInterval = seconds(*o.FinderMaxInterval)
	}
	if o.EnableAutoRecovery != nil {
		c.EnableAutoRecovery = *o.EnableAutoRecovery
	}
	if o.MaxRecoveryAttempts != nil {
		c.MaxRecoveryAttempts = *o.MaxRecoveryAttempts
	}
	if o.RecoveryCooldown != nil {
		c.RecoveryCooldown = seconds(*o.RecoveryCooldown)
	}
	if o.FPSMax != nil {
		c.FPSMax = *o.FPSMax
	}
	if o.SessionTimeout != nil {
		c.SessionTimeout = seconds(*o.SessionTimeout)
	}
	if o.MaxFrameWidth != nil {
		c.MaxFrameWidth = *o.MaxFrameWidth
	}
	if o.HashDistanceMax != nil {
		c.HashDistanceMax = *o.HashDistanceMax
	}
	return c
}

// Validate rejects configurations the components cannot honor.
func (c Config) Validate() error {
	if c.FinderMinInterval <= 0 || c.FinderMaxInterval < c.FinderMinInterval {
		return apperrors.Newf(apperrors.CodeConfigInvalid,
			"finder interval bounds invalid: min=%v max=%v", c.FinderMinInterval, c.FinderMaxInterval)
	}
	if c.FinderBaseInterval < c.FinderMinInterval || c.FinderBaseInterval > c.FinderMaxInterval {
		return apperrors.Newf(apperrors.CodeConfigInvalid,
			"finder base interval %v outside [%v, %v]", c.FinderBaseInterval, c.FinderMinInterval, c.FinderMaxInterval)
	}
	if c.FPSMax < 1 || c.FPSMax > 60 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "fps_max %d outside [1, 60]", c.FPSMax)
	}
	if c.MaxRecoveryAttempts < 0 || c.RecoveryCooldown < 0 {
		return apperrors.New(apperrors.CodeConfigInvalid, "recovery parameters must be non-negative")
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return seconds(f)
		}
	}
	return def
}
