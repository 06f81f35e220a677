package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yok-tottii/delayloop/internal/audio"
	"github.com/yok-tottii/delayloop/internal/delay"
	"github.com/yok-tottii/delayloop/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. DELAYLOOP_DELAY=2
const EnvPrefix = "DELAYLOOP"

// Config holds application configuration. Values are fixed for the lifetime
// of a session.
type Config struct {
	Delay         float64      `mapstructure:"delay" json:"delay"`                   // seconds
	SampleRate    int          `mapstructure:"sample_rate" json:"sample_rate"`       // Hz
	PageLen       int          `mapstructure:"page_len" json:"page_len"`             // samples per frame
	HostAPI       int          `mapstructure:"host_api" json:"host_api"`
	QueueCapacity int          `mapstructure:"queue_capacity" json:"queue_capacity"` // frames, 0 = twice the pre-fill
	Latency       string       `mapstructure:"latency" json:"latency"`               // "low" or "high"
	InputGuesses  []string     `mapstructure:"input_guesses" json:"input_guesses"`
	OutputGuesses []string     `mapstructure:"output_guesses" json:"output_guesses"`
	QuitKey       string       `mapstructure:"quit_key" json:"quit_key"`
	Log           LogConfig    `mapstructure:"log" json:"log"`
	Status        StatusConfig `mapstructure:"status" json:"status"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level         string `mapstructure:"level" json:"level"` // none, error, warn, info, debug
	Dir           string `mapstructure:"dir" json:"dir"`
	RetentionDays int    `mapstructure:"retention_days" json:"retention_days"`
}

// StatusConfig holds the optional status/metrics endpoint
type StatusConfig struct {
	Addr string `mapstructure:"addr" json:"addr"` // empty disables the endpoint
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	logDefaults := logger.DefaultConfig()

	return &Config{
		Delay:         1.0,
		SampleRate:    22050,
		PageLen:       1024,
		HostAPI:       0,
		QueueCapacity: 0,
		Latency:       "low",
		InputGuesses:  []string{"Line", "Headset", "Microphone Array"},
		OutputGuesses: []string{"VoiceMeeter Input"},
		QuitKey:       "esc",
		Log: LogConfig{
			Level:         logDefaults.Level,
			Dir:           logDefaults.Dir,
			RetentionDays: logDefaults.RetentionDays,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("delay", d.Delay)
	v.SetDefault("sample_rate", d.SampleRate)
	v.SetDefault("page_len", d.PageLen)
	v.SetDefault("host_api", d.HostAPI)
	v.SetDefault("queue_capacity", d.QueueCapacity)
	v.SetDefault("latency", d.Latency)
	v.SetDefault("input_guesses", d.InputGuesses)
	v.SetDefault("output_guesses", d.OutputGuesses)
	v.SetDefault("quit_key", d.QuitKey)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.retention_days", d.Log.RetentionDays)
	v.SetDefault("status.addr", d.Status.Addr)
}

// Load reads configuration from path (any format viper understands) with
// DELAYLOOP_* environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "delayloop.yaml"
	}
	return filepath.Join(dir, "delayloop", "delayloop.yaml")
}

// DelayDuration returns the delay as a time.Duration
func (c *Config) DelayDuration() time.Duration {
	return time.Duration(c.Delay * float64(time.Second))
}

// LatencyMode returns the parsed latency mode
func (c *Config) LatencyMode() audio.LatencyMode {
	mode, _ := audio.ParseLatencyMode(c.Latency)
	return mode
}

// Prefill returns how many silence frames realise the configured delay
func (c *Config) Prefill() int {
	return delay.PrefillCount(c.DelayDuration(), c.SampleRate, c.PageLen)
}

// LoggerConfig converts the log section for the logger package
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Dir:           c.Log.Dir,
		Level:         c.Log.Level,
		RetentionDays: c.Log.RetentionDays,
	}
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	if c.Delay < 0 || c.Delay > 60 {
		return fmt.Errorf("invalid delay: %g (must be between 0 and 60 seconds)", c.Delay)
	}

	if c.SampleRate < 1000 || c.SampleRate > 384000 {
		return fmt.Errorf("invalid sample_rate: %d (must be between 1000 and 384000)", c.SampleRate)
	}

	if c.PageLen <= 0 || c.PageLen > 65536 {
		return fmt.Errorf("invalid page_len: %d (must be between 1 and 65536)", c.PageLen)
	}

	if c.HostAPI < 0 {
		return fmt.Errorf("invalid host_api: %d", c.HostAPI)
	}

	if c.QueueCapacity < 0 {
		return fmt.Errorf("invalid queue_capacity: %d", c.QueueCapacity)
	}
	if c.QueueCapacity > 0 && c.QueueCapacity < c.Prefill() {
		return fmt.Errorf("invalid queue_capacity: %d (must hold the %d pre-fill frames)", c.QueueCapacity, c.Prefill())
	}

	if _, err := audio.ParseLatencyMode(c.Latency); err != nil {
		return err
	}

	if c.QuitKey == "" {
		return fmt.Errorf("quit_key cannot be empty")
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	if c.Log.RetentionDays <= 0 {
		return fmt.Errorf("invalid log.retention_days: %d", c.Log.RetentionDays)
	}

	return nil
}
