// Package config loads recorder settings from a YAML file with
// environment-variable overrides (SECRETARY_ prefix). Every setting
// has a default, so a missing config file is not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Azure struct {
	ConnectionString string `mapstructure:"connection_string"`
	Container        string `mapstructure:"container"`
	Compress         bool   `mapstructure:"compress"`
}

type Config struct {
	DeviceMarker string  `mapstructure:"device_marker"`
	SampleRate   int     `mapstructure:"sample_rate"`
	Channels     int     `mapstructure:"channels"`
	ChunkFrames  int     `mapstructure:"chunk_frames"`
	MaxHours     float64 `mapstructure:"max_hours"`
	WriteStems   bool    `mapstructure:"write_stems"`

	AudioDir     string `mapstructure:"audio_dir"`
	SpoolDir     string `mapstructure:"spool_dir"`
	NASDir       string `mapstructure:"nas_dir"`
	DatabasePath string `mapstructure:"database_path"`

	Azure       Azure  `mapstructure:"azure"`
	DeepgramKey string `mapstructure:"deepgram_key"`
	OpenAIKey   string `mapstructure:"openai_key"`
}

// MaxDuration converts the configured ceiling to a duration.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxHours * float64(time.Hour))
}

// CloudEnabled reports whether the Azure tier is configured.
func (c *Config) CloudEnabled() bool {
	return c.Azure.ConnectionString != ""
}

func defaultBase() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".secretary"
	}
	return filepath.Join(home, ".secretary")
}

// Load reads the config file at path, or the default locations when
// path is empty. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	base := defaultBase()

	v.SetDefault("device_marker", "Aggregate Device")
	v.SetDefault("sample_rate", 44100)
	v.SetDefault("channels", 3)
	v.SetDefault("chunk_frames", 4096)
	v.SetDefault("max_hours", 3.0)
	v.SetDefault("write_stems", false)
	v.SetDefault("audio_dir", filepath.Join(base, "audio"))
	v.SetDefault("spool_dir", filepath.Join(base, "spool"))
	v.SetDefault("nas_dir", "")
	v.SetDefault("database_path", filepath.Join(base, "recordings.db"))
	v.SetDefault("azure.connection_string", "")
	v.SetDefault("azure.container", "recordings")
	v.SetDefault("azure.compress", true)
	v.SetDefault("deepgram_key", "")
	v.SetDefault("openai_key", "")

	v.SetEnvPrefix("SECRETARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(base)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			if _, statErr := os.Stat(path); path != "" && os.IsNotExist(statErr) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", c.Channels)
	}
	if c.ChunkFrames <= 0 {
		return fmt.Errorf("chunk_frames must be positive, got %d", c.ChunkFrames)
	}
	if c.MaxHours <= 0 {
		return fmt.Errorf("max_hours must be positive, got %v", c.MaxHours)
	}
	return nil
}
