// Package config loads m3u8-dl settings from defaults, an optional YAML
// config file, M3U8DL_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lvcoi/m3u8-dl/internal/downloader"
)

const (
	EnvPrefix  = "M3U8DL"
	configName = "m3u8-dl"
)

// Progress modes.
const (
	ProgressAuto = "auto"
	ProgressTUI  = "tui"
	ProgressLog  = "log"
	ProgressNone = "none"
)

// Config is the resolved application configuration.
type Config struct {
	Workers         int           `mapstructure:"workers"`
	Retries         int           `mapstructure:"retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	PlaylistTimeout time.Duration `mapstructure:"playlist_timeout"`
	KeyTimeout      time.Duration `mapstructure:"key_timeout"`
	SegmentTimeout  time.Duration `mapstructure:"segment_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	KeepSegments    bool          `mapstructure:"keep_segments"`
	WorkDir         string        `mapstructure:"workdir"`
	Output          string        `mapstructure:"output"`
	OnExists        string        `mapstructure:"on_exists"`
	FFmpegPath      string        `mapstructure:"ffmpeg_path"`
	LogLevel        string        `mapstructure:"log_level"`
	Progress        string        `mapstructure:"progress"`
	Jobs            int           `mapstructure:"jobs"`
	JobsFile        string        `mapstructure:"jobs_file"`
	History         string        `mapstructure:"history"`
}

// flagKeys maps command-line flag names to viper keys.
var flagKeys = map[string]string{
	"workers":       "workers",
	"retries":       "retries",
	"retry-backoff": "retry_backoff",
	"keep-segments": "keep_segments",
	"workdir":       "workdir",
	"output":        "output",
	"on-exists":     "on_exists",
	"ffmpeg":        "ffmpeg_path",
	"log-level":     "log_level",
	"progress":      "progress",
	"jobs":          "jobs",
	"jobs-file":     "jobs_file",
	"user-agent":    "user_agent",
	"history":       "history",
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults sets default configuration values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workers", 16)
	v.SetDefault("retries", 5)
	v.SetDefault("retry_backoff", 300*time.Millisecond)
	v.SetDefault("playlist_timeout", 15*time.Second)
	v.SetDefault("key_timeout", 15*time.Second)
	v.SetDefault("segment_timeout", 30*time.Second)
	v.SetDefault("user_agent", "m3u8-downloader/1.0")
	v.SetDefault("keep_segments", true)
	v.SetDefault("workdir", "")
	v.SetDefault("output", "")
	v.SetDefault("on_exists", string(downloader.DuplicatePolicyOverwrite))
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("log_level", "info")
	v.SetDefault("progress", ProgressAuto)
	v.SetDefault("jobs", 1)
	v.SetDefault("jobs_file", "")
	v.SetDefault("history", "")
}

// BindFlags binds every known flag in flags to its viper key. Flags missing
// from the set are ignored.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// ReadFile loads path, or searches $HOME/.config/m3u8-dl and the current
// directory for m3u8-dl.yaml when path is empty. A missing file is only an
// error when it was requested explicitly.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", configName))
		}
		v.AddConfigPath(".")
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be at least 1, got %d", c.Retries)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1, got %d", c.Jobs)
	}
	if c.RetryBackoff < 0 {
		return errors.New("retry backoff cannot be negative")
	}
	for name, d := range map[string]time.Duration{
		"playlist timeout": c.PlaylistTimeout,
		"key timeout":      c.KeyTimeout,
		"segment timeout":  c.SegmentTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch c.Progress {
	case ProgressAuto, ProgressTUI, ProgressLog, ProgressNone:
	default:
		return fmt.Errorf("invalid progress mode %q (auto, tui, log, none)", c.Progress)
	}
	if _, err := downloader.ParseDuplicatePolicy(c.OnExists); err != nil {
		return err
	}
	return nil
}

// DownloaderOptions translates the configuration into downloader options.
func (c *Config) DownloaderOptions() downloader.Options {
	return downloader.Options{
		HTTP: downloader.HTTPConfig{
			UserAgent:       c.UserAgent,
			PlaylistTimeout: c.PlaylistTimeout,
			KeyTimeout:      c.KeyTimeout,
			SegmentTimeout:  c.SegmentTimeout,
		},
		Workers:      c.Workers,
		Retries:      c.Retries,
		RetryBackoff: c.RetryBackoff,
	}
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
