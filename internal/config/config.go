// Package config loads the process configuration from an optional YAML file, overridden by environment variables.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap/zapcore"

	vf "github.com/alanbriolat/video-fetcher"
)

type Config struct {
	LogLevel string `yaml:"log_level" env:"VF_LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	// HistoryPath is the batch history database, "" to not record history.
	HistoryPath string `yaml:"history" env:"VF_HISTORY" env-description:"batch history database path"`
	// TempDir is where per-batch work directories are created, "" for the system default.
	TempDir string `yaml:"temp_dir" env:"VF_TEMP_DIR" env-description:"parent of temporary work directories"`
	Fetch   Fetch  `yaml:"fetch"`
	Engine  Engine `yaml:"engine"`
}

type Fetch struct {
	Mode         string `yaml:"mode" env:"VF_MODE" env-default:"video" env-description:"video or audio"`
	VideoQuality string `yaml:"video_quality" env:"VF_VIDEO_QUALITY" env-default:"1080p"`
	AudioFormat  string `yaml:"audio_format" env:"VF_AUDIO_FORMAT" env-default:"mp3"`
	// MaxWorkers of 0 means one per CPU.
	MaxWorkers int    `yaml:"max_workers" env:"VF_MAX_WORKERS" env-default:"0"`
	OutputDir  string `yaml:"output_dir" env:"VF_OUTPUT_DIR" env-default:"downloads"`
}

type Engine struct {
	// Name is a provider name, or "auto" to pick by matching each reference.
	Name        string `yaml:"name" env:"VF_ENGINE" env-default:"auto"`
	YtDlpBinary string `yaml:"ytdlp_binary" env:"YTDLP_BINARY"`
}

// Load reads the config file at path, if path is not "", then applies environment variables and defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return &vf.ValidationError{Field: "log level", Value: c.LogLevel}
	}
	if c.Fetch.MaxWorkers < 0 {
		return &vf.ValidationError{Field: "max workers", Value: fmt.Sprint(c.Fetch.MaxWorkers), Reason: "must not be negative"}
	}
	return c.FormatOptions().Validate()
}

func (c *Config) FormatOptions() vf.FormatOptions {
	return vf.FormatOptions{
		Mode:         vf.Mode(c.Fetch.Mode),
		VideoQuality: c.Fetch.VideoQuality,
		AudioFormat:  c.Fetch.AudioFormat,
	}
}

// Usage describes the supported environment variables.
func Usage() (string, error) {
	return cleanenv.GetDescription(&Config{}, nil)
}
