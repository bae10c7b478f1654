// Package config loads the pfxhunt YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseDir string `yaml:"-"` // set to the base directory of config files when loading

	APIKey string `yaml:"api_key"`
	// Days is the modification window of the bucket search.
	Days int `yaml:"days" validate:"gte=0"`

	Search   SearchConfig   `yaml:"search"`
	Download DownloadConfig `yaml:"download"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Log      LogConfig      `yaml:"log"`
	Serve    ServeConfig    `yaml:"serve"`
}

type SearchConfig struct {
	BaseURL    string   `yaml:"base_url" validate:"required,url"`
	Extensions []string `yaml:"extensions" validate:"required,min=1,dive,required"`
	Keywords   string   `yaml:"keywords"`
	PageSize   int      `yaml:"page_size" validate:"gte=1,lte=1000"`
	MaxResults int      `yaml:"max_results" validate:"gte=0"`
}

type DownloadConfig struct {
	// Root is where the certs_<timestamp> directories are created.
	Root      string        `yaml:"root" validate:"required"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	Interval  time.Duration `yaml:"interval" validate:"gte=0"`
	MaxSize   int64         `yaml:"max_size" validate:"gt=0"`
	Workers   int           `yaml:"workers" validate:"gte=1"`
	SeenIndex string        `yaml:"seen_index"`
}

type PipelineConfig struct {
	Workers          int    `yaml:"workers" validate:"gte=0"`
	DryRun           bool   `yaml:"dry_run"`
	ActiveMarker     string `yaml:"active_marker" validate:"required"`
	QuarantineMarker string `yaml:"quarantine_marker" validate:"required,nefield=ActiveMarker"`
	// Output is the file records are appended to; empty means stdout.
	Output string `yaml:"output"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Format     string `yaml:"format" validate:"oneof=auto pretty json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
}

type ServeConfig struct {
	Address string `yaml:"address" validate:"required,hostname_port"`
	MaxBody int64  `yaml:"max_body" validate:"gt=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Days: 1,
		Search: SearchConfig{
			BaseURL:    "https://buckets.grayhatwarfare.com",
			Extensions: []string{"pfx"},
			PageSize:   1000,
		},
		Download: DownloadConfig{
			Root:     ".",
			Timeout:  15 * time.Second,
			Interval: 200 * time.Millisecond,
			MaxSize:  10 << 20,
			Workers:  4,
		},
		Pipeline: PipelineConfig{
			ActiveMarker:     "certs",
			QuarantineMarker: "certs_deleted",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "auto",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Serve: ServeConfig{
			Address: "127.0.0.1:8412",
			MaxBody: 10 << 20,
		},
	}
}

// LoadConfigFile reads path on top of Default. Environment variables in the
// file are expanded before decoding.
func LoadConfigFile(path string) (*Config, error) {
	content, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	// expand environment variables $
	expanded := os.ExpandEnv(string(content))

	cfg := Default()
	cfg.BaseDir = filepath.Dir(path)

	err = yaml.Unmarshal([]byte(expanded), cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.Download.Root) {
		cfg.Download.Root = filepath.Join(cfg.BaseDir, cfg.Download.Root)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("yaml")
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// Expand ~ to $HOME
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	return path
}
