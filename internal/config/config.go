// Package config loads bgremover settings from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/bgremover/internal/removal"
	"github.com/lehigh-university-libraries/bgremover/internal/upload"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "bgremover.yaml"

// Segmenter providers.
const (
	ProviderMatte   = "matte"
	ProviderRembg   = "rembg"
	ProviderGemini  = "gemini"
	ProviderCommand = "command"
)

type Config struct {
	Port      string          `yaml:"port"`
	Removal   removal.Config  `yaml:"removal"`
	Assets    AssetsConfig    `yaml:"assets"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Upload    UploadConfig    `yaml:"upload"`
}

type AssetsConfig struct {
	BaseURL     string `yaml:"base_url"`
	CacheDir    string `yaml:"cache_dir"`
	Concurrency int    `yaml:"concurrency"`
	// SweepSchedule is a cron spec for removing abandoned partial downloads.
	SweepSchedule string `yaml:"sweep_schedule"`
}

type SegmenterConfig struct {
	Provider    string `yaml:"provider"`
	MaxSide     int    `yaml:"max_side"`
	RembgURL    string `yaml:"rembg_url"`
	GeminiModel string `yaml:"gemini_model"`
	Command     string `yaml:"command"`
}

type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	cacheDir := "bgremover-assets"
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = dir + string(os.PathSeparator) + "bgremover"
	}
	return Config{
		Port:    "8888",
		Removal: removal.DefaultConfig(),
		Assets: AssetsConfig{
			CacheDir:      cacheDir,
			Concurrency:   4,
			SweepSchedule: "@hourly",
		},
		Segmenter: SegmenterConfig{
			Provider: ProviderMatte,
			MaxSide:  1024,
		},
		Upload: UploadConfig{
			MaxBytes: upload.DefaultLimit,
		},
	}
}

// Load reads path (or DefaultFile when path is empty and the file exists),
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if cfg.Removal.Progress == nil {
		cfg.Removal.Progress = removal.DefaultConfig().Progress
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("BGREMOVER_PORT", &c.Port)
	setString("BGREMOVER_MODEL", &c.Removal.Model)
	if v := os.Getenv("BGREMOVER_DEVICE"); v != "" {
		c.Removal.Device = removal.Device(strings.ToLower(v))
	}
	setString("BGREMOVER_OUTPUT_FORMAT", &c.Removal.Output.Format)
	if v := os.Getenv("BGREMOVER_OUTPUT_QUALITY"); v != "" {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid BGREMOVER_OUTPUT_QUALITY %q: %w", v, err)
		}
		c.Removal.Output.Quality = q
	}
	if v := os.Getenv("BGREMOVER_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BGREMOVER_DEBUG %q: %w", v, err)
		}
		c.Removal.Debug = debug
	}
	setString("ASSETS_BASE_URL", &c.Assets.BaseURL)
	setString("ASSETS_CACHE_DIR", &c.Assets.CacheDir)
	setString("SEGMENTER_PROVIDER", &c.Segmenter.Provider)
	setString("REMBG_URL", &c.Segmenter.RembgURL)
	setString("GEMINI_MODEL", &c.Segmenter.GeminiModel)
	setString("SEGMENTER_COMMAND", &c.Segmenter.Command)
	return nil
}

// Validate checks the settings that cannot be corrected later.
func (c Config) Validate() error {
	if err := c.Removal.Validate(); err != nil {
		return err
	}
	switch c.Segmenter.Provider {
	case ProviderMatte, ProviderRembg, ProviderGemini:
	case ProviderCommand:
		if strings.TrimSpace(c.Segmenter.Command) == "" {
			return fmt.Errorf("segmenter provider %q requires a command", ProviderCommand)
		}
	default:
		return fmt.Errorf("unknown segmenter provider %q", c.Segmenter.Provider)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max_bytes must be positive")
	}
	return nil
}
