package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	FallbackModelID   = "mock-1"
	FallbackModelName = "Mock Stream"

	envPrefix = "STREAMCHAT_"
)

// Config holds application configuration
type Config struct {
	// Chat backend root, e.g. http://localhost:8000/api
	BaseURL string `yaml:"base_url"`
	// Browser gateway address
	ListenAddr string `yaml:"listen_addr"`
	// Mock backend address
	MockAddr string `yaml:"mock_addr"`
	LogDir   string `yaml:"log_dir"`
	// SQLite transcript archive, empty disables it
	ArchivePath string `yaml:"archive_path"`
	// Dial and response header timeout
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Telemetry      bool          `yaml:"telemetry"`
	Debug          bool          `yaml:"debug"`
	// Model used while the catalog is empty
	FallbackModel string `yaml:"fallback_model"`
	// Per-fragment delay of the mock backend
	MockDelay time.Duration `yaml:"mock_delay"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		BaseURL:        "http://localhost:8000/api",
		ListenAddr:     ":8080",
		MockAddr:       ":8000",
		LogDir:         "logs",
		ConnectTimeout: 10 * time.Second,
		FallbackModel:  FallbackModelID,
		MockDelay:      10 * time.Millisecond,
	}
}

// Load builds the configuration from defaults, an optional .env file in the
// working directory, an optional YAML file and STREAMCHAT_* variables, in
// that order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate checks that the configuration is usable
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url must be set")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base_url %q: scheme must be http or https", c.BaseURL)
	}
	if c.FallbackModel == "" {
		return errors.New("fallback_model must be set")
	}
	if c.ConnectTimeout < 0 {
		return errors.New("connect_timeout must not be negative")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.BaseURL, "BASE_URL")
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.MockAddr, "MOCK_ADDR")
	setString(&cfg.LogDir, "LOG_DIR")
	setString(&cfg.ArchivePath, "ARCHIVE_PATH")
	setString(&cfg.FallbackModel, "FALLBACK_MODEL")

	if err := setDuration(&cfg.ConnectTimeout, "CONNECT_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.MockDelay, "MOCK_DELAY"); err != nil {
		return err
	}
	if err := setBool(&cfg.Telemetry, "TELEMETRY"); err != nil {
		return err
	}
	return setBool(&cfg.Debug, "DEBUG")
}

func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	*dst = b
	return nil
}
