// Package config loads duedeck's layered configuration: built-in defaults,
// an optional YAML file, a .env file, DUEDECK_ environment variables and
// finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "DUEDECK_"

type Config struct {
	DB struct {
		Path string `koanf:"path" validate:"required"`
	} `koanf:"db"`

	Vault struct {
		MasterKey string `koanf:"master_key" validate:"required,hexadecimal,len=64"`
	} `koanf:"vault"`

	LMS struct {
		BaseURL string `koanf:"base_url" validate:"required,url"`
		Service string `koanf:"service" validate:"required"`
	} `koanf:"lms"`

	Grading struct {
		BaseURL   string `koanf:"base_url" validate:"required,url"`
		UserAgent string `koanf:"user_agent"`
	} `koanf:"grading"`

	Extract struct {
		BaseURL   string `koanf:"base_url" validate:"required,url"`
		APIKey    string `koanf:"api_key"`
		Model     string `koanf:"model" validate:"required"`
		MaxTokens int    `koanf:"max_tokens" validate:"min=1"`
	} `koanf:"extract"`

	Docstore struct {
		Backend  string `koanf:"backend" validate:"oneof=bolt b2"`
		BoltPath string `koanf:"bolt_path"`
		B2       struct {
			AccountID string `koanf:"account_id"`
			AppKey    string `koanf:"app_key"`
			Bucket    string `koanf:"bucket"`
		} `koanf:"b2"`
	} `koanf:"docstore"`

	Sync struct {
		Timezone    string `koanf:"timezone" validate:"required"`
		Concurrency int    `koanf:"concurrency" validate:"min=1,max=32"`
	} `koanf:"sync"`

	HTTP struct {
		Addr    string        `koanf:"addr" validate:"required"`
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"http"`

	Log struct {
		Level  string `koanf:"level" validate:"oneof=debug info warn error"`
		Format string `koanf:"format" validate:"oneof=text json"`
	} `koanf:"log"`
}

var defaults = map[string]any{
	"db.path":            "duedeck.db",
	"lms.base_url":       "https://moodle.example.edu",
	"lms.service":        "moodle_mobile_app",
	"grading.base_url":   "https://www.gradescope.com",
	"extract.base_url":   "https://api.anthropic.com",
	"extract.model":      "claude-sonnet-4-5",
	"extract.max_tokens": 4096,
	"docstore.backend":   "bolt",
	"docstore.bolt_path": "duedeck-docs.db",
	"sync.timezone":      "America/New_York",
	"sync.concurrency":   4,
	"http.addr":          ":8080",
	"http.timeout":       "60s",
	"log.level":          "info",
	"log.format":         "text",
}

// RegisterFlags adds the flags that can override configuration keys.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("db.path", "", "Path to the SQLite database file")
	flags.String("http.addr", "", "Address the HTTP API listens on")
	flags.String("log.level", "", "Log level: debug, info, warn or error")
	flags.String("log.format", "", "Log format: text or json")
	flags.Int("sync.concurrency", 0, "Courses fetched in parallel during a sync")
}

// Load builds the configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if flags != nil {
		if path, _ := flags.GetString("config"); path != "" {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps DUEDECK_SYNC__CONCURRENCY to sync.concurrency.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// Validate checks field constraints and the settings that depend on each other.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		return fmt.Errorf("invalid config: sync.timezone: %w", err)
	}
	if c.Docstore.Backend == "bolt" && c.Docstore.BoltPath == "" {
		return errors.New("invalid config: docstore.bolt_path is required for the bolt backend")
	}
	if c.Docstore.Backend == "b2" && (c.Docstore.B2.AccountID == "" || c.Docstore.B2.AppKey == "" || c.Docstore.B2.Bucket == "") {
		return errors.New("invalid config: docstore.b2 needs account_id, app_key and bucket")
	}
	return nil
}

// Location returns the time zone due dates are rendered in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
