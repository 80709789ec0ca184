package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "LEXNER"

// newViper creates a pre-configured Viper instance with environment-variable
// support and every known key registered.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// Map nested keys: "ner.max_length" → "LEXNER_NER_MAX_LENGTH"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	registerDefaults(v)
	return v
}

// loadDotEnv reads a .env file into the process environment when one exists.
// Variables already set in the environment are not overwritten.
func loadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: stat %q: %w", p, err)
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from the YAML file at path, overlays environment
// variables (LEXNER_ prefix, including those from a local .env file), applies
// defaults, and validates the result. An empty path loads from the
// environment only.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", path, err)
		}
	}
	cfg, err := unmarshalAndFinalize(v)
	if err != nil {
		return nil, err
	}
	cfg.File = path
	return cfg, nil
}

// LoadFromEnv builds a Config purely from environment variables and defaults.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch starts watching the config file at path. onChange receives the
// re-validated Config after each successful reload; invalid edits are
// reported through onError and the previous configuration stays in effect.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", path, err)
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		cfg.File = path
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return nil
}

// MustLoad is like Load but panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
