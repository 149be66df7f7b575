package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// Config is the service and CLI configuration.
type Config struct {
	Database struct {
		Path string `yaml:"path" env:"MONSTERLAB_DB_PATH"`
	} `yaml:"database"`
	Model struct {
		Path      string `yaml:"path" env:"MONSTERLAB_MODEL_PATH"`
		CacheSize int    `yaml:"cache_size" env:"MONSTERLAB_MODEL_CACHE_SIZE"`
		Watch     bool   `yaml:"watch" env:"MONSTERLAB_MODEL_WATCH"`
	} `yaml:"model"`
	Http struct {
		Port           int           `yaml:"port" env:"MONSTERLAB_HTTP_PORT"`
		Timeout        time.Duration `yaml:"timeout" env:"MONSTERLAB_HTTP_TIMEOUT"`
		AllowedOrigins []string      `yaml:"allowed_origins" env:"MONSTERLAB_HTTP_ALLOWED_ORIGINS"`
	} `yaml:"http"`
	Log struct {
		Level      string `yaml:"level" env:"MONSTERLAB_LOG_LEVEL"`
		File       string `yaml:"file" env:"MONSTERLAB_LOG_FILE"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file or environment overrides are present.
func Default() *Config {
	var c Config
	c.Database.Path = "data/monsters.db"
	c.Model.Path = "data/model.mlab"
	c.Model.CacheSize = 4096
	c.Model.Watch = true
	c.Http.Port = 8080
	c.Http.Timeout = 30 * time.Second
	c.Http.AllowedOrigins = []string{"*"}
	c.Log.Level = "info"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 5
	c.Log.MaxAgeDays = 30
	return &c
}

// Load reads the YAML file at path over the defaults and then applies
// MONSTERLAB_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(config); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Model.CacheSize < 0 {
		return fmt.Errorf("model.cache_size must not be negative")
	}
	return nil
}
