package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPageLimit    = 10 // Universe allows up to 50
	DefaultBackfillDays = 7

	MinPageLimit = 1
	MaxPageLimit = 50
)

// Config top-level struct
type Config struct {
	Universe UniverseConfig `yaml:"universe"`
	Postgres PostgresConfig `yaml:"postgres"`
	Sync     SyncConfig     `yaml:"sync"`
}

type UniverseConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SyncConfig struct {
	PageLimit       int  `yaml:"page_limit"`
	BackfillDays    int  `yaml:"backfill_days"`
	IncludeInactive bool `yaml:"include_inactive"`
}

// Load reads an optional yaml file and layers env vars on top. A missing
// file is not an error; credentials usually arrive via env only.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Sync: SyncConfig{
			PageLimit:    DefaultPageLimit,
			BackfillDays: DefaultBackfillDays,
		},
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("UNIVERSE_CLIENT_ID"); v != "" {
		c.Universe.ClientID = v
	}
	if v := os.Getenv("UNIVERSE_CLIENT_SECRET"); v != "" {
		c.Universe.ClientSecret = v
	}
	if v := os.Getenv("UNIVERSE_REFRESH_TOKEN"); v != "" {
		c.Universe.RefreshToken = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("UNIVERSE_PAGE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.PageLimit = n
		}
	}
	if v := os.Getenv("WM_BACKFILL_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.BackfillDays = n
		}
	}
}

// Normalize clamps the page limit to the range the API accepts.
func (s *SyncConfig) Normalize() {
	if s.PageLimit < MinPageLimit {
		s.PageLimit = MinPageLimit
	}
	if s.PageLimit > MaxPageLimit {
		s.PageLimit = MaxPageLimit
	}
}

// ValidateCredentials reports which required settings are missing.
func (c *Config) ValidateCredentials() error {
	var missing []string
	if c.Universe.ClientID == "" {
		missing = append(missing, "client-id")
	}
	if c.Universe.ClientSecret == "" {
		missing = append(missing, "client-secret")
	}
	if c.Universe.RefreshToken == "" {
		missing = append(missing, "refresh-token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing flags or env vars: %v", missing)
	}
	return nil
}
