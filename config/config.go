// Package config loads runtime settings from YAML and the environment.
package config

import (
	"strconv"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/cache"
	"github.com/hextrackr/advisory-sync/utils"
)

const envPrefix = "ADVISORY_SYNC_"

type Config struct {
	Database         Database                     `yaml:"database"`
	Listen           string                       `yaml:"listen"`
	Log              Log                          `yaml:"log"`
	Cisco            Cisco                        `yaml:"cisco"`
	PaloAlto         PaloAlto                     `yaml:"palo_alto"`
	KEV              KEV                          `yaml:"kev"`
	StaleAfter       time.Duration                `yaml:"stale_after"`
	NextSyncInterval time.Duration                `yaml:"next_sync_interval"`
	Cache            map[string]cache.ScopeConfig `yaml:"cache"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Log struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

type Cisco struct {
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	BatchDelay   time.Duration `yaml:"batch_delay"`
	CVEDelay     time.Duration `yaml:"cve_delay"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
}

type PaloAlto struct {
	BaseURL string        `yaml:"base_url"`
	Delay   time.Duration `yaml:"delay"`
}

type KEV struct {
	URL   string `yaml:"url"`
	Retry int    `yaml:"retry"`
}

func Default() Config {
	return Config{
		Database: Database{
			Driver: "sqlite3",
			DSN:    "advisory-sync.db",
		},
		Listen: ":8989",
		Log:    Log{Level: "info"},
		Cisco: Cisco{
			BatchDelay: 10 * time.Second,
			CVEDelay:   time.Second,
		},
		PaloAlto:         PaloAlto{Delay: 250 * time.Millisecond},
		KEV:              KEV{Retry: 5},
		StaleAfter:       30 * 24 * time.Hour,
		NextSyncInterval: 24 * time.Hour,
		Cache:            cache.DefaultScopes(),
	}
}

// Load reads path over the defaults and applies ADVISORY_SYNC_* overrides.
// An empty path skips the file.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := utils.NewFs(fs).ReadYAML(path, &cfg); err != nil {
			return Config{}, xerrors.Errorf("config error: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func env(name, value string) string {
	return utils.LookupEnv(envPrefix+name, value)
}

func (c *Config) applyEnv() error {
	c.Database.Driver = env("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = env("DB_DSN", c.Database.DSN)
	c.Listen = env("LISTEN", c.Listen)
	c.Log.Level = env("LOG_LEVEL", c.Log.Level)
	c.Cisco.BaseURL = env("CISCO_BASE_URL", c.Cisco.BaseURL)
	c.Cisco.TokenURL = env("CISCO_TOKEN_URL", c.Cisco.TokenURL)
	c.Cisco.ClientID = env("CISCO_CLIENT_ID", c.Cisco.ClientID)
	c.Cisco.ClientSecret = env("CISCO_CLIENT_SECRET", c.Cisco.ClientSecret)
	c.PaloAlto.BaseURL = env("PALO_ALTO_BASE_URL", c.PaloAlto.BaseURL)
	c.KEV.URL = env("KEV_URL", c.KEV.URL)

	if v := env("STALE_AFTER", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return xerrors.Errorf("invalid %sSTALE_AFTER: %w", envPrefix, err)
		}
		c.StaleAfter = d
	}
	if v := env("LOG_COLOR", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return xerrors.Errorf("invalid %sLOG_COLOR: %w", envPrefix, err)
		}
		c.Log.Color = b
	}
	return nil
}

func (c Config) validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return xerrors.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return xerrors.New("database dsn is required")
	}
	if c.StaleAfter <= 0 {
		return xerrors.Errorf("stale_after must be positive, got %s", c.StaleAfter)
	}
	return nil
}
