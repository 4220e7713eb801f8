package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Reddit     Reddit     `yaml:"reddit"`
	Ingest     Ingest     `yaml:"ingest"`
	Relevance  Relevance  `yaml:"relevance"`
	Enrichment Enrichment `yaml:"enrichment"`
	Database   Database   `yaml:"database"`
	Cache      Cache      `yaml:"cache"`
	Schedule   Schedule   `yaml:"schedule"`
	Server     Server     `yaml:"server"`
	Output     Output     `yaml:"output"`
	Logging    Logging    `yaml:"logging"`
}

type Reddit struct {
	ClientIDEnv       string        `yaml:"client_id_env"`
	ClientSecretEnv   string        `yaml:"client_secret_env"`
	UserAgent         string        `yaml:"user_agent"`
	BaseURL           string        `yaml:"base_url"`
	TokenURL          string        `yaml:"token_url"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MinInterval       time.Duration `yaml:"min_interval"`
	MaxRetries        int           `yaml:"max_retries"`
	Timeout           time.Duration `yaml:"timeout"`
}

type Ingest struct {
	Subreddits []string      `yaml:"subreddits"`
	Limit      int           `yaml:"limit"`
	Sort       string        `yaml:"sort"`
	TimeWindow string        `yaml:"time_window"`
	Pause      time.Duration `yaml:"pause"`
}

type Relevance struct {
	Keywords []string `yaml:"keywords"`
}

type Enrichment struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
	Limit   int           `yaml:"limit"`
}

type Database struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSNEnv string `yaml:"dsn_env"`
}

type Cache struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
	Mongo   MongoConfig `yaml:"mongo"`
}

type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
}

type MongoConfig struct {
	URIEnv     string `yaml:"uri_env"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type Schedule struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for subcrawler.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "subcrawler")
}

// DataDir returns the XDG data directory for subcrawler.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "subcrawler")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/subcrawler/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'subcrawler init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Reddit: Reddit{
			ClientIDEnv:       "REDDIT_CLIENT_ID",
			ClientSecretEnv:   "REDDIT_CLIENT_SECRET",
			UserAgent:         "subcrawler/1.0",
			BaseURL:           "https://oauth.reddit.com",
			TokenURL:          "https://www.reddit.com/api/v1/access_token",
			RequestsPerMinute: 60,
			MinInterval:       time.Second,
			MaxRetries:        3,
			Timeout:           30 * time.Second,
		},
		Ingest: Ingest{
			Limit:      25,
			Sort:       "hot",
			TimeWindow: "day",
			Pause:      2 * time.Second,
		},
		Enrichment: Enrichment{
			Enabled: true,
			Timeout: 15 * time.Second,
			Limit:   50,
		},
		Database: Database{
			Driver: "sqlite",
			DSNEnv: "SUBCRAWLER_DATABASE_URL",
		},
		Cache: Cache{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				PasswordEnv: "SUBCRAWLER_REDIS_PASSWORD",
				Prefix:      "subcrawler:",
			},
			Mongo: MongoConfig{
				URIEnv:     "SUBCRAWLER_MONGO_URI",
				Database:   "subcrawler",
				Collection: "response_cache",
			},
		},
		Schedule: Schedule{
			Cron:     "@every 1h",
			Timezone: "Local",
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetDatabasePath returns the SQLite file path, defaulting to the data directory.
func (c *Config) GetDatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.GetDataDir(), "subcrawler.db")
}

// ClientID reads the Reddit client id from the configured environment variable.
func (r Reddit) ClientID() string { return os.Getenv(r.ClientIDEnv) }

// ClientSecret reads the Reddit client secret from the configured environment variable.
func (r Reddit) ClientSecret() string { return os.Getenv(r.ClientSecretEnv) }

// DSN reads the PostgreSQL connection string from the configured environment variable.
func (d Database) DSN() string { return os.Getenv(d.DSNEnv) }

func (r RedisConfig) Password() string { return os.Getenv(r.PasswordEnv) }

func (m MongoConfig) URI() string { return os.Getenv(m.URIEnv) }

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
