package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Ingest.Subreddits) == 0 {
		t.Error("expected subreddits to be populated")
	}
	if cfg.Reddit.MinInterval != time.Second {
		t.Errorf("expected min_interval 1s, got %v", cfg.Reddit.MinInterval)
	}
	if cfg.Reddit.RequestsPerMinute != 60 {
		t.Errorf("expected 60 requests per minute, got %d", cfg.Reddit.RequestsPerMinute)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected driver 'sqlite', got %q", cfg.Database.Driver)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("expected cache backend 'memory', got %q", cfg.Cache.Backend)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
reddit:
  requests_per_minute: 30
  min_interval: 2500ms
ingest:
  subreddits: [golang]
  pause: 5s
cache:
  backend: redis
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Reddit.RequestsPerMinute != 30 {
		t.Errorf("expected 30 requests per minute, got %d", cfg.Reddit.RequestsPerMinute)
	}
	if cfg.Reddit.MinInterval != 2500*time.Millisecond {
		t.Errorf("expected min_interval 2.5s, got %v", cfg.Reddit.MinInterval)
	}
	if cfg.Ingest.Pause != 5*time.Second {
		t.Errorf("expected pause 5s, got %v", cfg.Ingest.Pause)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Reddit.TokenURL != "https://www.reddit.com/api/v1/access_token" {
		t.Errorf("expected default token_url, got %q", cfg.Reddit.TokenURL)
	}
	if cfg.Cache.Redis.Addr != "localhost:6379" {
		t.Errorf("expected default redis addr, got %q", cfg.Cache.Redis.Addr)
	}
	if cfg.Ingest.Sort != "hot" {
		t.Errorf("expected default sort 'hot', got %q", cfg.Ingest.Sort)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := parse([]byte("reddit: [unclosed")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Relevance.Keywords) == 0 {
		t.Error("expected relevance keywords to be populated from file")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("TEST_REDDIT_ID", "abc")
	t.Setenv("TEST_REDDIT_SECRET", "shh")

	r := Reddit{ClientIDEnv: "TEST_REDDIT_ID", ClientSecretEnv: "TEST_REDDIT_SECRET"}
	if r.ClientID() != "abc" {
		t.Errorf("expected client id 'abc', got %q", r.ClientID())
	}
	if r.ClientSecret() != "shh" {
		t.Errorf("expected client secret 'shh', got %q", r.ClientSecret())
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
	if cfg.GetDatabasePath() != filepath.Join("/custom/path", "subcrawler.db") {
		t.Errorf("unexpected database path %q", cfg.GetDatabasePath())
	}

	cfg.Database.Path = "/tmp/x.db"
	if cfg.GetDatabasePath() != "/tmp/x.db" {
		t.Errorf("expected explicit database path, got %q", cfg.GetDatabasePath())
	}
}
