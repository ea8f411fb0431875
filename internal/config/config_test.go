package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jensholdgaard/cloverville/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
source:
  driver: "postgres"
  database:
    host: "db.example.com"
    port: 5433
    user: "clover"
    password: "secret"
    dbname: "cloverville"
    sslmode: "require"
site:
  dir: "www"
  output: "dist"
  raw_html: true
server:
  port: 9090
telemetry:
  service_name: "clover-site"
  otlp_endpoint: "localhost:4318"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Source.Driver != "postgres" {
					t.Errorf("got driver %q, want %q", cfg.Source.Driver, "postgres")
				}
				if cfg.Source.Database.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Source.Database.Port, 5433)
				}
				if cfg.Site.Output != "dist" {
					t.Errorf("got site output %q, want %q", cfg.Site.Output, "dist")
				}
				if !cfg.Site.RawHTML {
					t.Error("got raw_html false, want true")
				}
				if cfg.Server.Port != 9090 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 9090)
				}
				if cfg.Telemetry.ServiceName != "clover-site" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "clover-site")
				}
			},
		},
		{
			name: "defaults applied",
			yaml: `
discord:
  token: "tok"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Source.Driver != "file" {
					t.Errorf("got driver %q, want %q", cfg.Source.Driver, "file")
				}
				if cfg.Source.Dir != "site" {
					t.Errorf("got source dir %q, want %q", cfg.Source.Dir, "site")
				}
				if cfg.Source.Timeout != 0 {
					t.Errorf("got source timeout %s, want 0", cfg.Source.Timeout)
				}
				if cfg.Site.Output != "public" {
					t.Errorf("got site output %q, want %q", cfg.Site.Output, "public")
				}
				if cfg.Site.RawHTML {
					t.Error("got raw_html true, want false")
				}
				if cfg.Publish.Interval != time.Minute {
					t.Errorf("got publish interval %s, want %s", cfg.Publish.Interval, time.Minute)
				}
				if cfg.Server.Port != 8080 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 8080)
				}
				if cfg.LeaderElection.LeaseName != "cloverville-publisher" {
					t.Errorf("got lease name %q, want %q", cfg.LeaderElection.LeaseName, "cloverville-publisher")
				}
			},
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "http driver accepted",
			yaml: `
source:
  driver: "http"
  base_url: "https://cloverville.example.org"
  timeout: 5s
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Source.BaseURL != "https://cloverville.example.org" {
					t.Errorf("got base url %q", cfg.Source.BaseURL)
				}
				if cfg.Source.Timeout != 5*time.Second {
					t.Errorf("got timeout %s, want 5s", cfg.Source.Timeout)
				}
			},
		},
		{
			name: "http driver without base url rejected",
			yaml: `
source:
  driver: "http"
`,
			wantErr: true,
		},
		{
			name: "file driver without dir rejected",
			yaml: `
source:
  driver: "file"
  dir: ""
`,
			wantErr: true,
		},
		{
			name: "invalid driver rejected",
			yaml: `
source:
  driver: "mongodb"
`,
			wantErr: true,
		},
		{
			name: "debug log level",
			yaml: `
telemetry:
  log_level: "debug"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if got := cfg.Telemetry.Level(); got != slog.LevelDebug {
					t.Errorf("got log level %s, want %s", got, slog.LevelDebug)
				}
			},
		},
		{
			name: "unknown log level rejected",
			yaml: `
telemetry:
  log_level: "chatty"
`,
			wantErr: true,
		},
		{
			name: "zero concurrency rejected",
			yaml: `
publish:
  concurrency: 0
`,
			wantErr: true,
		},
		{
			name: "zero interval rejected",
			yaml: `
publish:
  interval: 0s
`,
			wantErr: true,
		},
		{
			name: "negative interval rejected",
			yaml: `
publish:
  interval: -5m
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("CLOVER_DISCORD_TOKEN", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("discord:\n  token: \"${CLOVER_DISCORD_TOKEN}\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Errorf("got token %q, want %q", cfg.Discord.Token, "from-env")
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CLOVER_DB_PASSWORD=hunter2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CLOVER_DB_PASSWORD") })

	path := filepath.Join(dir, "config.yaml")
	yml := "source:\n  driver: postgres\n  database:\n    password: \"${CLOVER_DB_PASSWORD}\"\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.Database.Password != "hunter2" {
		t.Errorf("got password %q, want %q", cfg.Source.Database.Password, "hunter2")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "user",
		Password: "pass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
