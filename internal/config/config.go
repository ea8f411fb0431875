package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Source         SourceConfig         `yaml:"source"`
	History        HistoryConfig        `yaml:"history"`
	Site           SiteConfig           `yaml:"site"`
	Publish        PublishConfig        `yaml:"publish"`
	Server         ServerConfig         `yaml:"server"`
	Discord        DiscordConfig        `yaml:"discord"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// SourceConfig selects where the community data is read from.
type SourceConfig struct {
	Driver   string         `yaml:"driver"` // "file", "http" or "postgres"
	Dir      string         `yaml:"dir"`
	BaseURL  string         `yaml:"base_url"`
	Timeout  time.Duration  `yaml:"timeout"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// HistoryConfig controls where render history events are kept when the
// source driver has no database of its own.
type HistoryConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// SiteConfig describes the page templates and rendered output.
type SiteConfig struct {
	Dir     string `yaml:"dir"`
	Output  string `yaml:"output"`
	RawHTML bool   `yaml:"raw_html"`
}

// PublishConfig controls the publish loop.
type PublishConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Watch       bool          `yaml:"watch"`
	Concurrency int           `yaml:"concurrency"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`
}

// TelemetryConfig holds OpenTelemetry settings.
// An empty OTLPEndpoint disables export; logs then only go to stderr.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
	LogLevel       string `yaml:"log_level"` // debug, info, warn or error
}

// Level returns the parsed log level, defaulting to info.
func (t TelemetryConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(t.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Load reads a YAML configuration file from the given path.
//
// A .env file next to the configuration is loaded first if it exists, and
// ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	path = filepath.Clean(path)

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Source: SourceConfig{
			Driver: "file",
			Dir:    "site",
			Database: DatabaseConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Site: SiteConfig{
			Dir:    "site",
			Output: "public",
		},
		Publish: PublishConfig{
			Interval:    time.Minute,
			Concurrency: 4,
		},
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "cloverville",
			ServiceVersion: "0.1.0",
			LogLevel:       "info",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "cloverville-publisher",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Source.Driver {
	case "file":
		if c.Source.Dir == "" {
			return errors.New("source.dir is required for the file driver")
		}
	case "http":
		if c.Source.BaseURL == "" {
			return errors.New("source.base_url is required for the http driver")
		}
	case "postgres":
		// valid
	default:
		return fmt.Errorf("unsupported source driver %q: must be \"file\", \"http\" or \"postgres\"", c.Source.Driver)
	}
	if c.Source.Timeout < 0 {
		return fmt.Errorf("source.timeout must not be negative, got %s", c.Source.Timeout)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Telemetry.LogLevel)); err != nil {
		return fmt.Errorf("telemetry.log_level: %w", err)
	}
	if c.Publish.Concurrency < 1 {
		return fmt.Errorf("publish.concurrency must be at least 1, got %d", c.Publish.Concurrency)
	}
	if c.Publish.Interval <= 0 {
		return fmt.Errorf("publish.interval must be positive, got %s", c.Publish.Interval)
	}
	return nil
}
