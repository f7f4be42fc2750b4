// Package config provides functionality for managing configuration options
// for the server and the client. Values are layered: built-in defaults, then
// an optional TOML file, then GOPHVAULT_* environment variables, then
// command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Single underscores
// separate sections, double underscores keep a literal underscore:
// GOPHVAULT_SERVER_DATABASE__DSN sets server.database_dsn.
const EnvPrefix = "GOPHVAULT_"

// Config holds the configuration values for both binaries.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Client  ClientConfig  `koanf:"client"`
	Storage StorageConfig `koanf:"storage"`
	Sync    SyncConfig    `koanf:"sync"`
	Breach  BreachConfig  `koanf:"breach"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`

	// Path is the config file that was loaded, if any.
	Path string `koanf:"-"`
}

// ServerConfig configures the remote record store.
type ServerConfig struct {
	// Addr is the listening address (ip:port).
	Addr string `koanf:"addr"`
	// DatabaseDSN is the PostgreSQL connection string.
	DatabaseDSN string `koanf:"database_dsn"`
	// CertDir holds ca.crt, server.crt and server.key.
	CertDir string `koanf:"cert_dir"`
	// CleanerInterval is how often soft-deleted rows are purged.
	CleanerInterval time.Duration `koanf:"cleaner_interval"`
	// Retention is how long soft-deleted rows are kept.
	Retention time.Duration `koanf:"retention"`
}

// ClientConfig configures the vault client's connection to the server.
type ClientConfig struct {
	ServerURL string        `koanf:"server_url"`
	CertDir   string        `koanf:"cert_dir"`
	Timeout   time.Duration `koanf:"timeout"`
}

// StorageConfig selects the local key/value backend.
type StorageConfig struct {
	// Backend is "sqlite" or "file".
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

// SyncConfig tunes the reconcile scheduler.
type SyncConfig struct {
	// Interval between background passes; zero disables the scheduler.
	Interval time.Duration `koanf:"interval"`
	// Timeout bounds one pass.
	Timeout time.Duration `koanf:"timeout"`
}

// BreachConfig configures the breach-reputation client.
type BreachConfig struct {
	Endpoint string `koanf:"endpoint"`
	// MinInterval is the minimum spacing between two outbound calls.
	MinInterval time.Duration `koanf:"min_interval"`
	// TTL is how long a completed scan stays fresh.
	TTL     time.Duration `koanf:"ttl"`
	Timeout time.Duration `koanf:"timeout"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level string `koanf:"level"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr on the
// client disables it; the server always mounts /metrics on its router.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "localhost:8080",
			CertDir:         "certs",
			CleanerInterval: time.Hour,
			Retention:       30 * 24 * time.Hour,
		},
		Client: ClientConfig{
			ServerURL: "https://localhost:8080",
			CertDir:   "certs",
			Timeout:   10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "gophvault.db",
		},
		Sync: SyncConfig{
			Interval: 5 * time.Minute,
			Timeout:  30 * time.Second,
		},
		Breach: BreachConfig{
			Endpoint:    "https://api.xposedornot.com/v1/breach-analytics",
			MinInterval: time.Second,
			TTL:         24 * time.Hour,
			Timeout:     15 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty or the file does not exist) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
			cfg.Path = path
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

// Parse parses the server's command-line flags and environment variables to
// set configuration values.
func Parse() (*Config, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs is Parse over an explicit argument list. Only flags that are
// actually set override file and environment values.
func ParseArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("gophvault-server", flag.ContinueOnError)
	addr := fs.String("a", "", "run on ip:port server")
	dsn := fs.String("d", "", "db address")
	path := fs.String("config", "config.toml", "path to config file")
	fs.StringVar(path, "c", "config.toml", "path to config file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	configPath := *path
	if !set["c"] && !set["config"] {
		if p := os.Getenv("CONFIG"); p != "" {
			configPath = p
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	if set["a"] {
		cfg.Server.Addr = *addr
	}
	if set["d"] {
		cfg.Server.DatabaseDSN = *dsn
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("storage.backend must be sqlite or file, got %q", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Breach.MinInterval < 0 {
		return errors.New("breach.min_interval must not be negative")
	}
	if c.Breach.TTL <= 0 {
		return errors.New("breach.ttl must be positive")
	}
	if c.Server.CleanerInterval <= 0 {
		return errors.New("server.cleaner_interval must be positive")
	}
	if c.Sync.Interval < 0 {
		return errors.New("sync.interval must not be negative")
	}
	return nil
}
