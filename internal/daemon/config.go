// Package daemon wires the membership ledger into a long-running process:
// configuration, storage, event publication, the HTTP API and the snapshot
// scheduler.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/tutu-network/memberledger/internal/app/membership"
	"github.com/tutu-network/memberledger/internal/infra/events"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEMBERLEDGER_"

// Config is the complete memberledger configuration, stored as TOML.
type Config struct {
	API       APIConfig      `toml:"api"`
	Storage   StorageConfig  `toml:"storage"`
	Log       LogConfig      `toml:"log"`
	NATS      NATSConfig     `toml:"nats"`
	Registry  RegistryConfig `toml:"registry"`
	Snapshots SnapshotConfig `toml:"snapshots"`
	Metrics   MetricsConfig  `toml:"metrics"`
	Tracing   TracingConfig  `toml:"tracing"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig locates the SQLite journal.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// LogConfig selects the zap configuration.
type LogConfig struct {
	Env   string `toml:"env"`   // "production" or "development"
	Level string `toml:"level"` // empty keeps the env default
}

// NATSConfig enables event publication. An empty URL disables it.
type NATSConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	ClientName    string `toml:"client_name"`
}

// RegistryConfig is used the first time the daemon starts on an empty
// journal. Once a registry exists its stored owner and cap win.
type RegistryConfig struct {
	Owner                    string `toml:"owner"`
	MaxRewardAmount          uint64 `toml:"max_reward_amount"`
	OneCertificatePerAccount bool   `toml:"one_certificate_per_account"`
	MaxAddresses             int    `toml:"max_addresses"`
}

// Policy returns the registry policy.
func (c RegistryConfig) Policy() membership.Policy {
	return membership.Policy{MaxRewardAmount: c.MaxRewardAmount}
}

// Service returns the service configuration.
func (c RegistryConfig) Service() membership.ServiceConfig {
	return membership.ServiceConfig{OneCertificatePerAccount: c.OneCertificatePerAccount}
}

// SnapshotConfig controls periodic supply snapshots.
type SnapshotConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"` // Go duration, e.g. "1h"
	Keep     int    `toml:"keep"`     // snapshots retained per registry
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// TracingConfig controls the in-memory span recorder.
type TracingConfig struct {
	Enabled  bool `toml:"enabled"`
	MaxSpans int  `toml:"max_spans"`
}

// DefaultConfig returns the out-of-the-box configuration.
func DefaultConfig() Config {
	home := Home()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Storage: StorageConfig{
			DataDir: home,
		},
		Log: LogConfig{
			Env: "production",
		},
		NATS: NATSConfig{
			SubjectPrefix: events.DefaultSubjectPrefix,
			ClientName:    "memberd",
		},
		Registry: RegistryConfig{
			MaxAddresses: 1 << 16,
		},
		Snapshots: SnapshotConfig{
			Enabled:  true,
			Interval: "1h",
			Keep:     168,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:  true,
			MaxSpans: 10_000,
		},
	}
}

// Home returns the memberledger home directory (~/.memberledger), or
// $MEMBERLEDGER_HOME when set.
func Home() string {
	if h := os.Getenv(EnvPrefix + "HOME"); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".memberledger")
	}
	return ".memberledger"
}

// DefaultConfigPath is where Load looks when no path is given.
func DefaultConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are ignored; variables already set are kept.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads path over DefaultConfig and applies MEMBERLEDGER_* overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Snapshots.Enabled {
		if _, err := c.Snapshots.interval(); err != nil {
			return err
		}
	}
	return nil
}

func (c SnapshotConfig) interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0, fmt.Errorf("snapshots.interval %q: %w", c.Interval, err)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("snapshots.interval %s is below one minute", d)
	}
	return d, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("API_HOST", &c.API.Host)
	str("DATA_DIR", &c.Storage.DataDir)
	str("LOG_ENV", &c.Log.Env)
	str("LOG_LEVEL", &c.Log.Level)
	str("NATS_URL", &c.NATS.URL)
	str("NATS_SUBJECT_PREFIX", &c.NATS.SubjectPrefix)
	str("OWNER", &c.Registry.Owner)
	str("SNAPSHOT_INTERVAL", &c.Snapshots.Interval)

	if v, ok := os.LookupEnv(EnvPrefix + "API_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sAPI_PORT: %w", EnvPrefix, err)
		}
		c.API.Port = n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "MAX_REWARD_AMOUNT"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_REWARD_AMOUNT: %w", EnvPrefix, err)
		}
		c.Registry.MaxRewardAmount = n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "METRICS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS: %w", EnvPrefix, err)
		}
		c.Metrics.Enabled = b
	}
	return nil
}
