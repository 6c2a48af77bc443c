// Package config loads attendsync settings from defaults, an optional YAML
// file and ATTENDSYNC_* environment variables, in that order.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/attendsync/internal/sync/conflict"
)

type ctxKey string

const configContextKey ctxKey = "attendsync.config"

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ATTENDSYNC"

// Remote store drivers.
const (
	RemotePostgres = "postgres"
	RemoteMemory   = "memory"
)

// Defaults.
const (
	DefaultDataDir            = ".attendsync"
	DefaultListenAddr         = "127.0.0.1:8090"
	DefaultSyncInterval       = 5 * time.Minute
	DefaultSyncTimeout        = 5 * time.Minute
	DefaultMinSyncInterval    = 10 * time.Second
	DefaultProbeInterval      = 30 * time.Second
	DefaultProbeTimeout       = 3 * time.Second
	DefaultSlowThreshold      = 2500 * time.Millisecond
	DefaultAttendanceLookback = 30 * 24 * time.Hour
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultServiceName        = "attendsync"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// Config holds every attendsync setting.
type Config struct {
	// DataDir holds the local SQLite database.
	DataDir string `yaml:"dataDir" split_words:"true"`

	RemoteDriver string `yaml:"remoteDriver" split_words:"true"`
	// RemoteDSN is the lib/pq connection string of the remote store.
	RemoteDSN string `yaml:"remoteDSN" envconfig:"REMOTE_DSN"`

	// HeartbeatURL is probed to classify connectivity. Empty treats the link
	// as always online.
	HeartbeatURL  string        `yaml:"heartbeatURL"  envconfig:"HEARTBEAT_URL"`
	ProbeInterval time.Duration `yaml:"probeInterval" split_words:"true"`
	ProbeTimeout  time.Duration `yaml:"probeTimeout"  split_words:"true"`
	SlowThreshold time.Duration `yaml:"slowThreshold" split_words:"true"`

	SyncInterval       time.Duration `yaml:"syncInterval"       split_words:"true"`
	SyncTimeout        time.Duration `yaml:"syncTimeout"        split_words:"true"`
	MinSyncInterval    time.Duration `yaml:"minSyncInterval"    split_words:"true"`
	AttendanceLookback time.Duration `yaml:"attendanceLookback" split_words:"true"`
	ConflictStrategy   string        `yaml:"conflictStrategy"   split_words:"true"`

	// RecordedBy identifies the operator of this device on check-ins.
	RecordedBy string `yaml:"recordedBy" split_words:"true"`
	// Timezone is the IANA zone of event dates. Empty means local time.
	Timezone string `yaml:"timezone"`

	ListenAddr      string        `yaml:"listenAddr"      split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`

	LogLevel      string `yaml:"logLevel"      split_words:"true"`
	LogFile       string `yaml:"logFile"       split_words:"true"`
	LogMaxSizeMB  int    `yaml:"logMaxSizeMB"  envconfig:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `yaml:"logMaxBackups" split_words:"true"`
	LogMaxAgeDays int    `yaml:"logMaxAgeDays" split_words:"true"`

	// OTLPEndpoint enables trace export over OTLP/HTTP when set.
	OTLPEndpoint string `yaml:"otlpEndpoint" envconfig:"OTLP_ENDPOINT"`
	OTLPInsecure bool   `yaml:"otlpInsecure" envconfig:"OTLP_INSECURE"`
	ServiceName  string `yaml:"serviceName"  split_words:"true"`
}

// Default returns a Config holding the defaults.
func Default() *Config {
	return &Config{
		DataDir:            DefaultDataDir,
		RemoteDriver:       RemotePostgres,
		ProbeInterval:      DefaultProbeInterval,
		ProbeTimeout:       DefaultProbeTimeout,
		SlowThreshold:      DefaultSlowThreshold,
		SyncInterval:       DefaultSyncInterval,
		SyncTimeout:        DefaultSyncTimeout,
		MinSyncInterval:    DefaultMinSyncInterval,
		AttendanceLookback: DefaultAttendanceLookback,
		ConflictStrategy:   string(conflict.StrategyRemoteWins),
		ListenAddr:         DefaultListenAddr,
		ShutdownTimeout:    DefaultShutdownTimeout,
		LogLevel:           "info",
		LogMaxSizeMB:       50,
		LogMaxBackups:      3,
		LogMaxAgeDays:      28,
		ServiceName:        DefaultServiceName,
	}
}

// Load reads configFile over the defaults, then applies the environment.
// An empty configFile falls back to ~/.attendsync/attendsync.yaml when it
// exists.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, DefaultDataDir, "attendsync.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	var errs []error
	switch c.RemoteDriver {
	case RemotePostgres, RemoteMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid remoteDriver %q (must be %q or %q)", c.RemoteDriver, RemotePostgres, RemoteMemory))
	}
	switch conflict.ResolutionStrategy(c.ConflictStrategy) {
	case conflict.StrategyRemoteWins, conflict.StrategyLastWriteWins:
	default:
		errs = append(errs, fmt.Errorf("invalid conflictStrategy %q", c.ConflictStrategy))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("dataDir is required"))
	}
	for name, d := range map[string]time.Duration{
		"syncInterval":    c.SyncInterval,
		"syncTimeout":     c.SyncTimeout,
		"probeInterval":   c.ProbeInterval,
		"probeTimeout":    c.ProbeTimeout,
		"slowThreshold":   c.SlowThreshold,
		"shutdownTimeout": c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.MinSyncInterval < 0 {
		errs = append(errs, fmt.Errorf("minSyncInterval must not be negative, got %s", c.MinSyncInterval))
	}
	if c.SlowThreshold >= c.ProbeTimeout && c.ProbeTimeout > 0 {
		errs = append(errs, fmt.Errorf("slowThreshold %s must be below probeTimeout %s", c.SlowThreshold, c.ProbeTimeout))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location returns the time zone of event dates.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
