package database

import (
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/meridianweb/meridian/internal/errs"
)

// Config holds all settings needed to connect to and pool a database.
// It is treated as immutable once passed to an adapter.
type Config struct {
	// Driver selects the backend (postgres, mysql, sqlite, mongodb).
	Driver Driver `yaml:"driver"`

	// URI is a full connection string. When set it takes precedence over
	// the discrete host fields below.
	URI string `yaml:"uri"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"` // for SQLite this is the file path
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`

	// Hosts lists replica-set members (MongoDB). Overrides Host/Port.
	Hosts      []string `yaml:"hosts"`
	ReplicaSet string   `yaml:"replica_set"`
	AuthSource string   `yaml:"auth_source"`

	// Pool tuning
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`

	// Timeouts and retry policy
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`

	// HealthCheckInterval is how often adapters re-probe an in-use
	// connection before deciding whether to reconnect.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// Default pool and retry settings applied by Normalize.
const (
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultMaxConnLifetime     = 30 * time.Minute
	DefaultMaxConnIdleTime     = 5 * time.Minute
	DefaultConnectTimeout      = 10 * time.Second
	DefaultMaxRetries          = 3
	DefaultRetryDelay          = time.Second
	DefaultHealthCheckInterval = 30 * time.Second
)

// Normalize returns a copy of c with defaults applied to every zero field.
// Adapters call this once at construction.
func (c *Config) Normalize() *Config {
	out := *c
	if out.MaxConns == 0 {
		out.MaxConns = DefaultMaxConns
	}
	if out.MinConns == 0 {
		out.MinConns = DefaultMinConns
	}
	if out.MaxConnLifetime == 0 {
		out.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if out.MaxConnIdleTime == 0 {
		out.MaxConnIdleTime = DefaultMaxConnIdleTime
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = DefaultMaxRetries
	}
	if out.RetryDelay == 0 {
		out.RetryDelay = DefaultRetryDelay
	}
	if out.HealthCheckInterval == 0 {
		out.HealthCheckInterval = DefaultHealthCheckInterval
	}
	return &out
}

// Validate checks that the fields required to connect are present.
// It runs before any network activity, so a bad config fails fast.
func (c *Config) Validate() error {
	if c.Database == "" {
		return errs.New(errs.ErrKindInvalidInput, "config: database is required")
	}
	if c.Driver == DriverSQLite || c.URI != "" {
		return nil
	}
	if c.Driver == DriverMongoDB && len(c.Hosts) > 0 {
		return nil
	}
	if c.Host == "" {
		return errs.New(errs.ErrKindInvalidInput, "config: host is required")
	}
	return nil
}

// LoadFile reads named connection profiles from a YAML file.
//
// File layout:
//
//	primary:
//	  driver: postgres
//	  host: localhost
//	  database: app
//	analytics:
//	  driver: mongodb
//	  hosts: [mongo-1:27017, mongo-2:27017]
//	  replica_set: rs0
//	  database: events
func LoadFile(path string) (map[string]*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "config: cannot read file", err)
	}

	profiles := make(map[string]*Config)
	if err := yaml.Unmarshal(raw, &profiles); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "config: cannot parse yaml", err)
	}

	for name, cfg := range profiles {
		if err := cfg.Validate(); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "config: profile "+name, err)
		}
	}
	return profiles, nil
}
