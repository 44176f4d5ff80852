package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Normalize(t *testing.T) {
	cfg := (&Config{Driver: DriverPostgres, Host: "localhost", Database: "app"}).Normalize()

	assert.Equal(t, int32(DefaultMaxConns), cfg.MaxConns)
	assert.Equal(t, int32(DefaultMinConns), cfg.MinConns)
	assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.Equal(t, DefaultHealthCheckInterval, cfg.HealthCheckInterval)
}

func TestConfig_NormalizeKeepsExplicitValues(t *testing.T) {
	cfg := (&Config{
		MaxConns:   50,
		MaxRetries: 7,
		RetryDelay: 250 * time.Millisecond,
	}).Normalize()

	assert.Equal(t, int32(50), cfg.MaxConns)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "postgres with host and database",
			cfg:     Config{Driver: DriverPostgres, Host: "localhost", Database: "app"},
			wantErr: false,
		},
		{
			name:    "missing database",
			cfg:     Config{Driver: DriverPostgres, Host: "localhost"},
			wantErr: true,
		},
		{
			name:    "missing host",
			cfg:     Config{Driver: DriverMySQL, Database: "app"},
			wantErr: true,
		},
		{
			name:    "sqlite needs no host",
			cfg:     Config{Driver: DriverSQLite, Database: ":memory:"},
			wantErr: false,
		},
		{
			name:    "uri satisfies host requirement",
			cfg:     Config{Driver: DriverPostgres, URI: "postgres://localhost/app", Database: "app"},
			wantErr: false,
		},
		{
			name:    "mongodb replica hosts satisfy host requirement",
			cfg:     Config{Driver: DriverMongoDB, Hosts: []string{"mongo-1:27017"}, Database: "events"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "databases.yaml")
	content := `
primary:
  driver: postgres
  host: db.internal
  port: 5432
  database: app
  username: app
  max_conns: 20
analytics:
  driver: mongodb
  hosts: [mongo-1:27017, mongo-2:27017]
  replica_set: rs0
  database: events
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	profiles, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	primary := profiles["primary"]
	require.NotNil(t, primary)
	assert.Equal(t, DriverPostgres, primary.Driver)
	assert.Equal(t, "db.internal", primary.Host)
	assert.Equal(t, int32(20), primary.MaxConns)

	analytics := profiles["analytics"]
	require.NotNil(t, analytics)
	assert.Equal(t, []string{"mongo-1:27017", "mongo-2:27017"}, analytics.Hosts)
	assert.Equal(t, "rs0", analytics.ReplicaSet)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
