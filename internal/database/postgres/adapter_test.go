package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianweb/meridian/internal/database"
	"github.com/meridianweb/meridian/internal/errs"
)

func testConfig() *database.Config {
	return &database.Config{
		Driver:   database.DriverPostgres,
		Host:     "db.internal",
		Port:     5433,
		Username: "app",
		Password: "secret",
		Database: "appdb",
		SSLMode:  "require",
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	a := New(&database.Config{Host: "localhost", Database: "app"})

	assert.Equal(t, database.DriverPostgres, a.Driver())
	assert.False(t, a.Connected())
}

func TestConnect_InvalidConfigFailsFast(t *testing.T) {
	a := New(&database.Config{Driver: database.DriverPostgres})

	start := time.Now()
	err := a.Connect(context.Background())

	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	// Config errors skip the retry loop entirely.
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnect_RetryBound(t *testing.T) {
	cfg := &database.Config{
		Driver:         database.DriverPostgres,
		Host:           "127.0.0.1",
		Port:           1, // nothing listens here
		Username:       "u",
		Password:       "p",
		Database:       "nope",
		MaxRetries:     3,
		RetryDelay:     10 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
	}
	a := New(cfg)

	start := time.Now()
	err := a.Connect(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.False(t, a.Connected())
	// 4 attempts with backoff delays of 10, 20, 30ms between them.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestConnect_ContextCancelStopsRetries(t *testing.T) {
	cfg := &database.Config{
		Driver:         database.DriverPostgres,
		Host:           "127.0.0.1",
		Port:           1,
		Username:       "u",
		Password:       "p",
		Database:       "nope",
		MaxRetries:     10,
		RetryDelay:     time.Second,
		ConnectTimeout: 2 * time.Second,
	}
	a := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := a.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
}

func TestClose_Idempotent(t *testing.T) {
	a := New(testConfig())

	assert.NoError(t, a.Close(context.Background()))
	assert.NoError(t, a.Close(context.Background()))
	assert.False(t, a.Connected())
}

func TestHealthCheck_NotConnected(t *testing.T) {
	a := New(testConfig())

	result := a.HealthCheck(context.Background())
	assert.False(t, result.Healthy)
	assert.NotEmpty(t, result.Error)
	assert.False(t, result.Timestamp.IsZero())
}

func TestPoolStatus_NotConnected(t *testing.T) {
	a := New(testConfig())

	assert.Equal(t, database.PoolStatus{}, a.PoolStatus())
}
