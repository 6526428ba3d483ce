package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/engagement-escrow/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "unset-me")
	os.Unsetenv("STORE_BACKEND")
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, config.StoreMemory, cfg.StoreBackend)
	assert.Equal(t, "escrow_events", cfg.EventsQueue)
	assert.Equal(t, "payment_releases", cfg.ReleaseQueue)
	assert.Equal(t, 3, cfg.WorkerMaxRetries)
	assert.True(t, cfg.RequireSignatures)
	assert.Equal(t, 5*time.Minute, cfg.SignatureWindow)
	assert.False(t, cfg.EnableFaucet)
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_BACKEND=badger\nBADGER_DIR=/tmp/escrow\nENABLE_FAUCET=true\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STORE_BACKEND")
		os.Unsetenv("BADGER_DIR")
		os.Unsetenv("ENABLE_FAUCET")
	})

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.StoreBadger, cfg.StoreBackend)
	assert.Equal(t, "/tmp/escrow", cfg.BadgerDir)
	assert.True(t, cfg.EnableFaucet)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "mongo")
}

func TestPostgresRequiresDatabase(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.StorePostgres, EventsQueue: "e", ReleaseQueue: "r"}
	assert.Error(t, cfg.Validate())

	cfg.DBName = "escrow"
	assert.NoError(t, cfg.Validate())
}

func TestPostgresDSN(t *testing.T) {
	cfg := &config.Config{
		DBUser:     "escrow",
		DBPassword: "s3cret",
		DBHost:     "db",
		DBPort:     "5433",
		DBName:     "ledger",
	}
	assert.Equal(t, "postgres://escrow:s3cret@db:5433/ledger?sslmode=disable", cfg.PostgresDSN())

	cfg.DatabaseURL = "postgres://other"
	assert.Equal(t, "postgres://other", cfg.PostgresDSN())
}

func TestSignatureWindow(t *testing.T) {
	t.Setenv("SIGNATURE_WINDOW", "90s")
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.SignatureWindow)

	t.Setenv("SIGNATURE_WINDOW", "0s")
	_, err = config.Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "SIGNATURE_WINDOW")
}
