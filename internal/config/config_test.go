package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"checkpoint-capture/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Records.Driver)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, models.VehicleScheme, cfg.Scheme())
	assert.Equal(t, "http://0.0.0.0:8080", cfg.BaseURL())
}

func TestParse_FullConfig(t *testing.T) {
	yamlData := `
server:
  host: 127.0.0.1
  port: 9000
  public_url: https://checkpoint.example.test
variant: email
records:
  driver: postgres
  database:
    host: db
    port: 5433
    user: app
    password: secret
    dbname: checkpoint
    sslmode: require
storage:
  driver: s3
  aws:
    region: eu-central-1
    s3_bucket: uploads
    url_expiry: 1h
camera:
  snapshot_url: http://camera.local/snapshot.jpg
  timeout: 3s
log:
  level: debug
`
	cfg, err := Parse([]byte(yamlData))
	require.NoError(t, err)

	assert.Equal(t, models.EmailScheme, cfg.Scheme())
	assert.Equal(t, "https://checkpoint.example.test", cfg.BaseURL())
	assert.Equal(t, "host=db port=5433 user=app password=secret dbname=checkpoint sslmode=require", cfg.Records.Database.DSN())
	assert.Equal(t, time.Hour, cfg.Storage.AWS.URLExpiry)
	assert.Equal(t, 3*time.Second, cfg.Camera.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParse_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CHECKPOINT_VARIANT", "email")
	t.Setenv("CHECKPOINT_PORT", "7070")
	t.Setenv("CHECKPOINT_STORAGE_SECRET", "from-env")

	cfg, err := Parse([]byte("storage:\n  driver: local\n"))
	require.NoError(t, err)

	assert.Equal(t, "email", cfg.Variant)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Storage.Local.Secret)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown variant", "variant: plate"},
		{"unknown records driver", "records:\n  driver: sqlite"},
		{"local storage without secret", "storage:\n  driver: local"},
		{"s3 without bucket", "storage:\n  driver: s3"},
		{"relay without url", "relay:\n  enabled: true"},
		{"apns without key", "apns:\n  enabled: true"},
		{"malformed yaml", "server: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8181\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
}
