package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  host: db\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://:@db:5432/?sslmode=disable", cfg.Database.DSN())

	p := cfg.Tracking.Policy()
	assert.Equal(t, 60*time.Second, p.MissingAfter)
	assert.Equal(t, 30*time.Second, p.ReturningWindow)
	assert.Equal(t, 2*time.Minute, p.RemoveAfter)
	assert.Equal(t, 3, p.PromoteAfter)
	assert.Equal(t, time.Second, cfg.Tracking.SweepInterval)

	rc := cfg.Tracking.Recognizer()
	assert.InDelta(t, 0.4, rc.Threshold, 1e-6)
	assert.InDelta(t, 0.5, rc.QualityThreshold, 1e-6)
	assert.Equal(t, 100, rc.RecentLimit)
	assert.Equal(t, 300, rc.OlderLimit)

	assert.Equal(t, 10*time.Second, cfg.Capture.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_YAMLValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  driver: memory
tracking:
  missing_after: 90s
  promote_after: 5
capture:
  interval: 15s
  cameras:
    - name: entrance
      url: rtsp://cam1/stream
    - name: hall
      url: rtsp://cam2/stream
`))
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.Tracking.MissingAfter)
	assert.Equal(t, 5, cfg.Tracking.PromoteAfter)
	assert.Equal(t, 15*time.Second, cfg.Capture.Interval)
	require.Len(t, cfg.Capture.Cameras, 2)
	assert.Equal(t, "hall", cfg.Capture.Cameras[1].Name)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JUDGE_SERVER_PORT", "9090")
	t.Setenv("JUDGE_DB_URL", "postgres://u:p@h:1/d")
	t.Setenv("JUDGE_CORS_ORIGINS", "http://a,http://b")
	t.Setenv("JUDGE_CAPTURE_INTERVAL", "30s")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://u:p@h:1/d", cfg.Database.DSN())
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.Capture.Interval)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  driver: oracle\n"))
	assert.ErrorContains(t, err, "oracle")

	_, err = Load(writeConfig(t, "capture:\n  cameras:\n    - name: a\n      url: x\n    - name: a\n      url: y\n"))
	assert.ErrorContains(t, err, "duplicate camera")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
