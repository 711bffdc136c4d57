package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Equal(t, ModePaper, cfg.Mode)
	assert.Equal(t, 10, cfg.Signals.HistoryDepth)
	assert.Equal(t, 30*time.Second, cfg.Prices.LookupTol)
}

func TestLoadPartialDocumentFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "mode: live\nsignals:\n  history_depth: 25\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg := Load(path)

	assert.Equal(t, ModeLive, cfg.Mode)
	assert.Equal(t, 25, cfg.Signals.HistoryDepth)
	// Untouched fields keep production defaults.
	assert.Equal(t, 30*time.Second, cfg.Signals.FreshnessWindow)
	assert.Equal(t, 10*time.Minute, cfg.Cycles.AuditInterval)
}

func TestLoadMalformedDocumentFallsBackWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o644))

	cfg := Load(path)
	assert.Equal(t, ModePaper, cfg.Mode)
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Postgres.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.Postgres.DSN = "postgres://localhost/trades"
	assert.NoError(t, cfg.Validate())
}

func TestUnknownModeClampedToPaper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: yolo\n"), 0o644))

	cfg := Load(path)
	assert.Equal(t, ModePaper, cfg.Mode)
}
