package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unowned-ai/resonance/pkg/config"
	pkgdb "github.com/unowned-ai/resonance/pkg/db"
	"github.com/unowned-ai/resonance/pkg/logging"
	"github.com/unowned-ai/resonance/pkg/memories"
)

func TestEngineConfigFromSettings(t *testing.T) {
	cfg := config.Default()
	cfg.MaxPageSize = 50
	cfg.Cadence = []string{"1d", "2d"}
	cfg.RecurEvery = "0s"
	cfg.CountCacheTTL = "5s"

	ec := engineConfig(config.Normalize(cfg), logging.Discard())
	assert.Equal(t, 50, ec.MaxPageSize)
	assert.Equal(t, []time.Duration{24 * time.Hour, 48 * time.Hour}, ec.Cadence.Offsets)
	assert.Zero(t, ec.Cadence.RecurEvery)
	assert.Equal(t, 5*time.Second, ec.Sampler.CountTTL)
	assert.Equal(t, config.DefaultBatchSize, ec.Scheduler.BatchSize)
}

func TestLoadSettingsFlagsOverrideFile(t *testing.T) {
	for _, k := range []string{"RESONANCE_DB", "RESONANCE_ADDR", "RESONANCE_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"addr": ":9000", "sync": "NORMAL"}`), 0o644))

	initCmd()
	t.Cleanup(func() { configPath, dbPath = "", "" })
	require.NoError(t, rootCmd.ParseFlags([]string{
		"--config", path,
		"--db", filepath.Join(dir, "r.db"),
		"--driver", pkgdb.DriverPureGo,
	}))

	cfg, err := loadSettings(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "NORMAL", cfg.Sync)
	assert.Equal(t, filepath.Join(dir, "r.db"), cfg.DBPath)
	assert.Equal(t, pkgdb.DriverPureGo, cfg.Driver)
}

func TestEventSinkFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, closeSink, err := eventSink(path)
	require.NoError(t, err)
	_, ok := sink.(*memories.JSONLinesSink)
	assert.True(t, ok)
	require.NoError(t, closeSink())

	sink, _, err = eventSink("log")
	require.NoError(t, err)
	_, ok = sink.(memories.LogSink)
	assert.True(t, ok)
}
