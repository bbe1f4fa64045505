package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/unowned-ai/resonance/pkg/db"
)

const (
	DefaultAddr            = "127.0.0.1:8420"
	DefaultLogLevel        = "info"
	DefaultSync            = "FULL"
	DefaultPageSize        = 20
	DefaultMaxPageSize     = 100
	DefaultSmallPopulation = 200
	DefaultChunkSize       = 100
	DefaultCountCacheTTL   = 30 * time.Second
	DefaultBatchSize       = 100
	DefaultMaxBatches      = 10
	DefaultTickInterval    = time.Minute
)

// DefaultCadence is the reminder table in the form accepted by ParseDuration.
var DefaultCadence = []string{"7d", "30d", "90d", "365d"}

// DefaultRecurEvery repeats reminders yearly after the last cadence entry.
const DefaultRecurEvery = "365d"

// Config holds user-configurable settings for resonance.
type Config struct {
	DBPath   string `json:"dbPath,omitempty"`
	Driver   string `json:"driver,omitempty"`
	WAL      bool   `json:"wal"`
	Sync     string `json:"sync,omitempty"`
	Addr     string `json:"addr,omitempty"`
	LogLevel string `json:"logLevel,omitempty"`

	DefaultPageSize int `json:"defaultPageSize,omitempty"`
	MaxPageSize     int `json:"maxPageSize,omitempty"`

	SmallPopulation int    `json:"smallPopulation,omitempty"`
	ChunkSize       int    `json:"chunkSize,omitempty"`
	CountCacheTTL   string `json:"countCacheTTL,omitempty"`

	ReminderBatchSize  int      `json:"reminderBatchSize,omitempty"`
	ReminderMaxBatches int      `json:"reminderMaxBatches,omitempty"`
	TickInterval       string   `json:"tickInterval,omitempty"`
	Cadence            []string `json:"cadence,omitempty"`
	RecurEvery         string   `json:"recurEvery,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Driver:             db.DriverCGO,
		WAL:                true,
		Sync:               DefaultSync,
		Addr:               DefaultAddr,
		LogLevel:           DefaultLogLevel,
		DefaultPageSize:    DefaultPageSize,
		MaxPageSize:        DefaultMaxPageSize,
		SmallPopulation:    DefaultSmallPopulation,
		ChunkSize:          DefaultChunkSize,
		CountCacheTTL:      DefaultCountCacheTTL.String(),
		ReminderBatchSize:  DefaultBatchSize,
		ReminderMaxBatches: DefaultMaxBatches,
		TickInterval:       DefaultTickInterval.String(),
		Cadence:            append([]string(nil), DefaultCadence...),
		RecurEvery:         DefaultRecurEvery,
	}
}

// ConfigPath returns the location of the config file.
func ConfigPath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "resonance", "config.json"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config path: %w", err)
	}
	return filepath.Join(home, ".config", "resonance", "config.json"), nil
}

// Load reads configuration from the default location.
func Load() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Default(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads configuration from path. If the file does not exist,
// defaults are returned. Missing fields keep their defaults.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config: %w", err)
	}
	return Normalize(cfg), nil
}

// Save writes configuration to the default location.
func Save(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes configuration to path.
func SaveTo(path string, cfg Config) error {
	cfg = Normalize(cfg)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv overlays RESONANCE_DB, RESONANCE_ADDR and RESONANCE_LOG_LEVEL.
func ApplyEnv(cfg Config, getenv func(string) string) Config {
	if v := strings.TrimSpace(getenv("RESONANCE_DB")); v != "" {
		cfg.DBPath = v
	}
	if v := strings.TrimSpace(getenv("RESONANCE_ADDR")); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(getenv("RESONANCE_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	return Normalize(cfg)
}

// Normalize ensures defaults are set and invalid values are sanitized.
func Normalize(cfg Config) Config {
	def := Default()

	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}

	cfg.Driver = strings.TrimSpace(cfg.Driver)
	if cfg.Driver != db.DriverCGO && cfg.Driver != db.DriverPureGo {
		cfg.Driver = def.Driver
	}

	cfg.Sync = strings.ToUpper(strings.TrimSpace(cfg.Sync))
	switch cfg.Sync {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		cfg.Sync = def.Sync
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		cfg.LogLevel = def.LogLevel
	}

	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.DefaultPageSize > cfg.MaxPageSize {
		cfg.DefaultPageSize = cfg.MaxPageSize
	}
	if cfg.SmallPopulation <= 0 {
		cfg.SmallPopulation = def.SmallPopulation
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ReminderBatchSize <= 0 {
		cfg.ReminderBatchSize = def.ReminderBatchSize
	}
	if cfg.ReminderMaxBatches <= 0 {
		cfg.ReminderMaxBatches = def.ReminderMaxBatches
	}

	cfg.CountCacheTTL = normalizeDuration(cfg.CountCacheTTL, def.CountCacheTTL, true)
	cfg.TickInterval = normalizeDuration(cfg.TickInterval, def.TickInterval, false)
	cfg.RecurEvery = normalizeDuration(cfg.RecurEvery, def.RecurEvery, true)

	if _, err := parseCadence(cfg.Cadence); err != nil {
		cfg.Cadence = def.Cadence
	}
	return cfg
}

func normalizeDuration(value, fallback string, allowZero bool) string {
	value = strings.TrimSpace(value)
	d, err := ParseDuration(value)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return fallback
	}
	return value
}

// ParseDuration extends time.ParseDuration with a whole-day "Nd" form.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

func parseCadence(entries []string) ([]time.Duration, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("cadence: no entries")
	}
	out := make([]time.Duration, 0, len(entries))
	for i, e := range entries {
		d, err := ParseDuration(e)
		if err != nil {
			return nil, fmt.Errorf("cadence: %w", err)
		}
		if d <= 0 || (i > 0 && d <= out[i-1]) {
			return nil, fmt.Errorf("cadence: entries must be positive and increasing, got %q", e)
		}
		out = append(out, d)
	}
	return out, nil
}

// CadenceOffsets returns the parsed reminder offsets, falling back to DefaultCadence.
func CadenceOffsets(cfg Config) []time.Duration {
	out, err := parseCadence(Normalize(cfg).Cadence)
	if err != nil {
		out, _ = parseCadence(DefaultCadence)
	}
	return out
}

// RecurEvery returns the parsed recurrence interval; zero disables recurrence.
func RecurEvery(cfg Config) time.Duration {
	d, _ := ParseDuration(Normalize(cfg).RecurEvery)
	return d
}

// CountCacheTTL returns how long the sampler trusts a cached count.
func CountCacheTTL(cfg Config) time.Duration {
	d, _ := ParseDuration(Normalize(cfg).CountCacheTTL)
	return d
}

// TickInterval returns the reminder loop period used by serve.
func TickInterval(cfg Config) time.Duration {
	d, err := ParseDuration(Normalize(cfg).TickInterval)
	if err != nil || d <= 0 {
		return DefaultTickInterval
	}
	return d
}
