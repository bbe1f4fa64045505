package memories

import (
	"database/sql"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// EngineConfig collects the tunables of every engine component.
type EngineConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	Sampler         SamplerConfig
	Scheduler       SchedulerConfig
	Cadence         Cadence
	Now             func() time.Time
	Logger          *log.Logger
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultPageSize: DefaultPageSize,
		MaxPageSize:     MaxPageSize,
		Sampler:         DefaultSamplerConfig(),
		Scheduler:       DefaultSchedulerConfig(),
		Cadence:         DefaultCadence(),
		Now:             time.Now,
		Logger:          log.New(io.Discard),
	}
}

// Engine wires the store, query engine, sampler and scheduler over one database.
type Engine struct {
	Store     *Store
	Query     *Query
	Sampler   *Sampler
	Scheduler *Scheduler
}

// NewEngine builds an Engine over an already migrated database.
func NewEngine(db *sql.DB, cfg EngineConfig) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	if len(cfg.Cadence.Offsets) == 0 {
		cfg.Cadence = DefaultCadence()
	}

	store := NewStore(db,
		WithClock(cfg.Now),
		WithCadence(cfg.Cadence),
		WithLogger(cfg.Logger.WithPrefix("store")),
	)
	return &Engine{
		Store: store,
		Query: NewQuery(store, cfg.DefaultPageSize, cfg.MaxPageSize),
		Sampler: NewSampler(store, cfg.Sampler,
			WithSamplerClock(cfg.Now),
			WithSamplerLogger(cfg.Logger.WithPrefix("sampler")),
		),
		Scheduler: NewScheduler(store, cfg.Cadence, cfg.Scheduler,
			WithSchedulerClock(cfg.Now),
			WithSchedulerLogger(cfg.Logger.WithPrefix("reminders")),
		),
	}
}
