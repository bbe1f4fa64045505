package memories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
)

const (
	dueFirstBatchStatement = `
	SELECT ` + recordColumns + ` FROM records
	WHERE active = TRUE AND next_reminder_at IS NOT NULL AND next_reminder_at <= ?
	ORDER BY next_reminder_at ASC, record_id ASC
	LIMIT ?
	`

	dueNextBatchStatement = `
	SELECT ` + recordColumns + ` FROM records
	WHERE active = TRUE AND next_reminder_at IS NOT NULL AND next_reminder_at <= ?
		AND (next_reminder_at > ? OR (next_reminder_at = ? AND record_id > ?))
	ORDER BY next_reminder_at ASC, record_id ASC
	LIMIT ?
	`
)

// SchedulerConfig bounds the work done by one Tick.
type SchedulerConfig struct {
	BatchSize  int
	MaxBatches int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{BatchSize: 100, MaxBatches: 10}
}

// Scheduler finds records whose reminder is due, advances them along the
// cadence and emits one event per advanced record.
type Scheduler struct {
	store   *Store
	cadence Cadence
	cfg     SchedulerConfig
	logger  *log.Logger
	now     func() time.Time
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(l *log.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithSchedulerClock replaces time.Now for Run.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(store *Store, cadence Cadence, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = def.MaxBatches
	}
	s := &Scheduler{
		store:   store,
		cadence: cadence,
		cfg:     cfg,
		logger:  log.New(io.Discard),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type dueKey struct {
	at       int64
	recordID string
}

// Tick processes records due at or before now. Each due record is moved to
// its next cadence entry strictly after now; missed entries are not caught
// up on. A record that keeps conflicting is skipped and stays due for the
// next tick, so delivery is at least once.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]ReminderEvent, error) {
	now = normalizeTime(now)
	events := []ReminderEvent{}

	var after *dueKey
	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		if err := checkCtx(ctx); err != nil {
			return events, err
		}
		due, err := s.dueBatch(ctx, now, after)
		if err != nil {
			return events, err
		}
		for _, rec := range due {
			ev, ok, err := s.advance(ctx, rec, now)
			if err != nil {
				return events, err
			}
			if ok {
				events = append(events, ev)
			}
		}
		if len(due) < s.cfg.BatchSize {
			break
		}
		tail := due[len(due)-1]
		after = &dueKey{at: tail.NextReminderAt.UnixNano(), recordID: tail.RecordID}
	}

	if len(events) > 0 {
		s.logger.Info("reminders emitted", "count", len(events), "now", now)
	}
	return events, nil
}

func (s *Scheduler) dueBatch(ctx context.Context, now time.Time, after *dueKey) ([]Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = s.store.db.QueryContext(ctx, dueFirstBatchStatement, now.UnixNano(), s.cfg.BatchSize)
	} else {
		rows, err = s.store.db.QueryContext(ctx, dueNextBatchStatement,
			now.UnixNano(), after.at, after.at, after.recordID, s.cfg.BatchSize)
	}
	if err != nil {
		return nil, storeErr(ctx, "sweep due reminders", err)
	}
	defer rows.Close()

	var due []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr(ctx, "scan due record", err)
		}
		due = append(due, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, "sweep due reminders", err)
	}
	return due, nil
}

// advance reschedules one due record, retrying once on a version conflict
// with a fresh read. Only cancellation is returned as an error.
func (s *Scheduler) advance(ctx context.Context, rec Record, now time.Time) (ReminderEvent, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		dueAt := *rec.NextReminderAt

		m := Mutation{ClearNextReminder: true}
		if next, ok := s.cadence.Next(rec.CreatedAt, now); ok {
			m = Mutation{NextReminderAt: &next}
		}

		_, err := s.store.Update(ctx, rec.OwnerID, rec.RecordID, rec.Version, m)
		switch {
		case err == nil:
			return ReminderEvent{
				EventID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
				OwnerID:           rec.OwnerID,
				RecordID:          rec.RecordID,
				Category:          rec.Category,
				OriginalCreatedAt: rec.CreatedAt,
				DueAt:             dueAt,
			}, true, nil
		case errors.Is(err, ErrCancelled):
			return ReminderEvent{}, false, err
		case errors.Is(err, ErrNotFound):
			return ReminderEvent{}, false, nil
		case !errors.Is(err, ErrConflict):
			s.logger.Warn("reminder reschedule failed", "record", rec.RecordID, "err", err)
			return ReminderEvent{}, false, nil
		}

		fresh, err := s.store.GetByID(ctx, rec.RecordID)
		switch {
		case errors.Is(err, ErrCancelled):
			return ReminderEvent{}, false, err
		case errors.Is(err, ErrNotFound):
			return ReminderEvent{}, false, nil
		case err != nil:
			s.logger.Warn("reminder re-read failed", "record", rec.RecordID, "err", err)
			return ReminderEvent{}, false, nil
		}
		if fresh.NextReminderAt == nil || fresh.NextReminderAt.After(now) {
			// Someone else already moved it on.
			return ReminderEvent{}, false, nil
		}
		rec = fresh
	}

	s.logger.Warn("reminder reschedule skipped after conflict retry", "owner", rec.OwnerID, "record", rec.RecordID)
	return ReminderEvent{}, false, nil
}

// Sink receives reminder events emitted by Run.
type Sink interface {
	Emit(ctx context.Context, ev ReminderEvent) error
}

// LogSink writes each event to a logger.
type LogSink struct {
	Logger *log.Logger
}

func (l LogSink) Emit(_ context.Context, ev ReminderEvent) error {
	l.Logger.Info("reminder due",
		"event", ev.EventID,
		"owner", ev.OwnerID,
		"record", ev.RecordID,
		"category", ev.Category,
		"due_at", ev.DueAt,
	)
	return nil
}

// JSONLinesSink writes one JSON object per line.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

func (j *JSONLinesSink) Emit(_ context.Context, ev ReminderEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(ev); err != nil {
		return fmt.Errorf("write reminder event: %w", err)
	}
	return nil
}

// Run ticks every interval until ctx is done, handing events to sink.
// Tick and sink failures are logged and the loop keeps going.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, sink Sink) error {
	if interval <= 0 {
		return fmt.Errorf("reminder interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("reminder scheduler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopped")
			return nil
		case <-ticker.C:
		}

		events, err := s.Tick(ctx, s.now())
		if err != nil && !errors.Is(err, ErrCancelled) {
			s.logger.Error("reminder tick failed", "err", err)
		}
		for _, ev := range events {
			if err := sink.Emit(ctx, ev); err != nil {
				s.logger.Error("reminder sink failed", "event", ev.EventID, "err", err)
			}
		}
	}
}
