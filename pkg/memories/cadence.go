package memories

import (
	"time"
)

const day = 24 * time.Hour

// Cadence is the fixed table of reminder offsets measured from a record's
// creation time. After the last offset, reminders recur every RecurEvery;
// a zero RecurEvery makes the table exhaustible.
type Cadence struct {
	Offsets    []time.Duration
	RecurEvery time.Duration
}

// DefaultCadence reminds after a week, a month, a quarter and a year, then yearly.
func DefaultCadence() Cadence {
	return Cadence{
		Offsets:    []time.Duration{7 * day, 30 * day, 90 * day, 365 * day},
		RecurEvery: 365 * day,
	}
}

// Next returns the first cadence entry strictly after `after`. Entries that
// are already in the past are skipped, never caught up on. An entry past the
// last storable timestamp ends the cadence.
func (c Cadence) Next(createdAt, after time.Time) (time.Time, bool) {
	t, ok := c.next(createdAt, after)
	if !ok || !storable(t) {
		return time.Time{}, false
	}
	return t, true
}

func (c Cadence) next(createdAt, after time.Time) (time.Time, bool) {
	for _, off := range c.Offsets {
		if t := createdAt.Add(off); t.After(after) {
			return t, true
		}
	}
	if c.RecurEvery <= 0 || len(c.Offsets) == 0 {
		return time.Time{}, false
	}

	last := createdAt.Add(c.Offsets[len(c.Offsets)-1])
	k := after.Sub(last)/c.RecurEvery + 1
	return last.Add(k * c.RecurEvery), true
}

// ReminderState is where a record sits in the reminder lifecycle.
type ReminderState string

const (
	ReminderUnscheduled ReminderState = "unscheduled"
	ReminderScheduled   ReminderState = "scheduled"
	ReminderDue         ReminderState = "due"
	ReminderExhausted   ReminderState = "exhausted"
)

// State derives the reminder state of rec at now.
func (c Cadence) State(rec Record, now time.Time) ReminderState {
	if rec.NextReminderAt == nil {
		if _, ok := c.Next(rec.CreatedAt, now); ok {
			return ReminderUnscheduled
		}
		return ReminderExhausted
	}
	if rec.NextReminderAt.After(now) {
		return ReminderScheduled
	}
	return ReminderDue
}
