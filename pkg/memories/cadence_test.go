package memories

import (
	"testing"
	"time"
)

func TestCadenceNext(t *testing.T) {
	c := DefaultCadence()

	cases := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{"fresh record", t0, t0.Add(7 * day)},
		{"exactly on first entry", t0.Add(7 * day), t0.Add(30 * day)},
		{"between entries", t0.Add(45 * day), t0.Add(90 * day)},
		{"on the yearly entry", t0.Add(365 * day), t0.Add(730 * day)},
		{"years later", t0.Add(1000 * day), t0.Add(1095 * day)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := c.Next(t0, tc.after)
			if !ok {
				t.Fatalf("Expected a next reminder")
			}
			if !got.Equal(tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCadenceExhaustible(t *testing.T) {
	c := Cadence{Offsets: []time.Duration{day, 2 * day}}

	if got, ok := c.Next(t0, t0.Add(day)); !ok || !got.Equal(t0.Add(2*day)) {
		t.Errorf("Expected %v, got %v (ok=%v)", t0.Add(2*day), got, ok)
	}
	if _, ok := c.Next(t0, t0.Add(2*day)); ok {
		t.Errorf("Expected the cadence to be exhausted")
	}
}

func TestCadenceState(t *testing.T) {
	c := DefaultCadence()
	next := t0.Add(7 * day)
	rec := Record{CreatedAt: t0, NextReminderAt: &next}

	if s := c.State(rec, t0); s != ReminderScheduled {
		t.Errorf("Expected scheduled, got %s", s)
	}
	if s := c.State(rec, next); s != ReminderDue {
		t.Errorf("Expected due, got %s", s)
	}
	rec.NextReminderAt = nil
	if s := c.State(rec, t0); s != ReminderUnscheduled {
		t.Errorf("Expected unscheduled, got %s", s)
	}
	if s := (Cadence{Offsets: []time.Duration{day}}).State(rec, t0.Add(2*day)); s != ReminderExhausted {
		t.Errorf("Expected exhausted, got %s", s)
	}
}
