package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/unowned-ai/resonance/pkg/memories"
)

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Run the reminder scheduler",
	Long:  `Advance due reminders along the configured cadence and emit one event per due record.`,
}

var tickRemindersCmd = &cobra.Command{
	Use:   "tick",
	Short: "Advance every due reminder once",
	Long: `Runs a single scheduler pass: every active record whose next reminder is at or before
--now (default: the current time) emits an event and moves to its next cadence entry.
Events are printed as JSON lines on stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		if at, err := timeFlag(cmd, "now"); err != nil {
			return err
		} else if at != nil {
			now = *at
		}

		conn, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer conn.Close()

		events, err := engine.Scheduler.Tick(context.Background(), now)
		if err != nil {
			return describe("tick reminders", err)
		}

		sink := memories.NewJSONLinesSink(os.Stdout)
		for _, ev := range events {
			if err := sink.Emit(context.Background(), ev); err != nil {
				return err
			}
		}
		logger.Info("reminder tick finished", "due", len(events), "now", now.Format(time.RFC3339))
		return nil
	},
}

func initRemindersCmd() {
	tickRemindersCmd.Flags().String("now", "", "Tick as of this RFC 3339 time")
	remindersCmd.AddCommand(tickRemindersCmd)
}

// eventSink picks where the serve loop sends reminder events.
func eventSink(target string) (memories.Sink, func() error, error) {
	switch target {
	case "", "log":
		return memories.LogSink{Logger: logger.WithPrefix("events")}, func() error { return nil }, nil
	case "-", "stdout":
		return memories.NewJSONLinesSink(os.Stdout), func() error { return nil }, nil
	default:
		f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open event file: %w", err)
		}
		return memories.NewJSONLinesSink(f), f.Close, nil
	}
}
