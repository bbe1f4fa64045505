package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/unowned-ai/resonance/pkg/config"
	"github.com/unowned-ai/resonance/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reminder scheduler",
	Long: `Serves the record API over HTTP/JSON and, unless --tick-interval is 0, runs the
reminder scheduler in the background. Reminder events go to the log by default;
--events - writes JSON lines to stdout and --events <file> appends them to a file.

Example:
  resonance serve --addr 127.0.0.1:8420 --tick-interval 30s --events reminders.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := settings.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}
		interval := config.TickInterval(settings)
		if cmd.Flags().Changed("tick-interval") {
			raw, _ := cmd.Flags().GetString("tick-interval")
			d, err := config.ParseDuration(raw)
			if err != nil {
				return err
			}
			interval = d
		}
		target, _ := cmd.Flags().GetString("events")

		conn, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer conn.Close()

		sink, closeSink, err := eventSink(target)
		if err != nil {
			return err
		}
		defer closeSink()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		schedulerDone := make(chan error, 1)
		if interval > 0 {
			go func() { schedulerDone <- engine.Scheduler.Run(ctx, interval, sink) }()
		} else {
			logger.Info("reminder scheduler disabled")
			close(schedulerDone)
		}

		srv := server.New(engine, addr, logger.WithPrefix("http"))
		err = srv.ListenAndServe(ctx)
		stop()
		if schedErr := <-schedulerDone; err == nil {
			err = schedErr
		}
		return err
	},
}

func initServeCmd() {
	serveCmd.Flags().String("addr", config.DefaultAddr, "Listen address")
	serveCmd.Flags().String("tick-interval", config.DefaultTickInterval.String(), "Reminder scheduler interval (0 disables it)")
	serveCmd.Flags().String("events", "log", "Reminder event destination: log, - for stdout, or a file path")
}
