package main

import (
	"github.com/spf13/cobra"

	"github.com/unowned-ai/resonance/pkg/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Show terminal UI",
	Long:  `Display an interactive terminal UI for browsing an owner's records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		conn, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer conn.Close()

		return tui.ShowTUI(engine, conn, tui.Options{Owner: owner, PageSize: settings.DefaultPageSize})
	},
}

func initTUICmd() {
	tuiCmd.Flags().String("owner", "", "Owner whose records to browse (prompted if empty)")
}
