package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unowned-ai/resonance/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Resonance MCP server (stdio)",
	Long: `Start a Model Context Protocol (MCP) server that exposes resonance records,
listings, random sampling, tags and reminder ticks as MCP tools via STDIO.

The --db flag is optional. If not provided, a system-specific default location will be used:
- Windows: %APPDATA%\resonance\resonance.db
- macOS: ~/Library/Application Support/resonance/resonance.db
- Linux: ~/.local/share/resonance/resonance.db

Example:
  resonance mcp
  resonance mcp --db resonance.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := mcp.NewResonanceMCPServer(settings.DBPath, dbOptions(settings), engineConfig(settings, logger), logger)
		if err != nil {
			return err
		}
		defer srv.Close()

		// Log to stderr so we don't contaminate the JSON-RPC stream on stdout.
		fmt.Fprintf(os.Stderr, "Resonance MCP server started. DB: %s (WAL: %t, Sync: %s)\n", srv.DbPath, settings.WAL, settings.Sync)
		fmt.Fprintln(os.Stderr, "Available tools: ping, put_record, get_record, update_record, delete_record, list_owner_records, list_category_records, random_record, list_tags, tick_reminders")
		fmt.Fprintln(os.Stderr, "Listening for MCP JSON-RPC on STDIN/STDOUT ... (Ctrl+C to quit)")

		return srv.Start()
	},
}
