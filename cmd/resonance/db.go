package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	pkgdb "github.com/unowned-ai/resonance/pkg/db"
	"github.com/unowned-ai/resonance/pkg/memories"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the resonance database",
	Long:  `Provides commands for managing the Resonance SQLite database, including schema upgrades and index repair.`,
}

var dbUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade the database schema to the latest version",
	Long: `Connects to the SQLite database and applies any necessary schema migrations.
If the database does not exist it is created and initialized with the latest schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, path, err := openDB()
		if err != nil {
			return err
		}
		defer conn.Close()

		fmt.Printf("Database at %s is at schema version %d (WAL: %t, Sync: %s)\n",
			path, pkgdb.TargetSchemaVersion, settings.WAL, settings.Sync)
		return nil
	},
}

var dbReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Verify or rebuild the category indexes",
	Long: `Compares the category indexes against the records table and rebuilds them from
the active records. With --check, only reports drift and exits non-zero if any is found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")

		conn, err := openIndexes()
		if err != nil {
			return err
		}
		defer conn.close()

		var report memories.IndexReport
		if check {
			report, err = conn.indexes.Verify(context.Background())
		} else {
			report, err = conn.indexes.Rebuild(context.Background())
		}
		if err != nil {
			return fmt.Errorf("failed to inspect indexes: %w", err)
		}

		printIndexReport(report)
		if check && !report.Consistent() {
			return fmt.Errorf("indexes are out of sync, run 'resonance db reindex' to repair")
		}
		if !check {
			fmt.Println("Indexes rebuilt.")
		}
		return nil
	},
}

type indexHandle struct {
	indexes *memories.IndexManager
	close   func() error
}

func openIndexes() (indexHandle, error) {
	conn, engine, err := openEngine()
	if err != nil {
		return indexHandle{}, err
	}
	return indexHandle{indexes: engine.Store.Indexes(), close: conn.Close}, nil
}

func printIndexReport(r memories.IndexReport) {
	fmt.Println("Index           | Missing | Stale")
	fmt.Println("--------------------------------")
	fmt.Printf("global-category | %7d | %5d\n", r.GlobalCategory.Missing, r.GlobalCategory.Stale)
	fmt.Printf("owner-category  | %7d | %5d\n", r.OwnerCategory.Missing, r.OwnerCategory.Stale)
}

func initDBCmd() {
	dbReindexCmd.Flags().Bool("check", false, "Only report drift, do not rebuild")
	dbCmd.AddCommand(dbUpgradeCmd, dbReindexCmd)
}
