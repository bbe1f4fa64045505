package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	resonance "github.com/unowned-ai/resonance/pkg"
	"github.com/unowned-ai/resonance/pkg/config"
	pkgdb "github.com/unowned-ai/resonance/pkg/db"
	"github.com/unowned-ai/resonance/pkg/logging"
	"github.com/unowned-ai/resonance/pkg/memories"
	"github.com/unowned-ai/resonance/pkg/utils"
)

var (
	configPath string
	dbPath     string
	walMode    bool
	syncMode   string
	driverName string
	logLevel   string

	settings config.Config
	logger   = logging.Discard()
)

var rootCmd = &cobra.Command{
	Use:     "resonance",
	Short:   "A self-hostable store for emotion-labeled audio memories.",
	Long:    ``,
	Version: fmt.Sprintf("v%s", resonance.Version),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		settings = cfg
		logger = logging.Stderr(cfg.LogLevel)
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

var completionCmd = &cobra.Command{
	Use:   fmt.Sprintf("completion %s", strings.Join(completionShells, "|")),
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for resonance.

The command prints a completion script to stdout. You can source it in your shell
or install it to the appropriate location for your shell to enable completions permanently.

Examples:

  Bash (current shell):
    $ source <(resonance completion bash)

  Bash (persist):
    $ resonance completion bash > /etc/bash_completion.d/resonance

  Zsh:
    $ resonance completion zsh > "${fpath[1]}/_resonance"

  Fish:
    $ resonance completion fish | source
    $ resonance completion fish > ~/.config/fish/completions/resonance.fish

  PowerShell:
    PS> resonance completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             completionShells,
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(cmd.OutOrStdout())
		case "zsh":
			return rootCmd.GenZshCompletion(cmd.OutOrStdout())
		case "fish":
			return rootCmd.GenFishCompletion(cmd.OutOrStdout(), true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(cmd.OutOrStdout())
		default:
			return fmt.Errorf("unsupported shell: %s", args[0])
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of resonance",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(resonance.Version)
	},
}

// loadSettings layers the config file, the environment and explicit flags, in that order.
func loadSettings(cmd *cobra.Command) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, err
	}
	cfg = config.ApplyEnv(cfg, os.Getenv)

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("wal") {
		cfg.WAL = walMode
	}
	if flags.Changed("sync") {
		cfg.Sync = syncMode
	}
	if flags.Changed("driver") {
		cfg.Driver = driverName
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	return config.Normalize(cfg), nil
}

func dbOptions(cfg config.Config) pkgdb.Options {
	return pkgdb.Options{Driver: cfg.Driver, EnableWAL: cfg.WAL, SyncPragma: cfg.Sync}
}

// engineConfig translates file settings into engine tunables.
func engineConfig(cfg config.Config, l *log.Logger) memories.EngineConfig {
	ec := memories.DefaultEngineConfig()
	ec.DefaultPageSize = cfg.DefaultPageSize
	ec.MaxPageSize = cfg.MaxPageSize
	ec.Sampler.SmallPopulation = cfg.SmallPopulation
	ec.Sampler.ChunkSize = cfg.ChunkSize
	ec.Sampler.CountTTL = config.CountCacheTTL(cfg)
	ec.Scheduler.BatchSize = cfg.ReminderBatchSize
	ec.Scheduler.MaxBatches = cfg.ReminderMaxBatches
	ec.Cadence = memories.Cadence{
		Offsets:    config.CadenceOffsets(cfg),
		RecurEvery: config.RecurEvery(cfg),
	}
	ec.Logger = l
	return ec
}

// openDB resolves the database path, opens it and brings the schema up to date.
func openDB() (*sql.DB, string, error) {
	path, err := utils.ResolveAndEnsureDBPath(settings.DBPath)
	if err != nil {
		return nil, "", err
	}
	conn, err := pkgdb.OpenDBConnection(path, dbOptions(settings))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := pkgdb.UpgradeDB(conn, path, pkgdb.TargetSchemaVersion, logger); err != nil {
		conn.Close()
		return nil, "", err
	}
	return conn, path, nil
}

func openEngine() (*sql.DB, *memories.Engine, error) {
	conn, _, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	return conn, memories.NewEngine(conn, engineConfig(settings, logger)), nil
}

// describe turns engine sentinels into short CLI messages.
func describe(op string, err error) error {
	switch {
	case errors.Is(err, memories.ErrNotFound):
		return fmt.Errorf("%s: record not found", op)
	case errors.Is(err, memories.ErrConflict):
		return fmt.Errorf("%s: version conflict, re-read the record and retry: %w", op, err)
	case errors.Is(err, memories.ErrNoMatch):
		return fmt.Errorf("%s: no record matches", op)
	case errors.Is(err, context.Canceled), errors.Is(err, memories.ErrCancelled):
		return fmt.Errorf("%s: cancelled", op)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

func initCmd() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (default: $XDG_CONFIG_HOME/resonance/config.json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the database file (uses a system-specific default if not provided)")
	rootCmd.PersistentFlags().BoolVar(&walMode, "wal", true, "Enable SQLite WAL (Write-Ahead Logging) mode")
	rootCmd.PersistentFlags().StringVar(&syncMode, "sync", config.DefaultSync, "SQLite synchronous pragma (OFF, NORMAL, FULL, EXTRA)")
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", pkgdb.DriverCGO, "SQLite driver: sqlite3 (cgo) or sqlite (pure Go)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")

	initDBCmd()
	initRecordsCmd()
	initRemindersCmd()
	initServeCmd()
	initTUICmd()
	initConfigCmd()
	rootCmd.AddCommand(completionCmd, versionCmd, dbCmd, recordsCmd, categoriesCmd, remindersCmd, serveCmd, mcpCmd, tuiCmd, configCmd)
}

func main() {
	initCmd()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
