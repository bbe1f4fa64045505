package mcp

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/server"

	resonance "github.com/unowned-ai/resonance/pkg"
	pkgdb "github.com/unowned-ai/resonance/pkg/db"
	"github.com/unowned-ai/resonance/pkg/memories"
	"github.com/unowned-ai/resonance/pkg/utils"
)

type ResonanceMCPServer struct {
	mcpServer *server.MCPServer
	db        *sql.DB
	engine    *memories.Engine
	logger    *log.Logger
	DbPath    string
}

// NewResonanceMCPServer spins up an MCP server backed by the SQLite database
// at dbPath, migrating it first, with every resonance tool registered.
func NewResonanceMCPServer(dbPath string, opts pkgdb.Options, cfg memories.EngineConfig, logger *log.Logger) (*ResonanceMCPServer, error) {
	dbPath, err := utils.ResolveAndEnsureDBPath(dbPath)
	if err != nil {
		return nil, err
	}

	dbConn, err := pkgdb.OpenDBConnection(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Automatically initialize or migrate the database schema.
	if err := pkgdb.UpgradeDB(dbConn, dbPath, pkgdb.TargetSchemaVersion, logger); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("failed to initialize/upgrade database schema for '%s': %w", dbPath, err)
	}

	cfg.Logger = logger
	engine := memories.NewEngine(dbConn, cfg)

	s := server.NewMCPServer(
		"Resonance MCP Server",
		resonance.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
	)
	RegisterTools(s, engine)

	return &ResonanceMCPServer{
		mcpServer: s,
		db:        dbConn,
		engine:    engine,
		logger:    logger,
		DbPath:    dbPath,
	}, nil
}

// Start runs the stdio event loop.
func (s *ResonanceMCPServer) Start() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *ResonanceMCPServer) Engine() *memories.Engine {
	return s.engine
}

// MCPRawServer exposes the raw mcp-go server (useful for additional configuration).
func (s *ResonanceMCPServer) MCPRawServer() *server.MCPServer {
	return s.mcpServer
}

// Close cleans up allocated resources.
func (s *ResonanceMCPServer) Close() error {
	if s.db == nil {
		return nil
	}
	// TRUNCATE mode waits for transactions and writes the WAL back to the main DB.
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		s.logger.Warn("WAL checkpoint failed during close", "err", err)
	}
	return s.db.Close()
}
