package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver (cgo)
	_ "modernc.org/sqlite"          // SQLite driver (pure Go)
)

const (
	// DriverCGO is the mattn/go-sqlite3 driver name.
	DriverCGO = "sqlite3"
	// DriverPureGo is the modernc.org/sqlite driver name.
	DriverPureGo = "sqlite"

	// busyTimeoutMS is how long a writer waits for the database lock before giving up.
	busyTimeoutMS = 5000
)

// validSyncModes lists the allowed values for the synchronous pragma.
var validSyncModes = map[string]bool{
	"OFF":    true,
	"NORMAL": true,
	"FULL":   true,
	"EXTRA":  true, // SQLite also supports EXTRA
}

// Options controls how OpenDBConnection builds the DSN.
type Options struct {
	// Driver is DriverCGO or DriverPureGo. Empty means DriverCGO.
	Driver string
	// EnableWAL sets the journal_mode to WAL.
	EnableWAL bool
	// SyncPragma sets the synchronous pragma (OFF, NORMAL, FULL, EXTRA).
	SyncPragma string
}

// OpenDBConnection establishes a connection pool to a SQLite database.
//
// Every pragma is passed through the DSN rather than executed once, because
// database/sql hands out several connections and each of them needs foreign
// keys, the busy timeout and the journal mode. Transactions are opened with
// BEGIN IMMEDIATE so concurrent writers queue on the busy timeout instead of
// failing when a read lock is upgraded.
func OpenDBConnection(baseDSN string, opts Options) (*sql.DB, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverCGO
	}

	syncMode := ""
	if opts.SyncPragma != "" {
		syncMode = strings.ToUpper(opts.SyncPragma)
		if !validSyncModes[syncMode] {
			return nil, fmt.Errorf("invalid sync pragma value: %s. Must be one of OFF, NORMAL, FULL, EXTRA", opts.SyncPragma)
		}
	}

	var params url.Values
	switch driver {
	case DriverCGO:
		params = cgoParams(opts.EnableWAL, syncMode)
	case DriverPureGo:
		params = pureGoParams(opts.EnableWAL, syncMode)
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q: must be %q or %q", driver, DriverCGO, DriverPureGo)
	}

	constructedDSN := baseDSN
	if len(params) > 0 {
		if strings.Contains(baseDSN, "?") {
			constructedDSN += "&" + params.Encode()
		} else {
			constructedDSN += "?" + params.Encode()
		}
	}

	db, err := sql.Open(driver, constructedDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database with DSN '%s': %w", constructedDSN, err)
	}

	// Ping the database to ensure the connection is alive and the DSN is valid.
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database with DSN '%s': %w", constructedDSN, err)
	}

	return db, nil
}

func cgoParams(enableWAL bool, syncMode string) url.Values {
	params := url.Values{}
	params.Add("_busy_timeout", fmt.Sprint(busyTimeoutMS))
	params.Add("_foreign_keys", "on")
	params.Add("_txlock", "immediate")
	if enableWAL {
		params.Add("_journal_mode", "WAL")
	}
	if syncMode != "" {
		params.Add("_synchronous", syncMode)
	}
	return params
}

// modernc.org/sqlite runs _pragma values in order, busy_timeout first so the
// remaining pragmas already wait on a locked database.
func pureGoParams(enableWAL bool, syncMode string) url.Values {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	params.Add("_pragma", "foreign_keys(1)")
	if enableWAL {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	if syncMode != "" {
		params.Add("_pragma", fmt.Sprintf("synchronous(%s)", syncMode))
	}
	params.Add("_txlock", "immediate")
	return params
}
