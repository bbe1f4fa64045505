package memories

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/unowned-ai/resonance/pkg/db"
)

var t0 = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return setupTestDBWithDriver(t, db.DriverCGO)
}

func setupTestDBWithDriver(t *testing.T, driver string) *sql.DB {
	t.Helper()

	// A file database so every pooled connection sees the same data.
	path := filepath.Join(t.TempDir(), "resonance.db")
	testDB, err := db.OpenDBConnection(path, db.Options{Driver: driver, EnableWAL: true, SyncPragma: "NORMAL"})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })

	if err := db.UpgradeDB(testDB, path, db.TargetSchemaVersion, log.New(io.Discard)); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	return testDB
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func setupTestEngine(t *testing.T, clock *testClock) *Engine {
	t.Helper()
	cfg := DefaultEngineConfig()
	cfg.Now = clock.Now
	return NewEngine(setupTestDB(t), cfg)
}

func putTestRecord(t *testing.T, store *Store, owner string, category Category, createdAt time.Time, tags ...string) Record {
	t.Helper()
	rec, err := store.Put(context.Background(), Record{
		OwnerID:    owner,
		Category:   category,
		CreatedAt:  createdAt,
		PayloadRef: "s3://audio/" + owner + "/" + createdAt.Format(time.RFC3339Nano),
		Tags:       tags,
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	return rec
}

func recordIDs(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.RecordID
	}
	return ids
}
