package db

const (
	// SchemaVersionsTable tracks the schema version of each component.
	SchemaVersionsTable = `
CREATE TABLE IF NOT EXISTS resonance_versions (
    component TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    created_at REAL DEFAULT (unixepoch())
);
`

	// SchemaV1 defines the SQL statements for version 1 of the records schema.
	// Timestamps are unix nanoseconds so index keys compare exactly.
	SchemaV1 = `
CREATE TABLE IF NOT EXISTS records (
    record_id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    category VARCHAR(32) NOT NULL,
    created_at INTEGER NOT NULL,
    payload_ref TEXT NOT NULL,
    transcript TEXT,
    detected_category VARCHAR(32),
    next_reminder_at INTEGER,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    version INTEGER NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL,
    UNIQUE (owner_id, record_id),
    CHECK (next_reminder_at IS NULL OR next_reminder_at > created_at)
);

CREATE INDEX IF NOT EXISTS idx_records_owner_created
    ON records(owner_id, created_at DESC, record_id DESC) WHERE active = TRUE;
CREATE INDEX IF NOT EXISTS idx_records_created
    ON records(created_at DESC, record_id DESC) WHERE active = TRUE;
CREATE INDEX IF NOT EXISTS idx_records_next_reminder
    ON records(next_reminder_at, record_id) WHERE active = TRUE AND next_reminder_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS record_tags (
    record_id TEXT NOT NULL REFERENCES records(record_id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    tag VARCHAR(256) NOT NULL,
    PRIMARY KEY (record_id, position)
);

CREATE INDEX IF NOT EXISTS idx_record_tags_tag ON record_tags(tag);

CREATE TABLE IF NOT EXISTS global_category_index (
    category VARCHAR(32) NOT NULL,
    created_at INTEGER NOT NULL,
    record_id TEXT NOT NULL,
    PRIMARY KEY (category, created_at, record_id)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS owner_category_index (
    owner_id TEXT NOT NULL,
    category VARCHAR(32) NOT NULL,
    created_at INTEGER NOT NULL,
    record_id TEXT NOT NULL,
    PRIMARY KEY (owner_id, category, created_at, record_id)
) WITHOUT ROWID;
`
)

// migrations[i] upgrades the records component from version i to i+1.
var migrations = []string{
	SchemaV1,
}
