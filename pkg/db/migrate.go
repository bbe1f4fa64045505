package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	// TargetSchemaVersion is the highest schema version this version of the code supports for the recordsdb component.
	TargetSchemaVersion int64 = 1
	// RecordsDBComponent is the name for the records database component.
	RecordsDBComponent = "recordsdb"
)

// GetComponentSchemaVersion retrieves the schema version for a given component.
// Returns 0 if the component is not found, the versions table is uninitialized, or the table doesn't exist.
func GetComponentSchemaVersion(db *sql.DB, componentName string) (int64, error) {
	query := `SELECT version FROM resonance_versions WHERE component = ?;`
	row := db.QueryRow(query, componentName)

	var version int64
	err := row.Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		if strings.Contains(err.Error(), "no such table") && strings.Contains(err.Error(), "resonance_versions") {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan version for component '%s': %w", componentName, err)
	}
	return version, nil
}

// InitializeSchema creates every table up to schemaVersionToSet in one
// transaction and records the version for the recordsdb component.
func InitializeSchema(db *sql.DB, schemaVersionToSet int64) error {
	return applyMigrations(db, 0, schemaVersionToSet)
}

// UpgradeDB applies the migrations needed to bring the recordsdb component to
// appTargetSchemaVersion. dbIdentifierForLog is used for logging purposes only.
// A database that is newer than the application is never touched.
func UpgradeDB(db *sql.DB, dbIdentifierForLog string, appTargetSchemaVersion int64, logger *log.Logger) error {
	currentDBVersion, err := GetComponentSchemaVersion(db, RecordsDBComponent)
	if err != nil {
		return err
	}

	switch {
	case currentDBVersion == appTargetSchemaVersion:
		logger.Debug("schema up to date", "component", RecordsDBComponent, "db", dbIdentifierForLog, "version", currentDBVersion)
		return nil
	case currentDBVersion > appTargetSchemaVersion:
		return fmt.Errorf("component %s in database '%s' has schema version %d, which is newer than application's target schema version %d. Please upgrade the application", RecordsDBComponent, dbIdentifierForLog, currentDBVersion, appTargetSchemaVersion)
	}

	logger.Info("upgrading schema", "component", RecordsDBComponent, "db", dbIdentifierForLog, "from", currentDBVersion, "to", appTargetSchemaVersion)
	if err := applyMigrations(db, currentDBVersion, appTargetSchemaVersion); err != nil {
		return fmt.Errorf("failed to upgrade component %s in database '%s': %w", RecordsDBComponent, dbIdentifierForLog, err)
	}
	return nil
}

func applyMigrations(db *sql.DB, from, to int64) error {
	if to > int64(len(migrations)) {
		return fmt.Errorf("component %s has schema version %d, which is older than application's target schema version %d and no migration to %d is registered", RecordsDBComponent, from, to, to)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(SchemaVersionsTable); err != nil {
		return fmt.Errorf("failed to create versions table: %w", err)
	}
	for v := from; v < to; v++ {
		if _, err := tx.Exec(migrations[v]); err != nil {
			return fmt.Errorf("failed to execute schema v%d SQL: %w", v+1, err)
		}
	}

	insertVersionSQL := `
INSERT INTO resonance_versions (component, version) VALUES (?, ?)
ON CONFLICT(component) DO UPDATE SET version = excluded.version, created_at = unixepoch();`
	if _, err := tx.Exec(insertVersionSQL, RecordsDBComponent, to); err != nil {
		return fmt.Errorf("failed to insert/update version for component %s to %d: %w", RecordsDBComponent, to, err)
	}

	return tx.Commit()
}
