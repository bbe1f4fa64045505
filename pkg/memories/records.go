package memories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	recordColumns = `record_id, owner_id, category, created_at, payload_ref, transcript,
	detected_category, next_reminder_at, active, version, updated_at`

	recordExistsStatement = `SELECT 1 FROM records WHERE record_id = ?`

	insertRecordStatement = `
	INSERT INTO records (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	getRecordStatement = `SELECT ` + recordColumns + ` FROM records WHERE record_id = ?`

	updateRecordStatement = `
	UPDATE records
	SET category = ?, transcript = ?, detected_category = ?, next_reminder_at = ?,
		active = ?, version = version + 1, updated_at = ?
	WHERE record_id = ? AND version = ?
	`

	softDeleteRecordStatement = `
	UPDATE records
	SET active = FALSE, version = version + 1, updated_at = ?
	WHERE record_id = ? AND version = ?
	`

	insertTagStatement  = `INSERT INTO record_tags (record_id, position, tag) VALUES (?, ?, ?)`
	deleteTagsStatement = `DELETE FROM record_tags WHERE record_id = ?`

	listRecordTagsStatement = `
	SELECT tag FROM record_tags WHERE record_id = ? ORDER BY position
	`

	listOwnerTagsStatement = `
	SELECT t.tag, COUNT(*) AS n
	FROM record_tags t
	JOIN records r ON r.record_id = t.record_id
	WHERE r.owner_id = ? AND r.active = TRUE
	GROUP BY t.tag
	ORDER BY n DESC, t.tag ASC
	`
)

// Store is the durable record store. Every write updates the category
// indexes in the same transaction as the record row.
type Store struct {
	db      *sql.DB
	indexes *IndexManager
	cadence Cadence
	now     func() time.Time
	logger  *log.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithCadence sets the table used to schedule the first reminder of new records.
func WithCadence(c Cadence) StoreOption {
	return func(s *Store) { s.cadence = c }
}

func WithLogger(l *log.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a Store over an already migrated database.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:      db,
		indexes: NewIndexManager(db),
		cadence: DefaultCadence(),
		now:     time.Now,
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Indexes returns the index manager the store writes through.
func (s *Store) Indexes() *IndexManager {
	return s.indexes
}

func (s *Store) clock() time.Time {
	return normalizeTime(s.now())
}

func normalizeTime(t time.Time) time.Time {
	return time.Unix(0, t.UnixNano()).UTC()
}

// Timestamps are stored as int64 Unix nanoseconds, which bounds them to
// roughly 1677-09-21 through 2262-04-11.
var (
	minStoredTime = time.Unix(0, math.MinInt64).UTC()
	maxStoredTime = time.Unix(0, math.MaxInt64).UTC()
)

func storable(t time.Time) bool {
	return !t.Before(minStoredTime) && !t.After(maxStoredTime)
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// NormalizeTags trims tags, drops empty ones and removes duplicates while
// keeping the first occurrence's position.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func validateDetected(detected *string) (*string, error) {
	if detected == nil {
		return nil, nil
	}
	if strings.TrimSpace(*detected) == "" {
		return nil, nil
	}
	c, err := ParseCategory(*detected)
	if err != nil {
		return nil, fmt.Errorf("%w: detected category %q is not a known label", ErrInvalidRecord, *detected)
	}
	v := string(c)
	return &v, nil
}

// Put stores a new record. An empty RecordID gets a generated one, a zero
// CreatedAt defaults to now, and a nil NextReminderAt is scheduled from the
// cadence. Tags are normalized. Put returns ErrConflict if the id is taken.
func (s *Store) Put(ctx context.Context, rec Record) (Record, error) {
	if err := checkCtx(ctx); err != nil {
		return Record{}, err
	}

	rec.OwnerID = strings.TrimSpace(rec.OwnerID)
	rec.RecordID = strings.TrimSpace(rec.RecordID)
	rec.PayloadRef = strings.TrimSpace(rec.PayloadRef)
	if rec.OwnerID == "" {
		return Record{}, fmt.Errorf("%w: owner id is required", ErrInvalidRecord)
	}
	if rec.PayloadRef == "" {
		return Record{}, fmt.Errorf("%w: payload reference is required", ErrInvalidRecord)
	}
	if !rec.Category.Valid() {
		return Record{}, fmt.Errorf("%w: unknown category %q", ErrInvalidRecord, rec.Category)
	}
	detected, err := validateDetected(rec.DetectedCategory)
	if err != nil {
		return Record{}, err
	}
	rec.DetectedCategory = detected

	now := s.clock()
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if !storable(rec.CreatedAt) {
		return Record{}, fmt.Errorf("%w: created_at %s is out of range", ErrInvalidRecord, rec.CreatedAt.Format(time.RFC3339))
	}
	rec.CreatedAt = normalizeTime(rec.CreatedAt)
	rec.Tags = NormalizeTags(rec.Tags)
	rec.Active = true
	rec.Version = 1
	rec.UpdatedAt = now

	if rec.NextReminderAt != nil {
		if !storable(*rec.NextReminderAt) {
			return Record{}, fmt.Errorf("%w: next reminder is out of range", ErrInvalidRecord)
		}
		next := normalizeTime(*rec.NextReminderAt)
		if !next.After(rec.CreatedAt) {
			return Record{}, fmt.Errorf("%w: next reminder must be after creation time", ErrInvalidRecord)
		}
		rec.NextReminderAt = &next
	} else {
		after := now
		if rec.CreatedAt.After(after) {
			after = rec.CreatedAt
		}
		if next, ok := s.cadence.Next(rec.CreatedAt, after); ok {
			rec.NextReminderAt = &next
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, storeErr(ctx, "begin put", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, recordExistsStatement, rec.RecordID).Scan(&exists)
	switch {
	case err == nil:
		return Record{}, fmt.Errorf("%w: record %s already exists", ErrConflict, rec.RecordID)
	case !errors.Is(err, sql.ErrNoRows):
		return Record{}, storeErr(ctx, "check record id", err)
	}

	_, err = tx.ExecContext(ctx, insertRecordStatement,
		rec.RecordID,
		rec.OwnerID,
		rec.Category,
		rec.CreatedAt.UnixNano(),
		rec.PayloadRef,
		nullString(rec.Transcript),
		nullString(rec.DetectedCategory),
		nullTime(rec.NextReminderAt),
		rec.Active,
		rec.Version,
		rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return Record{}, storeErr(ctx, "insert record", err)
	}
	if err := writeTags(ctx, tx, rec.RecordID, rec.Tags); err != nil {
		return Record{}, err
	}
	if err := s.indexes.OnWrite(ctx, tx, nil, &rec); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, storeErr(ctx, "commit put", err)
	}

	s.logger.Debug("record stored", "owner", rec.OwnerID, "record", rec.RecordID, "category", rec.Category)
	return rec, nil
}

// Get returns an active record owned by ownerID.
func (s *Store) Get(ctx context.Context, ownerID, recordID string) (Record, error) {
	rec, err := s.GetByID(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	if rec.OwnerID != ownerID {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// GetByID returns an active record regardless of owner.
func (s *Store) GetByID(ctx context.Context, recordID string) (Record, error) {
	if err := checkCtx(ctx); err != nil {
		return Record{}, err
	}
	rec, err := loadRecord(ctx, s.db, recordID)
	if err != nil {
		return Record{}, err
	}
	if !rec.Active {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadRecord reads a record in any state, tags included.
func loadRecord(ctx context.Context, q queryer, recordID string) (Record, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, getRecordStatement, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, storeErr(ctx, "get record", err)
	}
	tags, err := loadTags(ctx, q, recordID)
	if err != nil {
		return Record{}, err
	}
	rec.Tags = tags
	return rec, nil
}

func loadTags(ctx context.Context, q queryer, recordID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, listRecordTagsStatement, recordID)
	if err != nil {
		return nil, storeErr(ctx, "list record tags", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, storeErr(ctx, "scan tag", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, "list record tags", err)
	}
	return tags, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		createdAt  int64
		updatedAt  int64
		transcript sql.NullString
		detected   sql.NullString
		next       sql.NullInt64
	)
	err := row.Scan(
		&rec.RecordID,
		&rec.OwnerID,
		&rec.Category,
		&createdAt,
		&rec.PayloadRef,
		&transcript,
		&detected,
		&next,
		&rec.Active,
		&rec.Version,
		&updatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.CreatedAt = fromNanos(createdAt)
	rec.UpdatedAt = fromNanos(updatedAt)
	if transcript.Valid {
		rec.Transcript = &transcript.String
	}
	if detected.Valid {
		rec.DetectedCategory = &detected.String
	}
	if next.Valid {
		t := fromNanos(next.Int64)
		rec.NextReminderAt = &t
	}
	return rec, nil
}

func writeTags(ctx context.Context, tx *sql.Tx, recordID string, tags []string) error {
	for i, tag := range tags {
		if _, err := tx.ExecContext(ctx, insertTagStatement, recordID, i, tag); err != nil {
			return storeErr(ctx, "insert tag", err)
		}
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// Update applies m to an active record if its version still equals
// expectedVersion. The stored version is incremented on success.
func (s *Store) Update(ctx context.Context, ownerID, recordID string, expectedVersion int64, m Mutation) (Record, error) {
	if err := checkCtx(ctx); err != nil {
		return Record{}, err
	}
	if m.IsEmpty() {
		return Record{}, fmt.Errorf("%w: mutation changes nothing", ErrInvalidRecord)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, storeErr(ctx, "begin update", err)
	}
	defer tx.Rollback()

	old, err := loadRecord(ctx, tx, recordID)
	if err != nil {
		return Record{}, err
	}
	if old.OwnerID != ownerID || !old.Active {
		return Record{}, ErrNotFound
	}
	if old.Version != expectedVersion {
		return Record{}, fmt.Errorf("%w: record %s is at version %d, not %d", ErrConflict, recordID, old.Version, expectedVersion)
	}

	next, err := applyMutation(old, m)
	if err != nil {
		return Record{}, err
	}
	next.Version = old.Version + 1
	next.UpdatedAt = s.clock()

	res, err := tx.ExecContext(ctx, updateRecordStatement,
		next.Category,
		nullString(next.Transcript),
		nullString(next.DetectedCategory),
		nullTime(next.NextReminderAt),
		next.Active,
		next.UpdatedAt.UnixNano(),
		recordID,
		expectedVersion,
	)
	if err != nil {
		return Record{}, storeErr(ctx, "update record", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Record{}, storeErr(ctx, "update record", err)
	} else if n == 0 {
		return Record{}, fmt.Errorf("%w: record %s changed concurrently", ErrConflict, recordID)
	}

	if m.Tags != nil {
		if _, err := tx.ExecContext(ctx, deleteTagsStatement, recordID); err != nil {
			return Record{}, storeErr(ctx, "clear tags", err)
		}
		if err := writeTags(ctx, tx, recordID, next.Tags); err != nil {
			return Record{}, err
		}
	}
	if err := s.indexes.OnWrite(ctx, tx, &old, &next); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, storeErr(ctx, "commit update", err)
	}

	s.logger.Debug("record updated", "owner", ownerID, "record", recordID, "version", next.Version)
	return next, nil
}

func applyMutation(rec Record, m Mutation) (Record, error) {
	if m.Category != nil {
		if !m.Category.Valid() {
			return Record{}, fmt.Errorf("%w: unknown category %q", ErrInvalidRecord, *m.Category)
		}
		rec.Category = *m.Category
	}
	if m.Tags != nil {
		rec.Tags = NormalizeTags(*m.Tags)
	}
	if m.Transcript != nil {
		transcript := *m.Transcript
		rec.Transcript = &transcript
	}
	if m.DetectedCategory != nil {
		detected, err := validateDetected(m.DetectedCategory)
		if err != nil {
			return Record{}, err
		}
		rec.DetectedCategory = detected
	}
	switch {
	case m.ClearNextReminder:
		rec.NextReminderAt = nil
	case m.NextReminderAt != nil:
		if !storable(*m.NextReminderAt) {
			return Record{}, fmt.Errorf("%w: next reminder is out of range", ErrInvalidRecord)
		}
		next := normalizeTime(*m.NextReminderAt)
		if !next.After(rec.CreatedAt) {
			return Record{}, fmt.Errorf("%w: next reminder must be after creation time", ErrInvalidRecord)
		}
		rec.NextReminderAt = &next
	}
	if m.Active != nil {
		rec.Active = *m.Active
	}
	return rec, nil
}

// Delete soft-deletes a record. Deleting an already inactive record succeeds;
// ErrNotFound is returned only when the owner has no such record at all.
func (s *Store) Delete(ctx context.Context, ownerID, recordID string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(ctx, "begin delete", err)
	}
	defer tx.Rollback()

	old, err := loadRecord(ctx, tx, recordID)
	if err != nil {
		return err
	}
	if old.OwnerID != ownerID {
		return ErrNotFound
	}
	if !old.Active {
		return nil
	}

	next := old
	next.Active = false
	next.Version = old.Version + 1
	next.UpdatedAt = s.clock()
	if _, err := tx.ExecContext(ctx, softDeleteRecordStatement, next.UpdatedAt.UnixNano(), recordID, old.Version); err != nil {
		return storeErr(ctx, "delete record", err)
	}
	if err := s.indexes.OnWrite(ctx, tx, &old, &next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr(ctx, "commit delete", err)
	}

	s.logger.Debug("record deleted", "owner", ownerID, "record", recordID)
	return nil
}

// ListTags counts tags across an owner's active records, most used first.
func (s *Store) ListTags(ctx context.Context, ownerID string) ([]TagCount, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, listOwnerTagsStatement, ownerID)
	if err != nil {
		return nil, storeErr(ctx, "list tags", err)
	}
	defer rows.Close()

	counts := []TagCount{}
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, storeErr(ctx, "scan tag count", err)
		}
		counts = append(counts, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, "list tags", err)
	}
	return counts, nil
}

// hydrate loads the active records among ids, preserving the order of ids.
// Ids that vanished since they were read from an index are dropped.
func (s *Store) hydrate(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE active = TRUE AND record_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, storeErr(ctx, "hydrate records", err)
	}
	byID := make(map[string]*Record, len(ids))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, storeErr(ctx, "scan record", err)
		}
		rec.Tags = []string{}
		byID[rec.RecordID] = &rec
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storeErr(ctx, "hydrate records", err)
	}
	rows.Close()

	tagRows, err := s.db.QueryContext(ctx,
		`SELECT record_id, tag FROM record_tags WHERE record_id IN (`+placeholders+`) ORDER BY record_id, position`, args...)
	if err != nil {
		return nil, storeErr(ctx, "hydrate tags", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var id, tag string
		if err := tagRows.Scan(&id, &tag); err != nil {
			return nil, storeErr(ctx, "scan tag", err)
		}
		if rec, ok := byID[id]; ok {
			rec.Tags = append(rec.Tags, tag)
		}
	}
	if err := tagRows.Err(); err != nil {
		return nil, storeErr(ctx, "hydrate tags", err)
	}

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}
