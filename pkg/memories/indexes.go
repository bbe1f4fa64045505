package memories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// IndexName names a key space that Range can walk.
type IndexName string

const (
	// IndexGlobalCategory is keyed by (category, created_at, record_id).
	IndexGlobalCategory IndexName = "global-category"
	// IndexOwnerCategory is keyed by (owner_id, category, created_at, record_id).
	IndexOwnerCategory IndexName = "owner-category"
	// IndexOwner is the record store's natural (owner_id, created_at, record_id) ordering.
	IndexOwner IndexName = "owner"
	// IndexAll is the record store's natural (created_at, record_id) ordering.
	IndexAll IndexName = "all"
)

// Prefix fixes the leading key components of a range.
type Prefix struct {
	OwnerID  string
	Category Category
}

// RangeQuery selects a descending slice of one key space.
type RangeQuery struct {
	Index  IndexName
	Prefix Prefix
	Cursor string
	Limit  int
	// Start is inclusive, End is exclusive; both bound created_at.
	Start *time.Time
	End   *time.Time
}

type keySpace struct {
	table      string
	prefixCols []string
	filter     string
}

var keySpaces = map[IndexName]keySpace{
	IndexGlobalCategory: {table: "global_category_index", prefixCols: []string{"category"}},
	IndexOwnerCategory:  {table: "owner_category_index", prefixCols: []string{"owner_id", "category"}},
	IndexOwner:          {table: "records", prefixCols: []string{"owner_id"}, filter: "active = TRUE"},
	IndexAll:            {table: "records", filter: "active = TRUE"},
}

const (
	insertGlobalKeyStatement = `INSERT INTO global_category_index (category, created_at, record_id) VALUES (?, ?, ?)`
	deleteGlobalKeyStatement = `DELETE FROM global_category_index WHERE category = ? AND created_at = ? AND record_id = ?`
	insertOwnerKeyStatement  = `INSERT INTO owner_category_index (owner_id, category, created_at, record_id) VALUES (?, ?, ?, ?)`
	deleteOwnerKeyStatement  = `DELETE FROM owner_category_index WHERE owner_id = ? AND category = ? AND created_at = ? AND record_id = ?`
)

// IndexManager keeps the two category indexes consistent with the records
// table and answers range queries over every key space.
type IndexManager struct {
	db *sql.DB
}

// NewIndexManager returns an IndexManager bound to db.
func NewIndexManager(db *sql.DB) *IndexManager {
	return &IndexManager{db: db}
}

type globalKey struct {
	category  Category
	createdAt int64
	recordID  string
}

type ownerKey struct {
	ownerID   string
	category  Category
	createdAt int64
	recordID  string
}

func keysFor(rec *Record) (*globalKey, *ownerKey) {
	if rec == nil || !rec.Active {
		return nil, nil
	}
	ts := rec.CreatedAt.UnixNano()
	return &globalKey{rec.Category, ts, rec.RecordID},
		&ownerKey{rec.OwnerID, rec.Category, ts, rec.RecordID}
}

// OnWrite applies the index delta between oldRec (nil for inserts) and newRec
// inside tx, so the keys commit or roll back together with the record row.
// An inactive newRec has no keys.
func (m *IndexManager) OnWrite(ctx context.Context, tx *sql.Tx, oldRec, newRec *Record) error {
	oldGlobal, oldOwner := keysFor(oldRec)
	newGlobal, newOwner := keysFor(newRec)

	if !sameGlobalKey(oldGlobal, newGlobal) {
		if oldGlobal != nil {
			if _, err := tx.ExecContext(ctx, deleteGlobalKeyStatement, oldGlobal.category, oldGlobal.createdAt, oldGlobal.recordID); err != nil {
				return storeErr(ctx, "remove global-category key", err)
			}
		}
		if newGlobal != nil {
			if _, err := tx.ExecContext(ctx, insertGlobalKeyStatement, newGlobal.category, newGlobal.createdAt, newGlobal.recordID); err != nil {
				return storeErr(ctx, "insert global-category key", err)
			}
		}
	}

	if !sameOwnerKey(oldOwner, newOwner) {
		if oldOwner != nil {
			if _, err := tx.ExecContext(ctx, deleteOwnerKeyStatement, oldOwner.ownerID, oldOwner.category, oldOwner.createdAt, oldOwner.recordID); err != nil {
				return storeErr(ctx, "remove owner-category key", err)
			}
		}
		if newOwner != nil {
			if _, err := tx.ExecContext(ctx, insertOwnerKeyStatement, newOwner.ownerID, newOwner.category, newOwner.createdAt, newOwner.recordID); err != nil {
				return storeErr(ctx, "insert owner-category key", err)
			}
		}
	}
	return nil
}

func sameGlobalKey(a, b *globalKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameOwnerKey(a, b *ownerKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// where builds the shared WHERE clause for Range and Count.
func (q RangeQuery) where() (keySpace, []string, []any, error) {
	space, ok := keySpaces[q.Index]
	if !ok {
		return keySpace{}, nil, nil, fmt.Errorf("%w: unknown index %q", ErrInvalidQuery, q.Index)
	}

	var conds []string
	var args []any
	for _, col := range space.prefixCols {
		switch col {
		case "owner_id":
			if q.Prefix.OwnerID == "" {
				return keySpace{}, nil, nil, fmt.Errorf("%w: index %s needs an owner prefix", ErrInvalidQuery, q.Index)
			}
			conds = append(conds, "owner_id = ?")
			args = append(args, q.Prefix.OwnerID)
		case "category":
			if !q.Prefix.Category.Valid() {
				return keySpace{}, nil, nil, fmt.Errorf("%w: index %s needs a valid category prefix", ErrInvalidQuery, q.Index)
			}
			conds = append(conds, "category = ?")
			args = append(args, q.Prefix.Category)
		}
	}
	if space.filter != "" {
		conds = append(conds, space.filter)
	}
	if (q.Start != nil && !storable(*q.Start)) || (q.End != nil && !storable(*q.End)) {
		return keySpace{}, nil, nil, fmt.Errorf("%w: time bound is out of range", ErrInvalidQuery)
	}
	if q.Start != nil && q.End != nil && !q.Start.Before(*q.End) {
		return keySpace{}, nil, nil, fmt.Errorf("%w: start must be before end", ErrInvalidQuery)
	}
	if q.Start != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, q.Start.UnixNano())
	}
	if q.End != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, q.End.UnixNano())
	}
	return space, conds, args, nil
}

// Range returns up to q.Limit record ids after q.Cursor in descending
// (created_at, record_id) order, and a cursor for the next page that is empty
// once the range is exhausted.
func (m *IndexManager) Range(ctx context.Context, q RangeQuery) ([]string, string, error) {
	if q.Limit <= 0 {
		return nil, "", fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	space, conds, args, err := q.where()
	if err != nil {
		return nil, "", err
	}
	if q.Cursor != "" {
		after, err := decodeCursor(q.Index, q.Cursor)
		if err != nil {
			return nil, "", err
		}
		conds = append(conds, "(created_at < ? OR (created_at = ? AND record_id < ?))")
		args = append(args, after.CreatedAt, after.CreatedAt, after.RecordID)
	}

	query := "SELECT created_at, record_id FROM " + space.table
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, record_id DESC LIMIT ?"
	// One extra row tells us whether another page exists.
	args = append(args, q.Limit+1)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", storeErr(ctx, "range "+string(q.Index), err)
	}
	defer rows.Close()

	var keys []indexKey
	for rows.Next() {
		var k indexKey
		if err := rows.Scan(&k.CreatedAt, &k.RecordID); err != nil {
			return nil, "", storeErr(ctx, "scan "+string(q.Index)+" key", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, "", storeErr(ctx, "range "+string(q.Index), err)
	}

	next := ""
	if len(keys) > q.Limit {
		keys = keys[:q.Limit]
		next = encodeCursor(q.Index, keys[len(keys)-1])
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.RecordID
	}
	return ids, next, nil
}

// Count returns how many keys match q's prefix and time bounds. Cursor and
// Limit are ignored.
func (m *IndexManager) Count(ctx context.Context, q RangeQuery) (int, error) {
	space, conds, args, err := q.where()
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) FROM " + space.table
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	var n int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeErr(ctx, "count "+string(q.Index), err)
	}
	return n, nil
}

// IndexDrift counts disagreements between one index table and the records table.
type IndexDrift struct {
	// Missing is the number of active records without an index entry.
	Missing int `json:"missing"`
	// Stale is the number of index entries without a matching active record.
	Stale int `json:"stale"`
}

// IndexReport is the result of Verify or Rebuild.
type IndexReport struct {
	GlobalCategory IndexDrift `json:"global_category"`
	OwnerCategory  IndexDrift `json:"owner_category"`
}

// Consistent reports whether no drift was found.
func (r IndexReport) Consistent() bool {
	return r.GlobalCategory == IndexDrift{} && r.OwnerCategory == IndexDrift{}
}

const (
	globalMissingStatement = `
	SELECT COUNT(*) FROM records r
	WHERE r.active = TRUE AND NOT EXISTS (
		SELECT 1 FROM global_category_index g
		WHERE g.category = r.category AND g.created_at = r.created_at AND g.record_id = r.record_id)
	`
	globalStaleStatement = `
	SELECT COUNT(*) FROM global_category_index g
	WHERE NOT EXISTS (
		SELECT 1 FROM records r
		WHERE r.active = TRUE AND r.record_id = g.record_id AND r.category = g.category AND r.created_at = g.created_at)
	`
	ownerMissingStatement = `
	SELECT COUNT(*) FROM records r
	WHERE r.active = TRUE AND NOT EXISTS (
		SELECT 1 FROM owner_category_index o
		WHERE o.owner_id = r.owner_id AND o.category = r.category AND o.created_at = r.created_at AND o.record_id = r.record_id)
	`
	ownerStaleStatement = `
	SELECT COUNT(*) FROM owner_category_index o
	WHERE NOT EXISTS (
		SELECT 1 FROM records r
		WHERE r.active = TRUE AND r.record_id = o.record_id AND r.owner_id = o.owner_id AND r.category = o.category AND r.created_at = o.created_at)
	`

	rebuildGlobalStatement = `
	INSERT INTO global_category_index (category, created_at, record_id)
	SELECT category, created_at, record_id FROM records WHERE active = TRUE
	`
	rebuildOwnerStatement = `
	INSERT INTO owner_category_index (owner_id, category, created_at, record_id)
	SELECT owner_id, category, created_at, record_id FROM records WHERE active = TRUE
	`
)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func verify(ctx context.Context, q queryRower) (IndexReport, error) {
	var report IndexReport
	checks := []struct {
		statement string
		dest      *int
	}{
		{globalMissingStatement, &report.GlobalCategory.Missing},
		{globalStaleStatement, &report.GlobalCategory.Stale},
		{ownerMissingStatement, &report.OwnerCategory.Missing},
		{ownerStaleStatement, &report.OwnerCategory.Stale},
	}
	for _, c := range checks {
		if err := q.QueryRowContext(ctx, c.statement).Scan(c.dest); err != nil {
			return IndexReport{}, storeErr(ctx, "verify indexes", err)
		}
	}
	return report, nil
}

// Verify compares both category indexes against the records table without
// changing anything.
func (m *IndexManager) Verify(ctx context.Context) (IndexReport, error) {
	return verify(ctx, m.db)
}

// Rebuild recreates both category indexes from the active records in one
// transaction and returns the drift that was repaired.
func (m *IndexManager) Rebuild(ctx context.Context) (IndexReport, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return IndexReport{}, storeErr(ctx, "begin rebuild", err)
	}
	defer tx.Rollback()

	report, err := verify(ctx, tx)
	if err != nil {
		return IndexReport{}, err
	}
	for _, stmt := range []string{
		`DELETE FROM global_category_index`,
		`DELETE FROM owner_category_index`,
		rebuildGlobalStatement,
		rebuildOwnerStatement,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return IndexReport{}, storeErr(ctx, "rebuild indexes", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return IndexReport{}, storeErr(ctx, "commit rebuild", err)
	}
	return report, nil
}
