package memories

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

func rangeAll(t *testing.T, idx *IndexManager, q RangeQuery) []string {
	t.Helper()
	q.Limit = 3
	var all []string
	for {
		ids, next, err := idx.Range(context.Background(), q)
		if err != nil {
			t.Fatalf("Range failed: %v", err)
		}
		all = append(all, ids...)
		if next == "" {
			return all
		}
		q.Cursor = next
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestIndexConsistency(t *testing.T) {
	store := NewStore(setupTestDB(t), WithClock(newTestClock(t0).Now))
	idx := store.Indexes()
	ctx := context.Background()

	var records []Record
	owners := []string{"u1", "u2"}
	cats := []Category{CategoryJoy, CategoryCalm, CategoryFear}
	for i := 0; i < 12; i++ {
		records = append(records, putTestRecord(t, store, owners[i%2], cats[i%3], t0.Add(time.Duration(i)*time.Minute)))
	}

	// Recategorize some, delete others.
	anger := CategoryAnger
	for i := 0; i < 4; i++ {
		rec := records[i]
		updated, err := store.Update(ctx, rec.OwnerID, rec.RecordID, rec.Version, Mutation{Category: &anger})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		records[i] = updated
	}
	deleted := map[string]bool{}
	for i := 8; i < 12; i++ {
		if err := store.Delete(ctx, records[i].OwnerID, records[i].RecordID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		deleted[records[i].RecordID] = true
	}

	for _, rec := range records {
		global := rangeAll(t, idx, RangeQuery{Index: IndexGlobalCategory, Prefix: Prefix{Category: rec.Category}})
		owner := rangeAll(t, idx, RangeQuery{Index: IndexOwnerCategory, Prefix: Prefix{OwnerID: rec.OwnerID, Category: rec.Category}})
		active := !deleted[rec.RecordID]
		if contains(global, rec.RecordID) != active {
			t.Errorf("Record %s (active=%v) presence in global-category index is wrong", rec.RecordID, active)
		}
		if contains(owner, rec.RecordID) != active {
			t.Errorf("Record %s (active=%v) presence in owner-category index is wrong", rec.RecordID, active)
		}
	}

	// Recategorized records left their old key space.
	for i := 0; i < 4; i++ {
		old := cats[i%3]
		global := rangeAll(t, idx, RangeQuery{Index: IndexGlobalCategory, Prefix: Prefix{Category: old}})
		if contains(global, records[i].RecordID) {
			t.Errorf("Record %s still indexed under %s", records[i].RecordID, old)
		}
	}

	report, err := idx.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !report.Consistent() {
		t.Errorf("Expected consistent indexes, got %+v", report)
	}
}

func TestRangeOrderAndTies(t *testing.T) {
	store := NewStore(setupTestDB(t), WithClock(newTestClock(t0).Now))
	idx := store.Indexes()

	var want []string
	for i := 0; i < 4; i++ {
		want = append(want, putTestRecord(t, store, "u1", CategoryJoy, t0).RecordID)
	}
	newest := putTestRecord(t, store, "u1", CategoryJoy, t0.Add(time.Second)).RecordID

	// Same created_at orders by record id, descending.
	sort.Sort(sort.Reverse(sort.StringSlice(want)))
	want = append([]string{newest}, want...)

	got := rangeAll(t, idx, RangeQuery{Index: IndexGlobalCategory, Prefix: Prefix{Category: CategoryJoy}})
	if len(got) != len(want) {
		t.Fatalf("Expected %d ids, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRangeTimeBounds(t *testing.T) {
	store := NewStore(setupTestDB(t), WithClock(newTestClock(t0).Now))
	idx := store.Indexes()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, putTestRecord(t, store, "u1", CategoryCalm, t0.Add(time.Duration(i)*time.Hour)).RecordID)
	}

	start := t0.Add(time.Hour)
	end := t0.Add(3 * time.Hour)
	got := rangeAll(t, idx, RangeQuery{Index: IndexOwner, Prefix: Prefix{OwnerID: "u1"}, Start: &start, End: &end})
	if len(got) != 2 || got[0] != ids[2] || got[1] != ids[1] {
		t.Errorf("Expected [%s %s] for [start, end), got %v", ids[2], ids[1], got)
	}

	n, err := idx.Count(context.Background(), RangeQuery{Index: IndexOwner, Prefix: Prefix{OwnerID: "u1"}, Start: &start})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 records from start on, got %d", n)
	}

	_, _, err = idx.Range(context.Background(), RangeQuery{Index: IndexOwner, Prefix: Prefix{OwnerID: "u1"}, Start: &end, End: &start, Limit: 10})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("Expected ErrInvalidQuery for an inverted range, got %v", err)
	}
}

func TestRangeRejectsBadInput(t *testing.T) {
	store := NewStore(setupTestDB(t), WithClock(newTestClock(t0).Now))
	idx := store.Indexes()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		putTestRecord(t, store, "u1", CategoryJoy, t0.Add(time.Duration(i)*time.Minute))
	}

	_, next, err := idx.Range(ctx, RangeQuery{Index: IndexOwner, Prefix: Prefix{OwnerID: "u1"}, Limit: 1})
	if err != nil || next == "" {
		t.Fatalf("Expected a first page with a cursor, got next=%q err=%v", next, err)
	}

	cases := []struct {
		name string
		q    RangeQuery
	}{
		{"unknown index", RangeQuery{Index: "nope", Limit: 1}},
		{"missing owner prefix", RangeQuery{Index: IndexOwner, Limit: 1}},
		{"missing category prefix", RangeQuery{Index: IndexGlobalCategory, Limit: 1}},
		{"zero limit", RangeQuery{Index: IndexAll}},
		{"malformed cursor", RangeQuery{Index: IndexOwner, Prefix: Prefix{OwnerID: "u1"}, Cursor: "%%%", Limit: 1}},
		{"cursor not json", RangeQuery{Index: IndexOwner, Prefix: Prefix{OwnerID: "u1"}, Cursor: "bm90LWpzb24", Limit: 1}},
		{"cursor from another index", RangeQuery{Index: IndexGlobalCategory, Prefix: Prefix{Category: CategoryJoy}, Cursor: next, Limit: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := idx.Range(ctx, tc.q); !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("Expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestVerifyAndRebuild(t *testing.T) {
	store := NewStore(setupTestDB(t), WithClock(newTestClock(t0).Now))
	idx := store.Indexes()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		putTestRecord(t, store, "u1", CategoryLove, t0.Add(time.Duration(i)*time.Minute))
	}

	if _, err := store.db.Exec(`DELETE FROM global_category_index`); err != nil {
		t.Fatalf("Failed to damage index: %v", err)
	}
	if _, err := store.db.Exec(`INSERT INTO owner_category_index (owner_id, category, created_at, record_id) VALUES ('ghost', 'love', 1, 'ghost-id')`); err != nil {
		t.Fatalf("Failed to add stale key: %v", err)
	}

	report, err := idx.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if report.GlobalCategory.Missing != 5 || report.OwnerCategory.Stale != 1 {
		t.Errorf("Unexpected drift report: %+v", report)
	}

	repaired, err := idx.Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if repaired != report {
		t.Errorf("Expected rebuild to report the drift it repaired, got %+v", repaired)
	}

	after, err := idx.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !after.Consistent() {
		t.Errorf("Expected consistent indexes after rebuild, got %+v", after)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	key := indexKey{CreatedAt: t0.UnixNano(), RecordID: "abc"}
	cur := encodeCursor(IndexOwner, key)

	got, err := decodeCursor(IndexOwner, cur)
	if err != nil {
		t.Fatalf("decodeCursor failed: %v", err)
	}
	if got != key {
		t.Errorf("Expected %+v, got %+v", key, got)
	}
	if _, err := decodeCursor(IndexAll, cur); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("Expected ErrInvalidQuery for a foreign index, got %v", err)
	}
}
