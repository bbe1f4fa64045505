package memories

import (
	"context"
	"errors"
	"testing"
)

func TestEndToEndRecordLifecycle(t *testing.T) {
	eng := setupTestEngine(t, newTestClock(t0))
	ctx := context.Background()

	rec, err := eng.Store.Put(ctx, Record{
		OwnerID:    "u1",
		Category:   CategoryCalm,
		CreatedAt:  t0,
		PayloadRef: "s3://audio/u1/evening.m4a",
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	calm := CategoryCalm
	page, err := eng.Query.ListByOwner(ctx, OwnerQuery{OwnerID: "u1", Category: &calm, PageSize: 10})
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].RecordID != rec.RecordID {
		t.Fatalf("Expected exactly the new record, got %v", recordIDs(page.Records))
	}
	if page.NextCursor != "" {
		t.Errorf("Expected an empty next cursor, got %q", page.NextCursor)
	}

	got, err := eng.Sampler.RandomMatch(ctx, CategoryCalm, "u1")
	if err != nil {
		t.Fatalf("RandomMatch failed: %v", err)
	}
	if got.RecordID != rec.RecordID {
		t.Errorf("Expected the only calm record, got %s", got.RecordID)
	}

	if err := eng.Store.Delete(ctx, "u1", rec.RecordID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	page, err = eng.Query.ListByOwner(ctx, OwnerQuery{OwnerID: "u1", Category: &calm, PageSize: 10})
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(page.Records) != 0 {
		t.Errorf("Expected an empty page after delete, got %v", recordIDs(page.Records))
	}
	if _, err := eng.Store.Get(ctx, "u1", rec.RecordID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if _, err := eng.Sampler.RandomMatch(ctx, CategoryCalm, "u1"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Expected ErrNoMatch after delete, got %v", err)
	}
}
