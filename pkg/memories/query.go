package memories

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// OwnerQuery lists one owner's records, optionally narrowed to a category.
type OwnerQuery struct {
	OwnerID  string
	Category *Category
	Start    *time.Time
	End      *time.Time
	Cursor   string
	PageSize int
}

// CategoryQuery lists records of one category across all owners.
type CategoryQuery struct {
	Category Category
	Start    *time.Time
	End      *time.Time
	Cursor   string
	PageSize int
}

// Query answers paginated listings, newest first.
type Query struct {
	store           *Store
	defaultPageSize int
	maxPageSize     int
}

// NewQuery returns a Query reading through store. Non-positive sizes fall
// back to DefaultPageSize and MaxPageSize.
func NewQuery(store *Store, defaultPageSize, maxPageSize int) *Query {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}
	return &Query{store: store, defaultPageSize: defaultPageSize, maxPageSize: maxPageSize}
}

// pageSize clamps a requested size silently.
func (q *Query) pageSize(requested int) int {
	switch {
	case requested <= 0:
		return q.defaultPageSize
	case requested > q.maxPageSize:
		return q.maxPageSize
	default:
		return requested
	}
}

// ListByOwner returns a page of the owner's active records.
func (q *Query) ListByOwner(ctx context.Context, oq OwnerQuery) (Page, error) {
	owner := strings.TrimSpace(oq.OwnerID)
	if owner == "" {
		return Page{}, fmt.Errorf("%w: owner id is required", ErrInvalidQuery)
	}
	rq := RangeQuery{
		Index:  IndexOwner,
		Prefix: Prefix{OwnerID: owner},
		Cursor: oq.Cursor,
		Start:  oq.Start,
		End:    oq.End,
	}
	if oq.Category != nil {
		if !oq.Category.Valid() {
			return Page{}, fmt.Errorf("%w: unknown category %q", ErrInvalidQuery, *oq.Category)
		}
		rq.Index = IndexOwnerCategory
		rq.Prefix.Category = *oq.Category
	}
	return q.page(ctx, rq, oq.PageSize)
}

// ListByCategory returns a page of active records of one category from every owner.
func (q *Query) ListByCategory(ctx context.Context, cq CategoryQuery) (Page, error) {
	if !cq.Category.Valid() {
		return Page{}, fmt.Errorf("%w: unknown category %q", ErrInvalidQuery, cq.Category)
	}
	return q.page(ctx, RangeQuery{
		Index:  IndexGlobalCategory,
		Prefix: Prefix{Category: cq.Category},
		Cursor: cq.Cursor,
		Start:  cq.Start,
		End:    cq.End,
	}, cq.PageSize)
}

func (q *Query) page(ctx context.Context, rq RangeQuery, requested int) (Page, error) {
	if err := checkCtx(ctx); err != nil {
		return Page{}, err
	}
	rq.Limit = q.pageSize(requested)

	ids, next, err := q.store.indexes.Range(ctx, rq)
	if err != nil {
		return Page{}, err
	}
	records, err := q.store.hydrate(ctx, ids)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Records:    records,
		NextCursor: next,
		HasMore:    next != "",
		PageSize:   rq.Limit,
	}, nil
}
