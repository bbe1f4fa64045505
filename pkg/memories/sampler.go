package memories

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// IntNSource yields uniform integers in [0, n). *rand.Rand satisfies it.
type IntNSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// SamplerConfig tunes the two sampling tiers.
type SamplerConfig struct {
	// SmallPopulation is the match count below which every id is collected
	// and one is picked directly.
	SmallPopulation int
	// ChunkSize is how many keys a walk reads per range call.
	ChunkSize int
	// CountTTL bounds how long a cached match count is trusted.
	CountTTL time.Duration
	Rand     IntNSource
}

func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		SmallPopulation: 200,
		ChunkSize:       100,
		CountTTL:        30 * time.Second,
	}
}

type countKey struct {
	index  IndexName
	prefix Prefix
}

type countEntry struct {
	n  int
	at time.Time
}

// Sampler picks a uniformly random active record matching an optional
// category and owner.
type Sampler struct {
	store  *Store
	cfg    SamplerConfig
	logger *log.Logger
	now    func() time.Time

	mu     sync.Mutex
	counts map[countKey]countEntry

	randMu sync.Mutex
}

type SamplerOption func(*Sampler)

func WithSamplerLogger(l *log.Logger) SamplerOption {
	return func(s *Sampler) { s.logger = l }
}

// WithSamplerClock replaces time.Now for count cache expiry.
func WithSamplerClock(now func() time.Time) SamplerOption {
	return func(s *Sampler) { s.now = now }
}

// NewSampler returns a Sampler reading through store. Zero config fields take
// their DefaultSamplerConfig values.
func NewSampler(store *Store, cfg SamplerConfig, opts ...SamplerOption) *Sampler {
	def := DefaultSamplerConfig()
	if cfg.SmallPopulation <= 0 {
		cfg.SmallPopulation = def.SmallPopulation
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.CountTTL < 0 {
		cfg.CountTTL = 0
	}
	if cfg.Rand == nil {
		cfg.Rand = globalRand{}
	}
	s := &Sampler{
		store:  store,
		cfg:    cfg,
		logger: log.New(io.Discard),
		now:    time.Now,
		counts: make(map[countKey]countEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sampler) intN(n int) int {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.cfg.Rand.IntN(n)
}

// sampleRange chooses the key space for the given filters.
func sampleRange(category Category, ownerID string) RangeQuery {
	switch {
	case category != "" && ownerID != "":
		return RangeQuery{Index: IndexOwnerCategory, Prefix: Prefix{OwnerID: ownerID, Category: category}}
	case category != "":
		return RangeQuery{Index: IndexGlobalCategory, Prefix: Prefix{Category: category}}
	case ownerID != "":
		return RangeQuery{Index: IndexOwner, Prefix: Prefix{OwnerID: ownerID}}
	default:
		return RangeQuery{Index: IndexAll}
	}
}

// RandomMatch returns one active record chosen uniformly among those that
// match category and ownerID. Empty filters match everything. It returns
// ErrNoMatch when nothing matches.
func (s *Sampler) RandomMatch(ctx context.Context, category Category, ownerID string) (Record, error) {
	if err := checkCtx(ctx); err != nil {
		return Record{}, err
	}
	if category != "" && !category.Valid() {
		return Record{}, fmt.Errorf("%w: unknown category %q", ErrInvalidQuery, category)
	}
	rq := sampleRange(category, ownerID)

	n, err := s.count(ctx, rq, false)
	if err != nil {
		return Record{}, err
	}
	if n == 0 {
		// The cached zero may predate a write.
		if n, err = s.count(ctx, rq, true); err != nil {
			return Record{}, err
		}
		if n == 0 {
			return Record{}, ErrNoMatch
		}
	}

	if n < s.cfg.SmallPopulation {
		rec, grew, err := s.pickSmall(ctx, rq)
		if err != nil || !grew {
			return rec, err
		}
		if n, err = s.count(ctx, rq, true); err != nil {
			return Record{}, err
		}
	}
	return s.walk(ctx, rq, n)
}

func (s *Sampler) count(ctx context.Context, rq RangeQuery, fresh bool) (int, error) {
	key := countKey{index: rq.Index, prefix: rq.Prefix}
	now := s.now()
	if !fresh {
		s.mu.Lock()
		entry, ok := s.counts[key]
		s.mu.Unlock()
		if ok && now.Sub(entry.at) < s.cfg.CountTTL {
			return entry.n, nil
		}
	}

	n, err := s.store.indexes.Count(ctx, rq)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	for k, e := range s.counts {
		if now.Sub(e.at) >= s.cfg.CountTTL {
			delete(s.counts, k)
		}
	}
	s.counts[key] = countEntry{n: n, at: now}
	s.mu.Unlock()
	return n, nil
}

func (s *Sampler) invalidate(rq RangeQuery) {
	s.mu.Lock()
	delete(s.counts, countKey{index: rq.Index, prefix: rq.Prefix})
	s.mu.Unlock()
}

// pickSmall reads every matching id in one range call and picks among them.
// grew reports that the population no longer fits the small tier.
func (s *Sampler) pickSmall(ctx context.Context, rq RangeQuery) (Record, bool, error) {
	rq.Limit = s.cfg.SmallPopulation + 1
	ids, _, err := s.store.indexes.Range(ctx, rq)
	if err != nil {
		return Record{}, false, err
	}
	if len(ids) > s.cfg.SmallPopulation {
		s.invalidate(rq)
		return Record{}, true, nil
	}

	for len(ids) > 0 {
		i := s.intN(len(ids))
		recs, err := s.store.hydrate(ctx, ids[i:i+1])
		if err != nil {
			return Record{}, false, err
		}
		if len(recs) == 1 && matchesPrefix(recs[0], rq) {
			return recs[0], false, nil
		}
		// Deleted or recategorized since the range read.
		ids[i] = ids[len(ids)-1]
		ids = ids[:len(ids)-1]
	}
	s.invalidate(rq)
	return Record{}, false, ErrNoMatch
}

// walk picks a rank in [0, n) and pages through the key space to reach it.
func (s *Sampler) walk(ctx context.Context, rq RangeQuery, n int) (Record, error) {
	target := s.intN(n)
	rq.Limit = s.cfg.ChunkSize

	skipped := 0
	var last []string
	for {
		if err := checkCtx(ctx); err != nil {
			return Record{}, err
		}
		ids, next, err := s.store.indexes.Range(ctx, rq)
		if err != nil {
			return Record{}, err
		}
		if len(ids) == 0 {
			break
		}
		if target < skipped+len(ids) {
			return s.hydrateNear(ctx, rq, ids, target-skipped)
		}
		skipped += len(ids)
		last = ids
		if next == "" {
			break
		}
		rq.Cursor = next
	}

	// The index shrank below the cached count.
	s.invalidate(rq)
	s.logger.Debug("sample walk overran index", "index", rq.Index, "target", target, "seen", skipped)
	if len(last) == 0 {
		return Record{}, ErrNoMatch
	}
	return s.hydrateNear(ctx, rq, last, len(last)-1)
}

// hydrateNear returns the record at ids[pos], or failing that the nearest
// earlier one in the chunk, then the nearest later one.
func (s *Sampler) hydrateNear(ctx context.Context, rq RangeQuery, ids []string, pos int) (Record, error) {
	order := make([]string, 0, len(ids))
	for i := pos; i >= 0; i-- {
		order = append(order, ids[i])
	}
	order = append(order, ids[pos+1:]...)

	recs, err := s.store.hydrate(ctx, order)
	if err != nil {
		return Record{}, err
	}
	for _, rec := range recs {
		if matchesPrefix(rec, rq) {
			return rec, nil
		}
	}
	s.invalidate(rq)
	return Record{}, ErrNoMatch
}

func matchesPrefix(rec Record, rq RangeQuery) bool {
	if rq.Prefix.OwnerID != "" && rec.OwnerID != rq.Prefix.OwnerID {
		return false
	}
	if rq.Prefix.Category != "" && rec.Category != rq.Prefix.Category {
		return false
	}
	return true
}
