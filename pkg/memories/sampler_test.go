package memories

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRand always picks the same rank, capped to the population.
type fixedRand int

func (f fixedRand) IntN(n int) int {
	if int(f) >= n {
		return n - 1
	}
	return int(f)
}

func TestRandomMatchUniformSmallPopulation(t *testing.T) {
	clock := newTestClock(t0)
	store := NewStore(setupTestDB(t), WithClock(clock.Now))
	sampler := NewSampler(store, SamplerConfig{Rand: rand.New(rand.NewPCG(7, 11))}, WithSamplerClock(clock.Now))
	ctx := context.Background()

	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		counts[putTestRecord(t, store, "u1", CategoryGratitude, t0.Add(time.Duration(i)*time.Minute)).RecordID] = 0
	}
	putTestRecord(t, store, "u1", CategoryAnger, t0)

	const trials = 10000
	for i := 0; i < trials; i++ {
		rec, err := sampler.RandomMatch(ctx, CategoryGratitude, "")
		require.NoError(t, err)
		require.Equal(t, CategoryGratitude, rec.Category)
		counts[rec.RecordID]++
	}

	require.Len(t, counts, 10)
	for id, n := range counts {
		assert.GreaterOrEqual(t, n, 800, "record %s sampled too rarely", id)
		assert.LessOrEqual(t, n, 1200, "record %s sampled too often", id)
	}
}

func TestRandomMatchWalkUniform(t *testing.T) {
	clock := newTestClock(t0)
	store := NewStore(setupTestDB(t), WithClock(clock.Now))
	sampler := NewSampler(store, SamplerConfig{
		SmallPopulation: 4,
		ChunkSize:       3,
		CountTTL:        time.Hour,
		Rand:            rand.New(rand.NewPCG(3, 5)),
	}, WithSamplerClock(clock.Now))
	ctx := context.Background()

	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		counts[putTestRecord(t, store, "u1", CategoryLove, t0.Add(time.Duration(i)*time.Minute)).RecordID] = 0
	}

	const trials = 5000
	for i := 0; i < trials; i++ {
		rec, err := sampler.RandomMatch(ctx, CategoryLove, "u1")
		require.NoError(t, err)
		counts[rec.RecordID]++
	}
	require.Len(t, counts, 10)
	for id, n := range counts {
		assert.InDelta(t, trials/10, n, 120, "record %s off expected frequency", id)
	}
}

func TestRandomMatchWalkReachesRank(t *testing.T) {
	clock := newTestClock(t0)
	store := NewStore(setupTestDB(t), WithClock(clock.Now))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, putTestRecord(t, store, "u1", CategoryCalm, t0.Add(time.Duration(i)*time.Minute)).RecordID)
	}

	// Rank 7 in newest-first order is the record created at minute 2.
	sampler := NewSampler(store, SamplerConfig{SmallPopulation: 2, ChunkSize: 3, Rand: fixedRand(7)})
	rec, err := sampler.RandomMatch(ctx, CategoryCalm, "")
	require.NoError(t, err)
	assert.Equal(t, ids[2], rec.RecordID)
}

func TestRandomMatchOverrunWithStaleCount(t *testing.T) {
	clock := newTestClock(t0)
	store := NewStore(setupTestDB(t), WithClock(clock.Now))
	sampler := NewSampler(store, SamplerConfig{
		SmallPopulation: 2,
		ChunkSize:       2,
		CountTTL:        time.Hour,
		Rand:            fixedRand(5),
	}, WithSamplerClock(clock.Now))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, putTestRecord(t, store, "u1", CategoryHope, t0.Add(time.Duration(i)*time.Minute)).RecordID)
	}

	rec, err := sampler.RandomMatch(ctx, CategoryHope, "")
	require.NoError(t, err)
	assert.Equal(t, ids[0], rec.RecordID, "rank 5 is the oldest record")

	// The cached count still says 6.
	for _, id := range ids[:3] {
		require.NoError(t, store.Delete(ctx, "u1", id))
	}

	rec, err = sampler.RandomMatch(ctx, CategoryHope, "")
	require.NoError(t, err)
	assert.Equal(t, ids[3], rec.RecordID, "overrun falls back to the last key seen")

	n, err := sampler.count(ctx, sampleRange(CategoryHope, ""), false)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "overrun should drop the stale count")
}

func TestRandomMatchNoMatch(t *testing.T) {
	clock := newTestClock(t0)
	store := NewStore(setupTestDB(t), WithClock(clock.Now))
	sampler := NewSampler(store, SamplerConfig{CountTTL: time.Hour}, WithSamplerClock(clock.Now))
	ctx := context.Background()

	_, err := sampler.RandomMatch(ctx, CategorySurprise, "")
	assert.ErrorIs(t, err, ErrNoMatch)

	// A cached zero must not hide a record written afterwards.
	rec := putTestRecord(t, store, "u9", CategorySurprise, t0)
	got, err := sampler.RandomMatch(ctx, CategorySurprise, "")
	require.NoError(t, err)
	assert.Equal(t, rec.RecordID, got.RecordID)

	_, err = sampler.RandomMatch(ctx, CategorySurprise, "someone-else")
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = sampler.RandomMatch(ctx, "bogus", "")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestRandomMatchUnfiltered(t *testing.T) {
	clock := newTestClock(t0)
	store := NewStore(setupTestDB(t), WithClock(clock.Now))
	sampler := NewSampler(store, SamplerConfig{}, WithSamplerClock(clock.Now))

	a := putTestRecord(t, store, "u1", CategoryJoy, t0)
	b := putTestRecord(t, store, "u2", CategoryFear, t0)

	rec, err := sampler.RandomMatch(context.Background(), "", "")
	require.NoError(t, err)
	assert.Contains(t, []string{a.RecordID, b.RecordID}, rec.RecordID)

	rec, err = sampler.RandomMatch(context.Background(), "", "u2")
	require.NoError(t, err)
	assert.Equal(t, b.RecordID, rec.RecordID)
}

func TestHydrateNearPrefersEarlierRecords(t *testing.T) {
	clock := newTestClock(t0)
	store := NewStore(setupTestDB(t), WithClock(clock.Now))
	sampler := NewSampler(store, SamplerConfig{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, putTestRecord(t, store, "u1", CategoryCalm, t0.Add(time.Duration(i)*time.Minute)).RecordID)
	}
	rq := sampleRange(CategoryCalm, "")

	require.NoError(t, store.Delete(ctx, "u1", ids[2]))
	rec, err := sampler.hydrateNear(ctx, rq, ids, 2)
	require.NoError(t, err)
	assert.Equal(t, ids[1], rec.RecordID)

	require.NoError(t, store.Delete(ctx, "u1", ids[1]))
	require.NoError(t, store.Delete(ctx, "u1", ids[0]))
	rec, err = sampler.hydrateNear(ctx, rq, ids, 2)
	require.NoError(t, err)
	assert.Equal(t, ids[3], rec.RecordID)
}

func TestRandomMatchCancelled(t *testing.T) {
	store := NewStore(setupTestDB(t), WithClock(newTestClock(t0).Now))
	sampler := NewSampler(store, SamplerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sampler.RandomMatch(ctx, CategoryJoy, "")
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestCountCacheDropsExpiredEntries(t *testing.T) {
	clock := newTestClock(t0)
	store := NewStore(setupTestDB(t), WithClock(clock.Now))
	sampler := NewSampler(store, SamplerConfig{CountTTL: time.Minute}, WithSamplerClock(clock.Now))
	ctx := context.Background()

	for _, owner := range []string{"u1", "u2", "u3", "u4"} {
		_, err := sampler.count(ctx, sampleRange(CategoryJoy, owner), false)
		require.NoError(t, err)
	}
	assert.Len(t, sampler.counts, 4)

	clock.Set(t0.Add(2 * time.Minute))
	_, err := sampler.count(ctx, sampleRange(CategoryJoy, "u5"), false)
	require.NoError(t, err)
	assert.Len(t, sampler.counts, 1, "expired owners should be swept on write")
	_, ok := sampler.counts[countKey{index: IndexOwnerCategory, prefix: Prefix{OwnerID: "u5", Category: CategoryJoy}}]
	assert.True(t, ok)
}
