package ranking

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-leaderboard-service/internal/domain"
)

// stepClock returns a strictly increasing time on every call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func entry(id string, score int, at time.Time) domain.RankEntry {
	return domain.RankEntry{
		ParticipantID:  id,
		DisplayName:    id,
		Score:          score,
		TotalQuestions: 10,
		LastUpdated:    at,
	}
}

func ids(entries []domain.RankEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ParticipantID
	}
	return out
}

func requireContiguousRanks(t *testing.T, ranked []domain.RankEntry) {
	t.Helper()
	for i, e := range ranked {
		require.Equal(t, i+1, e.Rank, "rank of %s", e.ParticipantID)
		if i > 0 {
			require.GreaterOrEqual(t, ranked[i-1].Score, e.Score)
		}
	}
}

func TestRankedTieBreakFavorsEarlierTimestamp(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := New(10, WithClock(stepClock()))
	cache.Initialize([]domain.RankEntry{
		entry("A", 100, base.Add(2*time.Minute)),
		entry("B", 100, base.Add(time.Minute)),
		entry("C", 90, base),
	})

	ranked := cache.Ranked()
	assert.Equal(t, []string{"B", "A", "C"}, ids(ranked))
	requireContiguousRanks(t, ranked)
}

func TestRankedIsDeterministicWithoutMutation(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := New(10)
	cache.Initialize([]domain.RankEntry{
		entry("zed", 50, at),
		entry("amy", 50, at),
		entry("kim", 50, at),
	})

	first := ids(cache.Ranked())
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, ids(cache.Ranked()))
	}
	assert.Equal(t, []string{"amy", "kim", "zed"}, first)
}

func TestRankedTracksPreviousRank(t *testing.T) {
	cache := New(10, WithClock(stepClock()))
	require.NoError(t, cache.Upsert(entry("a", 10, time.Time{})))
	require.NoError(t, cache.Upsert(entry("b", 20, time.Time{})))

	first := cache.Ranked()
	assert.Equal(t, []string{"b", "a"}, ids(first))
	assert.Equal(t, 0, first[0].PreviousRank)

	require.NoError(t, cache.UpdateScore("a", 30, 3))
	second := cache.Ranked()
	assert.Equal(t, []string{"a", "b"}, ids(second))
	assert.Equal(t, 2, second[0].PreviousRank)
	assert.Equal(t, 1, second[1].PreviousRank)
}

func TestUpdateScoreRoundTrip(t *testing.T) {
	cache := New(10, WithClock(stepClock()))
	require.NoError(t, cache.Upsert(entry("u1", 0, time.Time{})))

	require.NoError(t, cache.UpdateScore("u1", 40, 5))
	got, err := cache.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Score)
	assert.Equal(t, 5, got.AnsweredQuestions)
	assert.Equal(t, 40, got.Accuracy)
}

func TestUpdateScoreUnknownParticipant(t *testing.T) {
	cache := New(10, WithClock(stepClock()))
	require.NoError(t, cache.Upsert(entry("u1", 10, time.Time{})))
	before := cache.Ranked()

	err := cache.UpdateScore("ghost-id", 50, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	after := cache.Ranked()
	assert.Equal(t, ids(before), ids(after))
	assert.Equal(t, before[0].Score, after[0].Score)
}

func TestUpdateScoreRejectsWithoutMutating(t *testing.T) {
	cache := New(10, WithClock(stepClock()))
	require.NoError(t, cache.Upsert(entry("u1", 20, time.Time{})))
	original, err := cache.Get("u1")
	require.NoError(t, err)

	cases := []struct {
		name     string
		score    int
		answered int
		want     error
	}{
		{name: "negative score", score: -1, answered: 1, want: domain.ErrMalformedUpdate},
		{name: "answered beyond total", score: 30, answered: 11, want: domain.ErrMalformedUpdate},
		{name: "lower score", score: 10, answered: 3, want: domain.ErrScoreRegression},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := cache.UpdateScore("u1", tc.score, tc.answered)
			require.True(t, errors.Is(err, tc.want), "got %v", err)

			got, err := cache.Get("u1")
			require.NoError(t, err)
			assert.Equal(t, original, got)
		})
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	cache := New(10, WithClock(stepClock()))
	require.NoError(t, cache.Upsert(entry("a", 30, time.Time{})))
	require.NoError(t, cache.Upsert(entry("b", 20, time.Time{})))

	e := entry("c", 10, time.Time{})
	require.NoError(t, cache.Upsert(e))
	once := cache.Ranked()
	require.NoError(t, cache.Upsert(e))
	twice := cache.Ranked()

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].ParticipantID, twice[i].ParticipantID)
		assert.Equal(t, once[i].Score, twice[i].Score)
		assert.Equal(t, once[i].Rank, twice[i].Rank)
	}
}

func TestUpsertRejectsMalformedEntry(t *testing.T) {
	cache := New(10)
	err := cache.Upsert(domain.RankEntry{ParticipantID: "x", TotalQuestions: 2, AnsweredQuestions: 3})
	require.ErrorIs(t, err, domain.ErrMalformedUpdate)
	assert.Equal(t, 0, cache.Len())

	require.ErrorIs(t, cache.Upsert(domain.RankEntry{}), domain.ErrMalformedUpdate)
}

func TestUpsertRecomputesAccuracy(t *testing.T) {
	cache := New(10)
	e := entry("a", 50, time.Time{})
	e.Accuracy = 99
	require.NoError(t, cache.Upsert(e))

	got, err := cache.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Accuracy)
}

func TestTop(t *testing.T) {
	cache := New(10, WithClock(stepClock()))
	for i := 0; i < 5; i++ {
		require.NoError(t, cache.Upsert(entry(fmt.Sprintf("p%d", i), i*10, time.Time{})))
	}

	top := cache.Top(2)
	assert.Equal(t, []string{"p4", "p3"}, ids(top))
	assert.Len(t, cache.Top(50), 5)
	assert.Empty(t, cache.Top(0))
}

func TestRankedPropertiesUnderConcurrentUpdates(t *testing.T) {
	cache := New(10)
	const participants = 40
	for i := 0; i < participants; i++ {
		require.NoError(t, cache.Upsert(entry(fmt.Sprintf("p%02d", i), 0, time.Time{})))
	}

	var wg sync.WaitGroup
	for i := 0; i < participants; i++ {
		wg.Add(1)
		go func(id string, seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			score := 0
			for answered := 1; answered <= 10; answered++ {
				score += rnd.Intn(2) * 10
				_ = cache.UpdateScore(id, score, answered)
				_ = cache.Ranked()
			}
		}(fmt.Sprintf("p%02d", i), int64(i))
	}
	wg.Wait()

	ranked := cache.Ranked()
	require.Len(t, ranked, participants)
	requireContiguousRanks(t, ranked)
}
