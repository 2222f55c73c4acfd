package client

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-leaderboard-service/internal/domain"
)

var base = time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)

func TestReconcileKeepsLocalScoreOverStaleSnapshot(t *testing.T) {
	self := domain.RankEntry{ParticipantID: "alice", DisplayName: "Alice", Score: 30, AnsweredQuestions: 3, LastUpdated: base.Add(3 * time.Second)}
	snap := domain.Snapshot{
		Sequence: 7,
		Entries: []domain.RankEntry{
			{ParticipantID: "bob", Score: 20, Rank: 1, PreviousRank: 1, LastUpdated: base.Add(time.Second)},
			{ParticipantID: "alice", Score: 10, Rank: 2, PreviousRank: 1, LastUpdated: base},
		},
	}

	board := Reconcile(self, snap)

	require.Len(t, board.Entries, 2)
	assert.Equal(t, uint64(7), board.Sequence)
	assert.Equal(t, 1, board.UserRank)

	me := board.Entries[0]
	assert.True(t, me.IsSelf)
	assert.Equal(t, "alice", me.ParticipantID)
	assert.Equal(t, 30, me.Score)
	assert.Equal(t, 3, me.AnsweredQuestions)
	assert.Equal(t, 1, me.PreviousRank)

	assert.False(t, board.Entries[1].IsSelf)
	assert.Equal(t, "bob", board.Entries[1].ParticipantID)
	assert.Equal(t, 2, board.Entries[1].Rank)
}

func TestReconcileInsertsMissingSelf(t *testing.T) {
	self := domain.RankEntry{ParticipantID: "alice", LastUpdated: base.Add(time.Minute)}
	snap := domain.Snapshot{Entries: []domain.RankEntry{
		{ParticipantID: "bob", Score: 0, Rank: 1, LastUpdated: base},
	}}

	board := Reconcile(self, snap)

	require.Len(t, board.Entries, 2)
	assert.Equal(t, "bob", board.Entries[0].ParticipantID)
	assert.Equal(t, "alice", board.Entries[1].ParticipantID)
	assert.True(t, board.Entries[1].IsSelf)
	assert.Equal(t, 2, board.UserRank)
}

func TestReconcileAdoptsServerTimestampOnceConfirmed(t *testing.T) {
	// Locally alice scored later than bob, but the server recorded her first.
	self := domain.RankEntry{ParticipantID: "alice", Score: 10, LastUpdated: base.Add(2 * time.Second)}
	snap := domain.Snapshot{Entries: []domain.RankEntry{
		{ParticipantID: "alice", Score: 10, Rank: 1, LastUpdated: base},
		{ParticipantID: "bob", Score: 10, Rank: 2, LastUpdated: base.Add(time.Second)},
	}}

	board := Reconcile(self, snap)

	assert.Equal(t, 1, board.UserRank)
	assert.Equal(t, "alice", board.Entries[0].ParticipantID)
	assert.Equal(t, base, board.Entries[0].LastUpdated)
}

func TestReconcileDoesNotMutateSnapshot(t *testing.T) {
	snap := domain.Snapshot{Entries: []domain.RankEntry{
		{ParticipantID: "bob", Score: 5, Rank: 1},
		{ParticipantID: "alice", Score: 1, Rank: 2},
	}}
	_ = Reconcile(domain.RankEntry{ParticipantID: "alice", Score: 50}, snap)

	assert.Equal(t, "bob", snap.Entries[0].ParticipantID)
	assert.Equal(t, 1, snap.Entries[1].Score)
}

func TestReconcileNeverRegressesOwnScore(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		self := domain.RankEntry{ParticipantID: "me", Score: rnd.Intn(100), LastUpdated: base}
		snap := domain.Snapshot{Sequence: uint64(i)}
		others := rnd.Intn(8)
		for j := 0; j < others; j++ {
			snap.Entries = append(snap.Entries, domain.RankEntry{
				ParticipantID: string(rune('a' + j)),
				Score:         rnd.Intn(100),
				LastUpdated:   base.Add(time.Duration(rnd.Intn(10)) * time.Second),
			})
		}
		if rnd.Intn(2) == 0 {
			snap.Entries = append(snap.Entries, domain.RankEntry{ParticipantID: "me", Score: rnd.Intn(self.Score + 1)})
		}

		board := Reconcile(self, snap)

		selfCount := 0
		for k, e := range board.Entries {
			assert.Equal(t, k+1, e.Rank)
			if k > 0 {
				assert.GreaterOrEqual(t, board.Entries[k-1].Score, e.Score)
			}
			if e.IsSelf {
				selfCount++
				assert.Equal(t, self.Score, e.Score)
				assert.Equal(t, e.Rank, board.UserRank)
			}
		}
		assert.Equal(t, 1, selfCount)
	}
}

func TestSessionReconcileUsesLocalState(t *testing.T) {
	s := NewSession("alice", "Alice")
	s.Start(fiveQuestions(0))
	_, err := s.SubmitAnswer("q1", "a")
	require.NoError(t, err)

	board := s.Reconcile(domain.Snapshot{Sequence: 1, Entries: []domain.RankEntry{
		{ParticipantID: "alice", Score: 0, Rank: 1},
	}})
	assert.Equal(t, 10, board.Entries[0].Score)
	assert.Equal(t, board, s.Leaderboard())
}
