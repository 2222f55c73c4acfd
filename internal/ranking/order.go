package ranking

import (
	"sort"

	"live-leaderboard-service/internal/domain"
)

// Sort orders entries by score descending. Equal scores go to whoever reached the
// score first, then by participant ID so identical timestamps stay deterministic.
func Sort(entries []domain.RankEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return less(entries[i], entries[j])
	})
}

// Assign sorts entries and materializes their ranks, moving each entry's
// prior rank into PreviousRank.
func Assign(entries []domain.RankEntry) {
	Sort(entries)
	for i := range entries {
		entries[i].PreviousRank = entries[i].Rank
		entries[i].Rank = i + 1
	}
}

// Number sorts entries and sets Rank only, leaving PreviousRank as reported.
func Number(entries []domain.RankEntry) {
	Sort(entries)
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

func less(a, b domain.RankEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.LastUpdated.Equal(b.LastUpdated) {
		return a.LastUpdated.Before(b.LastUpdated)
	}
	return a.ParticipantID < b.ParticipantID
}
