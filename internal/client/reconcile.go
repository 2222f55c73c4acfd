package client

import (
	"live-leaderboard-service/internal/domain"
	"live-leaderboard-service/internal/ranking"
)

// LeaderboardEntry is a rank entry as rendered by one participant.
type LeaderboardEntry struct {
	domain.RankEntry
	IsSelf bool `json:"isSelf"`
}

// Leaderboard is the locally rendered, reconciled view of a snapshot.
type Leaderboard struct {
	Sequence uint64             `json:"sequence"`
	Entries  []LeaderboardEntry `json:"entries"`
	UserRank int                `json:"userRank"`
}

// Reconcile merges a broadcast snapshot with the local participant's authoritative entry.
// Every other entry is taken as broadcast. The local entry is rebuilt from self, so a
// snapshot produced before the participant's own update landed cannot roll back the
// rendered score. The merged list is re-ranked with the server's ordering rules.
func Reconcile(self domain.RankEntry, snapshot domain.Snapshot) Leaderboard {
	entries := make([]domain.RankEntry, 0, len(snapshot.Entries)+1)
	found := false
	for _, e := range snapshot.Entries {
		if e.ParticipantID == self.ParticipantID {
			found = true
			entries = append(entries, mergeSelf(self, e))
			continue
		}
		entries = append(entries, e)
	}
	if !found && self.ParticipantID != "" {
		entries = append(entries, self)
	}
	ranking.Number(entries)

	board := Leaderboard{
		Sequence: snapshot.Sequence,
		Entries:  make([]LeaderboardEntry, len(entries)),
	}
	for i, e := range entries {
		isSelf := e.ParticipantID == self.ParticipantID
		board.Entries[i] = LeaderboardEntry{RankEntry: e, IsSelf: isSelf}
		if isSelf {
			board.UserRank = e.Rank
		}
	}
	return board
}

func mergeSelf(local, remote domain.RankEntry) domain.RankEntry {
	merged := local
	merged.PreviousRank = remote.PreviousRank
	if merged.DisplayName == "" {
		merged.DisplayName = remote.DisplayName
	}
	// Once the server holds the same score, its timestamp decides ties the way the
	// server will, so local and broadcast ranks agree.
	if remote.Score == local.Score && !remote.LastUpdated.IsZero() {
		merged.LastUpdated = remote.LastUpdated
	}
	return merged
}
