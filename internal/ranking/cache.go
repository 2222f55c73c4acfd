// Package ranking holds the authoritative standings of one live evaluation.
package ranking

import (
	"fmt"
	"sync"
	"time"

	"live-leaderboard-service/internal/domain"
)

// Cache is the in-memory set of rank entries for one evaluation session.
// Ranks are not maintained incrementally; they are produced by Ranked.
type Cache struct {
	pointsPerQuestion int
	now               func() time.Time

	mu      sync.Mutex
	entries map[string]*domain.RankEntry
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the time source used to stamp updates (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache. pointsPerQuestion is used to derive accuracy.
func New(pointsPerQuestion int, opts ...Option) *Cache {
	if pointsPerQuestion <= 0 {
		pointsPerQuestion = 1
	}
	c := &Cache{
		pointsPerQuestion: pointsPerQuestion,
		now:               time.Now,
		entries:           make(map[string]*domain.RankEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize replaces the entire entry set. Seed entries keep their LastUpdated when set.
func (c *Cache) Initialize(entries []domain.RankEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries = make(map[string]*domain.RankEntry, len(entries))
	for _, e := range entries {
		if e.ParticipantID == "" {
			continue
		}
		entry := e
		if entry.LastUpdated.IsZero() {
			entry.LastUpdated = now
		}
		entry.Accuracy = domain.Accuracy(entry.Score, entry.TotalQuestions, c.pointsPerQuestion)
		c.entries[entry.ParticipantID] = &entry
	}
}

// Upsert inserts a participant or replaces all of its fields. Rank bookkeeping of an
// existing entry is kept so the next ranked read still reports movement.
func (c *Cache) Upsert(entry domain.RankEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := entry
	next.Rank, next.PreviousRank = 0, 0
	if existing, ok := c.entries[entry.ParticipantID]; ok {
		next.Rank, next.PreviousRank = existing.Rank, existing.PreviousRank
	}
	next.Accuracy = domain.Accuracy(next.Score, next.TotalQuestions, c.pointsPerQuestion)
	next.LastUpdated = c.now()
	c.entries[entry.ParticipantID] = &next
	return nil
}

// UpdateScore sets a participant's score and answered count. It never leaves the entry
// partially updated: every check runs before the first write.
func (c *Cache) UpdateScore(participantID string, score, answered int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[participantID]
	if !ok {
		return fmt.Errorf("update %q: %w", participantID, domain.ErrNotFound)
	}
	if score < 0 || answered < 0 || answered > entry.TotalQuestions {
		return fmt.Errorf("update %q: score=%d answered=%d of %d: %w",
			participantID, score, answered, entry.TotalQuestions, domain.ErrMalformedUpdate)
	}
	if score < entry.Score {
		return fmt.Errorf("update %q: %d < %d: %w", participantID, score, entry.Score, domain.ErrScoreRegression)
	}

	entry.Score = score
	entry.AnsweredQuestions = answered
	entry.Accuracy = domain.Accuracy(score, entry.TotalQuestions, c.pointsPerQuestion)
	entry.LastUpdated = c.now()
	return nil
}

// Ranked returns every entry in rank order. It is the only place ranks are assigned.
func (c *Cache) Ranked() []domain.RankEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	ranked := make([]domain.RankEntry, 0, len(c.entries))
	for _, e := range c.entries {
		ranked = append(ranked, *e)
	}
	Assign(ranked)
	for _, e := range ranked {
		stored := c.entries[e.ParticipantID]
		stored.Rank = e.Rank
		stored.PreviousRank = e.PreviousRank
	}
	return ranked
}

// Top returns the first n ranked entries.
func (c *Cache) Top(n int) []domain.RankEntry {
	if n <= 0 {
		return []domain.RankEntry{}
	}
	ranked := c.Ranked()
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// Get returns a copy of a participant's entry.
func (c *Cache) Get(participantID string) (domain.RankEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[participantID]
	if !ok {
		return domain.RankEntry{}, fmt.Errorf("get %q: %w", participantID, domain.ErrNotFound)
	}
	return *entry, nil
}

// Len reports the number of participants.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func validateEntry(e domain.RankEntry) error {
	if e.ParticipantID == "" || e.Score < 0 || e.TotalQuestions < 0 ||
		e.AnsweredQuestions < 0 || e.AnsweredQuestions > e.TotalQuestions {
		return fmt.Errorf("upsert %q: %w", e.ParticipantID, domain.ErrMalformedUpdate)
	}
	return nil
}
