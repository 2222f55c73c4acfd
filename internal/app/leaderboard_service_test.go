package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"live-leaderboard-service/internal/app"
	"live-leaderboard-service/internal/domain"
	"live-leaderboard-service/internal/infra/memory"
)

type chanConn struct {
	id     string
	out    chan domain.Snapshot
	closed atomic.Bool
}

func newChanConn(id string) *chanConn {
	return &chanConn{id: id, out: make(chan domain.Snapshot, 8)}
}

func (c *chanConn) ID() string { return c.id }
func (c *chanConn) Close()     { c.closed.Store(true) }

func (c *chanConn) Send(s domain.Snapshot) error {
	select {
	case c.out <- s:
		return nil
	default:
		return errors.New("full")
	}
}

func (c *chanConn) next(t *testing.T) domain.Snapshot {
	t.Helper()
	select {
	case s := <-c.out:
		return s
	case <-time.After(time.Second):
		t.Fatalf("no snapshot for %s", c.id)
		return domain.Snapshot{}
	}
}

func TestUpsertAndScoreBroadcast(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	alice, bob := app.Identity{ParticipantID: "u1", DisplayName: "Alice"}, app.Identity{ParticipantID: "u2", DisplayName: "Bob"}

	c1, c2 := newChanConn("c1"), newChanConn("c2")
	if err := service.Connect(ctx, "eval-1", c1); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := service.Connect(ctx, "eval-1", c2); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	c1.next(t)
	c2.next(t)

	if err := service.UpsertParticipant(ctx, "eval-1", alice, domain.RankEntry{ParticipantID: "u1"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := service.UpsertParticipant(ctx, "eval-1", bob, domain.RankEntry{ParticipantID: "u2"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := service.UpdateScore(ctx, "eval-1", bob, "u2", 10, 1); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	for _, c := range []*chanConn{c1, c2} {
		c.next(t)
		c.next(t)
		snap := c.next(t)
		if len(snap.Entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(snap.Entries))
		}
		lead := snap.Entries[0]
		if lead.ParticipantID != "u2" || lead.Score != 10 || lead.DisplayName != "Bob" || lead.TotalQuestions != 2 {
			t.Fatalf("expected Bob to lead with 10 points, got %+v", lead)
		}
		if lead.Accuracy != 50 {
			t.Fatalf("expected accuracy 50, got %d", lead.Accuracy)
		}
	}

	top, err := service.Leaderboard(ctx, "eval-1", 1)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(top.Entries) != 1 || top.Entries[0].ParticipantID != "u2" {
		t.Fatalf("expected only Bob in top 1, got %+v", top.Entries)
	}

	entry, err := service.Participant(ctx, "eval-1", "u1")
	if err != nil {
		t.Fatalf("participant failed: %v", err)
	}
	if entry.DisplayName != "Alice" || entry.Score != 0 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, err := service.Participant(ctx, "eval-1", "u9"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWritesAreLimitedToOwnEntry(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	mallory := app.Identity{ParticipantID: "u3"}

	if err := service.Connect(ctx, "eval-1", newChanConn("c1")); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	err := service.UpsertParticipant(ctx, "eval-1", mallory, domain.RankEntry{ParticipantID: "u1"})
	if !errors.Is(err, domain.ErrForeignWrite) {
		t.Fatalf("expected foreign write, got %v", err)
	}
	err = service.UpdateScore(ctx, "eval-1", mallory, "u1", 100, 1)
	if !errors.Is(err, domain.ErrForeignWrite) {
		t.Fatalf("expected foreign write, got %v", err)
	}
}

func TestConnectRequiresKnownEvaluation(t *testing.T) {
	ctx := context.Background()
	service := newTestService()

	err := service.Connect(ctx, "eval-unknown", newChanConn("c1"))
	if !errors.Is(err, domain.ErrEvaluationNotFound) {
		t.Fatalf("expected evaluation error, got %v", err)
	}
	if _, err := service.Leaderboard(ctx, "eval-unknown", 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected no session, got %v", err)
	}
	err = service.UpdateScore(ctx, "eval-unknown", app.Identity{ParticipantID: "u1"}, "u1", 1, 1)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected no session, got %v", err)
	}
}

func TestReconnectKeepsStandings(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	alice := app.Identity{ParticipantID: "u1", DisplayName: "Alice"}

	c1 := newChanConn("c1")
	if err := service.Connect(ctx, "eval-1", c1); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	_ = service.UpsertParticipant(ctx, "eval-1", alice, domain.RankEntry{ParticipantID: "u1"})
	if err := service.UpdateScore(ctx, "eval-1", alice, "u1", 10, 1); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	service.Disconnect(ctx, "eval-1", c1)

	if _, err := service.Leaderboard(ctx, "eval-1", 0); err != nil {
		t.Fatalf("expected session to outlive its last connection, got %v", err)
	}

	c2 := newChanConn("c2")
	if err := service.Connect(ctx, "eval-1", c2); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	snap := c2.next(t)
	if len(snap.Entries) != 1 || snap.Entries[0].Score != 10 {
		t.Fatalf("expected the earlier standings on reconnect, got %+v", snap.Entries)
	}
	if err := service.UpdateScore(ctx, "eval-1", alice, "u1", 20, 2); err != nil {
		t.Fatalf("update after reconnect failed: %v", err)
	}
	if snap := c2.next(t); snap.Entries[0].Score != 20 {
		t.Fatalf("expected score 20, got %+v", snap.Entries[0])
	}
}

func TestIdleSessionIsEvicted(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{at: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	service := app.NewLeaderboardService(memory.NewHubStore(), newCatalog(),
		app.WithClock(clock.now),
		app.WithIdleTimeout(30*time.Minute))

	c1 := newChanConn("c1")
	_ = service.Connect(ctx, "eval-1", c1)
	_ = service.UpsertParticipant(ctx, "eval-1", app.Identity{ParticipantID: "u1"}, domain.RankEntry{ParticipantID: "u1"})

	clock.advance(2 * time.Hour)
	if n := service.EvictIdle(); n != 0 {
		t.Fatalf("connected session evicted")
	}

	service.Disconnect(ctx, "eval-1", c1)
	clock.advance(10 * time.Minute)
	if n := service.EvictIdle(); n != 0 {
		t.Fatalf("session evicted before the idle timeout")
	}

	clock.advance(25 * time.Minute)
	if n := service.EvictIdle(); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, err := service.Leaderboard(ctx, "eval-1", 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session to be gone, got %v", err)
	}
}

type savedStandings struct {
	snap domain.Snapshot
	err  error
}

func (s savedStandings) Latest(_ context.Context, evaluationID string) (domain.Snapshot, error) {
	if s.err != nil {
		return domain.Snapshot{}, s.err
	}
	snap := s.snap
	snap.EvaluationID = evaluationID
	return snap, nil
}

func TestNewSessionRestoresSavedStandings(t *testing.T) {
	ctx := context.Background()
	saved := savedStandings{snap: domain.Snapshot{
		Sequence: 41,
		Entries: []domain.RankEntry{
			{ParticipantID: "u1", DisplayName: "Alice", Score: 10, TotalQuestions: 2, AnsweredQuestions: 1, Rank: 1,
				LastUpdated: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		},
	}}
	service := app.NewLeaderboardService(memory.NewHubStore(), newCatalog(), app.WithSnapshotSource(saved))

	c1 := newChanConn("c1")
	if err := service.Connect(ctx, "eval-1", c1); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	snap := c1.next(t)
	if snap.Sequence <= 41 {
		t.Fatalf("expected numbering to continue after 41, got %d", snap.Sequence)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].Score != 10 || snap.Entries[0].PreviousRank != 1 {
		t.Fatalf("expected restored entry, got %+v", snap.Entries)
	}
	if err := service.UpdateScore(ctx, "eval-1", app.Identity{ParticipantID: "u1"}, "u1", 20, 2); err != nil {
		t.Fatalf("update of a restored participant failed: %v", err)
	}
}

func TestNewSessionStartsEmptyWhenStandingsUnavailable(t *testing.T) {
	ctx := context.Background()
	service := app.NewLeaderboardService(memory.NewHubStore(), newCatalog(),
		app.WithSnapshotSource(savedStandings{err: errors.New("redis down")}))

	c1 := newChanConn("c1")
	if err := service.Connect(ctx, "eval-1", c1); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if snap := c1.next(t); len(snap.Entries) != 0 {
		t.Fatalf("expected empty board, got %+v", snap.Entries)
	}
}

type refusingConn struct{ *chanConn }

func (c refusingConn) Send(domain.Snapshot) error { return errors.New("connection reset") }

func TestFailedFirstConnectionDropsNewSession(t *testing.T) {
	ctx := context.Background()
	service := newTestService()

	conn := refusingConn{newChanConn("c1")}
	if err := service.Connect(ctx, "eval-1", conn); !errors.Is(err, domain.ErrTransportSend) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := service.Leaderboard(ctx, "eval-1", 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected no session, got %v", err)
	}
	if !conn.closed.Load() {
		t.Fatalf("expected the failed connection to be closed")
	}
}

func TestStopClosesConnections(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	c1 := newChanConn("c1")
	_ = service.Connect(ctx, "eval-1", c1)

	service.Stop()
	if !c1.closed.Load() {
		t.Fatalf("expected connection to be closed on stop")
	}
	if _, err := service.Leaderboard(ctx, "eval-1", 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected no session after stop, got %v", err)
	}
}

func TestRequestSnapshotAnswersRequester(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	c1, c2 := newChanConn("c1"), newChanConn("c2")
	_ = service.Connect(ctx, "eval-1", c1)
	_ = service.Connect(ctx, "eval-1", c2)
	first := c1.next(t)
	c2.next(t)

	if err := service.RequestSnapshot(ctx, "eval-1", c1); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if snap := c1.next(t); snap.Sequence <= first.Sequence {
		t.Fatalf("expected a newer sequence than %d, got %d", first.Sequence, snap.Sequence)
	}
	select {
	case s := <-c2.out:
		t.Fatalf("c2 should not receive a snapshot, got %d", s.Sequence)
	default:
	}
}

type refreshingStore struct {
	*memory.HubStore
	calls atomic.Int32
}

func (s *refreshingStore) Refresh(context.Context) error {
	s.calls.Add(1)
	return nil
}

func TestStartSchedulesLivenessRefresh(t *testing.T) {
	store := &refreshingStore{HubStore: memory.NewHubStore()}
	service := app.NewLeaderboardService(store, newCatalog(), app.WithRefreshInterval(time.Minute))
	if err := service.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer service.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for store.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("refresh never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newCatalog() *memory.CatalogRepository {
	return memory.NewCatalogRepository(memory.NewStaticEvaluationLoader(map[string]domain.Evaluation{
		"eval-1": {
			ID: "eval-1",
			Questions: []domain.Question{
				{ID: "q1", Points: 10, Options: []domain.Option{{ID: "o1"}, {ID: "o2", Correct: true}}},
				{ID: "q2", Points: 10, Options: []domain.Option{{ID: "o1", Correct: true}, {ID: "o2"}}},
			},
		},
	}), time.Minute)
}

type manualClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func newTestService() *app.LeaderboardService {
	return app.NewLeaderboardService(memory.NewHubStore(), newCatalog())
}
