package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"live-leaderboard-service/internal/domain"
	"live-leaderboard-service/internal/hub"
	"live-leaderboard-service/internal/ranking"
)

// HubRepository abstracts where live hubs are kept (in-memory, Redis-marked, etc).
type HubRepository interface {
	GetOrCreate(evaluationID string, create func() *hub.Hub) *hub.Hub
	Get(evaluationID string) (*hub.Hub, bool)
	DeleteIfIdle(evaluationID string)
	All() []*hub.Hub
}

// CatalogRepository loads evaluation content (from cache/backing store).
type CatalogRepository interface {
	GetEvaluation(ctx context.Context, evaluationID string) (domain.Evaluation, error)
}

// SnapshotSource returns the last known standings of an evaluation. A hub created
// after a restart or an idle eviction is seeded from it.
type SnapshotSource interface {
	Latest(ctx context.Context, evaluationID string) (domain.Snapshot, error)
}

// refresher is implemented by repositories that keep external liveness markers.
type refresher interface {
	Refresh(ctx context.Context) error
}

// Identity is the participant a connection speaks for, as supplied by the caller.
type Identity struct {
	ParticipantID string
	DisplayName   string
}

// LeaderboardService contains the live leaderboard use cases.
type LeaderboardService struct {
	hubs         HubRepository
	catalog      CatalogRepository
	logger       *zap.Logger
	metrics      hub.Metrics
	observer     hub.Observer
	source       SnapshotSource
	refreshEvery time.Duration
	idleTimeout  time.Duration
	now          func() time.Time

	// mu pairs hub lookup with (un)registration so an idle hub is never
	// evicted between being handed out and receiving its connection.
	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

// ServiceOption customizes a LeaderboardService.
type ServiceOption func(*LeaderboardService)

// WithLogger sets the service logger, shared with every hub it creates.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *LeaderboardService) { s.logger = logger }
}

// WithMetrics sets the metrics sink handed to every hub.
func WithMetrics(m hub.Metrics) ServiceOption {
	return func(s *LeaderboardService) { s.metrics = m }
}

// WithSnapshotObserver attaches o to every hub the service creates.
func WithSnapshotObserver(o hub.Observer) ServiceOption {
	return func(s *LeaderboardService) { s.observer = o }
}

// WithSnapshotSource seeds newly created hubs from src.
func WithSnapshotSource(src SnapshotSource) ServiceOption {
	return func(s *LeaderboardService) { s.source = src }
}

// WithRefreshInterval sets how often the maintenance job runs: it refreshes
// repository liveness markers and evicts idle hubs. Zero disables the job.
func WithRefreshInterval(d time.Duration) ServiceOption {
	return func(s *LeaderboardService) { s.refreshEvery = d }
}

// WithIdleTimeout sets how long a hub without connections keeps its standings
// before it is evicted. Zero keeps hubs until Stop.
func WithIdleTimeout(d time.Duration) ServiceOption {
	return func(s *LeaderboardService) { s.idleTimeout = d }
}

// WithClock overrides the time source used for idle tracking (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *LeaderboardService) { s.now = now }
}

// NewLeaderboardService wires the service over its repositories. Hubs are
// created lazily by Connect.
func NewLeaderboardService(hubs HubRepository, catalog CatalogRepository, opts ...ServiceOption) *LeaderboardService {
	s := &LeaderboardService{
		hubs:         hubs,
		catalog:      catalog,
		logger:       zap.NewNop(),
		metrics:      hub.NopMetrics{},
		refreshEvery: time.Minute,
		idleTimeout:  30 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules background maintenance.
func (s *LeaderboardService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshEvery <= 0 || s.scheduler != nil {
		return nil
	}
	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(s.refreshEvery).Do(func() {
		if n := s.EvictIdle(); n > 0 {
			s.logger.Info("idle leaderboard sessions evicted", zap.Int("count", n))
		}
		r, ok := s.hubs.(refresher)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.refreshEvery)
		defer cancel()
		if err := r.Refresh(ctx); err != nil {
			s.logger.Warn("refresh hub liveness", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	scheduler.StartAsync()
	s.scheduler = scheduler
	return nil
}

// Stop halts background jobs and every live hub.
func (s *LeaderboardService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		s.scheduler.Stop()
		s.scheduler = nil
	}
	for _, h := range s.hubs.All() {
		h.Stop()
		s.hubs.DeleteIfIdle(h.EvaluationID())
	}
}

// EvictIdle stops and forgets every hub that has had no connection for longer
// than the idle timeout, and reports how many went.
func (s *LeaderboardService) EvictIdle() int {
	if s.idleTimeout <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for _, h := range s.hubs.All() {
		if h.Connections() > 0 || h.IdleFor(now) < s.idleTimeout {
			continue
		}
		s.hubs.DeleteIfIdle(h.EvaluationID())
		evicted++
		s.logger.Info("leaderboard session evicted", zap.String("evaluation_id", h.EvaluationID()))
	}
	return evicted
}

// Evaluation returns catalog content for an evaluation.
func (s *LeaderboardService) Evaluation(ctx context.Context, evaluationID string) (domain.Evaluation, error) {
	return s.catalog.GetEvaluation(ctx, evaluationID)
}

// Connect registers conn with the evaluation's hub, creating the hub and its cache
// on first connection. The connection immediately receives the current snapshot.
func (s *LeaderboardService) Connect(ctx context.Context, evaluationID string, conn hub.Connection) error {
	// Users cannot join unknown evaluations.
	eval, err := s.catalog.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	h := s.hubs.GetOrCreate(evaluationID, func() *hub.Hub {
		created = true
		return s.newHub(ctx, eval)
	})
	if err := h.RegisterConnection(conn); err != nil {
		if created {
			s.hubs.DeleteIfIdle(evaluationID)
		}
		return err
	}
	return nil
}

func (s *LeaderboardService) newHub(ctx context.Context, eval domain.Evaluation) *hub.Hub {
	opts := []hub.Option{
		hub.WithLogger(s.logger),
		hub.WithMetrics(s.metrics),
		hub.WithClock(s.now),
	}
	if s.observer != nil {
		opts = append(opts, hub.WithObserver(s.observer))
	}
	h := hub.New(eval.ID, ranking.New(eval.PointsPerQuestion()), opts...)
	h.Start()

	log := s.logger.With(zap.String("evaluation_id", eval.ID))
	if s.source == nil {
		log.Info("leaderboard session created")
		return h
	}
	snap, err := s.source.Latest(ctx, eval.ID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		log.Info("leaderboard session created")
	case err != nil:
		log.Warn("leaderboard session created without saved standings", zap.Error(err))
	default:
		h.ResumeAfter(snap.Sequence)
		if err := h.Initialize(ctx, snap.Entries); err != nil {
			log.Warn("restore standings", zap.Error(err))
			break
		}
		log.Info("leaderboard session restored",
			zap.Int("participants", len(snap.Entries)),
			zap.Uint64("saved_sequence", snap.Sequence))
	}
	return h
}

// Disconnect unregisters conn. The hub keeps its standings so participants can
// reconnect; EvictIdle discards it once it has been idle long enough.
func (s *LeaderboardService) Disconnect(_ context.Context, evaluationID string, conn hub.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hubs.Get(evaluationID)
	if !ok {
		return
	}
	h.UnregisterConnection(conn)
}

// UpsertParticipant registers or replaces the caller's own entry.
func (s *LeaderboardService) UpsertParticipant(ctx context.Context, evaluationID string, who Identity, entry domain.RankEntry) error {
	if entry.ParticipantID != who.ParticipantID {
		return fmt.Errorf("upsert %q as %q: %w", entry.ParticipantID, who.ParticipantID, domain.ErrForeignWrite)
	}
	h, ok := s.hubs.Get(evaluationID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if entry.DisplayName == "" {
		entry.DisplayName = who.DisplayName
	}
	if entry.TotalQuestions == 0 {
		eval, err := s.catalog.GetEvaluation(ctx, evaluationID)
		if err != nil {
			return err
		}
		entry.TotalQuestions = len(eval.Questions)
	}
	return h.HandleUpsert(ctx, entry)
}

// UpdateScore applies the caller's own score update.
func (s *LeaderboardService) UpdateScore(ctx context.Context, evaluationID string, who Identity, participantID string, score, answered int) error {
	if participantID != who.ParticipantID {
		return fmt.Errorf("update %q as %q: %w", participantID, who.ParticipantID, domain.ErrForeignWrite)
	}
	h, ok := s.hubs.Get(evaluationID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return h.HandleScoreUpdate(ctx, participantID, score, answered)
}

// RequestSnapshot sends the current snapshot to conn only.
func (s *LeaderboardService) RequestSnapshot(_ context.Context, evaluationID string, conn hub.Connection) error {
	h, ok := s.hubs.Get(evaluationID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return h.HandleSnapshotRequest(conn)
}

// Leaderboard returns the current ranked snapshot, truncated to top when positive.
func (s *LeaderboardService) Leaderboard(_ context.Context, evaluationID string, top int) (domain.Snapshot, error) {
	h, ok := s.hubs.Get(evaluationID)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	if top > 0 {
		return h.Top(top), nil
	}
	return h.Snapshot(), nil
}

// Participant returns one participant's cached entry.
func (s *LeaderboardService) Participant(_ context.Context, evaluationID, participantID string) (domain.RankEntry, error) {
	h, ok := s.hubs.Get(evaluationID)
	if !ok {
		return domain.RankEntry{}, domain.ErrSessionNotFound
	}
	return h.Participant(participantID)
}
