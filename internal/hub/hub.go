// Package hub fans ranking snapshots out to every connection of one live evaluation
// and relays inbound mutations into its ranking cache.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"live-leaderboard-service/internal/domain"
	"live-leaderboard-service/internal/ranking"
)

// Connection is one subscribed transport. Send must not block: implementations
// buffer or hand off to their own writer and fail fast when they cannot.
// Close is called when the hub lets go of the connection and must be idempotent.
type Connection interface {
	ID() string
	Send(snapshot domain.Snapshot) error
	Close()
}

// Observer is notified of every snapshot broadcast to the connection set.
type Observer interface {
	Observe(ctx context.Context, snapshot domain.Snapshot) error
}

// Hub bridges one ranking cache to its connections. A single mutex covers
// mutate, rank and fan-out so every connection sees broadcasts in mutation order.
type Hub struct {
	evaluationID string
	cache        *ranking.Cache
	logger       *zap.Logger
	metrics      Metrics
	observer     Observer
	now          func() time.Time

	mu        sync.Mutex
	conns     map[string]Connection
	sequence  uint64
	running   bool
	idleSince time.Time
}

// Option customizes a Hub.
type Option func(*Hub)

// WithLogger sets the logger; the evaluation ID is added to every entry.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithMetrics sets the metrics sink. Defaults to NopMetrics.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithObserver sets o to be called after every broadcast.
func WithObserver(o Observer) Option {
	return func(h *Hub) { h.observer = o }
}

// WithClock overrides the snapshot timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// New creates a stopped hub around cache. Call Start before registering connections.
func New(evaluationID string, cache *ranking.Cache, opts ...Option) *Hub {
	h := &Hub{
		evaluationID: evaluationID,
		cache:        cache,
		logger:       zap.NewNop(),
		metrics:      NopMetrics{},
		now:          time.Now,
		conns:        make(map[string]Connection),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.idleSince = h.now()
	h.logger = h.logger.With(zap.String("evaluation_id", evaluationID))
	return h
}

// EvaluationID returns the evaluation this hub serves.
func (h *Hub) EvaluationID() string { return h.evaluationID }

// Start makes the hub accept connections and updates.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
}

// Stop closes and unregisters every connection. Subsequent calls return ErrHubStopped.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	for id, conn := range h.conns {
		conn.Close()
		delete(h.conns, id)
	}
	h.idleSince = h.now()
	h.metrics.SetConnections(h.evaluationID, 0)
	h.logger.Info("hub stopped")
}

// Running reports whether the hub was started and not stopped.
func (h *Hub) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Initialize replaces the cache contents with a seed list and broadcasts the result.
func (h *Hub) Initialize(ctx context.Context, entries []domain.RankEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return domain.ErrHubStopped
	}
	h.cache.Initialize(entries)
	h.broadcastLocked(ctx)
	return nil
}

// ResumeAfter continues snapshot numbering after sequence, so a hub that takes
// over saved standings never reissues numbers clients have already applied.
func (h *Hub) ResumeAfter(sequence uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sequence > h.sequence {
		h.sequence = sequence
	}
}

// RegisterConnection adds conn to the fan-out set and sends it the current snapshot.
func (h *Hub) RegisterConnection(conn Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return domain.ErrHubStopped
	}

	h.conns[conn.ID()] = conn
	h.metrics.SetConnections(h.evaluationID, len(h.conns))
	h.logger.Debug("connection registered", zap.String("connection_id", conn.ID()))

	if err := conn.Send(h.snapshotLocked()); err != nil {
		h.dropLocked(conn.ID(), err)
		return fmt.Errorf("initial snapshot: %w", errors.Join(domain.ErrTransportSend, err))
	}
	return nil
}

// UnregisterConnection removes conn. Departure alone does not trigger a broadcast.
func (h *Hub) UnregisterConnection(conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID()]; !ok {
		return
	}
	delete(h.conns, conn.ID())
	h.markIdleLocked()
	h.metrics.SetConnections(h.evaluationID, len(h.conns))
	h.logger.Debug("connection unregistered", zap.String("connection_id", conn.ID()))
}

// HandleScoreUpdate applies a score update and broadcasts to every connection,
// the sender included. Rejected updates are not broadcast.
func (h *Hub) HandleScoreUpdate(ctx context.Context, participantID string, score, answered int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return domain.ErrHubStopped
	}

	if err := h.cache.UpdateScore(participantID, score, answered); err != nil {
		h.metrics.ObserveUpdate(h.evaluationID, "score", outcome(err))
		h.logger.Info("score update rejected",
			zap.String("participant_id", participantID),
			zap.Int("score", score),
			zap.Int("answered", answered),
			zap.Error(err))
		return err
	}
	h.metrics.ObserveUpdate(h.evaluationID, "score", outcome(nil))
	h.broadcastLocked(ctx)
	return nil
}

// HandleUpsert inserts or replaces a participant and broadcasts.
func (h *Hub) HandleUpsert(ctx context.Context, entry domain.RankEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return domain.ErrHubStopped
	}

	if err := h.cache.Upsert(entry); err != nil {
		h.metrics.ObserveUpdate(h.evaluationID, "upsert", outcome(err))
		h.logger.Info("upsert rejected", zap.String("participant_id", entry.ParticipantID), zap.Error(err))
		return err
	}
	h.metrics.ObserveUpdate(h.evaluationID, "upsert", outcome(nil))
	h.broadcastLocked(ctx)
	return nil
}

// HandleSnapshotRequest sends the current snapshot to conn only.
func (h *Hub) HandleSnapshotRequest(conn Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return domain.ErrHubStopped
	}
	if err := conn.Send(h.snapshotLocked()); err != nil {
		h.dropLocked(conn.ID(), err)
		return errors.Join(domain.ErrTransportSend, err)
	}
	return nil
}

// Snapshot returns the current ranked snapshot without sending it anywhere.
func (h *Hub) Snapshot() domain.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Top returns a snapshot holding only the n best entries.
func (h *Hub) Top(n int) domain.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stampLocked(h.cache.Top(n))
}

// Participant returns the cached entry for participantID.
func (h *Hub) Participant(participantID string) (domain.RankEntry, error) {
	return h.cache.Get(participantID)
}

// Connections reports the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// IdleFor reports how long the hub has had no connections; zero while any is registered.
func (h *Hub) IdleFor(now time.Time) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) > 0 {
		return 0
	}
	return now.Sub(h.idleSince)
}

func (h *Hub) markIdleLocked() {
	if len(h.conns) == 0 {
		h.idleSince = h.now()
	}
}

func (h *Hub) snapshotLocked() domain.Snapshot {
	return h.stampLocked(h.cache.Ranked())
}

func (h *Hub) stampLocked(entries []domain.RankEntry) domain.Snapshot {
	h.sequence++
	return domain.Snapshot{
		EvaluationID: h.evaluationID,
		Sequence:     h.sequence,
		Entries:      entries,
		GeneratedAt:  h.now(),
	}
}

func (h *Hub) broadcastLocked(ctx context.Context) {
	start := time.Now()
	snap := h.snapshotLocked()
	for id, conn := range h.conns {
		if err := conn.Send(snap); err != nil {
			h.dropLocked(id, err)
		}
	}
	h.metrics.ObserveBroadcast(h.evaluationID, time.Since(start))

	if h.observer != nil {
		if err := h.observer.Observe(ctx, snap); err != nil {
			h.logger.Warn("snapshot observer failed", zap.Uint64("sequence", snap.Sequence), zap.Error(err))
		}
	}
}

// dropLocked unregisters a connection whose send failed. The failure stays local to it.
func (h *Hub) dropLocked(id string, err error) {
	if conn, ok := h.conns[id]; ok {
		conn.Close()
	}
	delete(h.conns, id)
	h.markIdleLocked()
	h.metrics.SetConnections(h.evaluationID, len(h.conns))
	h.metrics.IncSendFailures(h.evaluationID)
	h.logger.Warn("dropping connection after send failure",
		zap.String("connection_id", id),
		zap.Error(errors.Join(domain.ErrTransportSend, err)))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrScoreRegression):
		return "regression"
	case errors.Is(err, domain.ErrMalformedUpdate):
		return "malformed"
	default:
		return "error"
	}
}
