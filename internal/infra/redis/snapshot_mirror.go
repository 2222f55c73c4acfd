package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"live-leaderboard-service/internal/domain"
)

// SnapshotMirror copies broadcast snapshots into Redis so readers outside the
// process can show the latest standings. It implements hub.Observer; Observe only
// enqueues, the Redis writes happen in Run.
//
//	SET   leaderboard:{evaluationID}:snapshot {json} EX ttl
//	ZADD  leaderboard:{evaluationID}:scores   {score} {participantID}
type SnapshotMirror struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	queue  chan domain.Snapshot
}

func NewSnapshotMirror(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotMirror{
		client: client,
		ttl:    ttl,
		logger: logger,
		queue:  make(chan domain.Snapshot, 64),
	}
}

// Observe queues snapshot for mirroring without blocking the caller.
func (m *SnapshotMirror) Observe(_ context.Context, snapshot domain.Snapshot) error {
	select {
	case m.queue <- snapshot:
	default:
		// Drop the oldest queued snapshot; only the latest standings matter.
		select {
		case <-m.queue:
		default:
		}
		select {
		case m.queue <- snapshot:
		default:
			return fmt.Errorf("mirror queue full, snapshot %d dropped", snapshot.Sequence)
		}
	}
	return nil
}

// Run writes queued snapshots until ctx is done.
func (m *SnapshotMirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-m.queue:
			if err := m.Write(ctx, snap); err != nil {
				m.logger.Warn("mirror snapshot",
					zap.String("evaluation_id", snap.EvaluationID),
					zap.Uint64("sequence", snap.Sequence),
					zap.Error(err))
			}
		}
	}
}

// Write stores snapshot as the latest standings of its evaluation.
func (m *SnapshotMirror) Write(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	scores := scoresKey(snapshot.EvaluationID)
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, snapshotKey(snapshot.EvaluationID), data, m.ttl)
	pipe.Del(ctx, scores)
	if len(snapshot.Entries) > 0 {
		members := make([]redis.Z, 0, len(snapshot.Entries))
		for _, e := range snapshot.Entries {
			members = append(members, redis.Z{Score: float64(e.Score), Member: e.ParticipantID})
		}
		pipe.ZAdd(ctx, scores, members...)
		if m.ttl > 0 {
			pipe.Expire(ctx, scores, m.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror snapshot %d: %w", snapshot.Sequence, err)
	}
	return nil
}

// Latest returns the last mirrored snapshot of an evaluation.
func (m *SnapshotMirror) Latest(ctx context.Context, evaluationID string) (domain.Snapshot, error) {
	data, err := m.client.Get(ctx, snapshotKey(evaluationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func snapshotKey(evaluationID string) string {
	return "leaderboard:" + evaluationID + ":snapshot"
}

func scoresKey(evaluationID string) string {
	return "leaderboard:" + evaluationID + ":scores"
}
