package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-leaderboard-service/internal/domain"
)

// EvaluationLoader fetches evaluation content from a backing store (e.g., Postgres).
type EvaluationLoader interface {
	LoadEvaluation(ctx context.Context, evaluationID string) (domain.Evaluation, error)
}

// CatalogRepository caches evaluations in Redis and falls back to a loader on cache miss.
// Evaluations are stored as JSON: SET evaluation:{evaluationID} {json} EX ttl
type CatalogRepository struct {
	client *redis.Client
	loader EvaluationLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewCatalogRepository(client *redis.Client, loader EvaluationLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *CatalogRepository) GetEvaluation(ctx context.Context, evaluationID string) (domain.Evaluation, error) {
	if eval, ok := r.cached(ctx, evaluationID); ok {
		return eval, nil
	}

	result, err, _ := r.sf.Do(evaluationID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if eval, ok := r.cached(ctx, evaluationID); ok {
			return eval, nil
		}

		eval, err := r.loader.LoadEvaluation(ctx, evaluationID)
		if err != nil {
			return domain.Evaluation{}, err
		}

		data, err := json.Marshal(eval)
		if err != nil {
			return domain.Evaluation{}, fmt.Errorf("marshal evaluation: %w", err)
		}
		// Best effort: a failed write only costs another loader call.
		_ = r.client.Set(ctx, evaluationKey(evaluationID), data, r.ttlWithJitter()).Err()
		return eval, nil
	})
	if err != nil {
		return domain.Evaluation{}, err
	}
	return result.(domain.Evaluation), nil
}

func (r *CatalogRepository) cached(ctx context.Context, evaluationID string) (domain.Evaluation, bool) {
	data, err := r.client.Get(ctx, evaluationKey(evaluationID)).Bytes()
	if err != nil {
		return domain.Evaluation{}, false
	}
	var eval domain.Evaluation
	if err := json.Unmarshal(data, &eval); err != nil {
		return domain.Evaluation{}, false
	}
	return eval, true
}

// Invalidate drops a cached evaluation so the next read goes to the loader.
func (r *CatalogRepository) Invalidate(ctx context.Context, evaluationID string) error {
	err := r.client.Del(ctx, evaluationKey(evaluationID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate evaluation %q: %w", evaluationID, err)
	}
	return nil
}

func evaluationKey(evaluationID string) string {
	return "evaluation:" + evaluationID
}

func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
