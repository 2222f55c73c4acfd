package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-leaderboard-service/internal/domain"
)

// EvaluationLoader fetches evaluation content from a backing store (e.g., Postgres).
type EvaluationLoader interface {
	LoadEvaluation(ctx context.Context, evaluationID string) (domain.Evaluation, error)
}

// CatalogRepository caches evaluations with TTL to avoid repeated loader hits.
type CatalogRepository struct {
	loader EvaluationLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.Mutex // guards rnd and cache
	rnd   *rand.Rand
	cache map[string]cachedEvaluation
}

type cachedEvaluation struct {
	evaluation domain.Evaluation
	expiresAt  time.Time
}

func NewCatalogRepository(loader EvaluationLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedEvaluation),
	}
}

func (r *CatalogRepository) GetEvaluation(ctx context.Context, evaluationID string) (domain.Evaluation, error) {
	if eval, ok := r.lookup(evaluationID); ok {
		return eval, nil
	}

	result, err, _ := r.sf.Do(evaluationID, func() (interface{}, error) {
		// Another caller may have filled the cache while we waited.
		if eval, ok := r.lookup(evaluationID); ok {
			return eval, nil
		}

		eval, err := r.loader.LoadEvaluation(ctx, evaluationID)
		if err != nil {
			return domain.Evaluation{}, err
		}

		r.mu.Lock()
		r.cache[evaluationID] = cachedEvaluation{
			evaluation: eval,
			expiresAt:  r.clock().Add(r.ttlWithJitterLocked()),
		}
		r.mu.Unlock()
		return eval, nil
	})
	if err != nil {
		return domain.Evaluation{}, err
	}
	return result.(domain.Evaluation), nil
}

func (r *CatalogRepository) lookup(evaluationID string) (domain.Evaluation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[evaluationID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Evaluation{}, false
	}
	return entry.evaluation, true
}

// ttlWithJitterLocked adds up to 10% jitter to spread expirations.
func (r *CatalogRepository) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticEvaluationLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticEvaluationLoader struct {
	evaluations map[string]domain.Evaluation
}

func NewStaticEvaluationLoader(evaluations map[string]domain.Evaluation) *StaticEvaluationLoader {
	return &StaticEvaluationLoader{evaluations: evaluations}
}

func (l *StaticEvaluationLoader) LoadEvaluation(_ context.Context, evaluationID string) (domain.Evaluation, error) {
	if eval, ok := l.evaluations[evaluationID]; ok {
		return eval, nil
	}
	return domain.Evaluation{}, domain.ErrEvaluationNotFound
}
