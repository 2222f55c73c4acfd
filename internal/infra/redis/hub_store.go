package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"live-leaderboard-service/internal/hub"
)

// HubStore is a Redis-aware implementation of app.HubRepository.
// Hubs stay in process memory; Redis only carries a liveness marker per live
// evaluation so other instances and dashboards can see which sessions are running.
type HubStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	hubs   map[string]*hub.Hub
}

func NewHubStore(client *redis.Client, ttl time.Duration) *HubStore {
	return &HubStore{
		client: client,
		ttl:    ttl,
		hubs:   make(map[string]*hub.Hub),
	}
}

func (s *HubStore) GetOrCreate(evaluationID string, create func() *hub.Hub) *hub.Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hubs[evaluationID]; ok {
		return h
	}
	h := create()
	s.hubs[evaluationID] = h
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), liveKey(evaluationID), "1", s.ttl).Err()
	return h
}

func (s *HubStore) Get(evaluationID string) (*hub.Hub, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hubs[evaluationID]
	return h, ok
}

func (s *HubStore) DeleteIfIdle(evaluationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[evaluationID]
	if !ok {
		return
	}
	if h.Connections() == 0 {
		h.Stop()
		delete(s.hubs, evaluationID)
		_ = s.client.Del(context.Background(), liveKey(evaluationID)).Err()
	}
}

func (s *HubStore) All() []*hub.Hub {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*hub.Hub, 0, len(s.hubs))
	for _, h := range s.hubs {
		out = append(out, h)
	}
	return out
}

// Refresh extends the liveness marker of every live hub. It is run periodically so
// long sessions do not outlive their TTL.
func (s *HubStore) Refresh(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.hubs))
	for id := range s.hubs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, liveKey(id), "1", s.ttl)
	}
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func liveKey(evaluationID string) string {
	return "leaderboard:session:" + evaluationID
}
