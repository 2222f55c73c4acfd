package memory

import (
	"sync"

	"live-leaderboard-service/internal/hub"
)

// HubStore is an in-memory implementation of app.HubRepository.
type HubStore struct {
	mu   sync.RWMutex
	hubs map[string]*hub.Hub
}

func NewHubStore() *HubStore {
	return &HubStore{
		hubs: make(map[string]*hub.Hub),
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
	return h
}

func (s *HubStore) Get(evaluationID string) (*hub.Hub, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hubs[evaluationID]
	return h, ok
}

// DeleteIfIdle stops and forgets the hub when it has no connections left.
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
