package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-leaderboard-service/internal/hub"
	"live-leaderboard-service/internal/ranking"
)

func newHub() *hub.Hub {
	h := hub.New("eval-1", ranking.New(10))
	h.Start()
	return h
}

func TestHubStoreSetsAndClearsKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewHubStore(newClient(mr), time.Minute)

	_ = store.GetOrCreate("eval-1", newHub)
	require.True(t, mr.Exists("leaderboard:session:eval-1"), "expected redis key to be set")

	store.DeleteIfIdle("eval-1")
	assert.False(t, mr.Exists("leaderboard:session:eval-1"), "expected redis key to be removed")
	_, ok := store.Get("eval-1")
	assert.False(t, ok)
}

func TestHubStoreRefreshExtendsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewHubStore(newClient(mr), time.Minute)

	_ = store.GetOrCreate("eval-1", newHub)
	mr.FastForward(50 * time.Second)
	require.NoError(t, store.Refresh(context.Background()))
	mr.FastForward(50 * time.Second)

	assert.True(t, mr.Exists("leaderboard:session:eval-1"))
	assert.Equal(t, time.Minute-50*time.Second, mr.TTL("leaderboard:session:eval-1"))
}
