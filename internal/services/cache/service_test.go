package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/describo/internal/common"
	"github.com/ternarybob/describo/internal/models"
)

func newTestCache(t *testing.T, ttlHours int) *Service {
	store, err := NewService(common.CacheConfig{
		Enabled:  true,
		Path:     t.TempDir(),
		TTLHours: ttlHours,
	}, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store.(*Service)
}

func TestPutAndGet(t *testing.T) {
	cache := newTestCache(t, 24)

	desc := &models.Description{
		Hash:      "abc123",
		Reference: "https://example.com/a.png",
		Answer:    "a description",
		Provider:  "appbuilder",
	}
	require.NoError(t, cache.Put(desc))

	got, found := cache.Get("abc123")
	require.True(t, found)
	assert.Equal(t, "a description", got.Answer)
	assert.Equal(t, "https://example.com/a.png", got.Reference)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetMiss(t *testing.T) {
	cache := newTestCache(t, 24)

	_, found := cache.Get("no-such-hash")
	assert.False(t, found)
}

func TestPutRequiresHash(t *testing.T) {
	cache := newTestCache(t, 24)
	assert.Error(t, cache.Put(&models.Description{Answer: "x"}))
}

func TestExpiredEntryIsMiss(t *testing.T) {
	cache := newTestCache(t, 1)

	desc := &models.Description{
		Hash:      "stale",
		Answer:    "old description",
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, cache.Put(desc))

	_, found := cache.Get("stale")
	assert.False(t, found)

	// The stale entry was evicted, a fresh Put works again
	require.NoError(t, cache.Put(&models.Description{Hash: "stale", Answer: "new"}))
	got, found := cache.Get("stale")
	require.True(t, found)
	assert.Equal(t, "new", got.Answer)
}

func TestUpsertReplacesEntry(t *testing.T) {
	cache := newTestCache(t, 24)

	require.NoError(t, cache.Put(&models.Description{Hash: "h", Answer: "first"}))
	require.NoError(t, cache.Put(&models.Description{Hash: "h", Answer: "second"}))

	got, found := cache.Get("h")
	require.True(t, found)
	assert.Equal(t, "second", got.Answer)
}
