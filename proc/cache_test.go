package proc

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxFiles int, maxBytes int64, fileSize int) *AudioCache {
	t.Helper()
	c := NewAudioCache(t.TempDir(), maxFiles, maxBytes, stubDownloader(fileSize))
	require.NoError(t, c.Init())
	return c
}

func TestCacheEnsureDownloaded(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, 1000)

	path, err := c.EnsureDownloaded(context.Background(), "aaaaaaaaaaa", "")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.True(t, c.Contains("aaaaaaaaaaa"))
	assert.Equal(t, path, c.Path("aaaaaaaaaaa"))

	count, size := c.Stats()
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(1000), size)
}

func TestCacheFileCountBound(t *testing.T) {
	c := newTestCache(t, 10, 1<<30, 100)

	ids := make([]string, 11)
	for i := range ids {
		ids[i] = fmt.Sprintf("video%06d", i)
		_, err := c.EnsureDownloaded(context.Background(), ids[i], "")
		require.NoError(t, err)
	}

	count, size := c.Stats()
	assert.Equal(t, 10, count)
	assert.Equal(t, int64(1000), size)

	// The 11th insert evicts the oldest entry, not the newest.
	assert.False(t, c.Contains(ids[0]))
	assert.True(t, c.Contains(ids[1]))
	assert.True(t, c.Contains(ids[10]))
}

func TestCacheByteBound(t *testing.T) {
	c := newTestCache(t, 100, 2500, 1000)

	for i := 0; i < 4; i++ {
		_, err := c.EnsureDownloaded(context.Background(), fmt.Sprintf("video%06d", i), "")
		require.NoError(t, err)
	}

	count, size := c.Stats()
	assert.LessOrEqual(t, size, int64(2500))
	assert.Equal(t, 2, count)
	assert.False(t, c.Contains("video000000"))
	assert.True(t, c.Contains("video000003"))
}

func TestCacheRemoveIdempotent(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, 500)

	_, err := c.EnsureDownloaded(context.Background(), "aaaaaaaaaaa", "")
	require.NoError(t, err)

	c.Remove("aaaaaaaaaaa")
	c.Remove("aaaaaaaaaaa")
	c.Remove("never-cached")

	count, size := c.Stats()
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), size)
}

func TestCacheConcurrentEnsureSharesDownload(t *testing.T) {
	var mu sync.Mutex
	downloads := 0
	dl := func(ctx context.Context, videoID, pageURL, dir string) (string, error) {
		mu.Lock()
		downloads++
		mu.Unlock()
		return stubDownloader(100)(ctx, videoID, pageURL, dir)
	}

	c := NewAudioCache(t.TempDir(), 10, 1<<20, dl)
	require.NoError(t, c.Init())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.EnsureDownloaded(context.Background(), "aaaaaaaaaaa", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, downloads)
}

func TestCachePurgeAll(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, 100)

	for i := 0; i < 5; i++ {
		_, err := c.EnsureDownloaded(context.Background(), fmt.Sprintf("video%06d", i), "")
		require.NoError(t, err)
	}

	c.PurgeAll()
	count, size := c.Stats()
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), size)
}
