package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yuigahama/hibiki/sys"
)

const downloadTimeout = 60 * time.Second

// Downloader fetches the audio for a video into dir and returns the file path.
// The production implementation shells out to yt-dlp; tests substitute a stub.
type Downloader func(ctx context.Context, videoID, pageURL, dir string) (string, error)

// AudioCache keeps a bounded set of pre-downloaded audio files so playback can
// start from local disk instead of a remote stream. Bounds hold on both file
// count and total bytes; the oldest entries are evicted first.
type AudioCache struct {
	mu       sync.Mutex
	dir      string
	maxFiles int
	maxBytes int64
	download Downloader

	files map[string]*cacheEntry
	order []string // insertion order, oldest first
	size  int64

	inflight map[string]chan struct{}
	workers  chan struct{}
}

type cacheEntry struct {
	path string
	size int64
}

func NewAudioCache(dir string, maxFiles int, maxBytes int64, dl Downloader) *AudioCache {
	if dl == nil {
		dl = downloadWithYtdlp
	}
	return &AudioCache{
		dir:      dir,
		maxFiles: maxFiles,
		maxBytes: maxBytes,
		download: dl,
		files:    make(map[string]*cacheEntry),
		inflight: make(map[string]chan struct{}),
		workers:  make(chan struct{}, 2),
	}
}

// Init creates the cache directory and clears any files left over from a
// previous run. Cached entries do not survive restarts.
func (c *AudioCache) Init() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		_ = os.Remove(filepath.Join(c.dir, e.Name()))
	}
	return nil
}

// Contains reports whether the track's audio is already on disk.
func (c *AudioCache) Contains(videoID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[videoID]
	return ok
}

// Path returns the local file for a cached track, or "" when absent.
func (c *AudioCache) Path(videoID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.files[videoID]; ok {
		return e.path
	}
	return ""
}

// Stats returns the current file count and total size in bytes.
func (c *AudioCache) Stats() (int, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files), c.size
}

// EnsureDownloaded returns a local path for the track, downloading it if
// needed. Concurrent calls for the same track share one download. The whole
// operation is bounded by a fixed budget so a stalled download cannot wedge
// playback.
func (c *AudioCache) EnsureDownloaded(ctx context.Context, videoID, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	for {
		c.mu.Lock()
		if e, ok := c.files[videoID]; ok {
			c.mu.Unlock()
			return e.path, nil
		}
		if waiter, ok := c.inflight[videoID]; ok {
			c.mu.Unlock()
			select {
			case <-waiter:
				// Download settled; loop to read the outcome.
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		done := make(chan struct{})
		c.inflight[videoID] = done
		c.mu.Unlock()

		path, err := c.runDownload(ctx, videoID, pageURL)

		c.mu.Lock()
		delete(c.inflight, videoID)
		close(done)
		if err != nil {
			c.mu.Unlock()
			return "", err
		}
		c.admit(videoID, path)
		c.mu.Unlock()
		sys.LogCache("Cached %s (%s)", videoID, path)
		return path, nil
	}
}

// StartBackgroundDownload kicks off a download without waiting for it.
// Already cached or in-flight tracks are skipped.
func (c *AudioCache) StartBackgroundDownload(videoID, pageURL string) {
	c.mu.Lock()
	if _, ok := c.files[videoID]; ok {
		c.mu.Unlock()
		return
	}
	if _, ok := c.inflight[videoID]; ok {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	c.inflight[videoID] = done
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
		defer cancel()

		path, err := c.runDownload(ctx, videoID, pageURL)

		c.mu.Lock()
		delete(c.inflight, videoID)
		close(done)
		if err == nil {
			c.admit(videoID, path)
		}
		c.mu.Unlock()
		if err != nil {
			sys.LogCache("Prefetch failed for %s: %v", videoID, err)
		} else {
			sys.LogCache("Prefetched %s", videoID)
		}
	}()
}

func (c *AudioCache) runDownload(ctx context.Context, videoID, pageURL string) (string, error) {
	select {
	case c.workers <- struct{}{}:
		defer func() { <-c.workers }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	path, err := c.download(ctx, videoID, pageURL, c.dir)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return "", fmt.Errorf("download produced no file: %w", statErr)
	}
	return path, nil
}

// admit records a finished download and evicts oldest entries until both
// bounds hold again. Caller holds c.mu.
func (c *AudioCache) admit(videoID, path string) {
	fi, err := os.Stat(path)
	var sz int64
	if err == nil {
		sz = fi.Size()
	}

	if old, ok := c.files[videoID]; ok {
		c.size -= old.size
		c.removeFromOrder(videoID)
	}

	c.files[videoID] = &cacheEntry{path: path, size: sz}
	c.order = append(c.order, videoID)
	c.size += sz

	for (len(c.files) > c.maxFiles || c.size > c.maxBytes) && len(c.order) > 1 {
		oldest := c.order[0]
		if oldest == videoID {
			break
		}
		c.evictLocked(oldest)
	}
}

func (c *AudioCache) removeFromOrder(videoID string) {
	for i, id := range c.order {
		if id == videoID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *AudioCache) evictLocked(videoID string) {
	e, ok := c.files[videoID]
	if !ok {
		return
	}
	delete(c.files, videoID)
	c.removeFromOrder(videoID)
	c.size -= e.size
	if c.size < 0 {
		c.size = 0
	}
	_ = os.Remove(e.path)
	sys.LogCache("Evicted %s", videoID)
}

// Remove drops a single entry. Removing an absent entry is a no-op.
func (c *AudioCache) Remove(videoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(videoID)
}

// PurgeAll drops every cached entry, used on session teardown and shutdown.
func (c *AudioCache) PurgeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.files {
		e := c.files[id]
		delete(c.files, id)
		_ = os.Remove(e.path)
	}
	c.order = c.order[:0]
	c.size = 0
}

// downloadWithYtdlp fetches bestaudio via yt-dlp into dir, named by video ID.
func downloadWithYtdlp(ctx context.Context, videoID, pageURL string, dir string) (string, error) {
	if pageURL == "" {
		pageURL = "https://www.youtube.com/watch?v=" + videoID
	}

	outTmpl := filepath.Join(dir, videoID+".%(ext)s")
	cmd := newYtdlp()
	args := buildYtdlpArgs()
	args = append(args,
		"-f", "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio",
	)
	res, err := cmd.
		Output(outTmpl).
		NoSimulate().
		NoPart().
		NoPlaylist().
		IgnoreConfig().
		Run(ctx, append(args, pageURL)...)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		return "", classifyYtdlpErr(err, stderr)
	}

	matches, err := filepath.Glob(filepath.Join(dir, videoID+".*"))
	if err != nil || len(matches) == 0 {
		return "", errors.New("downloaded file not found")
	}
	// Prefer webm/opus when multiple container extensions exist.
	for _, m := range matches {
		if strings.HasSuffix(m, ".webm") {
			return m, nil
		}
	}
	return matches[0], nil
}
