package proc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fakeSink records Play calls and lets tests drive completion by hand.
type fakeSink struct {
	mu        sync.Mutex
	played    []string
	volumes   []int
	onDone    func(error)
	connected bool
	paused    bool
	stops     int
}

func newFakeSink() *fakeSink {
	return &fakeSink{connected: true}
}

func (f *fakeSink) Play(source string, volume int, onDone func(err error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, source)
	f.volumes = append(f.volumes, volume)
	f.onDone = onDone
	return nil
}

func (f *fakeSink) PlayOverlay(ctx context.Context, path string) error { return nil }

func (f *fakeSink) Stop() {
	f.mu.Lock()
	cb := f.onDone
	f.onDone = nil
	f.stops++
	f.mu.Unlock()
	if cb != nil {
		cb(ErrStopped)
	}
}

func (f *fakeSink) finish() {
	f.mu.Lock()
	cb := f.onDone
	f.onDone = nil
	f.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
}

func (f *fakeSink) Pause() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused {
		return false
	}
	f.paused = true
	return true
}

func (f *fakeSink) Resume() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.paused {
		return false
	}
	f.paused = false
	return true
}

func (f *fakeSink) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeSink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSink) Close(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeSink) playedSources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.played))
	copy(out, f.played)
	return out
}

// fakeResolver serves tracks from a fixed table keyed by video ID.
type fakeResolver struct {
	mu     sync.Mutex
	tracks map[string]*Track
	calls  int
}

func newFakeResolver(tracks ...*Track) *fakeResolver {
	m := make(map[string]*Track)
	for _, t := range tracks {
		m[t.VideoID] = t
	}
	return &fakeResolver{tracks: m}
}

func (r *fakeResolver) Resolve(ctx context.Context, query string) (*Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	id := query
	if v := extractVideoID(query); v != "" {
		id = v
	}
	if t, ok := r.tracks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (r *fakeResolver) ResolvePlaylist(ctx context.Context, url string) ([]PlaylistEntry, error) {
	return nil, ErrNotFound
}

func (r *fakeResolver) Search(ctx context.Context, text string) (*Track, error) {
	return nil, ErrNotFound
}

// fakeCatalog returns canned similar lists per seed and counts lookups.
type fakeCatalog struct {
	mu      sync.Mutex
	similar map[string][]Candidate
	calls   map[string]int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		similar: make(map[string][]Candidate),
		calls:   make(map[string]int),
	}
}

func (c *fakeCatalog) SearchTracks(ctx context.Context, text string, limit int) ([]Candidate, error) {
	return nil, nil
}

func (c *fakeCatalog) Similar(ctx context.Context, videoID string, limit int) ([]Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[videoID]++
	cands, ok := c.similar[videoID]
	if !ok {
		return nil, ErrNotFound
	}
	if len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]Candidate, len(cands))
	copy(out, cands)
	return out, nil
}

func (c *fakeCatalog) callCount(videoID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[videoID]
}

// staticRatings is a fixed in-memory rating source.
type staticRatings map[string]int

func (r staticRatings) GuildRatings(ctx context.Context, guildID string) (map[string]int, error) {
	return r, nil
}

// stubDownloader writes a file of the given size per download.
func stubDownloader(size int) Downloader {
	return func(ctx context.Context, videoID, pageURL, dir string) (string, error) {
		path := filepath.Join(dir, videoID+".webm")
		if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
			return "", err
		}
		return path, nil
	}
}

func testTrack(id string, n int) *Track {
	return &Track{
		VideoID:   id,
		Title:     fmt.Sprintf("Track %s", id),
		Channel:   "Test Channel",
		Duration:  time.Duration(180+n) * time.Second,
		StreamURL: "https://cdn.example.com/stream/" + id,
		PageURL:   "https://www.youtube.com/watch?v=" + id,
	}
}
