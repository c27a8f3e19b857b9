package proc

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/yuigahama/hibiki/sys"
)

const (
	recentRingSize    = 3
	autoplayBufTarget = 3
	prefetchAhead     = 2
	idleTimeout       = 300 * time.Second
	defaultVolume     = 100
)

// Session is the per-guild playback state machine: the user queue, the
// autoplay buffer, the currently playing track and its timing, and the idle
// disconnect timer. All state is guarded by one mutex; the sink and the cache
// do their blocking work outside it.
type Session struct {
	mu sync.Mutex

	guildID  string
	sink     Sink
	resolver Resolver
	cache    *AudioCache
	engine   *Engine
	ratings  RatingSource

	queue       []*Track
	autoplayBuf []*Track
	current     *Track
	recent      []string // most recent last, bounded ring
	autoplay    bool
	volume      int

	startedAt   time.Time
	pausedAt    time.Time
	pausedAccum time.Duration
	everPlayed  bool

	idleTimer     *time.Timer
	refillRunning bool
	refillCancel  context.CancelFunc
	refillDone    chan struct{}

	requested map[string]struct{} // cached video IDs to purge on teardown
	closed    bool

	// OnIdle fires after the idle timeout elapses with nothing to play.
	OnIdle func(guildID string)
}

func NewSession(guildID string, sink Sink, resolver Resolver, cache *AudioCache, engine *Engine, ratings RatingSource) *Session {
	return &Session{
		guildID:   guildID,
		sink:      sink,
		resolver:  resolver,
		cache:     cache,
		engine:    engine,
		ratings:   ratings,
		volume:    defaultVolume,
		requested: make(map[string]struct{}),
	}
}

// Enqueue appends tracks to the user queue and returns the 1-based queue
// position of the first one. It does not start playback; callers decide
// whether to kick PlayNext.
func (s *Session) Enqueue(tracks ...*Track) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	pos := len(s.queue) + 1
	s.queue = append(s.queue, tracks...)
	return pos
}

// Queue returns a snapshot of the pending user queue.
func (s *Session) Queue() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, len(s.queue))
	copy(out, s.queue)
	return out
}

// Upcoming returns a snapshot of the autoplay buffer.
func (s *Session) Upcoming() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, len(s.autoplayBuf))
	copy(out, s.autoplayBuf)
	return out
}

// Current returns the playing track, nil when idle.
func (s *Session) Current() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Recent returns the seed ring, most recent first.
func (s *Session) Recent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.recent))
	for i := len(s.recent) - 1; i >= 0; i-- {
		out = append(out, s.recent[i])
	}
	return out
}

// Autoplay reports whether autoplay is enabled.
func (s *Session) Autoplay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoplay
}

// ToggleAutoplay flips autoplay and returns the new state. Enabling it while
// idle does not start playback on its own.
func (s *Session) ToggleAutoplay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoplay = !s.autoplay
	if !s.autoplay {
		s.autoplayBuf = nil
		s.stopRefillLocked()
	}
	return s.autoplay
}

// ClearHistory forgets played tracks and cached recommendations so autoplay
// can suggest them again. The autoplay buffer is dropped too, since its
// contents were picked from the history being cleared.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	s.recent = nil
	s.autoplayBuf = nil
	s.stopRefillLocked()
	s.mu.Unlock()
	s.engine.ClearHistory()
}

// ShuffleQueue randomizes the pending user queue in place and returns its
// length.
func (s *Session) ShuffleQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rand.Shuffle(len(s.queue), func(i, j int) {
		s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
	})
	return len(s.queue)
}

// ClearQueue drops the pending user queue, leaving the current track playing.
func (s *Session) ClearQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = nil
	return n
}

// SetVolume sets playback volume (percent). Takes effect on the next track.
func (s *Session) SetVolume(v int) {
	if v < 1 {
		v = 1
	}
	if v > 200 {
		v = 200
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
}

func (s *Session) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Pause pauses playback. Returns false when nothing was playing or already
// paused.
func (s *Session) Pause() bool {
	if !s.sink.Pause() {
		return false
	}
	s.mu.Lock()
	s.pausedAt = time.Now()
	s.mu.Unlock()
	return true
}

// Resume resumes paused playback.
func (s *Session) Resume() bool {
	if !s.sink.Resume() {
		return false
	}
	s.mu.Lock()
	if !s.pausedAt.IsZero() {
		s.pausedAccum += time.Since(s.pausedAt)
		s.pausedAt = time.Time{}
	}
	s.mu.Unlock()
	return true
}

func (s *Session) IsPaused() bool {
	return s.sink.IsPaused()
}

// Elapsed returns playback position of the current track, excluding paused
// time. The second return is false when nothing has ever played.
func (s *Session) Elapsed() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.everPlayed {
		return 0, false
	}
	e := time.Since(s.startedAt) - s.pausedAccum
	if !s.pausedAt.IsZero() {
		e -= time.Since(s.pausedAt)
	}
	if e < 0 {
		e = 0
	}
	return e, true
}

// Skip cuts the current track and returns true. With nothing playing it
// returns false. The completion callback advances to the next track.
func (s *Session) Skip() bool {
	s.mu.Lock()
	playing := s.current != nil
	s.mu.Unlock()
	if !playing {
		return false
	}
	s.sink.Stop()
	return true
}

// PlayNext advances the session: the user queue first, then the autoplay
// buffer, then a synchronous recommendation fetch as last resort. With nothing
// to play it arms the idle disconnect timer. The returned track is non-nil
// only for OutcomePlayed.
func (s *Session) PlayNext(ctx context.Context) (*Track, NextOutcome) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil, OutcomeNotConnected
	}
	s.stopIdleTimerLocked()

	if !s.sink.Connected() {
		s.current = nil
		s.mu.Unlock()
		return nil, OutcomeNotConnected
	}

	for {
		track := s.pickNextLocked(ctx)
		if track == nil {
			s.current = nil
			s.armIdleTimerLocked()
			s.mu.Unlock()
			return nil, OutcomeExhausted
		}

		s.current = track
		s.pushRecentLocked(track.VideoID)
		s.engine.MarkPlayed(track.VideoID)
		volume := s.volume
		s.mu.Unlock()

		source, ok := s.acquireSource(ctx, track)
		if !ok {
			sys.LogVoice("No playable source for %s, trying next", track.Title)
			s.mu.Lock()
			if s.closed {
				s.current = nil
				s.mu.Unlock()
				return nil, OutcomeNotConnected
			}
			if len(s.queue) == 0 && len(s.autoplayBuf) == 0 && !s.autoplay {
				s.current = nil
				s.armIdleTimerLocked()
				s.mu.Unlock()
				return nil, OutcomeFailed
			}
			continue
		}

		videoID := track.VideoID
		err := s.sink.Play(source, volume, func(playErr error) {
			s.cache.Remove(videoID)
			go s.advance()
		})

		s.mu.Lock()
		if err != nil {
			sys.LogError("Playback start failed for %s: %v", track.Title, err)
			if s.closed {
				s.current = nil
				s.mu.Unlock()
				return nil, OutcomeNotConnected
			}
			continue
		}

		now := time.Now()
		s.startedAt = now
		s.pausedAt = time.Time{}
		s.pausedAccum = 0
		s.everPlayed = true

		if s.autoplay {
			s.startRefillLocked()
		}
		s.prefetchLocked()
		s.mu.Unlock()

		sys.LogVoice("Now playing: %s [%s]", track.Title, FormatTrackDuration(track.Duration))
		return track, OutcomePlayed
	}
}

// advance is the completion path: the track ended (or was skipped) and the
// session moves on.
func (s *Session) advance() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.PlayNext(context.Background())
}

// pickNextLocked pops the next track: user queue, then autoplay buffer, then a
// blocking recommendation fetch when autoplay is on and the buffer ran dry.
// Caller holds s.mu; the mutex stays held across the synchronous fetch, which
// is accepted as the rare worst case.
func (s *Session) pickNextLocked(ctx context.Context) *Track {
	if len(s.queue) > 0 {
		t := s.queue[0]
		s.queue = s.queue[1:]
		return t
	}
	if len(s.autoplayBuf) > 0 {
		t := s.autoplayBuf[0]
		s.autoplayBuf = s.autoplayBuf[1:]
		return t
	}
	if !s.autoplay || len(s.recent) == 0 {
		return nil
	}

	seeds := s.seedsLocked()
	fetchCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	ratings := s.guildRatings(fetchCtx)
	cands, err := s.engine.Blended(fetchCtx, seeds, ratings, autoplayBufTarget)
	if err != nil || len(cands) == 0 {
		sys.LogAutoplay("No recommendations for guild %s: %v", s.guildID, err)
		return nil
	}
	for _, c := range cands {
		t, err := s.resolver.Resolve(fetchCtx, c.VideoID)
		if err != nil {
			sys.LogAutoplay("Recommendation %s failed to resolve: %v", c.VideoID, err)
			continue
		}
		return t
	}
	return nil
}

// seedsLocked returns the recent ring most recent first. Caller holds s.mu.
func (s *Session) seedsLocked() []string {
	seeds := make([]string, 0, len(s.recent))
	for i := len(s.recent) - 1; i >= 0; i-- {
		seeds = append(seeds, s.recent[i])
	}
	return seeds
}

func (s *Session) guildRatings(ctx context.Context) map[string]int {
	if s.ratings == nil {
		return nil
	}
	ratings, err := s.ratings.GuildRatings(ctx, s.guildID)
	if err != nil {
		sys.LogRatings("Loading guild ratings failed: %v", err)
		return nil
	}
	return ratings
}

// pushRecentLocked appends a seed unless it repeats the newest entry.
// Caller holds s.mu.
func (s *Session) pushRecentLocked(videoID string) {
	if videoID == "" {
		return
	}
	if n := len(s.recent); n > 0 && s.recent[n-1] == videoID {
		return
	}
	s.recent = append(s.recent, videoID)
	if len(s.recent) > recentRingSize {
		s.recent = s.recent[len(s.recent)-recentRingSize:]
	}
}

// acquireSource produces a playable input for the track: the cache when it can
// deliver, the raw stream URL otherwise. Live tracks always stream.
func (s *Session) acquireSource(ctx context.Context, track *Track) (string, bool) {
	if track.IsLive() {
		if validStreamURL(track.StreamURL) {
			return track.StreamURL, true
		}
		return "", false
	}

	path, err := s.cache.EnsureDownloaded(ctx, track.VideoID, track.PageURL)
	if err == nil {
		track.LocalPath = path
		s.mu.Lock()
		s.requested[track.VideoID] = struct{}{}
		s.mu.Unlock()
		return path, true
	}
	sys.LogCache("Download failed for %s, streaming instead: %v", track.VideoID, err)

	if validStreamURL(track.StreamURL) {
		return track.StreamURL, true
	}
	// Stale or missing stream URL; one re-resolve attempt.
	if track.PageURL != "" {
		if fresh, rerr := s.resolver.Resolve(ctx, track.PageURL); rerr == nil && validStreamURL(fresh.StreamURL) {
			track.StreamURL = fresh.StreamURL
			return fresh.StreamURL, true
		}
	}
	return "", false
}

// prefetchLocked warms the cache for the next queued tracks and the head of
// the autoplay buffer. Caller holds s.mu.
func (s *Session) prefetchLocked() {
	n := 0
	for _, t := range s.queue {
		if n >= prefetchAhead {
			break
		}
		if !t.IsLive() {
			s.requested[t.VideoID] = struct{}{}
			s.cache.StartBackgroundDownload(t.VideoID, t.PageURL)
			n++
		}
	}
	if len(s.autoplayBuf) > 0 {
		t := s.autoplayBuf[0]
		if !t.IsLive() {
			s.requested[t.VideoID] = struct{}{}
			s.cache.StartBackgroundDownload(t.VideoID, t.PageURL)
		}
	}
}

// startRefillLocked tops up the autoplay buffer in the background. At most one
// refill runs at a time. Caller holds s.mu.
func (s *Session) startRefillLocked() {
	if s.refillRunning || len(s.autoplayBuf) >= autoplayBufTarget || len(s.recent) == 0 {
		return
	}
	seeds := s.seedsLocked()
	need := autoplayBufTarget - len(s.autoplayBuf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.refillRunning = true
	s.refillCancel = cancel
	s.refillDone = done

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.refillRunning = false
			s.mu.Unlock()
		}()

		fetchCtx, fetchCancel := context.WithTimeout(ctx, 45*time.Second)
		defer fetchCancel()

		ratings := s.guildRatings(fetchCtx)
		cands, err := s.engine.Blended(fetchCtx, seeds, ratings, need+2)
		if err != nil {
			sys.LogAutoplay("Refill fetch failed for guild %s: %v", s.guildID, err)
			return
		}

		for _, c := range cands {
			select {
			case <-ctx.Done():
				return
			default:
			}

			t, err := s.resolver.Resolve(fetchCtx, c.VideoID)
			if err != nil {
				continue
			}

			s.mu.Lock()
			if s.closed || !s.autoplay || len(s.autoplayBuf) >= autoplayBufTarget {
				s.mu.Unlock()
				return
			}
			s.autoplayBuf = append(s.autoplayBuf, t)
			full := len(s.autoplayBuf) >= autoplayBufTarget
			s.mu.Unlock()

			sys.LogAutoplay("Buffered recommendation: %s", t.Title)
			if full {
				return
			}
		}
	}()
}

func (s *Session) stopRefillLocked() {
	if s.refillCancel != nil {
		s.refillCancel()
		s.refillCancel = nil
	}
}

func (s *Session) armIdleTimerLocked() {
	s.stopIdleTimerLocked()
	s.idleTimer = time.AfterFunc(idleTimeout, func() {
		s.mu.Lock()
		idle := !s.closed && s.current == nil && len(s.queue) == 0
		cb := s.OnIdle
		s.mu.Unlock()
		if idle && cb != nil {
			sys.LogVoice("Idle timeout reached for guild %s, disconnecting", s.guildID)
			cb(s.guildID)
		}
	})
}

func (s *Session) stopIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// Close tears the session down: playback stops, pending work is cancelled,
// cached audio this session requested is purged. The sink connection is closed
// by the owner.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopIdleTimerLocked()
	s.stopRefillLocked()
	refillDone := s.refillDone
	s.queue = nil
	s.autoplayBuf = nil
	s.current = nil
	s.recent = nil
	purge := make([]string, 0, len(s.requested))
	for id := range s.requested {
		purge = append(purge, id)
	}
	s.requested = make(map[string]struct{})
	s.mu.Unlock()

	s.sink.Stop()
	if refillDone != nil {
		<-refillDone
	}
	for _, id := range purge {
		s.cache.Remove(id)
	}
	s.engine.ClearHistory()
}
