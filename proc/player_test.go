package proc

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestSession(t *testing.T, tracks ...*Track) (*Session, *fakeSink, *fakeCatalog) {
	t.Helper()
	sink := newFakeSink()
	resolver := newFakeResolver(tracks...)
	cache := NewAudioCache(t.TempDir(), 10, 1<<30, stubDownloader(100))
	require.NoError(t, cache.Init())
	catalog := newFakeCatalog()
	engine := NewEngine(catalog)

	sess := NewSession("100000000000000001", sink, resolver, cache, engine, staticRatings{})
	t.Cleanup(sess.Close)
	return sess, sink, catalog
}

func playOutcome(sess *Session) NextOutcome {
	_, outcome := sess.PlayNext(context.Background())
	return outcome
}

func playedIDs(sink *fakeSink) []string {
	var ids []string
	for _, src := range sink.playedSources() {
		base := filepath.Base(src)
		ids = append(ids, strings.TrimSuffix(base, filepath.Ext(base)))
	}
	return ids
}

func TestSessionQueueOrder(t *testing.T) {
	sess, sink, _ := newTestSession(t)
	require.Equal(t, 1, sess.Enqueue(testTrack("aaaaaaaaaaa", 0)))
	require.Equal(t, 2, sess.Enqueue(testTrack("bbbbbbbbbbb", 1), testTrack("ccccccccccc", 2)))

	for i := 0; i < 3; i++ {
		_, outcome := sess.PlayNext(context.Background())
		require.Equal(t, OutcomePlayed, outcome)
	}

	assert.Equal(t, []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"}, playedIDs(sink))
	assert.Empty(t, sess.Queue())
}

func TestSessionExhaustedWhenEmpty(t *testing.T) {
	sess, _, _ := newTestSession(t)

	_, outcome := sess.PlayNext(context.Background())
	assert.Equal(t, OutcomeExhausted, outcome)
	assert.Nil(t, sess.Current())
	assert.False(t, sess.Skip(), "skip with nothing playing should report false")
}

func TestSessionNotConnected(t *testing.T) {
	sess, sink, _ := newTestSession(t)
	sess.Enqueue(testTrack("aaaaaaaaaaa", 0))
	sink.Close(context.Background())

	_, outcome := sess.PlayNext(context.Background())
	assert.Equal(t, OutcomeNotConnected, outcome)
	assert.Nil(t, sess.Current())
}

func TestSessionSkipAdvances(t *testing.T) {
	sess, sink, _ := newTestSession(t)
	sess.Enqueue(testTrack("aaaaaaaaaaa", 0), testTrack("bbbbbbbbbbb", 1))

	require.Equal(t, OutcomePlayed, playOutcome(sess))
	require.Equal(t, "aaaaaaaaaaa", sess.Current().VideoID)

	require.True(t, sess.Skip())

	require.Eventually(t, func() bool {
		cur := sess.Current()
		return cur != nil && cur.VideoID == "bbbbbbbbbbb"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"aaaaaaaaaaa", "bbbbbbbbbbb"}, playedIDs(sink))
}

func TestSessionTrackCompletionAdvances(t *testing.T) {
	sess, sink, _ := newTestSession(t)
	sess.Enqueue(testTrack("aaaaaaaaaaa", 0), testTrack("bbbbbbbbbbb", 1))

	require.Equal(t, OutcomePlayed, playOutcome(sess))
	sink.finish()

	require.Eventually(t, func() bool {
		cur := sess.Current()
		return cur != nil && cur.VideoID == "bbbbbbbbbbb"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionRecentRing(t *testing.T) {
	sess, _, _ := newTestSession(t)
	ids := []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc", "ddddddddddd"}
	for i, id := range ids {
		sess.Enqueue(testTrack(id, i))
	}

	for range ids {
		require.Equal(t, OutcomePlayed, playOutcome(sess))
	}

	// Bounded to the three most recent, newest first.
	assert.Equal(t, []string{"ddddddddddd", "ccccccccccc", "bbbbbbbbbbb"}, sess.Recent())
}

func TestSessionRecentSkipsConsecutiveDuplicate(t *testing.T) {
	sess, _, _ := newTestSession(t)
	sess.Enqueue(testTrack("aaaaaaaaaaa", 0), testTrack("aaaaaaaaaaa", 0))

	require.Equal(t, OutcomePlayed, playOutcome(sess))
	require.Equal(t, OutcomePlayed, playOutcome(sess))

	assert.Equal(t, []string{"aaaaaaaaaaa"}, sess.Recent())
}

func TestSessionShufflePreservesTracks(t *testing.T) {
	sess, _, _ := newTestSession(t)
	ids := []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc", "ddddddddddd", "eeeeeeeeeee"}
	for i, id := range ids {
		sess.Enqueue(testTrack(id, i))
	}

	assert.Equal(t, len(ids), sess.ShuffleQueue())

	var got []string
	for _, tr := range sess.Queue() {
		got = append(got, tr.VideoID)
	}
	sort.Strings(got)
	assert.Equal(t, ids, got)
}

func TestSessionAutoplayFallback(t *testing.T) {
	rec := testTrack("rrrrrrrrrrr", 9)
	seed := testTrack("sssssssssss", 0)
	sess, sink, catalog := newTestSession(t, rec)
	catalog.similar["sssssssssss"] = []Candidate{{VideoID: "rrrrrrrrrrr", Title: rec.Title}}

	if !sess.ToggleAutoplay() {
		t.Fatal("expected autoplay enabled")
	}
	sess.Enqueue(seed)

	require.Equal(t, OutcomePlayed, playOutcome(sess))
	require.Equal(t, "sssssssssss", sess.Current().VideoID)

	// Queue is empty; the next advance pulls a recommendation.
	require.Equal(t, OutcomePlayed, playOutcome(sess))
	assert.Equal(t, "rrrrrrrrrrr", sess.Current().VideoID)
	assert.Contains(t, playedIDs(sink), "rrrrrrrrrrr")
}

func TestSessionAutoplayOffStopsAtQueueEnd(t *testing.T) {
	sess, _, catalog := newTestSession(t)
	catalog.similar["aaaaaaaaaaa"] = []Candidate{{VideoID: "xxxxxxxxxxx"}}
	sess.Enqueue(testTrack("aaaaaaaaaaa", 0))

	require.Equal(t, OutcomePlayed, playOutcome(sess))
	assert.Equal(t, OutcomeExhausted, playOutcome(sess))
}

func TestSessionClearHistoryEmptiesAutoplayBuffer(t *testing.T) {
	sess, _, _ := newTestSession(t)
	sess.ToggleAutoplay()
	sess.engine.MarkPlayed("sssssssssss")
	sess.mu.Lock()
	sess.recent = append(sess.recent, "sssssssssss")
	sess.autoplayBuf = append(sess.autoplayBuf, testTrack("uuuuuuuuuuu", 0))
	sess.mu.Unlock()

	sess.ClearHistory()

	assert.Empty(t, sess.Upcoming())
	assert.Empty(t, sess.Recent())
	assert.Zero(t, sess.engine.PlayedCount())
}

func TestSessionPrefetchWarmsQueueAndBufferHead(t *testing.T) {
	sess, _, _ := newTestSession(t)
	sess.Enqueue(testTrack("aaaaaaaaaaa", 0), testTrack("bbbbbbbbbbb", 1))
	sess.mu.Lock()
	sess.autoplayBuf = append(sess.autoplayBuf, testTrack("uuuuuuuuuuu", 2))
	sess.mu.Unlock()

	require.Equal(t, OutcomePlayed, playOutcome(sess))

	// The queued track and the buffer head both get warmed, even while the
	// queue is non-empty.
	require.Eventually(t, func() bool {
		return sess.cache.Contains("bbbbbbbbbbb") && sess.cache.Contains("uuuuuuuuuuu")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionElapsedSurvivesQueueExhaustion(t *testing.T) {
	sess, sink, _ := newTestSession(t)
	sess.Enqueue(testTrack("aaaaaaaaaaa", 0))
	require.Equal(t, OutcomePlayed, playOutcome(sess))
	sink.finish()

	require.Eventually(t, func() bool {
		return sess.Current() == nil
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := sess.Elapsed()
	assert.True(t, ok, "elapsed of the last track should stay readable after the queue drains")
}

func TestSessionToggleAutoplay(t *testing.T) {
	sess, _, _ := newTestSession(t)
	assert.False(t, sess.Autoplay())
	assert.True(t, sess.ToggleAutoplay())
	assert.True(t, sess.Autoplay())
	assert.False(t, sess.ToggleAutoplay())
}

func TestSessionPauseResumeElapsed(t *testing.T) {
	sess, _, _ := newTestSession(t)

	_, ok := sess.Elapsed()
	assert.False(t, ok, "elapsed should be unavailable before anything played")

	sess.Enqueue(testTrack("aaaaaaaaaaa", 0))
	require.Equal(t, OutcomePlayed, playOutcome(sess))

	_, ok = sess.Elapsed()
	require.True(t, ok)

	require.True(t, sess.Pause())
	assert.True(t, sess.IsPaused())
	assert.False(t, sess.Pause(), "double pause should report no change")

	e1, _ := sess.Elapsed()
	time.Sleep(120 * time.Millisecond)
	e2, _ := sess.Elapsed()
	assert.Less(t, e2-e1, 100*time.Millisecond, "elapsed should not advance while paused")

	require.True(t, sess.Resume())
	assert.False(t, sess.IsPaused())
	assert.False(t, sess.Resume(), "double resume should report no change")
}

func TestSessionVolumeClamped(t *testing.T) {
	sess, _, _ := newTestSession(t)
	sess.SetVolume(500)
	assert.Equal(t, 200, sess.Volume())
	sess.SetVolume(-5)
	assert.Equal(t, 1, sess.Volume())
	sess.SetVolume(80)
	assert.Equal(t, 80, sess.Volume())
}

func TestSessionIsolation(t *testing.T) {
	sink1 := newFakeSink()
	sink2 := newFakeSink()
	cache1 := NewAudioCache(t.TempDir(), 10, 1<<30, stubDownloader(100))
	cache2 := NewAudioCache(t.TempDir(), 10, 1<<30, stubDownloader(100))
	require.NoError(t, cache1.Init())
	require.NoError(t, cache2.Init())

	s1 := NewSession("111", sink1, newFakeResolver(), cache1, NewEngine(newFakeCatalog()), staticRatings{})
	s2 := NewSession("222", sink2, newFakeResolver(), cache2, NewEngine(newFakeCatalog()), staticRatings{})
	t.Cleanup(s1.Close)
	t.Cleanup(s2.Close)

	s1.Enqueue(testTrack("guild1track", 0))
	s2.Enqueue(testTrack("guild2track", 0))

	require.Equal(t, OutcomePlayed, playOutcome(s1))
	require.Equal(t, OutcomePlayed, playOutcome(s2))

	assert.Equal(t, []string{"guild1track"}, playedIDs(sink1))
	assert.Equal(t, []string{"guild2track"}, playedIDs(sink2))

	s1.ToggleAutoplay()
	assert.True(t, s1.Autoplay())
	assert.False(t, s2.Autoplay())

	assert.Equal(t, []string{"guild1track"}, s1.Recent())
	assert.Equal(t, []string{"guild2track"}, s2.Recent())
}

func TestSessionCloseIdempotent(t *testing.T) {
	sess, _, _ := newTestSession(t)
	sess.Enqueue(testTrack("aaaaaaaaaaa", 0))
	require.Equal(t, OutcomePlayed, playOutcome(sess))

	sess.Close()
	sess.Close()

	assert.Equal(t, OutcomeNotConnected, playOutcome(sess))
	sess.Enqueue(testTrack("bbbbbbbbbbb", 1))
	assert.Empty(t, sess.Queue())
}
