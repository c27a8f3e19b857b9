package proc

import (
	"container/list"
	"context"
	"slices"
	"sync"

	"github.com/yuigahama/hibiki/sys"
)

const (
	seedCacheCap = 20
	playedSetCap = 200
	similarFetch = 25
	minPerSeed   = 2
	overfetchPad = 2
)

// Engine produces autoplay recommendations for one guild session. Similar-track
// lookups per seed are cached so replaying the same seed does not refetch, and
// everything played during the session is excluded from future suggestions.
//
// The seed cache is a small LRU keyed by video ID. A plain map with timestamps
// would do, but the explicit list keeps eviction O(1) and the recency order
// inspectable.
type Engine struct {
	mu      sync.Mutex
	catalog Catalog

	seedOrder *list.List               // front = most recently used
	seedCache map[string]*list.Element // videoID -> element, value *seedEntry

	played      map[string]struct{}
	playedOrder []string // insertion order, oldest first
}

type seedEntry struct {
	videoID string
	cands   []Candidate // unfiltered, as returned by the catalog
}

func NewEngine(catalog Catalog) *Engine {
	return &Engine{
		catalog:   catalog,
		seedOrder: list.New(),
		seedCache: make(map[string]*list.Element),
		played:    make(map[string]struct{}),
	}
}

// MarkPlayed records a track so it is never recommended again this session.
// The set is bounded; once full, the oldest entries fall out.
func (e *Engine) MarkPlayed(videoID string) {
	if videoID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.played[videoID]; ok {
		return
	}
	e.played[videoID] = struct{}{}
	e.playedOrder = append(e.playedOrder, videoID)
	for len(e.playedOrder) > playedSetCap {
		oldest := e.playedOrder[0]
		e.playedOrder = e.playedOrder[1:]
		delete(e.played, oldest)
	}
}

// ClearHistory resets the played set and the seed cache.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.played = make(map[string]struct{})
	e.playedOrder = nil
	e.seedOrder.Init()
	e.seedCache = make(map[string]*list.Element)
}

// PlayedCount returns the number of tracks excluded from recommendation.
func (e *Engine) PlayedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.played)
}

// similarFor returns the raw similar list for a seed, from cache when present.
// Cached lists are stored unfiltered; exclusion happens at use time since the
// played set keeps growing.
func (e *Engine) similarFor(ctx context.Context, videoID string) ([]Candidate, error) {
	e.mu.Lock()
	if el, ok := e.seedCache[videoID]; ok {
		e.seedOrder.MoveToFront(el)
		cands := el.Value.(*seedEntry).cands
		e.mu.Unlock()
		return cands, nil
	}
	e.mu.Unlock()

	cands, err := e.catalog.Similar(ctx, videoID, similarFetch)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.seedCache[videoID]; ok {
		// Raced with another fetch for the same seed; keep the existing entry.
		e.seedOrder.MoveToFront(el)
		return el.Value.(*seedEntry).cands, nil
	}
	el := e.seedOrder.PushFront(&seedEntry{videoID: videoID, cands: cands})
	e.seedCache[videoID] = el
	for e.seedOrder.Len() > seedCacheCap {
		back := e.seedOrder.Back()
		e.seedOrder.Remove(back)
		delete(e.seedCache, back.Value.(*seedEntry).videoID)
	}
	return cands, nil
}

// Recommendations returns up to limit candidates similar to a single seed,
// excluding the seed itself and everything already played.
func (e *Engine) Recommendations(ctx context.Context, seedID string, limit int) ([]Candidate, error) {
	cands, err := e.similarFor(ctx, seedID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Candidate, 0, limit)
	for _, c := range cands {
		if c.VideoID == seedID {
			continue
		}
		if _, done := e.played[c.VideoID]; done {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Blended merges recommendations from up to three recent seeds, most recent
// first, and orders the result by guild rating: liked tracks first by score,
// then unrated, then disliked, with strongly disliked (-2 and below) last.
// Within a rating bucket the first-seen merge order is preserved, so the most
// recent seed still dominates among equally rated candidates.
func (e *Engine) Blended(ctx context.Context, seeds []string, ratings map[string]int, limit int) ([]Candidate, error) {
	if len(seeds) > 3 {
		seeds = seeds[:3]
	}
	if len(seeds) == 0 || limit <= 0 {
		return nil, nil
	}

	perSeed := limit/len(seeds) + overfetchPad
	if perSeed < minPerSeed+overfetchPad {
		perSeed = minPerSeed + overfetchPad
	}

	var merged []Candidate
	seen := make(map[string]struct{})
	for _, s := range seeds {
		seen[s] = struct{}{}
	}

	var lastErr error
	for _, seed := range seeds {
		cands, err := e.Recommendations(ctx, seed, perSeed)
		if err != nil {
			sys.LogAutoplay("Seed %s yielded no recommendations: %v", seed, err)
			lastErr = err
			continue
		}
		for _, c := range cands {
			if _, dup := seen[c.VideoID]; dup {
				continue
			}
			seen[c.VideoID] = struct{}{}
			merged = append(merged, c)
		}
	}

	if len(merged) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, nil
	}

	slices.SortStableFunc(merged, func(a, b Candidate) int {
		ba, bb := ratingBucket(ratings, a.VideoID), ratingBucket(ratings, b.VideoID)
		if ba != bb {
			return ba - bb
		}
		if ba == 0 {
			// Both liked: higher score first.
			return ratings[b.VideoID] - ratings[a.VideoID]
		}
		return 0
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// ratingBucket maps a score to sort priority: 0 liked, 1 unrated/zero,
// 2 disliked, 3 strongly disliked.
func ratingBucket(ratings map[string]int, videoID string) int {
	score, ok := ratings[videoID]
	switch {
	case !ok || score == 0:
		return 1
	case score > 0:
		return 0
	case score <= -2:
		return 3
	default:
		return 2
	}
}
