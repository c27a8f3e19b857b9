package proc

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineRecommendationsExcludePlayedAndSeed(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.similar["seed"] = []Candidate{
		{VideoID: "seed"},
		{VideoID: "a"},
		{VideoID: "b"},
		{VideoID: "c"},
	}

	e := NewEngine(catalog)
	e.MarkPlayed("b")

	cands, err := e.Recommendations(context.Background(), "seed", 10)
	require.NoError(t, err)

	ids := candidateIDs(cands)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestEngineSeedCacheAvoidsRefetch(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.similar["seed"] = []Candidate{{VideoID: "a"}, {VideoID: "b"}}

	e := NewEngine(catalog)

	_, err := e.Recommendations(context.Background(), "seed", 5)
	require.NoError(t, err)
	_, err = e.Recommendations(context.Background(), "seed", 5)
	require.NoError(t, err)

	assert.Equal(t, 1, catalog.callCount("seed"))

	// Cached lists are filtered at use time: playing a cached candidate
	// removes it from later results without a refetch.
	e.MarkPlayed("a")
	cands, err := e.Recommendations(context.Background(), "seed", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, candidateIDs(cands))
	assert.Equal(t, 1, catalog.callCount("seed"))
}

func TestEngineSeedCacheEviction(t *testing.T) {
	catalog := newFakeCatalog()
	for i := 0; i <= seedCacheCap; i++ {
		seed := fmt.Sprintf("seed%02d", i)
		catalog.similar[seed] = []Candidate{{VideoID: "r" + seed}}
	}

	e := NewEngine(catalog)
	for i := 0; i <= seedCacheCap; i++ {
		_, err := e.Recommendations(context.Background(), fmt.Sprintf("seed%02d", i), 5)
		require.NoError(t, err)
	}

	// seed00 was least recently used and fell out; asking again refetches.
	_, err := e.Recommendations(context.Background(), "seed00", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.callCount("seed00"))

	// seed01 survived.
	_, err = e.Recommendations(context.Background(), "seed01", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.callCount("seed01"))
}

func TestEnginePlayedSetBounded(t *testing.T) {
	e := NewEngine(newFakeCatalog())
	for i := 0; i < playedSetCap+50; i++ {
		e.MarkPlayed(fmt.Sprintf("video%06d", i))
	}
	assert.Equal(t, playedSetCap, e.PlayedCount())
}

func TestEngineBlendedRatingOrder(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.similar["seed"] = []Candidate{
		{VideoID: "hated"},
		{VideoID: "disliked"},
		{VideoID: "unrated"},
		{VideoID: "loved"},
	}

	e := NewEngine(catalog)
	ratings := map[string]int{
		"loved":    3,
		"disliked": -1,
		"hated":    -3,
	}

	cands, err := e.Blended(context.Background(), []string{"seed"}, ratings, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"loved", "unrated", "disliked", "hated"}, candidateIDs(cands))
}

func TestEngineBlendedPrefersHigherScore(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.similar["seed"] = []Candidate{
		{VideoID: "r1"},
		{VideoID: "r2"},
	}

	e := NewEngine(catalog)
	ratings := map[string]int{"r1": 1, "r2": 2}

	cands, err := e.Blended(context.Background(), []string{"seed"}, ratings, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r1"}, candidateIDs(cands))
}

func TestEngineBlendedMergesSeedsWithoutDuplicates(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.similar["new"] = []Candidate{{VideoID: "x"}, {VideoID: "shared"}}
	catalog.similar["old"] = []Candidate{{VideoID: "shared"}, {VideoID: "y"}}

	e := NewEngine(catalog)

	cands, err := e.Blended(context.Background(), []string{"new", "old"}, nil, 10)
	require.NoError(t, err)

	ids := candidateIDs(cands)
	assert.ElementsMatch(t, []string{"x", "shared", "y"}, ids)
	// First-seen order: the most recent seed contributed first.
	assert.Equal(t, "x", ids[0])
}

func TestEngineBlendedSurvivesSeedFailure(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.similar["good"] = []Candidate{{VideoID: "a"}}

	e := NewEngine(catalog)

	cands, err := e.Blended(context.Background(), []string{"missing", "good"}, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, candidateIDs(cands))
}

func TestEngineClearHistory(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.similar["seed"] = []Candidate{{VideoID: "a"}}

	e := NewEngine(catalog)
	e.MarkPlayed("a")

	cands, err := e.Recommendations(context.Background(), "seed", 5)
	require.NoError(t, err)
	assert.Empty(t, cands)

	e.ClearHistory()

	cands, err = e.Recommendations(context.Background(), "seed", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, candidateIDs(cands))
	// The seed cache was dropped too.
	assert.Equal(t, 2, catalog.callCount("seed"))
}

func candidateIDs(cands []Candidate) []string {
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.VideoID)
	}
	return ids
}
