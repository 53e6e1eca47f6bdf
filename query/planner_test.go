package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/venuedb/ai/mock"
	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/derive"
	"github.com/poiesic/venuedb/index"
	"github.com/poiesic/venuedb/storage"
	"github.com/poiesic/venuedb/storage/badger"
)

const testDim = 8

// keywordEmbedder maps texts into a tiny controlled vector space so
// semantic similarity in tests is meaningful rather than hash noise.
func keywordEmbedder() *mock.MockEmbedder {
	keywords := []string{"quiet", "loud", "coffee", "beer", "book", "wifi", "parking", "music"}
	embed := func(text string) []float32 {
		text = strings.ToLower(text)
		v := make([]float32, testDim)
		var sum float32
		for i, kw := range keywords {
			if strings.Contains(text, kw) {
				v[i] = 1
				sum += 1
			}
		}
		if sum == 0 {
			v[0] = 0.1 // arbitrary direction for keyword-free text
			sum = 0.1
		}
		// normalizeQuery in the planner handles exact unit scaling.
		return v
	}
	m := mock.NewMockEmbedder()
	m.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return embed(text), nil
	}
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = embed(t)
		}
		return out, nil
	}
	return m
}

type plannerFixture struct {
	places   storage.PlaceRepository
	vectors  *index.HNSW[string]
	lexical  *index.Lexical
	embedder *mock.MockEmbedder
	planner  *Planner
}

func newPlannerFixture(t *testing.T) *plannerFixture {
	t.Helper()
	placeRepo, chunkRepo, citationRepo, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	})

	f := &plannerFixture{
		places:   placeRepo,
		vectors:  index.NewHNSW[string](testDim, index.WithSeed[string](1)),
		lexical:  index.NewLexical(),
		embedder: keywordEmbedder(),
	}
	f.planner, err = NewPlanner(placeRepo, f.vectors, f.lexical, f.embedder)
	require.NoError(t, err)
	return f
}

func (f *plannerFixture) addPlace(t *testing.T, place *core.Place) {
	t.Helper()
	ctx := context.Background()

	doc := derive.ComposeAggregateDocument(place, nil)
	vec, err := f.embedder.EmbedText(ctx, doc)
	require.NoError(t, err)
	normalizeQuery(vec)
	place.Embedding = vec
	place.LexicalDocument = derive.ComposePlaceDocument(place)

	_, err = f.places.UpsertPlace(ctx, place)
	require.NoError(t, err)
	require.NoError(t, f.vectors.Insert(place.PlaceID, vec))
	f.lexical.Index(place.PlaceID, derive.PlaceLexicalFields(place)...)
}

func quietCafe() *core.Place {
	return &core.Place{
		PlaceID:      "quiet-cafe",
		Name:         "The Hidden Bean",
		Neighborhood: "NoDa",
		Categories:   []string{"cafe"},
		Tags:         []string{"coffee", "quiet"},
		EnrichedPayload: map[string]any{
			"description": "A quiet coffee shop with wifi, good for reading a book.",
		},
	}
}

func loudBar() *core.Place {
	return &core.Place{
		PlaceID:      "loud-bar",
		Name:         "Thirsty Pelican",
		Neighborhood: "Plaza Midwood",
		Categories:   []string{"bar"},
		Tags:         []string{"beer"},
		EnrichedPayload: map[string]any{
			"description": "Loud live music and beer on a crowded patio.",
		},
	}
}

func TestHybridSearchQuietOutranksLoud(t *testing.T) {
	f := newPlannerFixture(t)
	f.addPlace(t, quietCafe())
	f.addPlace(t, loudBar())

	results, err := f.planner.HybridSearch(context.Background(), "quiet coffee and wifi", nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "quiet-cafe", results[0].Place.PlaceID)
	assert.Equal(t, "loud-bar", results[1].Place.PlaceID)
	assert.Greater(t, results[0].Score, results[1].Score)

	ev := results[0].Evidence
	assert.False(t, ev.LexicalOnly)
	assert.Greater(t, ev.SemanticScore, 0.0)
	assert.Greater(t, ev.LexicalNorm, 0.0)
}

func TestHybridSearchHardFilters(t *testing.T) {
	f := newPlannerFixture(t)
	f.addPlace(t, quietCafe())
	f.addPlace(t, loudBar())

	// The filter cuts the better-ranked place out entirely.
	results, err := f.planner.HybridSearch(context.Background(),
		"quiet coffee and wifi",
		&Filters{Neighborhood: "Plaza Midwood"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "loud-bar", results[0].Place.PlaceID)
	assert.Contains(t, results[0].Evidence.MatchedFilters, "neighborhood")
}

func TestHybridSearchValidatesFiltersBeforeIndexAccess(t *testing.T) {
	f := newPlannerFixture(t)
	f.addPlace(t, quietCafe())
	before := f.embedder.CallCount()

	_, err := f.planner.HybridSearch(context.Background(), "coffee",
		&Filters{Amenities: map[string]string{AmenityFreeWifi: "definitely"}}, 3)
	require.ErrorIs(t, err, core.ErrValidation)
	require.ErrorIs(t, err, core.ErrUnknownAmenityValue)
	assert.Equal(t, before, f.embedder.CallCount(), "no embedding call for an invalid query")

	_, err = f.planner.HybridSearch(context.Background(), "coffee",
		&Filters{Amenities: map[string]string{"has_live_jazz": "yes"}}, 3)
	assert.ErrorIs(t, err, core.ErrUnknownAmenity)
}

func TestHybridSearchLexicalOnlyDegradation(t *testing.T) {
	f := newPlannerFixture(t)
	f.addPlace(t, quietCafe())
	f.addPlace(t, loudBar())

	f.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("provider down")
	}

	results, err := f.planner.HybridSearch(context.Background(), "quiet coffee", nil, 5)
	require.NoError(t, err, "embedding failure must degrade, not fail")
	require.NotEmpty(t, results)
	assert.Equal(t, "quiet-cafe", results[0].Place.PlaceID)
	for _, r := range results {
		assert.True(t, r.Evidence.LexicalOnly)
		assert.Zero(t, r.Evidence.SemanticScore)
	}
}

func TestHybridSearchFullScanFallback(t *testing.T) {
	f := newPlannerFixture(t)
	f.addPlace(t, quietCafe())
	f.addPlace(t, loudBar())

	// No vector index at all: brute-force scan must produce the same winner.
	scanPlanner, err := NewPlanner(f.places, nil, f.lexical, f.embedder)
	require.NoError(t, err)

	results, err := scanPlanner.HybridSearch(context.Background(), "quiet coffee and wifi", nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "quiet-cafe", results[0].Place.PlaceID)
	assert.False(t, results[0].Evidence.LexicalOnly)
}

func TestHybridSearchTiesBreakByPlaceID(t *testing.T) {
	f := newPlannerFixture(t)
	// Identical content, different IDs: identical scores.
	a := quietCafe()
	a.PlaceID = "bbb"
	b := quietCafe()
	b.PlaceID = "aaa"
	f.addPlace(t, a)
	f.addPlace(t, b)

	results, err := f.planner.HybridSearch(context.Background(), "quiet coffee", nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "aaa", results[0].Place.PlaceID)
	assert.Equal(t, "bbb", results[1].Place.PlaceID)
}

func TestHybridSearchRejectsEmptyQueryAndBadK(t *testing.T) {
	f := newPlannerFixture(t)

	_, err := f.planner.HybridSearch(context.Background(), "", nil, 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = f.planner.HybridSearch(context.Background(), "coffee", nil, 0)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestNewPlannerRejectsBadWeights(t *testing.T) {
	f := newPlannerFixture(t)
	_, err := NewPlanner(f.places, f.vectors, f.lexical, f.embedder, WithWeights(0.9, 0.4))
	assert.ErrorIs(t, err, core.ErrValidation)
}
