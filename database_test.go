package venuedb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/venuedb/ai/mock"
	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/query"
	"github.com/poiesic/venuedb/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	embedder := mock.NewMockEmbedder()
	store, err := Open("",
		WithInMemory(),
		WithEmbedder(embedder),
		WithDimensions(mock.DefaultDimensions),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testPlace(id string) *core.Place {
	return &core.Place{
		PlaceID:      id,
		Name:         "The Hidden Bean",
		Neighborhood: "NoDa",
		Categories:   []string{"cafe"},
		Tags:         []string{"coffee", "quiet"},
		Location:     &core.Location{Lat: 35.2483, Lon: -80.8116},
		EnrichedPayload: map[string]any{
			"description": "Quiet coffee shop with wifi.",
		},
	}
}

func TestUpsertPlaceIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertPlace(ctx, testPlace("p1"))
	require.NoError(t, err)
	require.False(t, first.DerivationPending)
	firstCreated := first.CreatedAt

	// Upserting identical source fields yields identical derived artifacts
	// and exactly one visible record.
	second, err := store.UpsertPlace(ctx, testPlace("p1"))
	require.NoError(t, err)
	assert.Equal(t, first.LexicalDocument, second.LexicalDocument)
	assert.Equal(t, first.AggregateDocument, second.AggregateDocument)
	assert.Equal(t, first.Embedding, second.Embedding)
	assert.True(t, second.CreatedAt.Equal(firstCreated))

	ids, err := store.ListPlaceIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)

	results, err := store.HybridSearch(ctx, "quiet coffee", nil, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].Place.PlaceID)
}

func TestUpsertPlaceValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPlace(ctx, &core.Place{Name: "No ID"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = store.UpsertPlace(ctx, &core.Place{
		PlaceID:  "bad-loc",
		Name:     "Bad Location",
		Location: &core.Location{Lat: 123, Lon: 0},
	})
	assert.ErrorIs(t, err, core.ErrInvalidLocation)
}

func TestAppendChunkFlow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPlace(ctx, testPlace("p1"))
	require.NoError(t, err)

	chunk := &core.Chunk{
		PlaceID:        "p1",
		SourceReviewID: "rev-1",
		Ordinal:        0,
		Text:           "Fast wifi and friendly staff.",
		OccurredAt:     time.Now().UTC().Add(-time.Hour),
	}
	stored, err := store.AppendChunk(ctx, chunk)
	require.NoError(t, err)
	assert.NotZero(t, stored.ChunkID)
	assert.NotEmpty(t, stored.LexicalDocument)

	// Same triple again conflicts.
	_, err = store.AppendChunk(ctx, &core.Chunk{
		PlaceID: "p1", SourceReviewID: "rev-1", Ordinal: 0, Text: "again",
	})
	assert.ErrorIs(t, err, core.ErrConflict)

	// Replace is the explicit way through.
	replaced, err := store.ReplaceChunk(ctx, &core.Chunk{
		PlaceID: "p1", SourceReviewID: "rev-1", Ordinal: 0, Text: "Updated take.",
	})
	require.NoError(t, err)
	assert.Equal(t, stored.ChunkID, replaced.ChunkID, "triple-derived ID is stable across replace")

	chunks, err := store.ChunksByPlace(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Updated take.", chunks[0].Text)
}

func TestAppendChunkRejectsOrphansAndPII(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AppendChunk(ctx, &core.Chunk{
		PlaceID: "ghost", SourceReviewID: "rev-1", Ordinal: 0, Text: "orphan",
	})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = store.UpsertPlace(ctx, testPlace("p1"))
	require.NoError(t, err)

	_, err = store.AppendChunk(ctx, &core.Chunk{
		PlaceID: "p1", SourceReviewID: "rev-1", Ordinal: 0, Text: "hello",
		Attributes: map[string]string{"reviewer_name": "Jo"},
	})
	assert.ErrorIs(t, err, core.ErrIdentityField)
}

func TestDeletePlaceCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPlace(ctx, testPlace("p1"))
	require.NoError(t, err)
	chunk, err := store.AppendChunk(ctx, &core.Chunk{
		PlaceID: "p1", SourceReviewID: "rev-1", Ordinal: 0, Text: "hello",
	})
	require.NoError(t, err)

	require.NoError(t, store.DeletePlace(ctx, "p1"))

	_, err = store.GetPlace(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetChunk(ctx, chunk.ChunkID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Indexes forget the place too.
	assert.Empty(t, store.FuzzyMatch("Hidden Bean", 0))
	assert.Empty(t, store.WithinRadius(core.Location{Lat: 35.2483, Lon: -80.8116}, 1000))
}

func TestFuzzyMatchAmelies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	place := testPlace("amelies")
	place.Name = "Amélie's French Bakery"
	_, err := store.UpsertPlace(ctx, place)
	require.NoError(t, err)
	_, err = store.UpsertPlace(ctx, testPlace("other"))
	require.NoError(t, err)

	matches := store.FuzzyMatch("Amelies", 0)
	require.NotEmpty(t, matches)
	assert.Equal(t, "amelies", matches[0].ID)
}

func TestWithinRadius(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near := testPlace("near")
	_, err := store.UpsertPlace(ctx, near)
	require.NoError(t, err)

	noLoc := testPlace("no-location")
	noLoc.Location = nil
	_, err = store.UpsertPlace(ctx, noLoc)
	require.NoError(t, err)

	matches := store.WithinRadius(*near.Location, 50)
	require.Len(t, matches, 1)
	assert.Equal(t, "near", matches[0].ID)
}

func TestCitationsEndToEnd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPlace(ctx, testPlace("p1"))
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	for i, text := range []string{"Good coffee.", "Nice patio.", "Fast wifi."} {
		_, err := store.AppendChunk(ctx, &core.Chunk{
			PlaceID:        "p1",
			SourceReviewID: "rev-1",
			Ordinal:        i,
			Text:           text,
			OccurredAt:     now.Add(time.Duration(i-3) * time.Hour),
		})
		require.NoError(t, err)
	}

	require.NoError(t, store.RefreshCitationCache(ctx))

	got, err := store.Citations(ctx, "p1", "", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Fast wifi.", got[0].Text)
	assert.Equal(t, "The Hidden Bean", got[0].PlaceName)
}

func TestHybridSearchFilterValidationAtFacade(t *testing.T) {
	store := newTestStore(t)
	_, err := store.HybridSearch(context.Background(), "coffee",
		&query.Filters{Amenities: map[string]string{"free_wifi": "perhaps"}}, 3)
	assert.ErrorIs(t, err, core.ErrUnknownAmenityValue)
}

func TestReopenRebuildsIndexes(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	dir := t.TempDir()

	store, err := Open(dir, WithEmbedder(embedder), WithDimensions(mock.DefaultDimensions))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.UpsertPlace(ctx, testPlace("p1"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(dir, WithEmbedder(embedder), WithDimensions(mock.DefaultDimensions))
	require.NoError(t, err)
	defer reopened.Close()

	// Rebuilt from rows: fuzzy, geo, lexical, and vectors all serve.
	assert.NotEmpty(t, reopened.FuzzyMatch("Hidden Bean", 0))
	assert.NotEmpty(t, reopened.WithinRadius(core.Location{Lat: 35.2483, Lon: -80.8116}, 100))

	results, err := reopened.HybridSearch(ctx, "quiet coffee", nil, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "p1", results[0].Place.PlaceID)
}
