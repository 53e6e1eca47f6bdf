package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/storage"
)

func seedPlace(t *testing.T, repo storage.PlaceRepository, placeID string) {
	t.Helper()
	if _, err := repo.UpsertPlace(context.Background(), &core.Place{PlaceID: placeID, Name: placeID}); err != nil {
		t.Fatalf("Failed to seed place %s: %v", placeID, err)
	}
}

func TestChunkAppendAndGet(t *testing.T) {
	placeRepo, chunkRepo, citationRepo, backend, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	}()

	ctx := context.Background()
	seedPlace(t, placeRepo, "p1")

	chunk := &core.Chunk{
		PlaceID:        "p1",
		SourceReviewID: "rev-1",
		Ordinal:        0,
		Text:           "Great coffee and quiet tables.",
		OccurredAt:     time.Now().UTC().Add(-time.Hour),
	}

	stored, err := chunkRepo.AppendChunk(ctx, chunk)
	if err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}
	if stored.ChunkID == 0 {
		t.Fatal("Expected non-zero chunk ID")
	}
	if stored.ChunkID != core.ChunkIDFor("p1", "rev-1", 0) {
		t.Fatal("Expected chunk ID derived from the identity triple")
	}

	retrieved, err := chunkRepo.GetChunk(ctx, stored.ChunkID)
	if err != nil {
		t.Fatalf("Failed to get chunk: %v", err)
	}
	if retrieved.Text != chunk.Text {
		t.Fatalf("Expected text to round-trip, got %q", retrieved.Text)
	}
}

func TestChunkDuplicateTriple(t *testing.T) {
	placeRepo, chunkRepo, citationRepo, backend, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	}()

	ctx := context.Background()
	seedPlace(t, placeRepo, "p1")

	base := &core.Chunk{PlaceID: "p1", SourceReviewID: "rev-1", Ordinal: 0, Text: "first"}
	if _, err := chunkRepo.AppendChunk(ctx, base); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	dup := &core.Chunk{PlaceID: "p1", SourceReviewID: "rev-1", Ordinal: 0, Text: "second"}
	_, err = chunkRepo.AppendChunk(ctx, dup)
	if !errors.Is(err, storage.ErrDuplicateChunk) {
		t.Fatalf("Expected ErrDuplicateChunk, got %v", err)
	}
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("Expected the duplicate error to wrap ErrConflict, got %v", err)
	}

	// The stored row is untouched.
	retrieved, err := chunkRepo.GetChunk(ctx, core.ChunkIDFor("p1", "rev-1", 0))
	if err != nil {
		t.Fatalf("Failed to get chunk: %v", err)
	}
	if retrieved.Text != "first" {
		t.Fatalf("Expected original text, got %q", retrieved.Text)
	}
}

func TestChunkReplace(t *testing.T) {
	placeRepo, chunkRepo, citationRepo, backend, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	}()

	ctx := context.Background()
	seedPlace(t, placeRepo, "p1")

	old := &core.Chunk{
		PlaceID:        "p1",
		SourceReviewID: "rev-1",
		Ordinal:        0,
		Text:           "first",
		OccurredAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, err := chunkRepo.AppendChunk(ctx, old); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	// Replace with a different OccurredAt so the date index must move.
	updated := &core.Chunk{
		PlaceID:        "p1",
		SourceReviewID: "rev-1",
		Ordinal:        0,
		Text:           "second",
		OccurredAt:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, err := chunkRepo.ReplaceChunk(ctx, updated); err != nil {
		t.Fatalf("Failed to replace chunk: %v", err)
	}

	chunks, err := chunkRepo.ChunksByPlace(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to list chunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk after replace, got %d", len(chunks))
	}
	if chunks[0].Text != "second" {
		t.Fatalf("Expected replaced text, got %q", chunks[0].Text)
	}
}

func TestChunkUnknownPlace(t *testing.T) {
	placeRepo, chunkRepo, citationRepo, backend, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	}()

	ctx := context.Background()

	chunk := &core.Chunk{PlaceID: "ghost", SourceReviewID: "rev-1", Ordinal: 0, Text: "orphan"}
	_, err = chunkRepo.AppendChunk(ctx, chunk)
	if !errors.Is(err, storage.ErrUnknownPlace) {
		t.Fatalf("Expected ErrUnknownPlace, got %v", err)
	}
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("Expected the error to wrap ErrValidation, got %v", err)
	}
}

func TestRecentChunksByPlace(t *testing.T) {
	placeRepo, chunkRepo, citationRepo, backend, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	}()

	ctx := context.Background()
	seedPlace(t, placeRepo, "p1")
	seedPlace(t, placeRepo, "p2")

	now := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		chunk := &core.Chunk{
			PlaceID:        "p1",
			SourceReviewID: "rev-1",
			Ordinal:        i,
			Text:           "fragment",
			OccurredAt:     now.Add(time.Duration(-i) * time.Hour),
		}
		if _, err := chunkRepo.AppendChunk(ctx, chunk); err != nil {
			t.Fatalf("Failed to append chunk %d: %v", i, err)
		}
	}
	// A chunk under a different place must not leak into p1's scan.
	other := &core.Chunk{PlaceID: "p2", SourceReviewID: "rev-9", Ordinal: 0, Text: "other", OccurredAt: now}
	if _, err := chunkRepo.AppendChunk(ctx, other); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	recent, err := chunkRepo.RecentChunksByPlace(ctx, "p1", 3)
	if err != nil {
		t.Fatalf("Failed to get recent chunks: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 recent chunks, got %d", len(recent))
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].OccurredAt.After(recent[i-1].OccurredAt) {
			t.Fatal("Expected descending OccurredAt order")
		}
	}
	for _, c := range recent {
		if c.PlaceID != "p1" {
			t.Fatalf("Expected only p1 chunks, got %s", c.PlaceID)
		}
	}
}

func TestDeleteChunksForPlace(t *testing.T) {
	placeRepo, chunkRepo, citationRepo, backend, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	}()

	ctx := context.Background()
	seedPlace(t, placeRepo, "p1")
	seedPlace(t, placeRepo, "p2")

	for i := 0; i < 3; i++ {
		chunk := &core.Chunk{PlaceID: "p1", SourceReviewID: "rev-1", Ordinal: i, Text: "x"}
		if _, err := chunkRepo.AppendChunk(ctx, chunk); err != nil {
			t.Fatalf("Failed to append chunk: %v", err)
		}
	}
	survivor := &core.Chunk{PlaceID: "p2", SourceReviewID: "rev-2", Ordinal: 0, Text: "keep"}
	if _, err := chunkRepo.AppendChunk(ctx, survivor); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	deleted, err := chunkRepo.DeleteChunksForPlace(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to delete chunks: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("Expected 3 deleted, got %d", deleted)
	}

	remaining, err := chunkRepo.ChunksByPlace(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to list chunks: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("Expected no chunks left, got %d", len(remaining))
	}

	if _, err := chunkRepo.GetChunk(ctx, survivor.ChunkID); err != nil {
		t.Fatalf("Expected p2 chunk to survive: %v", err)
	}

	// Re-appending the same triple after the cascade must succeed.
	again := &core.Chunk{PlaceID: "p1", SourceReviewID: "rev-1", Ordinal: 0, Text: "fresh"}
	if _, err := chunkRepo.AppendChunk(ctx, again); err != nil {
		t.Fatalf("Expected re-append after delete to succeed: %v", err)
	}
}

func TestUpdateChunkArtifacts(t *testing.T) {
	placeRepo, chunkRepo, citationRepo, backend, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	}()

	ctx := context.Background()
	seedPlace(t, placeRepo, "p1")

	chunk := &core.Chunk{PlaceID: "p1", SourceReviewID: "rev-1", Ordinal: 0, Text: "original", DerivationPending: true}
	if _, err := chunkRepo.AppendChunk(ctx, chunk); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	pending, err := chunkRepo.ListPendingChunks(ctx)
	if err != nil {
		t.Fatalf("Failed to list pending chunks: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending chunk, got %d", len(pending))
	}

	update := &core.Chunk{
		ChunkID:           chunk.ChunkID,
		Text:              "attempted mutation", // must be ignored
		LexicalDocument:   "original",
		Embedding:         []float32{0.1, 0.2},
		DerivationPending: false,
	}
	if err := chunkRepo.UpdateChunkArtifacts(ctx, update); err != nil {
		t.Fatalf("Failed to update artifacts: %v", err)
	}

	retrieved, err := chunkRepo.GetChunk(ctx, chunk.ChunkID)
	if err != nil {
		t.Fatalf("Failed to get chunk: %v", err)
	}
	if retrieved.Text != "original" {
		t.Fatal("Expected source text to stay immutable")
	}
	if retrieved.LexicalDocument != "original" || len(retrieved.Embedding) != 2 {
		t.Fatal("Expected derived fields to be persisted")
	}

	pending, err = chunkRepo.ListPendingChunks(ctx)
	if err != nil {
		t.Fatalf("Failed to list pending chunks: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("Expected no pending chunks, got %d", len(pending))
	}
}

func TestCitationReplaceAll(t *testing.T) {
	placeRepo, chunkRepo, citationRepo, backend, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	}()

	ctx := context.Background()

	first := []*core.Citation{
		{ChunkID: 1, PlaceID: "p1", PlaceName: "A", Text: "one"},
		{ChunkID: 2, PlaceID: "p1", PlaceName: "A", Text: "two"},
	}
	if err := citationRepo.ReplaceAll(ctx, first); err != nil {
		t.Fatalf("Failed to replace citations: %v", err)
	}

	second := []*core.Citation{
		{ChunkID: 3, PlaceID: "p2", PlaceName: "B", Text: "three"},
	}
	if err := citationRepo.ReplaceAll(ctx, second); err != nil {
		t.Fatalf("Failed to replace citations again: %v", err)
	}

	all, err := citationRepo.All(ctx)
	if err != nil {
		t.Fatalf("Failed to list citations: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected stale rows removed, got %d rows", len(all))
	}
	if all[0].ChunkID != 3 {
		t.Fatalf("Expected chunk 3, got %d", all[0].ChunkID)
	}
}

func TestChunkKeysWithSeparatorBearingIDs(t *testing.T) {
	placeRepo, chunkRepo, citationRepo, backend, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	}()

	ctx := context.Background()
	seedPlace(t, placeRepo, "a")
	seedPlace(t, placeRepo, "a:b")

	// (a:b, c, 0) and (a, b:c, 0) are distinct triples even though their
	// raw concatenations are identical.
	other, err := chunkRepo.AppendChunk(ctx, &core.Chunk{
		PlaceID: "a:b", SourceReviewID: "c", Ordinal: 0, Text: "owned by a:b",
	})
	if err != nil {
		t.Fatalf("Failed to append chunk for place a:b: %v", err)
	}

	mine, err := chunkRepo.AppendChunk(ctx, &core.Chunk{
		PlaceID: "a", SourceReviewID: "b:c", Ordinal: 0, Text: "owned by a",
	})
	if err != nil {
		t.Fatalf("Append with colon-bearing review ID must not conflict: %v", err)
	}
	if mine.ChunkID == other.ChunkID {
		t.Fatal("Expected distinct chunk IDs for distinct triples")
	}

	// Per-place scans must not bleed into the longer place ID.
	chunks, err := chunkRepo.ChunksByPlace(ctx, "a")
	if err != nil {
		t.Fatalf("Failed to list chunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].PlaceID != "a" {
		t.Fatalf("Expected only place a's chunk, got %d rows", len(chunks))
	}

	recent, err := chunkRepo.RecentChunksByPlace(ctx, "a", 10)
	if err != nil {
		t.Fatalf("Failed to list recent chunks: %v", err)
	}
	if len(recent) != 1 || recent[0].PlaceID != "a" {
		t.Fatalf("Expected only place a's chunk in recency scan, got %d rows", len(recent))
	}

	// And the cascade must stay inside the place.
	deleted, err := chunkRepo.DeleteChunksForPlace(ctx, "a")
	if err != nil {
		t.Fatalf("Failed to delete chunks: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 chunk deleted, got %d", deleted)
	}
	if _, err := chunkRepo.GetChunk(ctx, other.ChunkID); err != nil {
		t.Fatalf("Cascade for place a must not touch place a:b's chunk: %v", err)
	}
}

func TestChunkOrderingSpansEpoch(t *testing.T) {
	placeRepo, chunkRepo, citationRepo, backend, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() {
		citationRepo.Close()
		chunkRepo.Close()
		placeRepo.Close()
		backend.Close()
	}()

	ctx := context.Background()
	seedPlace(t, placeRepo, "p1")

	times := []time.Time{
		time.Date(1950, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	for i, at := range times {
		_, err := chunkRepo.AppendChunk(ctx, &core.Chunk{
			PlaceID:        "p1",
			SourceReviewID: "rev-1",
			Ordinal:        i,
			Text:           "text",
			OccurredAt:     at,
		})
		if err != nil {
			t.Fatalf("Failed to append chunk %d: %v", i, err)
		}
	}

	chunks, err := chunkRepo.ChunksByPlace(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to list chunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	for i := range chunks {
		if !chunks[i].OccurredAt.Equal(times[i]) {
			t.Fatalf("Expected ascending order at %d, got %v", i, chunks[i].OccurredAt)
		}
	}

	recent, err := chunkRepo.RecentChunksByPlace(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("Failed to list recent chunks: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 recent chunks, got %d", len(recent))
	}
	if !recent[0].OccurredAt.Equal(times[2]) || !recent[1].OccurredAt.Equal(times[1]) {
		t.Fatalf("Expected newest-first order, got %v then %v",
			recent[0].OccurredAt, recent[1].OccurredAt)
	}
}
