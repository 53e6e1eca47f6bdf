package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/poiesic/venuedb/ai"
	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/index"
	"github.com/poiesic/venuedb/storage"
)

// DefaultCitationLimit bounds citation results when the caller passes a
// non-positive limit.
const DefaultCitationLimit = 10

// CitationCache serves denormalized citation entries from an immutable
// in-memory snapshot. Refresh builds a new snapshot off to the side and
// swaps it in atomically, so readers never block on a rebuild and always
// see a complete (if stale) view. The snapshot is also persisted so a
// freshly opened store can serve citations before the first refresh.
type CitationCache struct {
	places    storage.PlaceRepository
	chunks    storage.ChunkRepository
	citations storage.CitationRepository
	vectors   *index.HNSW[core.ID] // chunk embeddings, shared with the store
	embedder  ai.Embedder
	logger    *slog.Logger

	snapshot atomic.Pointer[citationSnapshot]
}

type citationSnapshot struct {
	byPlace map[string][]*core.Citation // occurred_at desc per place
	byChunk map[core.ID]*core.Citation
	builtAt time.Time
}

// NewCitationCache creates a cache over the given repositories. The chunk
// vector index is optional; without it query-scored citations fall back to
// recency order.
func NewCitationCache(places storage.PlaceRepository, chunks storage.ChunkRepository, citations storage.CitationRepository, vectors *index.HNSW[core.ID], embedder ai.Embedder) (*CitationCache, error) {
	if places == nil || chunks == nil || citations == nil {
		return nil, errors.New("repositories required")
	}
	return &CitationCache{
		places:    places,
		chunks:    chunks,
		citations: citations,
		vectors:   vectors,
		embedder:  embedder,
		logger:    slog.Default().With("component", "citations"),
	}, nil
}

// Load primes the snapshot from the persisted citation rows. Called once at
// store open; an empty table just means no snapshot until the first refresh.
func (c *CitationCache) Load(ctx context.Context) error {
	entries, err := c.citations.All(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	c.snapshot.Store(buildSnapshot(entries))
	return nil
}

// Refresh rebuilds the snapshot from the live store and persists it.
// In-flight readers keep the previous snapshot until the swap.
func (c *CitationCache) Refresh(ctx context.Context) error {
	placeNames := make(map[string]*core.Place)
	err := c.places.ForEachPlace(ctx, func(place *core.Place) error {
		placeNames[place.PlaceID] = place
		return nil
	})
	if err != nil {
		return fmt.Errorf("citation refresh: %w", err)
	}

	var entries []*core.Citation
	err = c.chunks.ForEachChunk(ctx, func(chunk *core.Chunk) error {
		place, ok := placeNames[chunk.PlaceID]
		if !ok {
			// Orphan row mid-cascade; skip rather than cite a ghost.
			return nil
		}
		entries = append(entries, &core.Citation{
			ChunkID:      chunk.ChunkID,
			PlaceID:      chunk.PlaceID,
			PlaceName:    place.Name,
			Neighborhood: place.Neighborhood,
			Text:         chunk.Text,
			OccurredAt:   chunk.OccurredAt,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("citation refresh: %w", err)
	}

	if err := c.citations.ReplaceAll(ctx, entries); err != nil {
		return fmt.Errorf("citation refresh: %w", err)
	}
	c.snapshot.Store(buildSnapshot(entries))
	c.logger.Info("citation cache refreshed", "entries", len(entries), "places", len(placeNames))
	return nil
}

// BuiltAt reports when the current snapshot was built, zero when none.
func (c *CitationCache) BuiltAt() time.Time {
	if snap := c.snapshot.Load(); snap != nil {
		return snap.builtAt
	}
	return time.Time{}
}

// Citations returns citation entries for one place. An empty query yields
// the most recent entries by occurred_at; otherwise entries are ranked by
// semantic similarity of the query to the chunk embeddings.
func (c *CitationCache) Citations(ctx context.Context, placeID, queryText string, limit int) ([]*core.Citation, error) {
	if placeID == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, core.ErrMissingPlaceID)
	}
	if limit <= 0 {
		limit = DefaultCitationLimit
	}

	if queryText == "" {
		return c.recent(ctx, placeID, limit)
	}
	return c.ranked(ctx, placeID, queryText, limit)
}

// recent serves from the snapshot when it covers the place, falling back to
// a live join for places written after the last refresh.
func (c *CitationCache) recent(ctx context.Context, placeID string, limit int) ([]*core.Citation, error) {
	if snap := c.snapshot.Load(); snap != nil {
		if entries, ok := snap.byPlace[placeID]; ok {
			if len(entries) > limit {
				entries = entries[:limit]
			}
			return entries, nil
		}
	}
	return c.liveRecent(ctx, placeID, limit)
}

func (c *CitationCache) liveRecent(ctx context.Context, placeID string, limit int) ([]*core.Citation, error) {
	place, err := c.places.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	chunks, err := c.chunks.RecentChunksByPlace(ctx, placeID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]*core.Citation, 0, len(chunks))
	for _, chunk := range chunks {
		entries = append(entries, &core.Citation{
			ChunkID:      chunk.ChunkID,
			PlaceID:      chunk.PlaceID,
			PlaceName:    place.Name,
			Neighborhood: place.Neighborhood,
			Text:         chunk.Text,
			OccurredAt:   chunk.OccurredAt,
		})
	}
	return entries, nil
}

// ranked scores the place's chunks against the query embedding. Failures
// degrade to recency order rather than failing the read.
func (c *CitationCache) ranked(ctx context.Context, placeID, queryText string, limit int) ([]*core.Citation, error) {
	if c.vectors == nil || c.embedder == nil {
		return c.recent(ctx, placeID, limit)
	}

	qvec, err := c.embedder.EmbedText(ctx, queryText)
	if err != nil {
		c.logger.Warn("citation query embedding failed, serving recency order",
			"place_id", placeID, "error", err)
		return c.recent(ctx, placeID, limit)
	}
	normalizeQuery(qvec)

	// Global search, then restrict to the place. The pool is padded so a
	// popular neighbor can't starve out the target place entirely.
	matches, err := c.vectors.Search(qvec, max(limit*4, minCandidates))
	if err != nil {
		c.logger.Warn("citation semantic search failed, serving recency order",
			"place_id", placeID, "error", err)
		return c.recent(ctx, placeID, limit)
	}

	var entries []*core.Citation
	seen := make(map[core.ID]bool)
	for _, m := range matches {
		entry, err := c.lookup(ctx, m.ID)
		if err != nil || entry == nil || entry.PlaceID != placeID {
			continue
		}
		entries = append(entries, entry)
		seen[entry.ChunkID] = true
		if len(entries) == limit {
			return entries, nil
		}
	}

	// Top up from recency when the beam missed the place's chunks.
	recent, err := c.recent(ctx, placeID, limit)
	if err != nil {
		if len(entries) > 0 {
			return entries, nil
		}
		return nil, err
	}
	for _, entry := range recent {
		if seen[entry.ChunkID] {
			continue
		}
		entries = append(entries, entry)
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// lookup resolves a chunk ID to a citation entry, preferring the snapshot.
func (c *CitationCache) lookup(ctx context.Context, chunkID core.ID) (*core.Citation, error) {
	if snap := c.snapshot.Load(); snap != nil {
		if entry, ok := snap.byChunk[chunkID]; ok {
			return entry, nil
		}
	}
	chunk, err := c.chunks.GetChunk(ctx, chunkID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	place, err := c.places.GetPlace(ctx, chunk.PlaceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &core.Citation{
		ChunkID:      chunk.ChunkID,
		PlaceID:      chunk.PlaceID,
		PlaceName:    place.Name,
		Neighborhood: place.Neighborhood,
		Text:         chunk.Text,
		OccurredAt:   chunk.OccurredAt,
	}, nil
}

func buildSnapshot(entries []*core.Citation) *citationSnapshot {
	snap := &citationSnapshot{
		byPlace: make(map[string][]*core.Citation),
		byChunk: make(map[core.ID]*core.Citation, len(entries)),
		builtAt: time.Now().UTC(),
	}
	for _, entry := range entries {
		snap.byPlace[entry.PlaceID] = append(snap.byPlace[entry.PlaceID], entry)
		snap.byChunk[entry.ChunkID] = entry
	}
	for _, list := range snap.byPlace {
		sort.Slice(list, func(i, j int) bool {
			if !list[i].OccurredAt.Equal(list[j].OccurredAt) {
				return list[i].OccurredAt.After(list[j].OccurredAt)
			}
			return list[i].ChunkID < list[j].ChunkID
		})
	}
	return snap
}
