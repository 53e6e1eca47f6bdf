package storage

import (
	"context"

	"github.com/poiesic/venuedb/core"
)

// Repository provides common operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// WithTransaction executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Close closes the repository and releases resources.
	Close() error
}

// PlaceRepository provides operations for managing Place rows.
type PlaceRepository interface {
	Repository

	// UpsertPlace inserts or whole-document replaces a Place by PlaceID.
	// CreatedAt is preserved on replace; UpdatedAt is always refreshed.
	// The caller (store facade) runs validation and derivation; this layer
	// persists exactly what it is given.
	UpsertPlace(ctx context.Context, place *core.Place) (*core.Place, error)

	// UpdatePlaceArtifacts persists maintainer-owned derived fields
	// (lexical document, aggregate document, embedding, pending flag).
	// Source fields are taken from the stored row, never from the argument.
	// Returns ErrNotFound if absent.
	UpdatePlaceArtifacts(ctx context.Context, place *core.Place) error

	// GetPlace retrieves a Place by ID. Returns ErrNotFound if absent.
	GetPlace(ctx context.Context, placeID string) (*core.Place, error)

	// DeletePlace removes a Place row. Returns ErrNotFound if absent.
	// Chunk cascade is the store facade's responsibility.
	DeletePlace(ctx context.Context, placeID string) error

	// ListPlaceIDs returns every stored place ID.
	ListPlaceIDs(ctx context.Context) ([]string, error)

	// ListPendingPlaces returns IDs of places marked derivation-pending.
	ListPendingPlaces(ctx context.Context) ([]string, error)

	// ForEachPlace iterates all places. Used for index rebuilds and the
	// degraded full-scan fallback. Iteration stops on the first error.
	ForEachPlace(ctx context.Context, fn func(*core.Place) error) error
}

// ChunkRepository provides operations for managing Chunk rows.
type ChunkRepository interface {
	Repository

	// AppendChunk inserts a Chunk. Returns ErrDuplicateChunk (wrapping
	// core.ErrConflict) if the (place_id, source_review_id, ordinal) triple
	// already exists; re-ingestion must use ReplaceChunk.
	AppendChunk(ctx context.Context, chunk *core.Chunk) (*core.Chunk, error)

	// ReplaceChunk explicitly overwrites the chunk with the same triple,
	// or inserts it if absent.
	ReplaceChunk(ctx context.Context, chunk *core.Chunk) (*core.Chunk, error)

	// UpdateChunkArtifacts persists maintainer-owned derived fields
	// (lexical document, embedding, pending flag). Source fields are
	// immutable and are not touched. Returns ErrNotFound if absent.
	UpdateChunkArtifacts(ctx context.Context, chunk *core.Chunk) error

	// GetChunk retrieves a chunk by ID. Returns ErrNotFound if absent.
	GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error)

	// ChunksByPlace returns all chunks of a place, ordered by OccurredAt
	// ascending. O(chunk count); used by aggregate derivation.
	ChunksByPlace(ctx context.Context, placeID string) ([]*core.Chunk, error)

	// RecentChunksByPlace returns up to limit chunks of a place ordered by
	// OccurredAt descending.
	RecentChunksByPlace(ctx context.Context, placeID string, limit int) ([]*core.Chunk, error)

	// ListPendingChunks returns IDs of chunks marked derivation-pending.
	ListPendingChunks(ctx context.Context) ([]core.ID, error)

	// DeleteChunksForPlace removes every chunk of a place. Returns the
	// number deleted. Used by the place-delete cascade.
	DeleteChunksForPlace(ctx context.Context, placeID string) (int, error)

	// ForEachChunk iterates all chunks. Used by the citation cache rebuild.
	ForEachChunk(ctx context.Context, fn func(*core.Chunk) error) error
}

// CitationRepository persists the denormalized citation rows so a freshly
// opened store can serve cached citations without an immediate rebuild.
// The authoritative read structure is the in-memory snapshot owned by
// query.CitationCache; this is its durable copy.
type CitationRepository interface {
	Repository

	// ReplaceAll atomically replaces the full set of citation rows.
	ReplaceAll(ctx context.Context, entries []*core.Citation) error

	// All returns every persisted citation row.
	All(ctx context.Context) ([]*core.Citation, error)
}
