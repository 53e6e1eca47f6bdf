package derive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/venuedb/ai"
	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/storage"
)

const (
	defaultWorkers     = 4
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Maintainer owns every derived artifact: lexical documents, aggregate
// documents, and embeddings. Place-level derivation runs synchronously in
// the write path; aggregate recomputation and chunk embeddings run on a
// bounded worker pool, so reads may briefly observe pre-update artifacts.
//
// Embedding failures never fail a write: the row commits with its prior
// artifacts and a pending marker, and SweepPending retries later.
type Maintainer struct {
	places   storage.PlaceRepository
	chunks   storage.ChunkRepository
	embedder ai.Embedder
	pool     *ants.Pool
	logger   *slog.Logger

	dim         int
	workers     int
	maxAttempts int
	baseDelay   time.Duration

	onPlaceUpdated func(*core.Place)
	onChunkUpdated func(*core.Chunk)

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// MaintainerOption configures a Maintainer.
type MaintainerOption func(*Maintainer)

// WithWorkers sets the async derivation pool size.
func WithWorkers(n int) MaintainerOption {
	return func(m *Maintainer) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithDimensions sets the embedding dimension derived vectors are checked
// against.
func WithDimensions(dim int) MaintainerOption {
	return func(m *Maintainer) {
		if dim > 0 {
			m.dim = dim
		}
	}
}

// WithRetry sets the sweep retry budget.
func WithRetry(maxAttempts int, baseDelay time.Duration) MaintainerOption {
	return func(m *Maintainer) {
		if maxAttempts > 0 {
			m.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			m.baseDelay = baseDelay
		}
	}
}

// WithOnPlaceUpdated registers a hook invoked after a place's derived
// artifacts are persisted. The store uses it to refresh indexes.
func WithOnPlaceUpdated(fn func(*core.Place)) MaintainerOption {
	return func(m *Maintainer) { m.onPlaceUpdated = fn }
}

// WithOnChunkUpdated registers a hook invoked after a chunk's derived
// artifacts are persisted.
func WithOnChunkUpdated(fn func(*core.Chunk)) MaintainerOption {
	return func(m *Maintainer) { m.onChunkUpdated = fn }
}

// WithLogger sets the maintainer's logger.
func WithLogger(logger *slog.Logger) MaintainerOption {
	return func(m *Maintainer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMaintainer creates a maintainer over the given repositories and
// embedder. Call Close to drain the worker pool.
func NewMaintainer(places storage.PlaceRepository, chunks storage.ChunkRepository, embedder ai.Embedder, opts ...MaintainerOption) (*Maintainer, error) {
	if places == nil || chunks == nil {
		return nil, errors.New("repositories required")
	}
	if embedder == nil {
		return nil, errors.New("embedder required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Maintainer{
		places:      places,
		chunks:      chunks,
		embedder:    embedder,
		logger:      slog.Default().With("component", "maintainer"),
		dim:         core.DefaultEmbeddingDim,
		workers:     defaultWorkers,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(m)
	}

	pool, err := ants.NewPool(m.workers)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("derivation pool: %w", err)
	}
	m.pool = pool
	return m, nil
}

// Close stops accepting work, waits for in-flight derivations, and releases
// the pool.
func (m *Maintainer) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		m.pool.Release()
	})
}

// DerivePlace computes a place's artifacts in the write path: lexical
// document, aggregate document over existing child chunks, and an embedding
// attempt. An embedding failure marks the place pending instead of failing.
func (m *Maintainer) DerivePlace(ctx context.Context, place *core.Place) error {
	place.LexicalDocument = ComposePlaceDocument(place)

	chunks, err := m.chunks.ChunksByPlace(ctx, place.PlaceID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	place.AggregateDocument = ComposeAggregateDocument(place, chunks)

	vec, err := m.embed(ctx, place.AggregateDocument)
	if err != nil {
		m.logger.Warn("place embedding failed, marking pending",
			"place_id", place.PlaceID, "error", err)
		place.DerivationPending = true
		return nil
	}
	place.Embedding = vec
	place.DerivationPending = false
	return nil
}

// DeriveChunk computes a chunk's synchronous artifacts. The embedding is
// produced later on the pool, so the chunk starts out pending.
func (m *Maintainer) DeriveChunk(chunk *core.Chunk) {
	chunk.LexicalDocument = ComposeChunkDocument(chunk)
	chunk.DerivationPending = true
}

// SchedulePlaceAggregate queues recomputation of a place's aggregate
// document and embedding. Pool exhaustion marks the place pending so the
// sweep picks it up.
func (m *Maintainer) SchedulePlaceAggregate(placeID string) {
	m.wg.Add(1)
	err := m.pool.Submit(func() {
		defer m.wg.Done()
		if err := m.refreshPlaceAggregate(m.ctx, placeID); err != nil {
			m.logger.Warn("aggregate derivation failed", "place_id", placeID, "error", err)
		}
	})
	if err != nil {
		m.wg.Done()
		m.logger.Warn("aggregate derivation not scheduled", "place_id", placeID, "error", err)
		m.markPlacePending(placeID)
	}
}

// ScheduleChunkEmbedding queues embedding of one chunk. The chunk row is
// already pending; failure just leaves it that way.
func (m *Maintainer) ScheduleChunkEmbedding(chunkID core.ID) {
	m.wg.Add(1)
	err := m.pool.Submit(func() {
		defer m.wg.Done()
		if err := m.embedChunk(m.ctx, chunkID); err != nil {
			m.logger.Warn("chunk embedding failed", "chunk_id", chunkID, "error", err)
		}
	})
	if err != nil {
		m.wg.Done()
		m.logger.Warn("chunk embedding not scheduled", "chunk_id", chunkID, "error", err)
	}
}

// Reindex synchronously re-derives one place and all of its chunks.
// Admin repair path; embedding failures here are reported, not deferred.
func (m *Maintainer) Reindex(ctx context.Context, placeID string) error {
	place, err := m.places.GetPlace(ctx, placeID)
	if err != nil {
		return err
	}

	chunks, err := m.chunks.ChunksByPlace(ctx, placeID)
	if err != nil {
		return err
	}

	place.LexicalDocument = ComposePlaceDocument(place)
	place.AggregateDocument = ComposeAggregateDocument(place, chunks)
	vec, err := m.embed(ctx, place.AggregateDocument)
	if err != nil {
		return fmt.Errorf("place %s: %w", placeID, err)
	}
	place.Embedding = vec
	place.DerivationPending = false
	if err := m.places.UpdatePlaceArtifacts(ctx, place); err != nil {
		return err
	}
	m.notifyPlace(place)

	// Chunk embeddings go through the batch endpoint.
	for start := 0; start < len(chunks); start += ai.MaxBatchSize {
		end := min(start+ai.MaxBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			chunk.LexicalDocument = ComposeChunkDocument(chunk)
			texts[i] = ComposeChunkEmbeddingText(place, chunk)
		}
		vectors, err := m.embedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("place %s chunks: %w", placeID, err)
		}
		for i, chunk := range batch {
			chunk.Embedding = vectors[i]
			chunk.DerivationPending = false
			if err := m.chunks.UpdateChunkArtifacts(ctx, chunk); err != nil {
				return err
			}
			m.notifyChunk(chunk)
		}
	}
	return nil
}

// SweepPending retries derivation for every pending place and chunk with
// exponential backoff. Returns how many rows were repaired.
func (m *Maintainer) SweepPending(ctx context.Context) (int, error) {
	repaired := 0

	placeIDs, err := m.places.ListPendingPlaces(ctx)
	if err != nil {
		return 0, err
	}
	for _, placeID := range placeIDs {
		err := RetryWithBackoff(ctx, func() error {
			return m.refreshPlaceAggregate(ctx, placeID)
		}, m.maxAttempts, m.baseDelay)
		if err != nil {
			m.logger.Warn("sweep: place still pending", "place_id", placeID, "error", err)
			continue
		}
		repaired++
	}

	chunkIDs, err := m.chunks.ListPendingChunks(ctx)
	if err != nil {
		return repaired, err
	}
	for _, chunkID := range chunkIDs {
		err := RetryWithBackoff(ctx, func() error {
			return m.embedChunk(ctx, chunkID)
		}, m.maxAttempts, m.baseDelay)
		if err != nil {
			m.logger.Warn("sweep: chunk still pending", "chunk_id", chunkID, "error", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}

// refreshPlaceAggregate recomputes and persists one place's aggregate
// document and embedding.
func (m *Maintainer) refreshPlaceAggregate(ctx context.Context, placeID string) error {
	place, err := m.places.GetPlace(ctx, placeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil // deleted since scheduling
		}
		return err
	}

	chunks, err := m.chunks.ChunksByPlace(ctx, placeID)
	if err != nil {
		return err
	}

	place.LexicalDocument = ComposePlaceDocument(place)
	place.AggregateDocument = ComposeAggregateDocument(place, chunks)

	vec, err := m.embed(ctx, place.AggregateDocument)
	if err != nil {
		// Persist the recomputed documents anyway; the embedding stays
		// prior and the pending marker keeps the row on the sweep's list.
		place.DerivationPending = true
		if uerr := m.places.UpdatePlaceArtifacts(ctx, place); uerr != nil {
			return uerr
		}
		return err
	}
	place.Embedding = vec
	place.DerivationPending = false
	if err := m.places.UpdatePlaceArtifacts(ctx, place); err != nil {
		return err
	}
	m.notifyPlace(place)
	return nil
}

// embedChunk embeds one chunk with its parent-place context and persists
// the artifacts.
func (m *Maintainer) embedChunk(ctx context.Context, chunkID core.ID) error {
	chunk, err := m.chunks.GetChunk(ctx, chunkID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil // deleted since scheduling
		}
		return err
	}
	place, err := m.places.GetPlace(ctx, chunk.PlaceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil // cascade raced us
		}
		return err
	}

	vec, err := m.embed(ctx, ComposeChunkEmbeddingText(place, chunk))
	if err != nil {
		return err
	}
	chunk.LexicalDocument = ComposeChunkDocument(chunk)
	chunk.Embedding = vec
	chunk.DerivationPending = false
	if err := m.chunks.UpdateChunkArtifacts(ctx, chunk); err != nil {
		return err
	}
	m.notifyChunk(chunk)
	return nil
}

// embed produces one unit-normalized vector of the configured dimension.
func (m *Maintainer) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := m.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrDerivationPending, err)
	}
	if len(vec) != m.dim {
		return nil, fmt.Errorf("%w: embedding dimension %d, want %d", core.ErrDerivationPending, len(vec), m.dim)
	}
	normalizeVector(vec)
	return vec, nil
}

func (m *Maintainer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := m.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrDerivationPending, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", core.ErrDerivationPending, len(vectors), len(texts))
	}
	for _, vec := range vectors {
		if len(vec) != m.dim {
			return nil, fmt.Errorf("%w: embedding dimension %d, want %d", core.ErrDerivationPending, len(vec), m.dim)
		}
		normalizeVector(vec)
	}
	return vectors, nil
}

func (m *Maintainer) markPlacePending(placeID string) {
	place, err := m.places.GetPlace(m.ctx, placeID)
	if err != nil {
		return
	}
	place.DerivationPending = true
	if err := m.places.UpdatePlaceArtifacts(m.ctx, place); err != nil {
		m.logger.Warn("failed to mark place pending", "place_id", placeID, "error", err)
	}
}

func (m *Maintainer) notifyPlace(place *core.Place) {
	if m.onPlaceUpdated != nil {
		m.onPlaceUpdated(place)
	}
}

func (m *Maintainer) notifyChunk(chunk *core.Chunk) {
	if m.onChunkUpdated != nil {
		m.onChunkUpdated(chunk)
	}
}

// normalizeVector scales v to unit length in place. Zero vectors stay zero.
func normalizeVector(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
