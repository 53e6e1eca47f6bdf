// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package venuedb is an embedded hybrid retrieval store for venues and
// their review fragments. One Store owns a BadgerDB directory plus four
// in-process indexes (semantic, lexical, geospatial, fuzzy-name); a single
// upstream pipeline writes, many readers query.
package venuedb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/venuedb/ai"
	"github.com/poiesic/venuedb/ai/openai"
	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/derive"
	"github.com/poiesic/venuedb/index"
	"github.com/poiesic/venuedb/query"
	"github.com/poiesic/venuedb/storage"
	"github.com/poiesic/venuedb/storage/badger"
)

// Store is the embedded database handle. All methods are safe for
// concurrent use; writes are expected from a single upstream pipeline
// (last-writer-wins on whole-document upserts).
type Store struct {
	backend      *badger.Backend
	places       storage.PlaceRepository
	chunks       storage.ChunkRepository
	citationRepo storage.CitationRepository

	placeVectors *index.HNSW[string]
	chunkVectors *index.HNSW[core.ID]
	lexical      *index.Lexical
	geo          *index.Geo
	fuzzy        *index.Fuzzy

	maintainer *derive.Maintainer
	planner    *query.Planner
	citations  *query.CitationCache

	embedder       ai.Embedder
	logger         *slog.Logger
	dim            int
	fuzzyThreshold float64
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	aiConfig       *ai.Config
	embedder       ai.Embedder
	inMemory       bool
	dim            int
	semanticWeight float64
	lexicalWeight  float64
	fuzzyThreshold float64
	workers        int
}

// WithAIConfig sets the embedding provider configuration used when no
// explicit embedder is given.
func WithAIConfig(config *ai.Config) StoreOption {
	return func(o *storeOptions) { o.aiConfig = config }
}

// WithEmbedder injects an embedder directly, bypassing the OpenAI client.
// Tests use this with the deterministic mock.
func WithEmbedder(embedder ai.Embedder) StoreOption {
	return func(o *storeOptions) { o.embedder = embedder }
}

// WithInMemory opens a transient store with no on-disk state.
func WithInMemory() StoreOption {
	return func(o *storeOptions) { o.inMemory = true }
}

// WithDimensions overrides the embedding dimension.
func WithDimensions(dim int) StoreOption {
	return func(o *storeOptions) {
		if dim > 0 {
			o.dim = dim
		}
	}
}

// WithSearchWeights overrides the hybrid blend weights (must sum to 1).
func WithSearchWeights(semantic, lexical float64) StoreOption {
	return func(o *storeOptions) {
		o.semanticWeight = semantic
		o.lexicalWeight = lexical
	}
}

// WithFuzzyThreshold overrides the default fuzzy-name similarity floor.
func WithFuzzyThreshold(threshold float64) StoreOption {
	return func(o *storeOptions) {
		if threshold > 0 {
			o.fuzzyThreshold = threshold
		}
	}
}

// WithDerivationWorkers sets the async derivation pool size.
func WithDerivationWorkers(n int) StoreOption {
	return func(o *storeOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// Open opens (or creates) a store at filePath and rebuilds the in-memory
// indexes from the stored rows. Close the store to flush and release it.
func Open(filePath string, opts ...StoreOption) (*Store, error) {
	options := &storeOptions{
		aiConfig:       ai.DefaultConfig(),
		dim:            core.DefaultEmbeddingDim,
		semanticWeight: query.DefaultSemanticWeight,
		lexicalWeight:  query.DefaultLexicalWeight,
		fuzzyThreshold: index.DefaultFuzzyThreshold,
	}
	for _, opt := range opts {
		opt(options)
	}

	embedder := options.embedder
	if embedder == nil {
		var err error
		embedder, err = openai.NewEmbedder(options.aiConfig)
		if err != nil {
			return nil, err
		}
	}

	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	places, err := badger.NewPlaceRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	chunks, err := badger.NewChunkRepository(backend)
	if err != nil {
		places.Close()
		backend.Close()
		return nil, err
	}
	citationRepo, err := badger.NewCitationRepository(backend)
	if err != nil {
		chunks.Close()
		places.Close()
		backend.Close()
		return nil, err
	}

	s := &Store{
		backend:        backend,
		places:         places,
		chunks:         chunks,
		citationRepo:   citationRepo,
		placeVectors:   index.NewHNSW[string](options.dim),
		chunkVectors:   index.NewHNSW[core.ID](options.dim),
		lexical:        index.NewLexical(),
		geo:            index.NewGeo(),
		fuzzy:          index.NewFuzzy(),
		embedder:       embedder,
		logger:         slog.Default().With("component", "store"),
		dim:            options.dim,
		fuzzyThreshold: options.fuzzyThreshold,
	}

	maintainerOpts := []derive.MaintainerOption{
		derive.WithDimensions(options.dim),
		derive.WithOnPlaceUpdated(s.indexPlace),
		derive.WithOnChunkUpdated(s.indexChunk),
	}
	if options.workers > 0 {
		maintainerOpts = append(maintainerOpts, derive.WithWorkers(options.workers))
	}
	s.maintainer, err = derive.NewMaintainer(places, chunks, embedder, maintainerOpts...)
	if err != nil {
		s.closeStorage()
		return nil, err
	}

	s.planner, err = query.NewPlanner(places, s.placeVectors, s.lexical, embedder,
		query.WithWeights(options.semanticWeight, options.lexicalWeight))
	if err != nil {
		s.maintainer.Close()
		s.closeStorage()
		return nil, err
	}

	s.citations, err = query.NewCitationCache(places, chunks, citationRepo, s.chunkVectors, embedder)
	if err != nil {
		s.maintainer.Close()
		s.closeStorage()
		return nil, err
	}

	if err := s.rebuildIndexes(context.Background()); err != nil {
		s.maintainer.Close()
		s.closeStorage()
		return nil, err
	}
	if err := s.citations.Load(context.Background()); err != nil {
		s.logger.Warn("citation snapshot load failed, first refresh will rebuild it", "error", err)
	}
	return s, nil
}

// Close drains async derivation and releases storage.
func (s *Store) Close() error {
	s.maintainer.Close()
	return s.closeStorage()
}

func (s *Store) closeStorage() error {
	if err := s.citationRepo.Close(); err != nil {
		s.logger.Error("error closing citation repository", "err", err)
	}
	if err := s.chunks.Close(); err != nil {
		s.logger.Error("error closing chunk repository", "err", err)
	}
	if err := s.places.Close(); err != nil {
		s.logger.Error("error closing place repository", "err", err)
	}
	return s.backend.Close()
}

// UpsertPlace validates, derives, persists, and indexes a place. The
// returned place carries the derived artifacts and store timestamps.
// An embedding failure does not fail the call; the place commits marked
// pending and SweepPending repairs it later.
func (s *Store) UpsertPlace(ctx context.Context, place *core.Place) (*core.Place, error) {
	if err := core.ValidatePlace(place); err != nil {
		return nil, err
	}
	if err := s.maintainer.DerivePlace(ctx, place); err != nil {
		return nil, err
	}
	stored, err := s.places.UpsertPlace(ctx, place)
	if err != nil {
		return nil, err
	}
	s.indexPlace(stored)
	return stored, nil
}

// GetPlace retrieves a place by ID.
func (s *Store) GetPlace(ctx context.Context, placeID string) (*core.Place, error) {
	return s.places.GetPlace(ctx, placeID)
}

// ListPlaceIDs returns every stored place ID.
func (s *Store) ListPlaceIDs(ctx context.Context) ([]string, error) {
	return s.places.ListPlaceIDs(ctx)
}

// DeletePlace removes a place, cascades to its chunks, and drops every
// index entry. Citation snapshot entries linger until the next refresh.
func (s *Store) DeletePlace(ctx context.Context, placeID string) error {
	chunks, err := s.chunks.ChunksByPlace(ctx, placeID)
	if err != nil {
		return err
	}
	if _, err := s.chunks.DeleteChunksForPlace(ctx, placeID); err != nil {
		return err
	}
	if err := s.places.DeletePlace(ctx, placeID); err != nil {
		return err
	}
	for _, chunk := range chunks {
		s.chunkVectors.Remove(chunk.ChunkID)
	}
	s.placeVectors.Remove(placeID)
	s.lexical.Remove(placeID)
	s.geo.Remove(placeID)
	s.fuzzy.Remove(placeID)
	return nil
}

// AppendChunk validates and persists a review fragment. The chunk's lexical
// document is derived in the write path; its embedding and the parent's
// aggregate re-derivation are queued on the worker pool, so a brief window
// of pre-update reads follows every append.
func (s *Store) AppendChunk(ctx context.Context, chunk *core.Chunk) (*core.Chunk, error) {
	if err := core.ValidateChunk(chunk); err != nil {
		return nil, err
	}
	s.maintainer.DeriveChunk(chunk)
	stored, err := s.chunks.AppendChunk(ctx, chunk)
	if err != nil {
		return nil, err
	}
	s.maintainer.ScheduleChunkEmbedding(stored.ChunkID)
	s.maintainer.SchedulePlaceAggregate(stored.PlaceID)
	return stored, nil
}

// ReplaceChunk explicitly overwrites the chunk sharing the same
// (place_id, source_review_id, ordinal) triple.
func (s *Store) ReplaceChunk(ctx context.Context, chunk *core.Chunk) (*core.Chunk, error) {
	if err := core.ValidateChunk(chunk); err != nil {
		return nil, err
	}
	s.maintainer.DeriveChunk(chunk)
	stored, err := s.chunks.ReplaceChunk(ctx, chunk)
	if err != nil {
		return nil, err
	}
	s.maintainer.ScheduleChunkEmbedding(stored.ChunkID)
	s.maintainer.SchedulePlaceAggregate(stored.PlaceID)
	return stored, nil
}

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error) {
	return s.chunks.GetChunk(ctx, id)
}

// ChunksByPlace returns a place's chunks ordered by occurred_at ascending.
func (s *Store) ChunksByPlace(ctx context.Context, placeID string) ([]*core.Chunk, error) {
	return s.chunks.ChunksByPlace(ctx, placeID)
}

// HybridSearch runs the blended semantic/lexical query with hard filters.
func (s *Store) HybridSearch(ctx context.Context, queryText string, filters *query.Filters, k int) ([]query.Result, error) {
	return s.planner.HybridSearch(ctx, queryText, filters, k)
}

// Citations returns citation entries for a place; see query.CitationCache.
func (s *Store) Citations(ctx context.Context, placeID, queryText string, limit int) ([]*core.Citation, error) {
	return s.citations.Citations(ctx, placeID, queryText, limit)
}

// RefreshCitationCache rebuilds and atomically swaps the citation snapshot.
func (s *Store) RefreshCitationCache(ctx context.Context) error {
	return s.citations.Refresh(ctx)
}

// FuzzyMatch finds places whose names approximately match. A non-positive
// threshold uses the store default.
func (s *Store) FuzzyMatch(name string, threshold float64) []index.FuzzyMatch {
	if threshold <= 0 {
		threshold = s.fuzzyThreshold
	}
	return s.fuzzy.Match(name, threshold)
}

// WithinRadius returns located places within meters of center, boundary
// inclusive, nearest first.
func (s *Store) WithinRadius(center core.Location, meters float64) []index.GeoMatch {
	return s.geo.WithinRadius(center, meters)
}

// Reindex fully re-derives one place and its chunks. Admin repair path.
func (s *Store) Reindex(ctx context.Context, placeID string) error {
	return s.maintainer.Reindex(ctx, placeID)
}

// SweepPending retries derivation for rows whose embeddings failed.
func (s *Store) SweepPending(ctx context.Context) (int, error) {
	return s.maintainer.SweepPending(ctx)
}

// indexPlace applies a place's current state to all four indexes.
// Registered as the maintainer's place hook.
func (s *Store) indexPlace(place *core.Place) {
	if len(place.Embedding) == s.dim {
		if err := s.placeVectors.Insert(place.PlaceID, place.Embedding); err != nil {
			s.logger.Warn("place vector not indexed", "place_id", place.PlaceID, "error", err)
		}
	}
	s.lexical.Index(place.PlaceID, derive.PlaceLexicalFields(place)...)
	if place.Location != nil {
		s.geo.Insert(place.PlaceID, *place.Location)
	} else {
		s.geo.Remove(place.PlaceID)
	}
	s.fuzzy.Insert(place.PlaceID, place.Name)
}

// indexChunk applies a chunk's embedding to the chunk vector index.
// Registered as the maintainer's chunk hook.
func (s *Store) indexChunk(chunk *core.Chunk) {
	if len(chunk.Embedding) != s.dim {
		return
	}
	if err := s.chunkVectors.Insert(chunk.ChunkID, chunk.Embedding); err != nil {
		s.logger.Warn("chunk vector not indexed", "chunk_id", chunk.ChunkID, "error", err)
	}
}

// rebuildIndexes replays every stored row into the in-memory indexes.
// Indexes are derived state; the rows are the source of truth.
func (s *Store) rebuildIndexes(ctx context.Context) error {
	placeCount := 0
	err := s.places.ForEachPlace(ctx, func(place *core.Place) error {
		s.indexPlace(place)
		placeCount++
		return nil
	})
	if err != nil {
		return fmt.Errorf("index rebuild: %w", err)
	}

	chunkCount := 0
	err = s.chunks.ForEachChunk(ctx, func(chunk *core.Chunk) error {
		s.indexChunk(chunk)
		chunkCount++
		return nil
	})
	if err != nil {
		return fmt.Errorf("index rebuild: %w", err)
	}
	s.logger.Info("indexes rebuilt", "places", placeCount, "chunks", chunkCount)
	return nil
}
