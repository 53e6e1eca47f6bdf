package badger

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
//
// Chunks are append-only: AppendChunk refuses to overwrite an existing
// (place_id, source_review_id, ordinal) triple; re-ingestion of the same
// fragment goes through ReplaceChunk, which is an explicit, distinct
// operation. Only the maintainer mutates rows afterwards, and only the
// derived fields.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) (storage.ChunkRepository, error) {
	if backend == nil {
		return nil, errors.New("backend required")
	}
	return &ChunkRepository{backend: backend}, nil
}

// Close releases repository resources.
func (r *ChunkRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *ChunkRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

// AppendChunk inserts a chunk. The (place_id, source_review_id, ordinal)
// triple must not already exist.
func (r *ChunkRepository) AppendChunk(ctx context.Context, chunk *core.Chunk) (*core.Chunk, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		if err := r.requirePlace(tx, chunk.PlaceID); err != nil {
			return err
		}

		tripleKey := makeChunkTripleKey(chunk.PlaceID, chunk.SourceReviewID, chunk.Ordinal)
		if _, err := tx.Get(tripleKey); err == nil {
			return storage.ErrDuplicateChunk
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return r.writeChunk(tx, chunk)
	}, true)
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// ReplaceChunk explicitly overwrites the chunk sharing the triple, or
// inserts it if absent.
func (r *ChunkRepository) ReplaceChunk(ctx context.Context, chunk *core.Chunk) (*core.Chunk, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		if err := r.requirePlace(tx, chunk.PlaceID); err != nil {
			return err
		}

		tripleKey := makeChunkTripleKey(chunk.PlaceID, chunk.SourceReviewID, chunk.Ordinal)
		item, err := tx.Get(tripleKey)
		if err == nil {
			var oldID core.ID
			if err := item.Value(func(val []byte) error {
				var err error
				oldID, err = unmarshalIDValue(val)
				return err
			}); err != nil {
				return err
			}
			if err := r.deleteChunkRow(tx, oldID); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return r.writeChunk(tx, chunk)
	}, true)
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// writeChunk assigns the content ID, stamps CreatedAt, and writes the row
// plus its triple, date-index, and pending entries. Caller commits.
func (r *ChunkRepository) writeChunk(tx *badger.Txn, chunk *core.Chunk) error {
	chunk.ChunkID = core.ChunkIDFor(chunk.PlaceID, chunk.SourceReviewID, chunk.Ordinal)
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}
	if chunk.OccurredAt.IsZero() {
		chunk.OccurredAt = chunk.CreatedAt
	}

	value, err := storage.MarshalChunk(chunk)
	if err != nil {
		return err
	}
	if err := tx.Set(makeChunkKey(chunk.ChunkID), value); err != nil {
		return err
	}

	tripleKey := makeChunkTripleKey(chunk.PlaceID, chunk.SourceReviewID, chunk.Ordinal)
	if err := tx.Set(tripleKey, marshalIDValue(chunk.ChunkID)); err != nil {
		return err
	}

	dateKey := makeChunkPlaceKey(chunk.PlaceID, chunk.OccurredAt, chunk.ChunkID)
	if err := tx.Set(dateKey, marshalIDValue(chunk.ChunkID)); err != nil {
		return err
	}

	if chunk.DerivationPending {
		if err := tx.Set(makeChunkPendingKey(chunk.ChunkID), []byte{1}); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpdateChunkArtifacts persists maintainer-owned derived fields. Source
// fields are taken from the stored row, never from the argument.
func (r *ChunkRepository) UpdateChunkArtifacts(ctx context.Context, chunk *core.Chunk) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		stored, err := r.readChunk(tx, makeChunkKey(chunk.ChunkID))
		if err != nil {
			return err
		}
		if stored == nil {
			return storage.ErrNotFound
		}

		stored.LexicalDocument = chunk.LexicalDocument
		stored.Embedding = chunk.Embedding
		stored.DerivationPending = chunk.DerivationPending

		value, err := storage.MarshalChunk(stored)
		if err != nil {
			return err
		}
		if err := tx.Set(makeChunkKey(stored.ChunkID), value); err != nil {
			return err
		}

		pendingKey := makeChunkPendingKey(stored.ChunkID)
		if stored.DerivationPending {
			if err := tx.Set(pendingKey, []byte{1}); err != nil {
				return err
			}
		} else if err := tx.Delete(pendingKey); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetChunk retrieves a chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error) {
	var result *core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		chunk, err := r.readChunk(tx, makeChunkKey(id))
		if err != nil {
			return err
		}
		if chunk == nil {
			return storage.ErrNotFound
		}
		result = chunk
		return nil
	}, false)
	return result, err
}

// ChunksByPlace returns every chunk of a place ordered by OccurredAt ascending.
func (r *ChunkRepository) ChunksByPlace(ctx context.Context, placeID string) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkPlaceScanPrefix(placeID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			chunk, err := r.readIndexedChunk(tx, iter.Item())
			if err != nil {
				return err
			}
			if chunk != nil {
				results = append(results, chunk)
			}
		}
		return nil
	}, false)
	return results, err
}

// RecentChunksByPlace returns up to limit chunks of a place ordered by
// OccurredAt descending.
func (r *ChunkRepository) RecentChunksByPlace(ctx context.Context, placeID string, limit int) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		prefix := makeChunkPlaceScanPrefix(placeID)
		// Seek past the last possible key under this place's prefix.
		startKey := makeChunkPlaceKey(placeID, time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC), core.ID(^uint64(0)))

		for iter.Seek(startKey); iter.Valid() && len(results) < limit; iter.Next() {
			key := iter.Item().Key()
			if len(key) < len(prefix) || slices.Compare(key[:len(prefix)], prefix) != 0 {
				break
			}
			chunk, err := r.readIndexedChunk(tx, iter.Item())
			if err != nil {
				return err
			}
			if chunk != nil {
				results = append(results, chunk)
			}
		}
		return nil
	}, false)
	return results, err
}

// ListPendingChunks returns IDs of chunks marked derivation-pending.
func (r *ChunkRepository) ListPendingChunks(ctx context.Context) ([]core.ID, error) {
	prefix := []byte(chunkPendingPrefix + ":")
	var ids []core.ID
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			id, err := chunkIDFromKey(iter.Item().Key())
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}, false)
	return ids, err
}

// DeleteChunksForPlace removes every chunk of a place (the delete cascade).
func (r *ChunkRepository) DeleteChunksForPlace(ctx context.Context, placeID string) (int, error) {
	// Collect IDs first; badger forbids deleting keys the iterator is on.
	var ids []core.ID
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkPlaceScanPrefix(placeID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var id core.ID
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				id, err = unmarshalIDValue(val)
				return err
			}); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}, false)
	if err != nil {
		return 0, err
	}

	deleted := 0
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			if err := r.deleteChunkRow(tx, id); err != nil {
				return err
			}
			deleted++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ForEachChunk iterates every stored chunk.
func (r *ChunkRepository) ForEachChunk(ctx context.Context, fn func(*core.Chunk) error) error {
	prefix := []byte(chunkRecordPrefix + ":")
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(chunk); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// requirePlace enforces referential integrity at the chunk write boundary.
func (r *ChunkRepository) requirePlace(tx *badger.Txn, placeID string) error {
	if _, err := tx.Get(makePlaceKey(placeID)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrUnknownPlace
		}
		return err
	}
	return nil
}

// deleteChunkRow removes a chunk row and all its index entries. Caller commits.
func (r *ChunkRepository) deleteChunkRow(tx *badger.Txn, id core.ID) error {
	chunk, err := r.readChunk(tx, makeChunkKey(id))
	if err != nil {
		return err
	}
	if chunk == nil {
		return nil
	}
	if err := tx.Delete(makeChunkTripleKey(chunk.PlaceID, chunk.SourceReviewID, chunk.Ordinal)); err != nil {
		return err
	}
	if err := tx.Delete(makeChunkPlaceKey(chunk.PlaceID, chunk.OccurredAt, chunk.ChunkID)); err != nil {
		return err
	}
	if err := tx.Delete(makeChunkPendingKey(chunk.ChunkID)); err != nil {
		return err
	}
	return tx.Delete(makeChunkKey(chunk.ChunkID))
}

// readIndexedChunk resolves a date-index entry into its full row.
func (r *ChunkRepository) readIndexedChunk(tx *badger.Txn, item *badger.Item) (*core.Chunk, error) {
	var id core.ID
	if err := item.Value(func(val []byte) error {
		var err error
		id, err = unmarshalIDValue(val)
		return err
	}); err != nil {
		return nil, err
	}
	return r.readChunk(tx, makeChunkKey(id))
}

// readChunk reads and unmarshals a chunk row, returning nil when absent.
func (r *ChunkRepository) readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}
