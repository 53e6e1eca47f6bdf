package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/storage"
)

// CitationRepository implements storage.CitationRepository for BadgerDB.
// It is the durable copy of the in-memory citation snapshot; ReplaceAll
// is only ever called by the cache refresh.
type CitationRepository struct {
	backend *Backend
}

var _ storage.CitationRepository = (*CitationRepository)(nil)

// NewCitationRepository creates a new CitationRepository.
func NewCitationRepository(backend *Backend) (storage.CitationRepository, error) {
	if backend == nil {
		return nil, errors.New("backend required")
	}
	return &CitationRepository{backend: backend}, nil
}

// Close releases repository resources.
func (r *CitationRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *CitationRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

// ReplaceAll atomically replaces the full citation row set.
func (r *CitationRepository) ReplaceAll(ctx context.Context, entries []*core.Citation) error {
	// Collect stale keys under a read txn, then rewrite. Badger caps
	// transaction sizes, but citation sets are small (one row per chunk).
	var stale [][]byte
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(citationRowPrefix + ":")
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			stale = append(stale, iter.Item().KeyCopy(nil))
		}
		return nil
	}, false)
	if err != nil {
		return err
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, key := range stale {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		for _, entry := range entries {
			value, err := storage.MarshalCitation(entry)
			if err != nil {
				return err
			}
			if err := tx.Set(makeCitationKey(entry.ChunkID), value); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// All returns every persisted citation row.
func (r *CitationRepository) All(ctx context.Context) ([]*core.Citation, error) {
	var results []*core.Citation
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(citationRowPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var citation *core.Citation
			err := iter.Item().Value(func(val []byte) error {
				var err error
				citation, err = storage.UnmarshalCitation(val)
				return err
			})
			if err != nil {
				return err
			}
			results = append(results, citation)
		}
		return nil
	}, false)
	return results, err
}
