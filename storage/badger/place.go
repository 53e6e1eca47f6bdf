package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/storage"
)

// PlaceRepository implements storage.PlaceRepository for BadgerDB.
type PlaceRepository struct {
	backend *Backend
}

var _ storage.PlaceRepository = (*PlaceRepository)(nil)

// NewPlaceRepository creates a new PlaceRepository.
func NewPlaceRepository(backend *Backend) (storage.PlaceRepository, error) {
	if backend == nil {
		return nil, errors.New("backend required")
	}
	return &PlaceRepository{backend: backend}, nil
}

// Close releases repository resources. Place rows hold no sequences, so
// this is a no-op; the backend is closed separately.
func (r *PlaceRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *PlaceRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

// UpsertPlace inserts or whole-document replaces a place.
func (r *PlaceRepository) UpsertPlace(ctx context.Context, place *core.Place) (*core.Place, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makePlaceKey(place.PlaceID)

		now := time.Now().UTC()
		old, err := r.readPlace(tx, key)
		if err != nil {
			return err
		}
		if old != nil {
			place.CreatedAt = old.CreatedAt
		} else if place.CreatedAt.IsZero() {
			place.CreatedAt = now
		}
		place.UpdatedAt = now

		value, err := storage.MarshalPlace(place)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}

		// Keep the pending index in step with the row.
		pendingKey := makePlacePendingKey(place.PlaceID)
		if place.DerivationPending {
			if err := tx.Set(pendingKey, []byte{1}); err != nil {
				return err
			}
		} else if err := tx.Delete(pendingKey); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return place, nil
}

// UpdatePlaceArtifacts persists maintainer-owned derived fields. Source
// fields are taken from the stored row, never from the argument.
func (r *PlaceRepository) UpdatePlaceArtifacts(ctx context.Context, place *core.Place) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		stored, err := r.readPlace(tx, makePlaceKey(place.PlaceID))
		if err != nil {
			return err
		}
		if stored == nil {
			return storage.ErrNotFound
		}

		stored.LexicalDocument = place.LexicalDocument
		stored.AggregateDocument = place.AggregateDocument
		stored.Embedding = place.Embedding
		stored.DerivationPending = place.DerivationPending

		value, err := storage.MarshalPlace(stored)
		if err != nil {
			return err
		}
		if err := tx.Set(makePlaceKey(stored.PlaceID), value); err != nil {
			return err
		}

		pendingKey := makePlacePendingKey(stored.PlaceID)
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

// GetPlace retrieves a place by ID.
func (r *PlaceRepository) GetPlace(ctx context.Context, placeID string) (*core.Place, error) {
	var result *core.Place
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		place, err := r.readPlace(tx, makePlaceKey(placeID))
		if err != nil {
			return err
		}
		if place == nil {
			return storage.ErrNotFound
		}
		result = place
		return nil
	}, false)
	return result, err
}

// DeletePlace removes a place row and its pending marker.
func (r *PlaceRepository) DeletePlace(ctx context.Context, placeID string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makePlaceKey(placeID)
		place, err := r.readPlace(tx, key)
		if err != nil {
			return err
		}
		if place == nil {
			return storage.ErrNotFound
		}
		if err := tx.Delete(makePlacePendingKey(placeID)); err != nil {
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// ListPlaceIDs returns every stored place ID.
func (r *PlaceRepository) ListPlaceIDs(ctx context.Context) ([]string, error) {
	prefix := []byte(placeRecordPrefix + ":")
	var ids []string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	}, false)
	return ids, err
}

// ListPendingPlaces returns IDs of places marked derivation-pending.
func (r *PlaceRepository) ListPendingPlaces(ctx context.Context) ([]string, error) {
	prefix := []byte(placePendingPrefix + ":")
	var ids []string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	}, false)
	return ids, err
}

// ForEachPlace iterates every stored place.
func (r *PlaceRepository) ForEachPlace(ctx context.Context, fn func(*core.Place) error) error {
	prefix := []byte(placeRecordPrefix + ":")
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var place *core.Place
			err := iter.Item().Value(func(val []byte) error {
				var err error
				place, err = storage.UnmarshalPlace(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(place); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// readPlace reads and unmarshals a place row, returning nil when absent.
func (r *PlaceRepository) readPlace(tx *badger.Txn, key []byte) (*core.Place, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var place *core.Place
	err = item.Value(func(val []byte) error {
		var err error
		place, err = storage.UnmarshalPlace(val)
		return err
	})
	return place, err
}
