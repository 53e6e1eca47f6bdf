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


package storage

import (
	"errors"
	"fmt"

	"github.com/poiesic/venuedb/core"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateChunk indicates an append of an already-existing
	// (place_id, source_review_id, ordinal) triple. Wraps core.ErrConflict
	// so callers can match either sentinel.
	ErrDuplicateChunk = fmt.Errorf("%w: duplicate chunk triple", core.ErrConflict)

	// ErrUnknownPlace indicates a chunk referencing a place that does not
	// exist. Wraps core.ErrValidation.
	ErrUnknownPlace = fmt.Errorf("%w: place_id does not reference an existing place", core.ErrValidation)

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")
)
