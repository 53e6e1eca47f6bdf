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
	"fmt"

	"github.com/poiesic/venuedb/core"
	"github.com/vmihailenco/msgpack/v5"
)

// Records are stored as msgpack. The enriched payload is an opaque provider
// document of arbitrary nesting, which msgpack round-trips without a schema.

// MarshalPlace serializes a Place to bytes.
func MarshalPlace(place *core.Place) ([]byte, error) {
	data, err := msgpack.Marshal(place)
	if err != nil {
		return nil, fmt.Errorf("%w: place %s: %w", ErrSerializationFailed, place.PlaceID, err)
	}
	return data, nil
}

// UnmarshalPlace deserializes a Place from bytes.
func UnmarshalPlace(data []byte) (*core.Place, error) {
	var place core.Place
	if err := msgpack.Unmarshal(data, &place); err != nil {
		return nil, fmt.Errorf("%w: place: %w", ErrSerializationFailed, err)
	}
	return &place, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) ([]byte, error) {
	data, err := msgpack.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d: %w", ErrSerializationFailed, chunk.ChunkID, err)
	}
	return data, nil
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	var chunk core.Chunk
	if err := msgpack.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("%w: chunk: %w", ErrSerializationFailed, err)
	}
	return &chunk, nil
}

// MarshalCitation serializes a Citation to bytes.
func MarshalCitation(citation *core.Citation) ([]byte, error) {
	data, err := msgpack.Marshal(citation)
	if err != nil {
		return nil, fmt.Errorf("%w: citation %d: %w", ErrSerializationFailed, citation.ChunkID, err)
	}
	return data, nil
}

// UnmarshalCitation deserializes a Citation from bytes.
func UnmarshalCitation(data []byte) (*core.Citation, error) {
	var citation core.Citation
	if err := msgpack.Unmarshal(data, &citation); err != nil {
		return nil, fmt.Errorf("%w: citation: %w", ErrSerializationFailed, err)
	}
	return &citation, nil
}
