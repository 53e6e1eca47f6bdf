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


package core

import "errors"

// Error taxonomy. ErrValidation, ErrConflict, and ErrDerivationPending are
// the category roots; the more specific sentinels below wrap them so callers
// can match either level with errors.Is.
var (
	// ErrValidation indicates malformed or disallowed input, rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a duplicate chunk triple; callers must use an explicit replace.
	ErrConflict = errors.New("conflict")

	// ErrDerivationPending indicates the embedding step failed and the row was
	// committed with its derived fields marked pending. Non-fatal; a later
	// sweep reprocesses pending rows.
	ErrDerivationPending = errors.New("derivation pending")
)

// Validation detail errors.
var (
	// ErrMissingPlaceID indicates the place_id identity field is empty.
	ErrMissingPlaceID = errors.New("place_id is required")

	// ErrMissingName indicates the place name is empty.
	ErrMissingName = errors.New("name is required")

	// ErrMissingSourceReviewID indicates the chunk source_review_id is empty.
	ErrMissingSourceReviewID = errors.New("source_review_id is required")

	// ErrNegativeOrdinal indicates a chunk ordinal below zero.
	ErrNegativeOrdinal = errors.New("ordinal must be non-negative")

	// ErrEmptyText indicates the chunk text is empty.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrInvalidTimestamp indicates a timestamp in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")

	// ErrInvalidLocation indicates latitude/longitude out of range.
	ErrInvalidLocation = errors.New("location out of range")

	// ErrMalformedArray indicates a classification array with empty or
	// whitespace-only elements.
	ErrMalformedArray = errors.New("array elements must be non-empty strings")

	// ErrIdentityField indicates a reviewer-identity attribute on a chunk.
	// Reviewer names, handles, and profile links are never stored.
	ErrIdentityField = errors.New("reviewer identity fields are not permitted")

	// ErrUnknownAmenityValue indicates an amenity value outside its enumeration.
	ErrUnknownAmenityValue = errors.New("unknown amenity value")

	// ErrUnknownAmenity indicates a filter referencing an amenity that does not exist.
	ErrUnknownAmenity = errors.New("unknown amenity")
)
