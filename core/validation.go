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

import (
	"fmt"
	"strings"
	"time"
)

// disallowedIdentityKeys are chunk attribute keys that would identify the
// reviewer. The no-PII contract is enforced at the write boundary, not by
// convention. Keys are compared after normalization (lowercase, separators
// stripped), so "Reviewer-Name" and "reviewer_name" are both rejected.
var disallowedIdentityKeys = map[string]bool{
	"reviewername":   true,
	"reviewerid":     true,
	"reviewerhandle": true,
	"reviewerlink":   true,
	"author":         true,
	"authorname":     true,
	"authorid":       true,
	"authorurl":      true,
	"username":       true,
	"userid":         true,
	"profileurl":     true,
	"profilelink":    true,
}

// ValidatePlace validates a Place according to domain rules.
//
// Validation rules:
//   - PlaceID and Name must not be empty
//   - Location, when present, must be in range
//   - Categories and Tags must contain only non-empty strings
//
// NOT validated (derived fields owned by the maintainer):
//   - LexicalDocument, AggregateDocument, Embedding, DerivationPending
func ValidatePlace(place *Place) error {
	if place == nil {
		return fmt.Errorf("%w: place is nil", ErrValidation)
	}
	if strings.TrimSpace(place.PlaceID) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingPlaceID)
	}
	if strings.TrimSpace(place.Name) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingName)
	}
	if loc := place.Location; loc != nil {
		if loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
			return fmt.Errorf("%w: %w: lat=%v lon=%v", ErrValidation, ErrInvalidLocation, loc.Lat, loc.Lon)
		}
	}
	if err := validateStringArray("categories", place.Categories); err != nil {
		return err
	}
	if err := validateStringArray("tags", place.Tags); err != nil {
		return err
	}
	return nil
}

// validateStringArray rejects rank-1 string arrays with empty elements.
// Homogeneity and flatness are already guaranteed by the []string type;
// empty elements are the malformation that can still reach us.
func validateStringArray(field string, values []string) error {
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %w: %s[%d]", ErrValidation, ErrMalformedArray, field, i)
		}
	}
	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - PlaceID, SourceReviewID, and Text must not be empty
//   - Ordinal must be non-negative
//   - OccurredAt must not be in the future
//   - Attributes must not carry reviewer identity keys (hard privacy contract)
//
// Referential integrity (PlaceID must reference an existing Place) is
// checked by the chunk store, which can see the place table.
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrValidation)
	}
	if strings.TrimSpace(chunk.PlaceID) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingPlaceID)
	}
	if strings.TrimSpace(chunk.SourceReviewID) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingSourceReviewID)
	}
	if chunk.Ordinal < 0 {
		return fmt.Errorf("%w: %w: %d", ErrValidation, ErrNegativeOrdinal, chunk.Ordinal)
	}
	if strings.TrimSpace(chunk.Text) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyText)
	}
	if !chunk.OccurredAt.IsZero() && chunk.OccurredAt.After(time.Now()) {
		return fmt.Errorf("%w: %w: occurred_at", ErrValidation, ErrInvalidTimestamp)
	}
	for key := range chunk.Attributes {
		if disallowedIdentityKeys[normalizeAttributeKey(key)] {
			return fmt.Errorf("%w: %w: %q", ErrValidation, ErrIdentityField, key)
		}
	}
	return nil
}

// normalizeAttributeKey lowercases a key and strips separator characters so
// the identity-key check cannot be dodged with casing or punctuation.
func normalizeAttributeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if r == '_' || r == '-' || r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
