package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// DefaultEmbeddingDim is the store-wide embedding dimension.
// It matches text-embedding-3-small and can be overridden at store
// construction; every stored vector is validated against the configured
// value.
const DefaultEmbeddingDim = 1536

// ID is a unique identifier for store-assigned entities (chunks).
// Chunk IDs are generated with content-based hashing so the same
// (place, review, ordinal) triple always maps to the same ID.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkIDFor derives the chunk ID for a (place, source review, ordinal)
// triple. Components are length-delimited before hashing so IDs containing
// the delimiter cannot shift the component boundary between distinct triples.
func ChunkIDFor(placeID, sourceReviewID string, ordinal int) ID {
	return IDFromContent(fmt.Sprintf("%d:%s|%d:%s|%d",
		len(placeID), placeID, len(sourceReviewID), sourceReviewID, ordinal))
}

// TriState is a three-valued amenity field: yes, no, or unsure.
// The zero value is unsure.
type TriState int

const (
	TriUnsure TriState = iota
	TriYes
	TriNo
)

// String returns the canonical lowercase form used in filters and documents.
func (t TriState) String() string {
	switch t {
	case TriYes:
		return "yes"
	case TriNo:
		return "no"
	default:
		return "unsure"
	}
}

// ParseTriState parses the canonical form of a TriState value.
func ParseTriState(s string) (TriState, error) {
	switch s {
	case "yes":
		return TriYes, nil
	case "no":
		return TriNo, nil
	case "unsure":
		return TriUnsure, nil
	}
	return TriUnsure, fmt.Errorf("%w: %q", ErrUnknownAmenityValue, s)
}

// QuadState is a four-valued amenity field: yes, no, sometimes, or unsure.
// The zero value is unsure.
type QuadState int

const (
	QuadUnsure QuadState = iota
	QuadYes
	QuadNo
	QuadSometimes
)

// String returns the canonical lowercase form used in filters and documents.
func (q QuadState) String() string {
	switch q {
	case QuadYes:
		return "yes"
	case QuadNo:
		return "no"
	case QuadSometimes:
		return "sometimes"
	default:
		return "unsure"
	}
}

// ParseQuadState parses the canonical form of a QuadState value.
func ParseQuadState(s string) (QuadState, error) {
	switch s {
	case "yes":
		return QuadYes, nil
	case "no":
		return QuadNo, nil
	case "sometimes":
		return QuadSometimes, nil
	case "unsure":
		return QuadUnsure, nil
	}
	return QuadUnsure, fmt.Errorf("%w: %q", ErrUnknownAmenityValue, s)
}

// Amenities is the fixed set of enumerated place attributes.
// These are never free text; unknown values are rejected at parse time.
type Amenities struct {
	FreeWifi         TriState
	PurchaseRequired TriState
	Operational      TriState
	HasCinnamonRolls QuadState
}

// Location is a WGS84 latitude/longitude pair.
type Location struct {
	Lat float64
	Lon float64
}

// Place represents one venue. PlaceID is externally assigned and immutable.
//
// LexicalDocument, AggregateDocument, Embedding, and DerivationPending are
// derived fields owned by the maintainer; clients never set them. CreatedAt
// and UpdatedAt are maintained by the store.
type Place struct {
	PlaceID         string
	Name            string
	Location        *Location // nil when unknown
	Neighborhood    string
	Categories      []string
	Tags            []string
	Amenities       Amenities
	EnrichedPayload map[string]any // opaque provider document, whole-doc overwrite

	LexicalDocument   string // derived: weighted place-only document
	AggregateDocument string // derived: place document plus child chunk text
	Embedding         []float32
	DerivationPending bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Description extracts the free-text description from the enriched payload.
// The store interprets no other payload fields.
func (p *Place) Description() string {
	if p.EnrichedPayload == nil {
		return ""
	}
	if s, ok := p.EnrichedPayload["description"].(string); ok {
		return s
	}
	return ""
}

// Chunk is a short review fragment belonging to one Place. Chunks are
// append-only: created once, never mutated, superseded only through an
// explicit replace.
//
// OccurredAt is the timestamp of the source review. No reviewer identity is
// ever stored; see ValidateChunk.
type Chunk struct {
	ChunkID        ID
	PlaceID        string
	SourceReviewID string
	Ordinal        int
	Text           string
	OccurredAt     time.Time
	Attributes     map[string]string // optional provider extras, PII keys rejected

	LexicalDocument   string // derived: normalized text alone
	Embedding         []float32
	DerivationPending bool

	CreatedAt time.Time
}

// Citation is a denormalized join of one chunk with its parent place
// context, served from the citation cache. Entries are snapshots and may be
// stale up to one refresh interval.
type Citation struct {
	ChunkID      ID
	PlaceID      string
	PlaceName    string
	Neighborhood string
	Text         string
	OccurredAt   time.Time
}
