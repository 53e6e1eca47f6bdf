package query

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/poiesic/venuedb/ai"
	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/index"
	"github.com/poiesic/venuedb/storage"
)

const (
	// DefaultSemanticWeight and DefaultLexicalWeight blend the two signal
	// normalizations; they must sum to 1.
	DefaultSemanticWeight = 0.6
	DefaultLexicalWeight  = 0.4

	// minCandidates floors the semantic candidate pool so hard filters have
	// enough to cut into even for small k.
	minCandidates = 50
)

// ErrEmptyQuery rejects hybrid searches without query text.
var ErrEmptyQuery = fmt.Errorf("%w: query text required", core.ErrValidation)

// Result is one ranked hybrid search hit.
type Result struct {
	Place    *core.Place
	Score    float64
	Evidence Evidence
}

// Evidence explains a result's rank: the raw signals, their normalized
// contributions, and the hard filters the place passed.
type Evidence struct {
	SemanticDistance float64
	SemanticScore    float64 // normalized, 0 when degraded
	LexicalScore     float64 // raw
	LexicalNorm      float64
	MatchedFilters   []string
	LexicalOnly      bool // query embedding failed; ranking degraded
}

// Planner executes hybrid retrieval over the place indexes: semantic
// candidate generation, hard filter intersection, then a blended
// semantic/lexical ranking.
type Planner struct {
	places   storage.PlaceRepository
	vectors  *index.HNSW[string]
	lexical  *index.Lexical
	embedder ai.Embedder
	logger   *slog.Logger

	semanticWeight float64
	lexicalWeight  float64
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithWeights overrides the blend weights. They must sum to 1.
func WithWeights(semantic, lexical float64) PlannerOption {
	return func(p *Planner) {
		p.semanticWeight = semantic
		p.lexicalWeight = lexical
	}
}

// WithPlannerLogger sets the planner's logger.
func WithPlannerLogger(logger *slog.Logger) PlannerOption {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPlanner creates a planner over the given repositories and indexes.
// A nil vectors index puts the planner in full-scan fallback for the
// semantic stage.
func NewPlanner(places storage.PlaceRepository, vectors *index.HNSW[string], lexical *index.Lexical, embedder ai.Embedder, opts ...PlannerOption) (*Planner, error) {
	if places == nil || lexical == nil || embedder == nil {
		return nil, fmt.Errorf("places, lexical index, and embedder required")
	}
	p := &Planner{
		places:         places,
		vectors:        vectors,
		lexical:        lexical,
		embedder:       embedder,
		logger:         slog.Default().With("component", "planner"),
		semanticWeight: DefaultSemanticWeight,
		lexicalWeight:  DefaultLexicalWeight,
	}
	for _, opt := range opts {
		opt(p)
	}
	if sum := p.semanticWeight + p.lexicalWeight; sum < 0.999 || sum > 1.001 {
		return nil, fmt.Errorf("%w: blend weights must sum to 1, got %.3f", core.ErrValidation, sum)
	}
	return p, nil
}

// HybridSearch returns the top k places for the query text under the given
// hard filters. Filter validation happens before any index access; a
// query-embedding failure degrades to lexical-only ranking rather than
// failing the call.
func (p *Planner) HybridSearch(ctx context.Context, queryText string, filters *Filters, k int) ([]Result, error) {
	if queryText == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", core.ErrValidation)
	}
	cf, err := filters.compile()
	if err != nil {
		return nil, err
	}

	k1 := max(k*4, minCandidates)

	candidates, lexicalOnly := p.semanticCandidates(ctx, queryText, k1)

	results := make([]Result, 0, len(candidates))
	var maxSem, maxLex float64
	for _, c := range candidates {
		place, err := p.places.GetPlace(ctx, c.id)
		if err != nil {
			continue // deleted between index read and row read
		}
		ok, matchedFilters := cf.matches(place)
		if !ok {
			continue
		}
		lexScore := p.lexical.Score(place.PlaceID, queryText)
		semScore := 0.0
		if !lexicalOnly {
			semScore = 1 - c.distance
			if semScore < 0 {
				semScore = 0
			}
		}
		if semScore > maxSem {
			maxSem = semScore
		}
		if lexScore > maxLex {
			maxLex = lexScore
		}
		results = append(results, Result{
			Place: place,
			Evidence: Evidence{
				SemanticDistance: c.distance,
				SemanticScore:    semScore,
				LexicalScore:     lexScore,
				MatchedFilters:   matchedFilters,
				LexicalOnly:      lexicalOnly,
			},
		})
	}

	// Max-scale each signal across the surviving candidates, then blend.
	for i := range results {
		ev := &results[i].Evidence
		semNorm := 0.0
		if maxSem > 0 {
			semNorm = ev.SemanticScore / maxSem
		}
		ev.LexicalNorm = 0
		if maxLex > 0 {
			ev.LexicalNorm = ev.LexicalScore / maxLex
		}
		ev.SemanticScore = semNorm
		if lexicalOnly {
			results[i].Score = ev.LexicalNorm
		} else {
			results[i].Score = p.semanticWeight*semNorm + p.lexicalWeight*ev.LexicalNorm
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Place.PlaceID < results[j].Place.PlaceID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

type candidate struct {
	id       string
	distance float64
}

// semanticCandidates produces the k1 candidate pool. Degradation ladder:
// query-embedding failure falls back to lexical candidates; a missing
// vector index falls back to a brute-force scan of every place.
func (p *Planner) semanticCandidates(ctx context.Context, queryText string, k1 int) ([]candidate, bool) {
	qvec, err := p.embedder.EmbedText(ctx, queryText)
	if err != nil {
		p.logger.Warn("query embedding failed, degrading to lexical-only ranking", "error", err)
		return p.lexicalCandidates(queryText, k1), true
	}
	normalizeQuery(qvec)

	if p.vectors == nil {
		p.logger.Warn("degrading to full scan", "error", index.ErrUnavailable)
		return p.scanCandidates(ctx, qvec, k1), false
	}

	matches, err := p.vectors.Search(qvec, k1)
	if err != nil {
		p.logger.Warn("semantic search failed, degrading to lexical-only ranking", "error", err)
		return p.lexicalCandidates(queryText, k1), true
	}
	candidates := make([]candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, candidate{id: m.ID, distance: float64(m.Distance)})
	}
	return candidates, false
}

func (p *Planner) lexicalCandidates(queryText string, k1 int) []candidate {
	matches := p.lexical.Search(queryText, k1)
	candidates := make([]candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, candidate{id: m.ID})
	}
	return candidates
}

// scanCandidates is the degraded path: cosine distance against every stored
// embedding, no graph. Correct, just slow.
func (p *Planner) scanCandidates(ctx context.Context, qvec []float32, k1 int) []candidate {
	var candidates []candidate
	err := p.places.ForEachPlace(ctx, func(place *core.Place) error {
		if len(place.Embedding) != len(qvec) {
			return nil
		}
		var dot float64
		for i, x := range place.Embedding {
			dot += float64(x) * float64(qvec[i])
		}
		candidates = append(candidates, candidate{id: place.PlaceID, distance: 1 - dot})
		return nil
	})
	if err != nil {
		p.logger.Warn("full scan failed", "error", err)
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > k1 {
		candidates = candidates[:k1]
	}
	return candidates
}

// normalizeQuery scales the query vector to unit length so cosine distance
// holds regardless of the embedder's output scale.
func normalizeQuery(v []float32) {
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
