package index

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Field is one weighted section of a document. Higher weight makes the
// field's terms count more toward the document's score.
type Field struct {
	Text   string
	Weight float64
}

// TextMatch is a single lexical search result.
type TextMatch struct {
	ID    string
	Score float64
}

// Expr is a boolean term query: a document matches when it contains every
// And term, at least one Or term (when any are given), and no Not term.
type Expr struct {
	And []string
	Or  []string
	Not []string
}

// Lexical is an in-memory inverted index over weighted documents. Terms are
// lowercased, stop-word filtered, and lightly stemmed. Scores are term
// frequency weighted by field weight, damped by inverse document frequency
// and document length.
//
// All methods are safe for concurrent use.
type Lexical struct {
	mu       sync.RWMutex
	postings map[string]map[string]float64 // term -> docID -> weighted tf
	docTerms map[string][]string           // docID -> terms, for removal
	docLen   map[string]float64            // docID -> total weighted term count
}

// NewLexical creates an empty lexical index.
func NewLexical() *Lexical {
	return &Lexical{
		postings: make(map[string]map[string]float64),
		docTerms: make(map[string][]string),
		docLen:   make(map[string]float64),
	}
}

// Len returns the number of indexed documents.
func (ix *Lexical) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docLen)
}

// Index adds or replaces the document under the given ID.
func (ix *Lexical) Index(docID string, fields ...Field) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(docID)

	var terms []string
	var length float64
	for _, field := range fields {
		weight := field.Weight
		if weight <= 0 {
			weight = 1
		}
		for _, term := range Tokenize(field.Text) {
			docs, ok := ix.postings[term]
			if !ok {
				docs = make(map[string]float64)
				ix.postings[term] = docs
			}
			docs[docID] += weight
			terms = append(terms, term)
			length += weight
		}
	}
	if len(terms) == 0 {
		return
	}
	ix.docTerms[docID] = terms
	ix.docLen[docID] = length
}

// Remove deletes a document from the index. Absent IDs are a no-op.
func (ix *Lexical) Remove(docID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(docID)
}

func (ix *Lexical) removeLocked(docID string) {
	terms, ok := ix.docTerms[docID]
	if !ok {
		return
	}
	for _, term := range terms {
		if docs, ok := ix.postings[term]; ok {
			delete(docs, docID)
			if len(docs) == 0 {
				delete(ix.postings, term)
			}
		}
	}
	delete(ix.docTerms, docID)
	delete(ix.docLen, docID)
}

// Search scores documents against the query's terms and returns up to limit
// matches ordered by descending score, ties by ascending ID.
func (ix *Lexical) Search(query string, limit int) []TextMatch {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.rank(ix.scoreTerms(terms), limit)
}

// Score returns the query score of one document, 0 when it matches nothing.
// Used by the hybrid planner to score a fixed candidate set.
func (ix *Lexical) Score(docID, query string) float64 {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return 0
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.scoreTerms(terms)[docID]
}

// SearchExpr evaluates a boolean term query. Matching documents are scored
// over the expression's And and Or terms.
func (ix *Lexical) SearchExpr(expr Expr, limit int) []TextMatch {
	and := stemAll(expr.And)
	or := stemAll(expr.Or)
	not := stemAll(expr.Not)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	scores := ix.scoreTerms(append(append([]string{}, and...), or...))
	for docID := range scores {
		if !ix.hasAllLocked(docID, and) {
			delete(scores, docID)
			continue
		}
		if len(or) > 0 && !ix.hasAnyLocked(docID, or) {
			delete(scores, docID)
			continue
		}
		if ix.hasAnyLocked(docID, not) {
			delete(scores, docID)
		}
	}
	return ix.rank(scores, limit)
}

func (ix *Lexical) scoreTerms(terms []string) map[string]float64 {
	n := float64(len(ix.docLen))
	scores := make(map[string]float64)
	for _, term := range terms {
		docs, ok := ix.postings[term]
		if !ok {
			continue
		}
		df := float64(len(docs))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for docID, wtf := range docs {
			scores[docID] += wtf * idf
		}
	}
	for docID := range scores {
		scores[docID] /= math.Sqrt(ix.docLen[docID])
	}
	return scores
}

func (ix *Lexical) rank(scores map[string]float64, limit int) []TextMatch {
	matches := make([]TextMatch, 0, len(scores))
	for docID, score := range scores {
		matches = append(matches, TextMatch{ID: docID, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (ix *Lexical) hasAllLocked(docID string, terms []string) bool {
	for _, term := range terms {
		if _, ok := ix.postings[term][docID]; !ok {
			return false
		}
	}
	return true
}

func (ix *Lexical) hasAnyLocked(docID string, terms []string) bool {
	for _, term := range terms {
		if _, ok := ix.postings[term][docID]; ok {
			return true
		}
	}
	return false
}

// stopwords never make it into the index or into queries.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "were": true,
	"with": true,
}

// Tokenize splits text into lowercased, stop-word filtered, lightly stemmed
// terms. Splitting happens on any non-letter, non-digit rune.
func Tokenize(text string) []string {
	raw := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(raw))
	for _, word := range raw {
		if stopwords[word] || len(word) < 2 {
			continue
		}
		terms = append(terms, stem(word))
	}
	return terms
}

// stem strips a few common English suffixes. Deliberately light: the goal is
// matching "tables" to "table", not linguistic correctness.
func stem(word string) string {
	switch {
	case len(word) > 5 && strings.HasSuffix(word, "ing"):
		return word[:len(word)-3]
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 4 && strings.HasSuffix(word, "es"):
		return word[:len(word)-2]
	case len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	}
	return word
}

func stemAll(words []string) []string {
	terms := make([]string, 0, len(words))
	for _, word := range words {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" || stopwords[word] {
			continue
		}
		terms = append(terms, stem(word))
	}
	return terms
}
