package index

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultFuzzyThreshold is the minimum similarity a name must reach to be
// reported as a match when the caller does not override it.
const DefaultFuzzyThreshold = 0.3

// FuzzyMatch is a single approximate name match.
type FuzzyMatch struct {
	ID         string
	Similarity float64
}

// Fuzzy matches names approximately using trigram similarity over
// normalized text. Normalization lowercases, strips diacritics, and drops
// punctuation, so "Amelies" matches "Amélie's".
//
// All methods are safe for concurrent use.
type Fuzzy struct {
	mu    sync.RWMutex
	grams map[string]map[string]bool // id -> trigram set
}

// NewFuzzy creates an empty fuzzy-name index.
func NewFuzzy() *Fuzzy {
	return &Fuzzy{grams: make(map[string]map[string]bool)}
}

// Len returns the number of indexed names.
func (f *Fuzzy) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.grams)
}

// Insert adds or replaces the name under the given ID. Names that normalize
// to nothing are not indexed.
func (f *Fuzzy) Insert(id, name string) {
	grams := trigrams(normalizeName(name))

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(grams) == 0 {
		delete(f.grams, id)
		return
	}
	f.grams[id] = grams
}

// Remove deletes a name. Absent IDs are a no-op.
func (f *Fuzzy) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.grams, id)
}

// Match returns every indexed name whose similarity to the query reaches
// the threshold, ordered by descending similarity with ties by ascending ID.
func (f *Fuzzy) Match(name string, threshold float64) []FuzzyMatch {
	query := trigrams(normalizeName(name))
	if len(query) == 0 {
		return nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var matches []FuzzyMatch
	for id, grams := range f.grams {
		s := diceSimilarity(query, grams)
		if s >= threshold {
			matches = append(matches, FuzzyMatch{ID: id, Similarity: s})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	return matches
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeName lowercases, strips diacritics, and keeps only letters and
// digits separated by single spaces.
func normalizeName(name string) string {
	stripped, _, err := transform.String(deaccent, name)
	if err != nil {
		stripped = name
	}
	var sb strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			sb.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// trigrams returns the set of 3-grams of the padded string.
func trigrams(s string) map[string]bool {
	if s == "" {
		return nil
	}
	padded := "  " + s + " "
	grams := make(map[string]bool)
	rs := []rune(padded)
	for i := 0; i+3 <= len(rs); i++ {
		grams[string(rs[i:i+3])] = true
	}
	return grams
}

// diceSimilarity is 2|A∩B| / (|A|+|B|).
func diceSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for g := range small {
		if large[g] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}
