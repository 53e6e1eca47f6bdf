package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicalSearchRanksByWeightedOverlap(t *testing.T) {
	ix := NewLexical()

	ix.Index("quiet-cafe",
		Field{Text: "The Hidden Bean", Weight: 4},
		Field{Text: "cafe, coffee shop", Weight: 3},
		Field{Text: "A quiet cafe with plenty of outlets for laptop work and study.", Weight: 1},
	)
	ix.Index("loud-bar",
		Field{Text: "Thirsty Pelican", Weight: 4},
		Field{Text: "bar, nightlife", Weight: 3},
		Field{Text: "Loud music, crowded patio, trivia nights.", Weight: 1},
	)
	ix.Index("bookstore",
		Field{Text: "Paper Trails", Weight: 4},
		Field{Text: "bookstore", Weight: 3},
		Field{Text: "Quiet aisles and a small reading nook.", Weight: 1},
	)

	results := ix.Search("quiet cafe for laptop work", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "quiet-cafe", results[0].ID)

	ids := make([]string, 0, len(results))
	for _, m := range results {
		ids = append(ids, m.ID)
	}
	assert.NotContains(t, ids, "loud-bar")
}

func TestLexicalFieldWeightDominates(t *testing.T) {
	ix := NewLexical()

	// "garden" in the name should outrank "garden" buried in a description.
	ix.Index("named", Field{Text: "Garden Grove Coffee", Weight: 4})
	ix.Index("described", Field{Text: "Corner Coffee", Weight: 4},
		Field{Text: "Seating near the community garden.", Weight: 1})

	results := ix.Search("garden", 10)
	require.Len(t, results, 2)
	assert.Equal(t, "named", results[0].ID)
}

func TestLexicalRemove(t *testing.T) {
	ix := NewLexical()
	ix.Index("p1", Field{Text: "empanada truck", Weight: 1})
	require.Len(t, ix.Search("empanada", 10), 1)

	ix.Remove("p1")
	assert.Empty(t, ix.Search("empanada", 10))
	assert.Equal(t, 0, ix.Len())
}

func TestLexicalReindexReplaces(t *testing.T) {
	ix := NewLexical()
	ix.Index("p1", Field{Text: "old ramen shop", Weight: 1})
	ix.Index("p1", Field{Text: "new taco stand", Weight: 1})

	assert.Empty(t, ix.Search("ramen", 10))
	assert.Len(t, ix.Search("taco", 10), 1)
	assert.Equal(t, 1, ix.Len())
}

func TestLexicalSearchExpr(t *testing.T) {
	ix := NewLexical()
	ix.Index("a", Field{Text: "quiet cafe with wifi", Weight: 1})
	ix.Index("b", Field{Text: "quiet bar no wifi", Weight: 1})
	ix.Index("c", Field{Text: "loud cafe with wifi", Weight: 1})

	got := ix.SearchExpr(Expr{And: []string{"wifi"}, Not: []string{"bar"}}, 10)
	ids := make([]string, 0, len(got))
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)

	got = ix.SearchExpr(Expr{And: []string{"quiet"}, Or: []string{"cafe", "bar"}}, 10)
	ids = ids[:0]
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestTokenizeStemsAndFilters(t *testing.T) {
	terms := Tokenize("The tables and outlets are working nicely!")
	assert.Contains(t, terms, "table")
	assert.Contains(t, terms, "outlet")
	assert.Contains(t, terms, "work")
	assert.NotContains(t, terms, "the")
	assert.NotContains(t, terms, "and")
	assert.NotContains(t, terms, "are")
}

func TestLexicalScoreFixedCandidate(t *testing.T) {
	ix := NewLexical()
	ix.Index("p1", Field{Text: "sourdough bakery", Weight: 1})
	ix.Index("p2", Field{Text: "hardware store", Weight: 1})

	assert.Greater(t, ix.Score("p1", "sourdough bread"), 0.0)
	assert.Zero(t, ix.Score("p2", "sourdough bread"))
	assert.Zero(t, ix.Score("missing", "sourdough"))
}
