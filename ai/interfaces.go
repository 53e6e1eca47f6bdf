package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
//
// The store validates every returned vector against its configured dimension
// before storing it; implementations should report their dimension honestly
// via the config they were built with.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error if the embedding generation fails; the caller treats
	// failure as non-fatal (the row commits marked derivation-pending).
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a
	// batch, in input order. Batch processing is used by the pending sweep
	// and reindex paths.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
