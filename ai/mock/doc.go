// Package mock provides a test double for the ai.Embedder interface.
//
// The mock returns deterministic unit vectors derived from a hash of the
// input text, so similarity relationships are stable across runs and no
// external embedding service is needed.
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return nil, errors.New("service down") // simulate derivation failure
//	}
package mock
