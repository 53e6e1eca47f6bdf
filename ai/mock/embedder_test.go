package mock

import (
	"context"
	"sync"
	"testing"
)

func TestDeterministicVectorStable(t *testing.T) {
	a := DeterministicVector("coffee", DefaultDimensions)
	b := DeterministicVector("coffee", DefaultDimensions)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vector not deterministic at %d: %v vs %v", i, a[i], b[i])
		}
	}

	var sumSquares float32
	for _, v := range a {
		sumSquares += v * v
	}
	if sumSquares < 0.99 || sumSquares > 1.01 {
		t.Fatalf("expected unit vector, got squared norm %v", sumSquares)
	}
}

func TestCallCountConcurrent(t *testing.T) {
	m := NewMockEmbedder()
	ctx := context.Background()

	// Exercised from pool workers in the store; the counter must hold up
	// under concurrent calls.
	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := m.EmbedText(ctx, "text"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := m.CallCount(); got != workers*perWorker {
		t.Fatalf("CallCount() = %d, want %d", got, workers*perWorker)
	}

	m.Reset()
	if got := m.CallCount(); got != 0 {
		t.Fatalf("CallCount() after Reset = %d, want 0", got)
	}
}
