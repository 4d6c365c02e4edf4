// Package embedder defines the Embed boundary used only by backends that
// need a query vector client-side (most retrieval backends embed
// server-side). Concrete embedding providers are external collaborators;
// this package provides the interface and a fake for tests.
package embedder

import "context"

// Client embeds text into a dense vector.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Fake returns a fixed-dimension deterministic vector derived from the
// input length, enough for exercising merge/ranking logic without a real
// embedding model.
type Fake struct {
	Dim int
}

func (f Fake) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := f.Dim
	if dim <= 0 {
		dim = 8
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32((len(text) + i) % 97)
	}
	return v, nil
}
