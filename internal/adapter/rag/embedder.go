package rag

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// Embedder turns query text into a dense vector for similarity search.
// Vector stores need one; production deployments plug in a real model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() uint64
}

const defaultEmbedderDims = 256

// hashEmbedder is the zero-dependency default: a feature-hashing embedding
// over whitespace tokens. Deterministic and cheap, good enough for keyword
// overlap retrieval when no embedding model is configured.
type hashEmbedder struct {
	dims uint64
}

func NewHashEmbedder(dims uint64) Embedder {
	if dims == 0 {
		dims = defaultEmbedderDims
	}
	return &hashEmbedder{dims: dims}
}

func (e *hashEmbedder) Dims() uint64 { return e.dims }

func (e *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		idx := binary.BigEndian.Uint64(sum[:8]) % e.dims
		// Second hash lane decides the sign, keeping the expectation centred.
		if sum[8]&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
