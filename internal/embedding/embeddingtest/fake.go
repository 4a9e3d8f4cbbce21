// Package embeddingtest provides a deterministic embedder for tests.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync/atomic"
)

// Fake hashes lowercase words into a fixed number of buckets, so texts that
// share words land close together.
type Fake struct {
	Dim   int
	Err   error
	Calls atomic.Int32
}

// New returns a fake embedder with dim buckets.
func New(dim int) *Fake {
	return &Fake{Dim: dim}
}

// Vector embeds text without counting a call.
func (f *Fake) Vector(text string) []float32 {
	v := make([]float32, f.Dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,:;!?()[]\"'")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(f.Dim)]++
	}
	return v
}

func (f *Fake) Embed(_ context.Context, text string) ([]float32, error) {
	f.Calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Vector(text), nil
}

func (f *Fake) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.Calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.Vector(t)
	}
	return out, nil
}

func (f *Fake) Model() string  { return "fake" }
func (f *Fake) Dimension() int { return f.Dim }
