package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	DefaultDimensions = 384
	termSaturationK   = 1.2
)

// Embedder is a deterministic feature-hashing embedder. It needs no model or network,
// so retrieval keeps working when no embedding service is configured.
type Embedder struct {
	dimensions int
}

func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

// embed hashes unigrams and bigrams into signed buckets with saturated term frequency,
// then L2-normalises. Text without tokens maps to the zero vector.
func (e *Embedder) embed(text string) []float32 {
	tokens := tokenize(text)
	termFreq := make(map[string]float64, len(tokens)*2)
	for i, token := range tokens {
		termFreq[token]++
		if i > 0 {
			termFreq[tokens[i-1]+" "+token] += 0.5
		}
	}

	vector := make([]float64, e.dimensions)
	for term, tf := range termFreq {
		sum := hashTerm(term)
		bucket := int(sum % uint32(e.dimensions))
		sign := 1.0
		if sum&(1<<31) != 0 {
			sign = -1.0
		}
		vector[bucket] += sign * (tf * (termSaturationK + 1.0)) / (tf + termSaturationK)
	}

	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dimensions)
	if norm == 0 {
		return out
	}
	for i, v := range vector {
		out[i] = float32(v / norm)
	}
	return out
}

func hashTerm(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return h.Sum32()
}

func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
