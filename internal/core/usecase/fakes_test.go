package usecase

import (
	"context"
	"errors"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
)

// annotatorFake answers prompts in order; once the script runs out it repeats the last step.
type annotatorFake struct {
	mu      sync.Mutex
	steps   []annotatorStep
	prompts []string
}

type annotatorStep struct {
	text string
	err  error
}

func (f *annotatorFake) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if len(f.steps) == 0 {
		return "", errors.New("no scripted response")
	}
	idx := len(f.prompts) - 1
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	return f.steps[idx].text, f.steps[idx].err
}

func (f *annotatorFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// routedAnnotatorFake picks a response by the prompt's stage marker.
type routedAnnotatorFake struct {
	classify  annotatorStep
	extract   annotatorStep
	summarize annotatorStep
	calls     int
}

func (f *routedAnnotatorFake) Complete(_ context.Context, prompt string) (string, error) {
	f.calls++
	switch {
	case strings.Contains(prompt, "Legal Classification Agent"):
		return f.classify.text, f.classify.err
	case strings.Contains(prompt, "Legal Obligation Extraction Agent"):
		return f.extract.text, f.extract.err
	default:
		return f.summarize.text, f.summarize.err
	}
}

// keywordEmbedderFake maps text onto counts of a fixed vocabulary, so similar wording lands close.
type keywordEmbedderFake struct {
	vocabulary []string
	err        error
}

func newKeywordEmbedderFake() *keywordEmbedderFake {
	return &keywordEmbedderFake{vocabulary: []string{"terminat", "confidential", "pay", "indemnif", "general"}}
}

func (f *keywordEmbedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vector := make([]float32, len(f.vocabulary))
		for j, word := range f.vocabulary {
			vector[j] = float32(strings.Count(lower, word))
		}
		out[i] = vector
	}
	return out, nil
}

// bruteForceStoreFake is an exhaustive L2 store with ascending-position tie breaks.
type bruteForceStoreFake struct {
	dimensions int
	vectors    [][]float32
	resets     int
}

func (f *bruteForceStoreFake) Reset(_ context.Context, dimensions int) error {
	f.resets++
	f.dimensions = dimensions
	f.vectors = nil
	return nil
}

func (f *bruteForceStoreFake) Add(_ context.Context, vectors [][]float32) error {
	f.vectors = append(f.vectors, vectors...)
	return nil
}

func (f *bruteForceStoreFake) Search(_ context.Context, query []float32, k int) ([]domain.VectorHit, error) {
	hits := make([]domain.VectorHit, 0, len(f.vectors))
	for i, vector := range f.vectors {
		var sum float64
		for j := range vector {
			d := float64(vector[j] - query[j])
			sum += d * d
		}
		hits = append(hits, domain.VectorHit{Position: i, Distance: math.Sqrt(sum)})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func newStoreFactory() func() ports.VectorStore {
	return func() ports.VectorStore { return &bruteForceStoreFake{} }
}

type pageSourceFake struct {
	pages []domain.Page
	err   error
	path  string
}

func (f *pageSourceFake) ExtractPages(_ context.Context, path string) ([]domain.Page, error) {
	f.path = path
	if f.err != nil {
		return nil, f.err
	}
	return f.pages, nil
}

type storageFake struct {
	savedKey  string
	savedBody string
	err       error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.savedBody)), nil
}

func (f *storageFake) Path(key string) string {
	return "/data/" + key
}

type observerFake struct {
	mu          sync.Mutex
	stages      []string
	annotations map[string]int
	outcomes    []domain.Outcome
}

func (f *observerFake) ObserveStage(stage string, _ time.Duration, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
}

func (f *observerFake) ObserveAnnotation(stage string, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.annotations == nil {
		f.annotations = map[string]int{}
	}
	f.annotations[stage+"/"+status]++
}

func (f *observerFake) ObserveRun(outcome domain.Outcome, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func mustClauses(texts ...string) []domain.Clause {
	out := make([]domain.Clause, 0, len(texts))
	for i, text := range texts {
		clause, err := domain.NewClause(clauseID(1, i+1), text, 1)
		if err != nil {
			panic(err)
		}
		out = append(out, clause)
	}
	return out
}

func twoPageDocument() []domain.Page {
	return []domain.Page{
		{Number: 1, Text: "This Agreement shall terminate upon 30 days notice.\n\nConfidential information must not be disclosed."},
		{Number: 2, Text: "General terms apply."},
	}
}
