package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryIndex is a naive in-process index for local/dev use. Scoring is
// term overlap, not real similarity; it exists so the pipeline runs without
// a vector service.
type InMemoryIndex struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{}
}

func (idx *InMemoryIndex) Upsert(_ context.Context, records []Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.records = append(idx.records, records...)
	return nil
}

func (idx *InMemoryIndex) Search(_ context.Context, text string, topK int) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 || topK <= 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(idx.records))
	for _, r := range idx.records {
		lower := strings.ToLower(r.Text)
		hits := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matches = append(matches, Match{
			Content: r.Text,
			Score:   float64(hits) / float64(len(terms)),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
