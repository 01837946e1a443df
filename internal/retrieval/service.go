package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aiy-labs/aiy/internal/chunker"
	"github.com/aiy-labs/aiy/internal/logging"
)

// upsertBatchSize caps how many chunks go into one indexing request.
const upsertBatchSize = 100

// Record is one indexable chunk. DocumentID tags every chunk of a source
// document; chunks are not individually addressable after upsert.
type Record struct {
	DocumentID string
	Text       string
}

// Match is one ranked retrieval result, ephemeral and never persisted.
type Match struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// VectorIndex is the semantic index capability.
type VectorIndex interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, text string, topK int) ([]Match, error)
}

// Service chunks documents into the vector index and answers top-K
// similarity queries.
type Service struct {
	index  VectorIndex
	logger *slog.Logger
}

func NewService(index VectorIndex) *Service {
	return &Service{
		index:  index,
		logger: logging.NewModuleLogger("retrieval", "service"),
	}
}

// UpsertDocument chunks content and indexes the chunks in batches, returning
// the total chunk count. A failed batch surfaces as an error; batches
// already sent remain applied.
func (s *Service) UpsertDocument(ctx context.Context, content, documentID string, maxChunkSize, minChunkSize int) (int, error) {
	chunks := chunker.Chunk(content, maxChunkSize, minChunkSize)
	if len(chunks) == 0 {
		return 0, nil
	}

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := make([]Record, 0, end-start)
		for _, c := range chunks[start:end] {
			batch = append(batch, Record{DocumentID: documentID, Text: c})
		}
		if err := s.index.Upsert(ctx, batch); err != nil {
			return 0, fmt.Errorf("upsert batch starting at chunk %d: %w", start, err)
		}
	}

	s.logger.Info("document indexed",
		"document_id", documentID,
		"chunk_count", len(chunks),
	)
	return len(chunks), nil
}

// Query runs a single similarity search. Errors are the caller's to degrade;
// results arrive ranked by descending relevance as reported by the index.
func (s *Service) Query(ctx context.Context, searchText string, topK int) ([]Match, error) {
	matches, err := s.index.Search(ctx, searchText, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return matches, nil
}
