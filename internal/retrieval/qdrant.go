package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/aiy-labs/aiy/internal/logging"
)

// QdrantIndexConfig controls the Qdrant-backed index construction.
type QdrantIndexConfig struct {
	Host       string
	Port       int
	Collection string
	// Dimension must match the embedding model's output size.
	Dimension int
}

// QdrantIndex implements VectorIndex against a Qdrant collection, embedding
// text through an OpenAI-compatible embeddings endpoint.
type QdrantIndex struct {
	client     *qdrant.Client
	embedder   *EmbeddingClient
	collection string
	logger     *slog.Logger
}

func NewQdrantIndex(ctx context.Context, cfg QdrantIndexConfig, embedder *EmbeddingClient) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	idx := &QdrantIndex{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		logger:     logging.NewModuleLogger("retrieval", "qdrant"),
	}
	if err := idx.ensureCollection(ctx, uint64(cfg.Dimension)); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dimension uint64) error {
	existing, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range existing {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vectors, err := q.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed records: %w", err)
	}

	// Qdrant requires unique point IDs, so each point gets a fresh UUID
	// while the shared document id lives in the payload.
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(uuid.New().String()),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": r.DocumentID,
				"text":        r.Text,
			}),
		}
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, text string, topK int) ([]Match, error) {
	vectors, err := q.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}

	limit := uint64(topK)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vectors[0]...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query qdrant: %w", err)
	}

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		payload := hit.GetPayload()
		if payload == nil {
			continue
		}
		content := ""
		if val, ok := payload["text"]; ok {
			content = val.GetStringValue()
		}
		if content == "" {
			continue
		}
		matches = append(matches, Match{
			Content: content,
			Score:   float64(hit.GetScore()),
		})
	}
	return matches, nil
}

func (q *QdrantIndex) Close() {
	q.client.Close()
}
