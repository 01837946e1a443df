// Package app wires configuration into a running service graph.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/aiy-labs/aiy/internal/config"
	"github.com/aiy-labs/aiy/internal/httpapi"
	"github.com/aiy-labs/aiy/internal/instructions"
	"github.com/aiy-labs/aiy/internal/llm"
	"github.com/aiy-labs/aiy/internal/logging"
	"github.com/aiy-labs/aiy/internal/memory"
	"github.com/aiy-labs/aiy/internal/observability"
	"github.com/aiy-labs/aiy/internal/retrieval"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Metrics *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	logger := logging.NewModuleLogger("app", "build")
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewTurnStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("turn store init failed: %w", err)
	}

	index, err := buildVectorIndex(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("vector index init failed: %w", err)
	}

	adapter, err := llm.NewAdapter(llm.Config{
		Mode:    cfg.ModelAdapterMode,
		HTTPURL: cfg.ModelHTTPURL,
		APIKey:  cfg.ModelAPIKey,
		Model:   cfg.ModelName,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("model adapter init failed: %w", err)
	}

	cache := instructions.NewCache(instructions.NewFSBlobStore(cfg.InstructionsDir), cfg.InstructionsTTL)

	api := httpapi.New(cfg, httpapi.Deps{
		Store:        store,
		Instructions: cache,
		Retrieval:    retrieval.NewService(index),
		Adapter:      adapter,
		Metrics:      metrics,
	})

	logger.Info("service graph built",
		"retrieval_mode", cfg.RetrievalMode,
		"model_mode", cfg.ModelAdapterMode,
		"durable_store", storeMode(cfg))

	cleanup := func() error {
		return store.Close()
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}

// buildVectorIndex selects the semantic index backend. "auto" picks Qdrant
// when a host is configured and falls back to the in-process index.
func buildVectorIndex(ctx context.Context, cfg config.Config) (retrieval.VectorIndex, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.RetrievalMode))
	switch mode {
	case "", "auto":
		if strings.TrimSpace(cfg.QdrantHost) == "" {
			return retrieval.NewInMemoryIndex(), nil
		}
		fallthrough
	case "qdrant":
		embedder := retrieval.NewEmbeddingClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
		return retrieval.NewQdrantIndex(ctx, retrieval.QdrantIndexConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			Collection: cfg.QdrantCollection,
			Dimension:  cfg.EmbeddingDimension,
		}, embedder)
	case "memory":
		return retrieval.NewInMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unknown retrieval mode %q", cfg.RetrievalMode)
	}
}

func storeMode(cfg config.Config) string {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return "in-memory"
	}
	return "postgres"
}
