// Package llm bridges the relay with a streaming chat-completion provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one entry of the prompt sequence sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamHandler receives streaming content fragments.
type StreamHandler func(fragment string) error

// Adapter is the model capability: it accepts a prompt sequence and produces
// a lazy fragment stream, returning the full accumulated text. When
// onFragment stops the stream with an error, implementations return the
// text delivered up to that point alongside the error.
type Adapter interface {
	StreamCompletion(ctx context.Context, prompt []Message, onFragment StreamHandler) (string, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
	APIKey  string
	Model   string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL, cfg.APIKey, cfg.Model), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("model HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL, cfg.APIKey, cfg.Model), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported model adapter mode %q", cfg.Mode)
	}
}
