package memory

import (
	"context"
	"strings"
)

// NewTurnStore creates a postgres-backed store when configured, otherwise
// in-memory.
func NewTurnStore(ctx context.Context, databaseURL string) (TurnStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryTurnStore(), nil
	}
	return NewPostgresTurnStore(ctx, databaseURL)
}
