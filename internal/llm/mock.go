package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter produces deterministic local replies when no provider is
// configured, streamed word by word.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamCompletion(ctx context.Context, prompt []Message, onFragment StreamHandler) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	reply := buildMockReply(prompt)
	var out strings.Builder
	for i, word := range strings.Fields(reply) {
		fragment := word
		if i > 0 {
			fragment = " " + word
		}
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return out.String(), err
			}
		}
		out.WriteString(fragment)
	}
	return out.String(), nil
}

func buildMockReply(prompt []Message) string {
	for i := len(prompt) - 1; i >= 0; i-- {
		if prompt[i].Role == "user" {
			return fmt.Sprintf("You said: %s", strings.TrimSpace(prompt[i].Content))
		}
	}
	return "I am listening."
}
