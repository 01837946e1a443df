package assembler

import (
	"errors"
	"strings"

	"github.com/aiy-labs/aiy/internal/llm"
	"github.com/aiy-labs/aiy/internal/protocol"
)

// ErrIncompleteContext means the context object is missing required
// instruction content. Fatal, user-visible.
var ErrIncompleteContext = errors.New("context object is missing required instructions")

const (
	usageGuideHeader    = "=== Context Usage Guide ==="
	usageGuideFooter    = "============================"
	retrievedHeader     = "=== Retrieved Context ==="
	retrievedFooter     = "========================="
	retrievedBulletMark = "• "
)

// BuildPrompt transforms the raw history and a built context object into the
// ordered prompt sequence. The ordering is load-bearing: instructions first
// establish model priors, retrieved context primes grounding, the rolling
// window supplies recency, and the literal latest user message lands last
// and verbatim so it is present exactly once even if the window preload
// raced with this call.
func BuildPrompt(history []protocol.Message, ctxObj *ContextObject) ([]llm.Message, error) {
	if ctxObj == nil ||
		strings.TrimSpace(ctxObj.SystemInstructions) == "" ||
		strings.TrimSpace(ctxObj.UsageInstructions) == "" {
		return nil, ErrIncompleteContext
	}

	lastUser, ok := protocol.LastUserMessage(history)
	if !ok {
		return nil, ErrNoUserMessage
	}

	prompt := []llm.Message{
		{Role: protocol.RoleSystem, Content: ctxObj.SystemInstructions},
		{Role: protocol.RoleSystem, Content: usageGuideHeader + "\n" + ctxObj.UsageInstructions + "\n" + usageGuideFooter},
	}

	if len(ctxObj.RetrievedItems) > 0 {
		var block strings.Builder
		block.WriteString(retrievedHeader)
		for _, item := range ctxObj.RetrievedItems {
			block.WriteString("\n" + retrievedBulletMark + item.Content)
		}
		block.WriteString("\n" + retrievedFooter)
		prompt = append(prompt, llm.Message{Role: protocol.RoleSystem, Content: block.String()})
	}

	for _, turn := range ctxObj.RollingWindow {
		prompt = append(prompt, llm.Message{Role: turn.Role, Content: turn.Content})
	}

	prompt = append(prompt, llm.Message{Role: protocol.RoleUser, Content: lastUser.Content})
	return prompt, nil
}
