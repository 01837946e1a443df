package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EndOfStreamMarker is the literal frame sent after the last content
// fragment. It is distinct from any possible model output fragment because
// fragments are forwarded verbatim and never consist of this exact frame
// alone.
const EndOfStreamMarker = "__END__"

// Roles accepted on inbound messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ErrInvalidPayload marks malformed inbound chat payloads. User-visible,
// never retried by the core.
var ErrInvalidPayload = errors.New("invalid chat payload")

// Message is one role-tagged entry of the inbound conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the inbound WebSocket payload shape.
type ChatRequest struct {
	Messages []Message `json:"messages"`
}

// ParseChatRequest validates a raw inbound frame: it must decode to a
// non-empty ordered list of role/content pairs with known roles.
func ParseChatRequest(raw []byte) (ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ChatRequest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(req.Messages) == 0 {
		return ChatRequest{}, fmt.Errorf("%w: messages list is empty", ErrInvalidPayload)
	}
	for i, msg := range req.Messages {
		switch msg.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return ChatRequest{}, fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidPayload, i, msg.Role)
		}
		if strings.TrimSpace(msg.Content) == "" {
			return ChatRequest{}, fmt.Errorf("%w: message %d has empty content", ErrInvalidPayload, i)
		}
	}
	return req, nil
}

// LastUserMessage returns the most recent user-role entry, if any.
func LastUserMessage(messages []Message) (Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i], true
		}
	}
	return Message{}, false
}

// ErrorFrame renders the single user-visible error frame for a failed
// request.
func ErrorFrame(detail string) string {
	return "Error: " + detail
}
