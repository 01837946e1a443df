package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter streams completions from an OpenAI-compatible chat endpoint.
type HTTPAdapter struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewHTTPAdapter(url, apiKey, model string) *HTTPAdapter {
	return &HTTPAdapter{
		url:    strings.TrimSpace(url),
		apiKey: apiKey,
		model:  model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (a *HTTPAdapter) StreamCompletion(ctx context.Context, prompt []Message, onFragment StreamHandler) (string, error) {
	payload, err := json.Marshal(chatCompletionRequest{
		Model:    a.model,
		Messages: prompt,
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("model http status %d: %s", res.StatusCode, string(body))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return consumeStream(res.Body, onFragment)
	}

	// Non-streaming providers answer with a single completion object.
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var obj chatCompletionChunk
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	text := extractContent(obj)
	if text != "" && onFragment != nil {
		if err := onFragment(text); err != nil {
			return "", err
		}
	}
	return text, nil
}

func consumeStream(body io.Reader, onFragment StreamHandler) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		fragment := extractContent(chunk)
		if fragment == "" {
			continue
		}
		if onFragment != nil {
			// Return what was delivered so far: a consumer that stops the
			// stream may still persist the partial text.
			if err := onFragment(fragment); err != nil {
				return out.String(), err
			}
		}
		out.WriteString(fragment)
	}
	if err := scanner.Err(); err != nil {
		return out.String(), fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func extractContent(chunk chatCompletionChunk) string {
	if len(chunk.Choices) == 0 {
		return ""
	}
	if delta := chunk.Choices[0].Delta.Content; delta != "" {
		return delta
	}
	return chunk.Choices[0].Message.Content
}
