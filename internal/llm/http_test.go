package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPAdapterConsumesSSEStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "", "test-model")
	var fragments []string
	text, err := adapter.StreamCompletion(context.Background(), []Message{{Role: "user", Content: "hello"}}, func(f string) error {
		fragments = append(fragments, f)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamCompletion() error = %v", err)
	}
	if text != "Hi there" {
		t.Fatalf("text = %q, want %q", text, "Hi there")
	}
	if len(fragments) != 2 || fragments[0] != "Hi" || fragments[1] != " there" {
		t.Fatalf("fragments = %v", fragments)
	}
}

func TestHTTPAdapterHandlesPlainJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"full reply"}}]}`)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "", "test-model")
	text, err := adapter.StreamCompletion(context.Background(), []Message{{Role: "user", Content: "hello"}}, nil)
	if err != nil {
		t.Fatalf("StreamCompletion() error = %v", err)
	}
	if text != "full reply" {
		t.Fatalf("text = %q, want %q", text, "full reply")
	}
}

func TestHTTPAdapterErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "", "test-model")
	if _, err := adapter.StreamCompletion(context.Background(), []Message{{Role: "user", Content: "x"}}, nil); err == nil {
		t.Fatalf("StreamCompletion() expected error for 502")
	}
}

func TestMockAdapterStreamsWords(t *testing.T) {
	adapter := NewMockAdapter()
	var fragments []string
	text, err := adapter.StreamCompletion(context.Background(), []Message{{Role: "user", Content: "ahoy"}}, func(f string) error {
		fragments = append(fragments, f)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamCompletion() error = %v", err)
	}
	if text != "You said: ahoy" {
		t.Fatalf("text = %q", text)
	}
	if len(fragments) < 2 {
		t.Fatalf("fragments = %v, want word-by-word stream", fragments)
	}
}

func TestNewAdapterModes(t *testing.T) {
	if _, err := NewAdapter(Config{Mode: "http"}); err == nil {
		t.Fatalf("NewAdapter(http) without url expected error")
	}
	if _, err := NewAdapter(Config{Mode: "weird"}); err == nil {
		t.Fatalf("NewAdapter(weird) expected error")
	}
	a, err := NewAdapter(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewAdapter(auto) error = %v", err)
	}
	if _, ok := a.(*MockAdapter); !ok {
		t.Fatalf("auto without url should select mock, got %T", a)
	}
}
