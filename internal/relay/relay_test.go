package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aiy-labs/aiy/internal/assembler"
	"github.com/aiy-labs/aiy/internal/instructions"
	"github.com/aiy-labs/aiy/internal/llm"
	"github.com/aiy-labs/aiy/internal/memory"
	"github.com/aiy-labs/aiy/internal/observability"
	"github.com/aiy-labs/aiy/internal/retrieval"
)

type scriptedAdapter struct {
	fragments []string
	err       error
	prompts   [][]llm.Message
}

func (a *scriptedAdapter) StreamCompletion(_ context.Context, prompt []llm.Message, onFragment llm.StreamHandler) (string, error) {
	a.prompts = append(a.prompts, prompt)
	if a.err != nil {
		return "", a.err
	}
	var full strings.Builder
	for _, fragment := range a.fragments {
		if err := onFragment(fragment); err != nil {
			return full.String(), err
		}
		full.WriteString(fragment)
	}
	return full.String(), nil
}

type capturingSender struct {
	frames   []string
	failFrom int // fail sends at index >= failFrom when >= 0
}

func (s *capturingSender) Send(text string) error {
	if s.failFrom >= 0 && len(s.frames) >= s.failFrom {
		return errors.New("peer closed")
	}
	s.frames = append(s.frames, text)
	return nil
}

func newSender() *capturingSender { return &capturingSender{failFrom: -1} }

type fakeBlobStore struct{ docs map[string]string }

func (s *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	content, ok := s.docs[key]
	if !ok {
		return nil, errors.New("absent")
	}
	return []byte(content), nil
}

type noopIndex struct{}

func (noopIndex) Upsert(context.Context, []retrieval.Record) error { return nil }
func (noopIndex) Search(context.Context, string, int) ([]retrieval.Match, error) {
	return nil, nil
}

type fixture struct {
	relay   *Relay
	adapter *scriptedAdapter
	store   memory.TurnStore
	window  *memory.WindowStore
}

type failingPutStore struct {
	memory.TurnStore
}

func (s *failingPutStore) Put(context.Context, memory.Turn) error {
	return errors.New("db down")
}

func newFixture(t *testing.T, store memory.TurnStore, adapter *scriptedAdapter) *fixture {
	t.Helper()

	blobs := &fakeBlobStore{docs: map[string]string{
		"system-message.txt": "You are AIY.",
		"context-usage.txt":  "Use context wisely.",
	}}
	window := memory.NewWindowStore(store, memory.PartitionKey("u1", "s1"), 10)
	metrics := observability.NewMetrics(fmt.Sprintf("aiy_test_relay_%d", time.Now().UnixNano()))

	asm, err := assembler.New(assembler.Config{
		Instructions:          instructions.NewCache(blobs, time.Minute),
		Window:                window,
		Retrieval:             retrieval.NewService(noopIndex{}),
		Metrics:               metrics,
		UserID:                "u1",
		SegmentID:             "s1",
		SystemInstructionsKey: "system-message.txt",
		UsageInstructionsKey:  "context-usage.txt",
		TopK:                  3,
	})
	if err != nil {
		t.Fatalf("assembler.New() error = %v", err)
	}

	r, err := New(Config{
		Assembler: asm,
		Window:    window,
		Adapter:   adapter,
		Metrics:   metrics,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{relay: r, adapter: adapter, store: store, window: window}
}

func storedTurns(t *testing.T, store memory.TurnStore) []memory.Turn {
	t.Helper()
	turns, err := store.Query(context.Background(), memory.PartitionKey("u1", "s1"), 0, false)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	return turns
}

const helloPayload = `{"messages":[{"role":"user","content":"Hello!"}]}`

func TestHandleStreamsAndFinalizes(t *testing.T) {
	store := memory.NewInMemoryTurnStore()
	f := newFixture(t, store, &scriptedAdapter{fragments: []string{"Hi", " there"}})
	out := newSender()

	if err := f.relay.Handle(context.Background(), []byte(helloPayload), out); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	want := []string{"Hi", " there", "__END__"}
	if len(out.frames) != len(want) {
		t.Fatalf("frames = %v, want %v", out.frames, want)
	}
	for i := range want {
		if out.frames[i] != want[i] {
			t.Fatalf("frames[%d] = %q, want %q", i, out.frames[i], want[i])
		}
	}

	turns := storedTurns(t, store)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2 (user then assistant)", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Content != "Hello!" {
		t.Fatalf("turns[0] = %+v, want the user turn first", turns[0])
	}
	if turns[1].Role != "assistant" || turns[1].Content != "Hi there" {
		t.Fatalf("turns[1] = %+v, want the accumulated assistant turn", turns[1])
	}
	if turns[0].Timestamp >= turns[1].Timestamp {
		t.Fatalf("user turn must precede assistant turn: %d vs %d", turns[0].Timestamp, turns[1].Timestamp)
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	f := newFixture(t, memory.NewInMemoryTurnStore(), &scriptedAdapter{})
	out := newSender()

	if err := f.relay.Handle(context.Background(), []byte(`{"messages":[]}`), out); err == nil {
		t.Fatalf("Handle() should fail on a malformed payload")
	}
	if len(out.frames) != 1 || !strings.HasPrefix(out.frames[0], "Error: ") {
		t.Fatalf("frames = %v, want a single error frame", out.frames)
	}
	if len(f.adapter.prompts) != 0 {
		t.Fatalf("model must not be invoked on a malformed payload")
	}
}

func TestHandleModelFailure(t *testing.T) {
	store := memory.NewInMemoryTurnStore()
	f := newFixture(t, store, &scriptedAdapter{err: errors.New("upstream 502")})
	out := newSender()

	if err := f.relay.Handle(context.Background(), []byte(helloPayload), out); err == nil {
		t.Fatalf("Handle() should surface a model failure")
	}
	if len(out.frames) != 1 || !strings.HasPrefix(out.frames[0], "Error: ") {
		t.Fatalf("frames = %v, want a single error frame", out.frames)
	}
	if turns := storedTurns(t, store); len(turns) != 0 {
		t.Fatalf("no turns should persist after a model failure, got %+v", turns)
	}
}

func TestHandlePersistsPartialExchangeOnDisconnect(t *testing.T) {
	store := memory.NewInMemoryTurnStore()
	f := newFixture(t, store, &scriptedAdapter{fragments: []string{"Hi", " there", " friend"}})
	out := newSender()
	out.failFrom = 2 // the third fragment never reaches the client

	if err := f.relay.Handle(context.Background(), []byte(helloPayload), out); err != nil {
		t.Fatalf("Handle() error = %v, disconnect is not a request failure", err)
	}

	turns := storedTurns(t, store)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[1].Content != "Hi there" {
		t.Fatalf("turns[1].Content = %q, want the delivered portion %q", turns[1].Content, "Hi there")
	}
	for _, frame := range out.frames {
		if strings.HasPrefix(frame, "Error: ") {
			t.Fatalf("no error frame should be sent to a gone client: %v", out.frames)
		}
	}
}

func TestHandlePersistenceFailureNotSurfaced(t *testing.T) {
	store := &failingPutStore{TurnStore: memory.NewInMemoryTurnStore()}
	f := newFixture(t, store, &scriptedAdapter{fragments: []string{"ok"}})
	out := newSender()

	if err := f.relay.Handle(context.Background(), []byte(helloPayload), out); err != nil {
		t.Fatalf("Handle() error = %v, persistence failure must stay internal", err)
	}
	if out.frames[len(out.frames)-1] != "__END__" {
		t.Fatalf("stream must complete normally, frames = %v", out.frames)
	}
}

func TestHandleMissingInstructions(t *testing.T) {
	store := memory.NewInMemoryTurnStore()
	adapter := &scriptedAdapter{fragments: []string{"never"}}

	blobs := &fakeBlobStore{docs: map[string]string{}}
	window := memory.NewWindowStore(store, memory.PartitionKey("u1", "s1"), 10)
	metrics := observability.NewMetrics(fmt.Sprintf("aiy_test_relay_noinstr_%d", time.Now().UnixNano()))
	asm, err := assembler.New(assembler.Config{
		Instructions:          instructions.NewCache(blobs, time.Minute),
		Window:                window,
		Retrieval:             retrieval.NewService(noopIndex{}),
		Metrics:               metrics,
		UserID:                "u1",
		SegmentID:             "s1",
		SystemInstructionsKey: "system-message.txt",
		UsageInstructionsKey:  "context-usage.txt",
		TopK:                  3,
	})
	if err != nil {
		t.Fatalf("assembler.New() error = %v", err)
	}
	r, err := New(Config{Assembler: asm, Window: window, Adapter: adapter, Metrics: metrics}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out := newSender()
	if err := r.Handle(context.Background(), []byte(helloPayload), out); !errors.Is(err, assembler.ErrMissingInstructions) {
		t.Fatalf("Handle() error = %v, want ErrMissingInstructions", err)
	}
	if len(out.frames) != 1 || !strings.HasPrefix(out.frames[0], "Error: ") {
		t.Fatalf("frames = %v, want a single error frame", out.frames)
	}
	if len(adapter.prompts) != 0 {
		t.Fatalf("model must not be invoked when assembly fails")
	}
}
