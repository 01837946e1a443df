package assembler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aiy-labs/aiy/internal/instructions"
	"github.com/aiy-labs/aiy/internal/memory"
	"github.com/aiy-labs/aiy/internal/observability"
	"github.com/aiy-labs/aiy/internal/protocol"
	"github.com/aiy-labs/aiy/internal/retrieval"
)

type fakeBlobStore struct {
	docs map[string]string
}

func (s *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	content, ok := s.docs[key]
	if !ok {
		return nil, errors.New("absent")
	}
	return []byte(content), nil
}

type fakeIndex struct {
	fail bool
	hits []retrieval.Match
}

func (idx *fakeIndex) Upsert(_ context.Context, _ []retrieval.Record) error { return nil }

func (idx *fakeIndex) Search(_ context.Context, _ string, _ int) ([]retrieval.Match, error) {
	if idx.fail {
		return nil, errors.New("index down")
	}
	return idx.hits, nil
}

type fixture struct {
	assembler *Assembler
	blobs     *fakeBlobStore
	index     *fakeIndex
	store     *memory.InMemoryTurnStore
	window    *memory.WindowStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	blobs := &fakeBlobStore{docs: map[string]string{
		"system-message.txt": "You are AIY.",
		"context-usage.txt":  "Use context wisely.",
	}}
	index := &fakeIndex{}
	store := memory.NewInMemoryTurnStore()
	window := memory.NewWindowStore(store, memory.PartitionKey("u1", "s1"), 10)

	a, err := New(Config{
		Instructions:          instructions.NewCache(blobs, time.Minute),
		Window:                window,
		Retrieval:             retrieval.NewService(index),
		Metrics:               observability.NewMetrics(fmt.Sprintf("aiy_test_asm_%d", time.Now().UnixNano())),
		UserID:                "u1",
		SegmentID:             "s1",
		SystemInstructionsKey: "system-message.txt",
		UsageInstructionsKey:  "context-usage.txt",
		TopK:                  3,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{assembler: a, blobs: blobs, index: index, store: store, window: window}
}

func userMessage(content string) []protocol.Message {
	return []protocol.Message{{Role: protocol.RoleUser, Content: content}}
}

func TestBuildComposesAllSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.index.hits = []retrieval.Match{{Content: "fact one", Score: 0.8}}

	partition := memory.PartitionKey("u1", "s1")
	for i, content := range []string{"hi", "hello there"} {
		err := f.store.Put(ctx, memory.Turn{
			Partition: partition,
			Role:      []string{"user", "assistant"}[i%2],
			Content:   content,
			Timestamp: int64(100 + i),
		})
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	obj, err := f.assembler.Build(ctx, userMessage("what about facts?"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if obj.SessionID == "" {
		t.Fatalf("SessionID should be stamped")
	}
	if obj.SystemInstructions != "You are AIY." || obj.UsageInstructions != "Use context wisely." {
		t.Fatalf("instructions not populated: %+v", obj)
	}
	if len(obj.RollingWindow) != 2 {
		t.Fatalf("len(RollingWindow) = %d, want 2 (preloaded from durable)", len(obj.RollingWindow))
	}
	if len(obj.RetrievedItems) != 1 || obj.RetrievedItems[0].Content != "fact one" {
		t.Fatalf("unexpected retrieved items: %+v", obj.RetrievedItems)
	}
}

func TestBuildStampsFreshSessionPerRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.assembler.Build(ctx, userMessage("one"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, err := f.assembler.Build(ctx, userMessage("two"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if first.SessionID == second.SessionID {
		t.Fatalf("session IDs must differ across builds")
	}
}

func TestBuildWithoutUserMessage(t *testing.T) {
	f := newFixture(t)
	history := []protocol.Message{{Role: protocol.RoleAssistant, Content: "hello"}}
	if _, err := f.assembler.Build(context.Background(), history); !errors.Is(err, ErrNoUserMessage) {
		t.Fatalf("Build() error = %v, want ErrNoUserMessage", err)
	}
}

func TestBuildRetrievalFailureDegradesToEmpty(t *testing.T) {
	f := newFixture(t)
	f.index.fail = true

	obj, err := f.assembler.Build(context.Background(), userMessage("hello"))
	if err != nil {
		t.Fatalf("Build() error = %v, want soft degradation", err)
	}
	if len(obj.RetrievedItems) != 0 {
		t.Fatalf("RetrievedItems = %+v, want empty", obj.RetrievedItems)
	}
}

func TestBuildEmptyInstructionsAreFatal(t *testing.T) {
	f := newFixture(t)
	f.blobs.docs["system-message.txt"] = "   "

	if _, err := f.assembler.Build(context.Background(), userMessage("hello")); !errors.Is(err, ErrMissingInstructions) {
		t.Fatalf("Build() error = %v, want ErrMissingInstructions", err)
	}
}

func TestBuildUnavailableInstructionsAreFatal(t *testing.T) {
	f := newFixture(t)
	delete(f.blobs.docs, "context-usage.txt")

	if _, err := f.assembler.Build(context.Background(), userMessage("hello")); !errors.Is(err, ErrMissingInstructions) {
		t.Fatalf("Build() error = %v, want ErrMissingInstructions", err)
	}
}
