package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/aiy-labs/aiy/internal/logging"
)

// deleteBatchSize matches the backing store's batch mutation cap.
const deleteBatchSize = 25

// WindowStore keeps the bounded, ordered in-memory view of the most recent
// turns for one partition, backed by a durable TurnStore. Eviction trims the
// in-memory window only; the durable log keeps full history for replay.
type WindowStore struct {
	store      TurnStore
	partition  string
	windowSize int
	turns      []Turn
	lastSeq    int64
	logger     *slog.Logger
}

func NewWindowStore(store TurnStore, partition string, windowSize int) *WindowStore {
	return &WindowStore{
		store:      store,
		partition:  partition,
		windowSize: windowSize,
		logger:     logging.NewModuleLogger("memory", "window"),
	}
}

func (w *WindowStore) Partition() string { return w.partition }

// Preload loads the newest windowSize turns from durable storage and exposes
// them in chronological order. A load failure leaves the current in-memory
// state untouched; cold start is not fatal.
func (w *WindowStore) Preload(ctx context.Context) {
	recent, err := w.store.Query(ctx, w.partition, w.windowSize, true)
	if err != nil {
		w.logger.Warn("window preload failed, keeping in-memory state",
			"partition", w.partition,
			"error", err,
		)
		return
	}

	turns := make([]Turn, len(recent))
	for i, t := range recent {
		turns[len(recent)-1-i] = t
	}
	w.turns = turns
	if n := len(turns); n > 0 {
		w.lastSeq = turns[n-1].Timestamp
	}
}

// Append writes the turn durably first and only then admits it to the
// in-memory window. A durable-write failure leaves the window unchanged.
func (w *WindowStore) Append(ctx context.Context, role, content string) (Turn, error) {
	turn := Turn{
		Partition: w.partition,
		Role:      role,
		Content:   content,
		Timestamp: w.nextTimestamp(),
	}

	if err := w.store.Put(ctx, turn); err != nil {
		return Turn{}, &PersistenceError{Op: "append", Err: err}
	}

	w.turns = append(w.turns, turn)
	w.lastSeq = turn.Timestamp
	if len(w.turns) > w.windowSize {
		w.turns = w.turns[1:]
	}
	return turn, nil
}

// Window returns the current in-memory turns in chronological order.
func (w *WindowStore) Window() []Turn {
	out := make([]Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

// Clear deletes every durable turn for the partition in store-sized batches
// and then resets the in-memory window. A failed batch surfaces as a
// PersistenceError; batches already deleted stay deleted.
func (w *WindowStore) Clear(ctx context.Context) error {
	all, err := w.store.Query(ctx, w.partition, 0, false)
	if err != nil {
		return &PersistenceError{Op: "clear-query", Err: err}
	}

	for start := 0; start < len(all); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(all) {
			end = len(all)
		}
		timestamps := make([]int64, 0, end-start)
		for _, t := range all[start:end] {
			timestamps = append(timestamps, t.Timestamp)
		}
		if err := w.store.DeleteBatch(ctx, w.partition, timestamps); err != nil {
			return &PersistenceError{Op: "clear-delete", Err: err}
		}
	}

	w.turns = nil
	w.lastSeq = 0
	return nil
}

// nextTimestamp stamps wall-clock milliseconds, bumped when two appends land
// in the same millisecond so ordering within the partition never regresses.
func (w *WindowStore) nextTimestamp() int64 {
	ts := time.Now().UnixMilli()
	if ts <= w.lastSeq {
		ts = w.lastSeq + 1
	}
	return ts
}
