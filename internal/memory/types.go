package memory

import (
	"context"
	"fmt"
)

// Turn is one immutable role-tagged message in a conversation partition.
// Timestamp is epoch milliseconds and is the ordering key within a partition.
type Turn struct {
	Partition string `json:"partition"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// PartitionKey builds the composite scope identifier for a conversation
// owner and segment.
func PartitionKey(userID, segmentID string) string {
	return userID + "#" + segmentID
}

// TurnStore is the durable backing capability for conversation turns.
type TurnStore interface {
	// Query returns up to limit turns for the partition; limit <= 0 means
	// all. Results are ordered by timestamp, newest first when
	// mostRecentFirst is set.
	Query(ctx context.Context, partition string, limit int, mostRecentFirst bool) ([]Turn, error)
	Put(ctx context.Context, turn Turn) error
	// DeleteBatch removes the turns identified by timestamp. Callers keep
	// batches small; the backing store may cap batch mutation size.
	DeleteBatch(ctx context.Context, partition string, timestamps []int64) error
	Close() error
}

// PersistenceError reports a durable-store failure. It is non-fatal to the
// in-flight request's user-visible outcome but must remain observable to
// operators.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
