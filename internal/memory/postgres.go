package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTurnStore persists conversation turns in PostgreSQL.
type PostgresTurnStore struct {
	pool *pgxpool.Pool
}

func NewPostgresTurnStore(ctx context.Context, databaseURL string) (*PostgresTurnStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresTurnStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			partition_key TEXT NOT NULL,
			ts BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY (partition_key, ts)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_partition_ts
			ON conversation_turns (partition_key, ts);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresTurnStore) Query(ctx context.Context, partition string, limit int, mostRecentFirst bool) ([]Turn, error) {
	order := "ASC"
	if mostRecentFirst {
		order = "DESC"
	}
	query := fmt.Sprintf(
		`SELECT partition_key, ts, role, content
		 FROM conversation_turns
		 WHERE partition_key = $1
		 ORDER BY ts %s`, order)

	args := []any{partition}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Partition, &t.Timestamp, &t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	return out, nil
}

func (s *PostgresTurnStore) Put(ctx context.Context, turn Turn) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (partition_key, ts, role, content)
		 VALUES ($1, $2, $3, $4)`,
		turn.Partition,
		turn.Timestamp,
		turn.Role,
		turn.Content,
	)
	if err != nil {
		return fmt.Errorf("put turn: %w", err)
	}
	return nil
}

func (s *PostgresTurnStore) DeleteBatch(ctx context.Context, partition string, timestamps []int64) error {
	if len(timestamps) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_turns WHERE partition_key = $1 AND ts = ANY($2)`,
		partition,
		timestamps,
	)
	if err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}

func (s *PostgresTurnStore) Close() error {
	s.pool.Close()
	return nil
}
