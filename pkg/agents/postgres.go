package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const lookupSQL = `
SELECT a.id, a.instructions, a.greeting, a.voice, a.language, a.fallback_phrase, a.closing_phrase
FROM agent_numbers n
JOIN agents a ON a.id = n.agent_id
WHERE n.number = $1`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads agents from the agents and agent_numbers tables.
type PostgresDirectory struct {
	db rowQuerier
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: pool}
}

// Connect opens a pool and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("agents: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("agents: ping: %w", err)
	}
	return pool, nil
}

func (d *PostgresDirectory) Lookup(ctx context.Context, number string) (Snapshot, error) {
	var s Snapshot
	err := d.db.QueryRow(ctx, lookupSQL, NormalizeNumber(number)).Scan(
		&s.AgentID, &s.Instructions, &s.Greeting, &s.Voice, &s.Language, &s.FallbackPhrase, &s.ClosingPhrase,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("agents: lookup %s: %w", number, err)
	}
	return s, nil
}
