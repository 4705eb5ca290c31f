package metastore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists metadata records in a PostgreSQL table for
// deployments that need the map to survive restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS condition_metadata (
    condition_id BIGINT PRIMARY KEY,
    metadata JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Get(ctx context.Context, id uint64) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT condition_id, metadata, created_at
FROM condition_metadata
WHERE condition_id = $1
`, int64(id))

	var rec Record
	var storedID int64
	if err := row.Scan(&storedID, &rec.Metadata, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.ConditionID = uint64(storedID)
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO condition_metadata (condition_id, metadata, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (condition_id) DO UPDATE
SET metadata = EXCLUDED.metadata,
    created_at = EXCLUDED.created_at
`, int64(record.ConditionID), record.Metadata, record.CreatedAt)
	return err
}
