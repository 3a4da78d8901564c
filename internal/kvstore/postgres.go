package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"webcall/pkg/utils"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS webcall_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores keys in a single table. Keys are namespaced by prefix.
type Postgres struct {
	db     *sql.DB
	prefix string
}

// NewPostgres creates the table if needed. db is typically opened with the
// "pgx" driver through utils.OpenPostgres.
func NewPostgres(ctx context.Context, db *sql.DB, prefix string) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("kvstore: db is nil")
	}
	err := utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, kvSchema)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: migrate: %w", err)
	}
	return &Postgres{db: db, prefix: prefix}, nil
}

func (p *Postgres) key(k string) string {
	if p.prefix == "" {
		return k
	}
	return p.prefix + ":" + k
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	const q = `SELECT value FROM webcall_kv WHERE key = $1`
	var v string
	if err := p.db.QueryRowContext(ctx, q, p.key(key)).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	const q = `
INSERT INTO webcall_kv (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`
	_, err := p.db.ExecContext(ctx, q, p.key(key), value)
	return err
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM webcall_kv WHERE key = $1`, p.key(key))
	return err
}
