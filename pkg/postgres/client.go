// Package postgres wraps a lib/pq connection pool and records per-document
// indexing status.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
)

// Document status values written by the indexer.
const (
	StatusPending = "PENDING"
	StatusIndexed = "INDEXED"
	StatusFailed  = "FAILED"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	id          BIGINT PRIMARY KEY,
	shard_id    INTEGER NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	indexed_at  TIMESTAMPTZ
)`

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// EnsureSchema creates the documents table when it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, createDocumentsTable); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

// MarkPending records that docID was accepted for indexing on shardID. A
// re-submitted document goes back to pending.
func (c *Client) MarkPending(ctx context.Context, docID uint32, shardID int) error {
	_, err := c.DB.ExecContext(ctx,
		`INSERT INTO documents (id, shard_id, status) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET shard_id = EXCLUDED.shard_id, status = EXCLUDED.status, indexed_at = NULL`,
		int64(docID), shardID, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("marking document %d pending: %w", docID, err)
	}
	return nil
}

// DocumentStatus returns the recorded status of docID, or sql.ErrNoRows
// wrapped when it is unknown.
func (c *Client) DocumentStatus(ctx context.Context, docID uint32) (status string, shardID int, err error) {
	err = c.DB.QueryRowContext(ctx,
		`SELECT status, shard_id FROM documents WHERE id = $1`, int64(docID),
	).Scan(&status, &shardID)
	if err != nil {
		return "", 0, fmt.Errorf("reading status of document %d: %w", docID, err)
	}
	return status, shardID, nil
}

// UpdateDocumentStatus records the outcome of indexing docID and the shard
// that holds it.
func (c *Client) UpdateDocumentStatus(ctx context.Context, docID uint32, shardID int, status string) error {
	_, err := c.DB.ExecContext(ctx,
		`UPDATE documents SET status = $1, shard_id = $2, indexed_at = NOW() WHERE id = $3`,
		status, shardID, int64(docID),
	)
	if err != nil {
		return fmt.Errorf("updating status of document %d: %w", docID, err)
	}
	return nil
}
