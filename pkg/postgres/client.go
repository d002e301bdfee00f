// Package postgres reads token-set records from and writes join pairs to
// PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/config"
)

type Client struct {
	DB *sql.DB
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
	return &Client{DB: db}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// InTx runs fn in a transaction, committing on nil and rolling back
// otherwise.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// QueryRecords runs query, which must return (id bigint, tokens int[]) rows,
// and hands each row to fn in result order.
func (c *Client) QueryRecords(ctx context.Context, query string, fn func(id int64, tokens []int64) error) error {
	rows, err := c.DB.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var tokens []int64
		if err := rows.Scan(&id, pq.Array(&tokens)); err != nil {
			return fmt.Errorf("scanning record row: %w", err)
		}
		if err := fn(id, tokens); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating record rows: %w", err)
	}
	return nil
}

// PairRow is one joined pair as stored in the output table.
type PairRow struct {
	ProbeID    int64
	IndexedID  int64
	Similarity float64
}

// PairColumns are the output table columns, in CopyPairs order.
var PairColumns = []string{"probe_id", "indexed_id", "similarity"}

// CopyPairs bulk-loads rows into table with COPY inside one transaction, so
// a batch lands completely or not at all.
func (c *Client) CopyPairs(ctx context.Context, table string, rows []PairRow) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, PairColumns...))
		if err != nil {
			return fmt.Errorf("preparing copy into %s: %w", table, err)
		}
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.ProbeID, r.IndexedID, r.Similarity); err != nil {
				stmt.Close()
				return fmt.Errorf("copying pair (%d, %d): %w", r.ProbeID, r.IndexedID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flushing copy into %s: %w", table, err)
		}
		return stmt.Close()
	})
}

// IsPermanent reports whether err is a server error that the same statement
// would hit again: data exceptions (class 22), integrity violations (23) and
// syntax or access rule errors (42), such as a missing table.
func IsPermanent(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "22", "23", "42":
		return true
	}
	return false
}

// CreatePairTableSQL is the DDL for a CopyPairs target.
func CreatePairTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	probe_id   BIGINT NOT NULL,
	indexed_id BIGINT NOT NULL,
	similarity DOUBLE PRECISION NOT NULL
)`, pq.QuoteIdentifier(table))
}

// EnsurePairTable creates the output table if it is missing.
func (c *Client) EnsurePairTable(ctx context.Context, table string) error {
	if _, err := c.DB.ExecContext(ctx, CreatePairTableSQL(table)); err != nil {
		return fmt.Errorf("creating table %s: %w", table, err)
	}
	return nil
}
