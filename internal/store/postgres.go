package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// PostgresBackend keeps every document in trade.documents as jsonb,
// with its index values in a second jsonb column.
type PostgresBackend struct {
	PG     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects a pool to pgURL and applies the pool overrides that are set.
func NewPostgres(ctx context.Context, pgURL string, poolCfg PGPoolConfig, logger *zap.Logger) (*PostgresBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pgURL == "" {
		return nil, fmt.Errorf("postgres url is empty")
	}
	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresBackend{PG: pool, logger: logger}, nil
}

// Migrate creates the documents table if it does not exist.
func (p *PostgresBackend) Migrate(ctx context.Context) error {
	_, err := p.PG.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS trade;
		CREATE TABLE IF NOT EXISTS trade.documents (
			kind       TEXT        NOT NULL,
			id         TEXT        NOT NULL,
			doc        JSONB       NOT NULL,
			idx        JSONB       NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (kind, id)
		);
		CREATE INDEX IF NOT EXISTS documents_idx_gin ON trade.documents USING GIN (idx);
	`)
	if err != nil {
		return fmt.Errorf("migrate trade.documents: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Get(ctx context.Context, kind, id string) ([]byte, error) {
	if p.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	var doc string
	err := p.PG.QueryRow(ctx, `
		SELECT doc::text FROM trade.documents WHERE kind = $1 AND id = $2
	`, kind, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

func (p *PostgresBackend) List(ctx context.Context, kind, field, value string) ([][]byte, error) {
	if p.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := p.PG.Query(ctx, `
		SELECT doc::text
		FROM trade.documents
		WHERE kind = $1 AND ($2 = '' OR idx->>$2 = $3)
		ORDER BY id;
	`, kind, field, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		out = append(out, []byte(doc))
	}
	return out, rows.Err()
}

// Commit upserts every document inside one database transaction.
func (p *PostgresBackend) Commit(ctx context.Context, docs []Document) error {
	if p.PG == nil {
		return fmt.Errorf("postgres unavailable")
	}
	tx, err := p.PG.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, d := range docs {
		idx, err := encodeIndex(d.Index)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO trade.documents (kind, id, doc, idx, updated_at)
			VALUES ($1, $2, $3::jsonb, $4::jsonb, NOW())
			ON CONFLICT (kind, id)
			DO UPDATE SET
				doc = EXCLUDED.doc,
				idx = EXCLUDED.idx,
				updated_at = EXCLUDED.updated_at;
		`, d.Kind, d.ID, string(d.Data), idx)
		if err != nil {
			p.logger.Error("store.pg.upsert_failed",
				zap.String("kind", d.Kind), zap.String("id", d.ID), zap.Error(err))
			return fmt.Errorf("upsert %s %s: %w", d.Kind, d.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *PostgresBackend) HealthCheck(ctx context.Context) error {
	if p.PG == nil {
		return fmt.Errorf("postgres unavailable")
	}
	return p.PG.Ping(ctx)
}

func (p *PostgresBackend) Close() error {
	if p.PG != nil {
		p.PG.Close()
	}
	return nil
}

func encodeIndex(idx map[string]string) (string, error) {
	clean := make(map[string]string, len(idx))
	for k, v := range idx {
		if v != "" {
			clean[k] = v
		}
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("encode index: %w", err)
	}
	return string(b), nil
}
