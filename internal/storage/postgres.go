package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// PostgresStore writes product rows to a PostgreSQL table keyed by article.
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	count  atomic.Int64
	logger *slog.Logger
}

// NewPostgresStore opens a pool against dsn and creates the table when it
// does not exist.
func NewPostgresStore(ctx context.Context, dsn, table string, maxConns int, logger *slog.Logger) (*PostgresStore, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		article      TEXT PRIMARY KEY,
		product_url  TEXT NOT NULL,
		category_raw TEXT NOT NULL,
		category     TEXT NOT NULL,
		category_l1  TEXT NOT NULL,
		category_l2  TEXT NOT NULL,
		category_l3  TEXT NOT NULL,
		category_l4  TEXT NOT NULL,
		parsed_at    TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres create table: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		table:  table,
		logger: logger.With("component", "postgres_store"),
	}
	s.logger.Info("postgres store ready", "table", table, "max_conns", maxConns)
	return s, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) ExistsByKey(ctx context.Context, article string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+s.table+` WHERE article = $1`, article).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, storageErr("postgres", "select", err)
	}
}

func (s *PostgresStore) InsertRow(ctx context.Context, row types.ProductRow) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO `+s.table+`
		(article, product_url, category_raw, category, category_l1, category_l2, category_l3, category_l4, parsed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (article) DO NOTHING`,
		row.Article, row.ProductURL, row.CategoryRaw, row.Category,
		row.CategoryL1, row.CategoryL2, row.CategoryL3, row.CategoryL4, row.ParsedAt,
	)
	if err != nil {
		return storageErr("postgres", "insert", err)
	}
	if tag.RowsAffected() == 0 {
		return duplicateErr("postgres", row.Article)
	}
	s.count.Add(1)
	return nil
}

func (s *PostgresStore) Close() error {
	s.logger.Info("postgres store closing", "inserted", s.count.Load())
	s.pool.Close()
	return nil
}
