package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// SQLiteStore writes product rows to a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	table  string
	count  atomic.Int64
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path, table string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS ` + table + ` (
		article      TEXT PRIMARY KEY,
		product_url  TEXT NOT NULL,
		category_raw TEXT NOT NULL,
		category     TEXT NOT NULL,
		category_l1  TEXT NOT NULL,
		category_l2  TEXT NOT NULL,
		category_l3  TEXT NOT NULL,
		category_l4  TEXT NOT NULL,
		parsed_at    TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite create table: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		table:  table,
		logger: logger.With("component", "sqlite_store"),
	}
	s.logger.Info("sqlite store ready", "path", path, "table", table)
	return s, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) ExistsByKey(ctx context.Context, article string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+s.table+` WHERE article = ?`, article).Scan(&n)
	if err != nil {
		return false, storageErr("sqlite", "select", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertRow(ctx context.Context, row types.ProductRow) error {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO `+s.table+`
		(article, product_url, category_raw, category, category_l1, category_l2, category_l3, category_l4, parsed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Article, row.ProductURL, row.CategoryRaw, row.Category,
		row.CategoryL1, row.CategoryL2, row.CategoryL3, row.CategoryL4,
		row.ParsedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return storageErr("sqlite", "insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("sqlite", "insert", err)
	}
	if n == 0 {
		return duplicateErr("sqlite", row.Article)
	}
	s.count.Add(1)
	return nil
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("sqlite store closing", "inserted", s.count.Load())
	return s.db.Close()
}
