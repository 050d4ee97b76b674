package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"

	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// Store is the interface for all product stores. Rows are keyed by
// article; inserting a known article fails with an error wrapping
// types.ErrDuplicate.
type Store interface {
	// ExistsByKey reports whether a row with the article is stored.
	ExistsByKey(ctx context.Context, article string) (bool, error)

	// InsertRow persists one row.
	InsertRow(ctx context.Context, row types.ProductRow) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// checkIdent guards table names that are spliced into SQL.
func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

func storageErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &types.StorageError{Backend: backend, Op: op, Err: err}
}

func duplicateErr(backend, article string) error {
	return &types.StorageError{Backend: backend, Op: "insert", Err: fmt.Errorf("article %s: %w", article, types.ErrDuplicate)}
}

// Open creates the configured backend, wrapped with an export copy when
// storage.export_path is set.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	primary, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.ExportPath == "" {
		return primary, nil
	}

	export, err := NewFileStore(cfg.ExportPath, logger)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("open export %s: %w", cfg.ExportPath, err)
	}
	return NewMultiStore(primary, []Store{export}, logger), nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "mongodb":
		return NewMongoStore(ctx, cfg.URI, cfg.Database, cfg.Table, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.URI, cfg.Table, cfg.MaxConns, logger)
	case "sqlite":
		return NewSQLiteStore(cfg.Path, cfg.Table, logger)
	case "jsonl":
		return NewJSONLStore(cfg.Path, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// NewFileStore creates a file store by extension: .csv or .jsonl.
func NewFileStore(path string, logger *slog.Logger) (Store, error) {
	switch filepath.Ext(path) {
	case ".jsonl":
		return NewJSONLStore(path, logger)
	case ".csv":
		return NewCSVStore(path, logger)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
}
