package storage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// MultiStore writes rows to a primary store and copies every accepted row
// to secondary stores. Only the primary decides existence and duplicates;
// secondary failures are logged.
type MultiStore struct {
	primary     Store
	secondaries []Store
	logger      *slog.Logger
}

// NewMultiStore creates a store that fans out to secondaries.
func NewMultiStore(primary Store, secondaries []Store, logger *slog.Logger) *MultiStore {
	return &MultiStore{
		primary:     primary,
		secondaries: secondaries,
		logger:      logger.With("component", "multi_store"),
	}
}

func (s *MultiStore) Name() string { return "multi:" + s.primary.Name() }

func (s *MultiStore) ExistsByKey(ctx context.Context, article string) (bool, error) {
	return s.primary.ExistsByKey(ctx, article)
}

func (s *MultiStore) InsertRow(ctx context.Context, row types.ProductRow) error {
	if err := s.primary.InsertRow(ctx, row); err != nil {
		return err
	}
	for _, backend := range s.secondaries {
		err := backend.InsertRow(ctx, row)
		if err != nil && !errors.Is(err, types.ErrDuplicate) {
			s.logger.Error("secondary insert failed", "backend", backend.Name(), "article", row.Article, "error", err)
		}
	}
	return nil
}

func (s *MultiStore) Close() error {
	var errs []error
	for _, backend := range append([]Store{s.primary}, s.secondaries...) {
		if err := backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
