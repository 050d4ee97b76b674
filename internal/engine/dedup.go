package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aleksandr071218/wb-parser/internal/catalog"
	"github.com/Aleksandr071218/wb-parser/internal/observability"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// InsertStatus is the outcome of DedupSink.InsertIfNew.
type InsertStatus int

const (
	StatusInserted InsertStatus = iota
	StatusAlreadyExists
	StatusSkipped
	StatusError
)

func (s InsertStatus) String() string {
	switch s {
	case StatusInserted:
		return "inserted"
	case StatusAlreadyExists:
		return "already_exists"
	case StatusSkipped:
		return "skipped"
	default:
		return "error"
	}
}

// SkipNoKey is the skip reason for records without an article.
const SkipNoKey = "no-key"

// InsertResult reports what happened to one record.
type InsertResult struct {
	Status InsertStatus
	Reason string
	Err    error
}

// DedupSink persists each article at most once. Articles seen during the
// run are remembered in a bounded set so repeated sightings skip the
// storage round trip; the durable existence check stays authoritative.
type DedupSink struct {
	store   ProductStore
	seen    *lru.Cache[string, struct{}]
	policy  Policy
	now     func() time.Time
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewDedupSink creates a sink over store. seenSize bounds the in-run set.
func NewDedupSink(store ProductStore, seenSize int, policy Policy, metrics *observability.Metrics, logger *slog.Logger) (*DedupSink, error) {
	if seenSize < 1 {
		seenSize = 1
	}
	seen, err := lru.New[string, struct{}](seenSize)
	if err != nil {
		return nil, err
	}
	return &DedupSink{
		store:   store,
		seen:    seen,
		policy:  policy,
		now:     time.Now,
		metrics: metrics,
		logger:  logger.With("component", "dedup_sink"),
	}, nil
}

// InsertIfNew stores rec unless its article is already known. It never
// returns an error: storage failures are reported in the result and the
// record is dropped.
func (s *DedupSink) InsertIfNew(ctx context.Context, rec types.ItemRecord) InsertResult {
	res := s.insert(ctx, rec)
	s.metrics.IncItem(res.Status.String())
	return res
}

func (s *DedupSink) insert(ctx context.Context, rec types.ItemRecord) InsertResult {
	if !rec.Identifiable() {
		s.logger.Warn("item without article skipped", "link", rec.Link, "category", rec.Category)
		return InsertResult{Status: StatusSkipped, Reason: SkipNoKey, Err: types.ErrUnidentifiable}
	}

	if s.seen.Contains(rec.Article) {
		return InsertResult{Status: StatusAlreadyExists}
	}

	exists, err := Retry(ctx, s.policy, func(ctx context.Context) (bool, error) {
		return s.store.ExistsByKey(ctx, rec.Article)
	})
	if err != nil {
		// A possible duplicate row is preferred over losing the item.
		s.logger.Warn("existence check failed, inserting anyway", "article", rec.Article, "error", err)
	} else if exists {
		s.seen.Add(rec.Article, struct{}{})
		return InsertResult{Status: StatusAlreadyExists}
	}

	row := BuildRow(rec, s.now())
	err = Do(ctx, s.policy, func(ctx context.Context) error {
		return s.store.InsertRow(ctx, row)
	})
	switch {
	case err == nil:
		s.seen.Add(rec.Article, struct{}{})
		s.logger.Debug("item inserted", "article", rec.Article)
		return InsertResult{Status: StatusInserted}
	case errors.Is(err, types.ErrDuplicate):
		s.seen.Add(rec.Article, struct{}{})
		return InsertResult{Status: StatusAlreadyExists}
	default:
		s.logger.Error("item dropped, insert failed", "article", rec.Article, "link", rec.Link, "error", err)
		return InsertResult{Status: StatusError, Err: err}
	}
}

// BuildRow derives the durable row of a record, including its category
// hierarchy.
func BuildRow(rec types.ItemRecord, parsedAt time.Time) types.ProductRow {
	cat := catalog.ParseCategory(rec.Category)
	return types.ProductRow{
		Article:     rec.Article,
		ProductURL:  rec.Link,
		CategoryRaw: cat.Raw,
		Category:    cat.Primary,
		CategoryL1:  cat.Levels[0],
		CategoryL2:  cat.Levels[1],
		CategoryL3:  cat.Levels[2],
		CategoryL4:  cat.Levels[3],
		ParsedAt:    parsedAt.UTC(),
	}
}
