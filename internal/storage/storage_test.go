package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func row(article string) types.ProductRow {
	return types.ProductRow{
		Article:     article,
		ProductURL:  "https://www.wildberries.ru/catalog/" + article + "/detail.aspx",
		CategoryRaw: "zhenshchinam/odezhda/platya",
		Category:    "zhenshchinam_odezhda_platya",
		CategoryL1:  "zhenshchinam",
		CategoryL2:  "odezhda",
		CategoryL3:  "platya",
		ParsedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// exerciseStore checks the contract every backend shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	ok, err := s.ExistsByKey(ctx, "100")
	if err != nil || ok {
		t.Fatalf("empty store: exists=%v err=%v", ok, err)
	}
	if err := s.InsertRow(ctx, row("100")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ok, err = s.ExistsByKey(ctx, "100")
	if err != nil || !ok {
		t.Fatalf("after insert: exists=%v err=%v", ok, err)
	}

	err = s.InsertRow(ctx, row("100"))
	if !errors.Is(err, types.ErrDuplicate) {
		t.Fatalf("second insert should be a duplicate, got %v", err)
	}
	var se *types.StorageError
	if !errors.As(err, &se) || se.Backend == "" {
		t.Errorf("duplicate should be a StorageError, got %T", err)
	}

	if err := s.InsertRow(ctx, row("101")); err != nil {
		t.Fatalf("insert other: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	if s.Len() != 2 {
		t.Errorf("expected 2 rows, got %d", s.Len())
	}
	if s.Name() != "memory" {
		t.Errorf("name %q", s.Name())
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "products.db")
	s, err := NewSQLiteStore(path, "products", testLogger)
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Rows survive a reopen.
	s, err = NewSQLiteStore(path, "products", testLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ok, err := s.ExistsByKey(context.Background(), "101")
	if err != nil || !ok {
		t.Errorf("reopened store lost a row: exists=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreRejectsBadTable(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"), "products; DROP", testLogger)
	if err == nil {
		t.Fatal("expected an error for an unsafe table name")
	}
}

func TestJSONLStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "products.jsonl")
	s, err := NewJSONLStore(path, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewJSONLStore(path, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertRow(context.Background(), row("100")); !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("article from an earlier run should be a duplicate, got %v", err)
	}
	if err := s.InsertRow(context.Background(), row("102")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 3 {
		t.Errorf("expected 3 lines, got %d", lines)
	}
}

func TestCSVStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.csv")
	s, err := NewCSVStore(path, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)
	s.Close()

	// Reopening must not repeat the header.
	s, err = NewCSVStore(path, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertRow(context.Background(), row("102")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected header and 3 rows, got %d records", len(recs))
	}
	if recs[0][0] != "article" || recs[1][0] != "100" || recs[3][0] != "102" {
		t.Errorf("unexpected records: %v", recs)
	}
	if recs[1][8] != "2024-05-01T12:00:00Z" {
		t.Errorf("parsed_at = %q", recs[1][8])
	}
}

type failingStore struct {
	*MemoryStore
	closed bool
}

func (f *failingStore) InsertRow(context.Context, types.ProductRow) error {
	return errors.New("disk full")
}

func (f *failingStore) Close() error {
	f.closed = true
	return errors.New("close failed")
}

func TestMultiStore(t *testing.T) {
	primary := NewMemoryStore()
	mirror := NewMemoryStore()
	broken := &failingStore{MemoryStore: NewMemoryStore()}
	m := NewMultiStore(primary, []Store{mirror, broken}, testLogger)
	ctx := context.Background()

	if err := m.InsertRow(ctx, row("1")); err != nil {
		t.Fatalf("secondary failure should not fail the insert: %v", err)
	}
	if primary.Len() != 1 || mirror.Len() != 1 {
		t.Errorf("primary=%d mirror=%d", primary.Len(), mirror.Len())
	}
	if err := m.InsertRow(ctx, row("1")); !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("primary duplicate should surface, got %v", err)
	}

	// Only the primary answers existence.
	mirror.InsertRow(ctx, row("2"))
	if ok, _ := m.ExistsByKey(ctx, "2"); ok {
		t.Error("existence should come from the primary")
	}

	if err := m.Close(); err == nil {
		t.Error("expected close error from the broken store")
	}
	if !broken.closed {
		t.Error("every backend should be closed")
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		want    string
		wantErr bool
	}{
		{"memory", config.StorageConfig{Backend: "memory"}, "memory", false},
		{"jsonl", config.StorageConfig{Backend: "jsonl", Path: filepath.Join(dir, "a.jsonl")}, "jsonl", false},
		{"sqlite", config.StorageConfig{Backend: "sqlite", Path: filepath.Join(dir, "a.db"), Table: "products"}, "sqlite", false},
		{"with export", config.StorageConfig{Backend: "memory", ExportPath: filepath.Join(dir, "copy.csv")}, "multi:memory", false},
		{"bad export", config.StorageConfig{Backend: "memory", ExportPath: filepath.Join(dir, "copy.xml")}, "", true},
		{"unknown", config.StorageConfig{Backend: "redis"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(context.Background(), tt.cfg, testLogger)
			if tt.wantErr {
				if err == nil {
					s.Close()
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer s.Close()
			if s.Name() != tt.want {
				t.Errorf("name = %q, want %q", s.Name(), tt.want)
			}
		})
	}
}

func TestCheckIdent(t *testing.T) {
	for _, name := range []string{"products", "_p1", "WB_items"} {
		if err := checkIdent(name); err != nil {
			t.Errorf("%q rejected: %v", name, err)
		}
	}
	for _, name := range []string{"", "1abc", "a-b", "p;drop", "a b"} {
		if err := checkIdent(name); err == nil {
			t.Errorf("%q accepted", name)
		}
	}
}
