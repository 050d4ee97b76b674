package storage

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/types"
)

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return f, nil
}

// --- JSONL Storage ---

// JSONLStore appends rows as newline-delimited JSON. Articles already in
// the file are loaded at open so reruns keep the file unique.
type JSONLStore struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	seen   map[string]struct{}
	count  int
	logger *slog.Logger
}

// NewJSONLStore opens path for appending, creating it if needed.
func NewJSONLStore(path string, logger *slog.Logger) (*JSONLStore, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}

	s := &JSONLStore{
		path:   path,
		file:   f,
		enc:    json.NewEncoder(f),
		seen:   make(map[string]struct{}),
		logger: logger.With("component", "jsonl_store"),
	}
	if err := s.load(); err != nil {
		f.Close()
		return nil, err
	}
	s.logger.Debug("jsonl store ready", "path", path, "existing", len(s.seen))
	return s, nil
}

func (s *JSONLStore) load() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", s.path, err)
	}
	sc := bufio.NewScanner(s.file)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var row struct {
			Article string `json:"article"`
		}
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			s.logger.Warn("skipping malformed line", "path", s.path, "line", line, "error", err)
			continue
		}
		if row.Article != "" {
			s.seen[row.Article] = struct{}{}
		}
	}
	return sc.Err()
}

func (s *JSONLStore) Name() string { return "jsonl" }

func (s *JSONLStore) ExistsByKey(_ context.Context, article string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[article]
	return ok, nil
}

func (s *JSONLStore) InsertRow(_ context.Context, row types.ProductRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[row.Article]; ok {
		return duplicateErr("jsonl", row.Article)
	}
	if err := s.enc.Encode(row); err != nil {
		return storageErr("jsonl", "insert", fmt.Errorf("encode JSONL: %w", err))
	}
	s.seen[row.Article] = struct{}{}
	s.count++
	return nil
}

func (s *JSONLStore) Close() error {
	s.logger.Info("JSONL written", "path", s.path, "rows", s.count)
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// --- CSV Storage ---

var csvHeader = []string{
	"article", "product_url", "category_raw", "category",
	"category_l1", "category_l2", "category_l3", "category_l4", "parsed_at",
}

// CSVStore appends rows to a CSV file with a fixed header.
type CSVStore struct {
	path   string
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
	seen   map[string]struct{}
	count  int
	logger *slog.Logger
}

// NewCSVStore opens path for appending. The header is written once, when
// the file is empty.
func NewCSVStore(path string, logger *slog.Logger) (*CSVStore, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}

	s := &CSVStore{
		path:   path,
		file:   f,
		writer: csv.NewWriter(f),
		seen:   make(map[string]struct{}),
		logger: logger.With("component", "csv_store"),
	}
	if err := s.load(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *CSVStore) load() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", s.path, err)
	}
	r := csv.NewReader(s.file)
	r.FieldsPerRecord = -1

	header := true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", s.path, err)
		}
		if header {
			header = false
			continue
		}
		if len(rec) > 0 && rec[0] != "" {
			s.seen[rec[0]] = struct{}{}
		}
	}

	if header {
		if err := s.writer.Write(csvHeader); err != nil {
			return fmt.Errorf("write CSV header: %w", err)
		}
		s.writer.Flush()
		return s.writer.Error()
	}
	return nil
}

func (s *CSVStore) Name() string { return "csv" }

func (s *CSVStore) ExistsByKey(_ context.Context, article string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[article]
	return ok, nil
}

func (s *CSVStore) InsertRow(_ context.Context, row types.ProductRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[row.Article]; ok {
		return duplicateErr("csv", row.Article)
	}
	rec := []string{
		row.Article, row.ProductURL, row.CategoryRaw, row.Category,
		row.CategoryL1, row.CategoryL2, row.CategoryL3, row.CategoryL4,
		row.ParsedAt.UTC().Format(time.RFC3339),
	}
	if err := s.writer.Write(rec); err != nil {
		return storageErr("csv", "insert", fmt.Errorf("write CSV row: %w", err))
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return storageErr("csv", "insert", err)
	}
	s.seen[row.Article] = struct{}{}
	s.count++
	return nil
}

func (s *CSVStore) Close() error {
	s.logger.Info("CSV written", "path", s.path, "rows", s.count)
	if s.writer != nil {
		s.writer.Flush()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
