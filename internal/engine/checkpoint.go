package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/catalog"
)

// CheckpointManager saves the progress of a run after every window so an
// interrupted crawl can resume from the last completed bound.
type CheckpointManager struct {
	dir string
}

// Checkpoint is the persisted progress of one catalog URL.
type Checkpoint struct {
	Timestamp    time.Time     `json:"timestamp"`
	URL          string        `json:"url"`
	Category     string        `json:"category"`
	CurrentLower catalog.Price `json:"current_lower"`
	OuterUpper   catalog.Price `json:"outer_upper"`
	Block        int           `json:"block"`
	Inserted     int64         `json:"inserted"`
}

// NewCheckpointManager creates a manager writing under dir.
func NewCheckpointManager(dir string) *CheckpointManager {
	if dir == "" {
		dir = ".wbparser_checkpoints"
	}
	return &CheckpointManager{dir: dir}
}

func (cm *CheckpointManager) path(url string) string {
	sum := sha1.Sum([]byte(url))
	return filepath.Join(cm.dir, hex.EncodeToString(sum[:8])+".json")
}

// Save writes cp atomically, replacing any earlier checkpoint of its URL.
func (cm *CheckpointManager) Save(cp Checkpoint) error {
	if err := os.MkdirAll(cm.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}

	finalPath := cm.path(cp.URL)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cp); err != nil {
		f.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

// Load returns the checkpoint of url. ok is false when there is none.
func (cm *CheckpointManager) Load(url string) (cp Checkpoint, ok bool, err error) {
	f, err := os.Open(cm.path(url))
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.URL != url {
		return Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// Clean removes the checkpoint of url.
func (cm *CheckpointManager) Clean(url string) error {
	if err := os.Remove(cm.path(url)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
