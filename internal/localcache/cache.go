// Package localcache mirrors the active conversation to a small JSON file
// so a restarted session redraws instantly and stays usable when the
// authoritative store is unreachable. Single writer, no conflict
// resolution: a successful remote load replaces the cache wholesale.
package localcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calmind-app/calmind/internal/storage"
)

const cacheFileName = "cache.json"

// Snapshot is the persisted blob. Missing keys decode to zero values, so
// older cache files keep working (a missing email simply means the session
// starts back at identity entry).
type Snapshot struct {
	Email         string            `json:"email,omitempty"`
	CompanionName string            `json:"companion_name,omitempty"`
	History       []storage.Message `json:"history,omitempty"`
}

type cachedMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type cacheFile struct {
	Email         string          `json:"email,omitempty"`
	CompanionName string          `json:"companion_name,omitempty"`
	History       []cachedMessage `json:"history,omitempty"`
}

// Cache reads and writes the snapshot file under dataDir.
type Cache struct {
	path string
}

// New creates a Cache rooted at dataDir. The directory is created lazily
// on first Save.
func New(dataDir string) *Cache {
	return &Cache{path: filepath.Join(dataDir, cacheFileName)}
}

// Load reads the snapshot. A missing file is not an error: it returns a
// zero Snapshot, the same as a first visit.
func (c *Cache) Load() (Snapshot, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("reading cache file: %w", err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Snapshot{}, fmt.Errorf("parsing cache file: %w", err)
	}

	snap := Snapshot{Email: f.Email, CompanionName: f.CompanionName}
	for _, m := range f.History {
		snap.History = append(snap.History, storage.Message{
			ID:        m.ID,
			Owner:     f.Email,
			Sender:    storage.Sender(m.Sender),
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
		})
	}
	return snap, nil
}

// Save writes the snapshot, replacing whatever was there.
func (c *Cache) Save(snap Snapshot) error {
	f := cacheFile{Email: snap.Email, CompanionName: snap.CompanionName}
	for _, m := range snap.History {
		f.History = append(f.History, cachedMessage{
			ID:        m.ID,
			Sender:    string(m.Sender),
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
		})
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a torn file.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Clear removes the snapshot file. Clearing an absent cache is fine.
func (c *Cache) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache file: %w", err)
	}
	return nil
}
