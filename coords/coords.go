// Package coords implements the fallback extraction strategy: replaying
// clicks at screen coordinates captured during earlier successful semantic
// sessions.
//
// The cache is a JSON map on disk, one entry per logical control, written
// atomically. Entries carry the text observed at record time; before a
// coordinate is trusted again the live text at the same point is compared,
// and a mismatch invalidates the entry together with every entry of the
// same control kind, since a vendor language change moves all labels at
// once.
package coords

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/capflow/uia"
)

const cacheVersion = 1

// treeItemPrefix marks the logical IDs of measurement tree leaves. Every
// other logical ID is unique in the cache.
const treeItemPrefix = "tree_item:"

// Entry is one cached control position.
type Entry struct {
	Kind      uia.Kind  `json:"kind"`
	LogicalID string    `json:"logical_id"`
	Center    uia.Point `json:"center"`
	Rect      uia.Rect  `json:"rect"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type document struct {
	Version  int              `json:"version"`
	Updated  time.Time        `json:"updated"`
	Controls map[string]Entry `json:"controls"`
}

// Cache holds cached control positions and persists them as JSON.
// It implements the semantic strategy's Recorder, so a successful semantic
// session refreshes the coordinates the fallback will replay.
type Cache struct {
	path string
	log  *slog.Logger

	mu    sync.Mutex
	doc   document
	dirty bool
}

// Open loads the cache at path. A missing file yields an empty cache. A
// corrupt file is discarded with a warning: the cache is rebuilt by the
// next semantic session, losing it only disables the fallback.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		path: path,
		log:  logger,
		doc:  document{Version: cacheVersion, Controls: make(map[string]Entry)},
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("coords: read cache: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("coords: discarding corrupt cache", "path", path, "error", err)
		return c, nil
	}
	if doc.Controls == nil {
		doc.Controls = make(map[string]Entry)
	}
	doc.Version = cacheVersion
	c.doc = doc
	return c, nil
}

func key(kind uia.Kind, logicalID string) string {
	return string(kind) + "_" + logicalID
}

// Record stores or refreshes a control position. Called by the semantic
// strategy for every control it locates.
func (c *Cache) Record(kind uia.Kind, logicalID string, center uia.Point, rect uia.Rect, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc.Controls[key(kind, logicalID)] = Entry{
		Kind:      kind,
		LogicalID: logicalID,
		Center:    center,
		Rect:      rect,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	c.dirty = true
}

// Get returns the entry for a logical ID, whatever kind it was recorded
// under.
func (c *Cache) Get(logicalID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.doc.Controls {
		if e.LogicalID == logicalID {
			return e, true
		}
	}
	return Entry{}, false
}

// TreeItems returns the cached measurement tree leaves ordered top to
// bottom, left to right.
func (c *Cache) TreeItems() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	for _, e := range c.doc.Controls {
		if strings.HasPrefix(e.LogicalID, treeItemPrefix) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Center.Y != out[j].Center.Y {
			return out[i].Center.Y < out[j].Center.Y
		}
		return out[i].Center.X < out[j].Center.X
	})
	return out
}

// TreeItemMean returns the mean center of all cached tree leaves, the
// anchor point for measurement pane scrolling. ok is false when no leaves
// are cached.
func (c *Cache) TreeItemMean() (uia.Point, bool) {
	items := c.TreeItems()
	if len(items) == 0 {
		return uia.Point{}, false
	}
	var sumX, sumY int
	for _, e := range items {
		sumX += e.Center.X
		sumY += e.Center.Y
	}
	return uia.Point{X: sumX / len(items), Y: sumY / len(items)}, true
}

// Invalidate removes the entry and every other entry of the same kind.
// A text mismatch at a cached point means the vendor UI language changed,
// which relabels every control of that class at once. Returns how many
// entries were dropped.
func (c *Cache) Invalidate(logicalID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kind uia.Kind
	found := false
	for _, e := range c.doc.Controls {
		if e.LogicalID == logicalID {
			kind = e.Kind
			found = true
			break
		}
	}
	if !found {
		return 0
	}
	n := 0
	for k, e := range c.doc.Controls {
		if e.Kind == kind {
			delete(c.doc.Controls, k)
			n++
		}
	}
	c.dirty = true
	c.log.Warn("coords: invalidated control class", "logical_id", logicalID, "kind", kind, "dropped", n)
	return n
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.doc.Controls)
}

// Save persists the cache atomically. A clean cache is not rewritten.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	c.doc.Updated = time.Now().UTC()
	data, err := json.MarshalIndent(c.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("coords: marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("coords: create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("coords: write cache: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("coords: write cache: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("coords: sync cache: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("coords: close cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("coords: replace cache: %w", err)
	}
	c.dirty = false
	return nil
}
