// Package cache stores downloaded GPX tracks on disk, one file per remote
// activity id. A file's existence is the source of truth for "already
// downloaded": the cache never evicts and entries are never rewritten.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// Cache is a content-addressed store rooted at a directory, with tracks
// under <root>/gpx/<id>.gpx.
type Cache struct {
	root string
}

// New creates a cache rooted at dir. The directory is created lazily on
// first Put.
func New(dir string) *Cache {
	return &Cache{root: dir}
}

// Path returns where the track for an activity lives, whether or not it
// exists yet.
func (c *Cache) Path(activityID int64) string {
	return filepath.Join(c.root, "gpx", fmt.Sprintf("%d.gpx", activityID))
}

// Get returns the cached track path for an activity and whether it exists.
func (c *Cache) Get(activityID int64) (string, bool, error) {
	path := c.Path(activityID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("stat cache entry: %w", err)
	}
	return path, true, nil
}

// Put writes a track atomically: the bytes land in a temp file in the same
// directory and are renamed into place, so a concurrent Get never observes
// a partial file. Concurrent Puts for the same id both succeed; last rename
// wins with identical content.
func (c *Cache) Put(activityID int64, data []byte) (string, error) {
	dir := filepath.Join(c.root, "gpx")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".%d-*.gpx", activityID))
	if err != nil {
		return "", fmt.Errorf("create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close cache entry: %w", err)
	}

	path := c.Path(activityID)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("commit cache entry: %w", err)
	}
	return path, nil
}
