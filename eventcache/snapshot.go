package eventcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
)

const snapshotVersion = "1"

var (
	ErrClosed          = errors.New("eventcache: cache is closed")
	ErrSnapshotVersion = errors.New("eventcache: unsupported snapshot version")
)

// snapshotHeader is the first JSON document of a snapshot stream.
type snapshotHeader struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Entries   int       `json:"entries"`
}

// SnapshotEntry is one live item as written to a snapshot.
type SnapshotEntry[V any] struct {
	Key      string    `json:"key"`
	Value    V         `json:"value"`
	ExpireAt time.Time `json:"expire_at"`
	Cost     int       `json:"cost"`
}

// SaveSnapshot writes every live item to w as a zstd compressed stream of
// JSON documents, a header followed by the entries in storage key order.
// Items that already expired but were not collected yet are skipped.
func (c *Cache[V]) SaveSnapshot(w io.Writer) (int, error) {
	if c == nil || c.isClosed.Load() {
		return 0, ErrClosed
	}

	now := time.Now()
	entries := make([]SnapshotEntry[V], 0, c.evictionPolicy.Size())
	c.evictionPolicy.ForEach(func(item *Item[V]) bool {
		if item.ExpireAt.After(now) {
			entries = append(entries, SnapshotEntry[V]{
				Key:      item.Name,
				Value:    item.Value,
				ExpireAt: item.ExpireAt,
				Cost:     item.Cost,
			})
		}
		return true
	})

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("failed to create snapshot encoder: %w", err)
	}

	enc := json.NewEncoder(zw)
	header := snapshotHeader{Version: snapshotVersion, Timestamp: now, Entries: len(entries)}
	if err := enc.Encode(header); err != nil {
		zw.Close()
		return 0, fmt.Errorf("failed to encode snapshot header: %w", err)
	}
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			zw.Close()
			return 0, fmt.Errorf("failed to encode snapshot entry %q: %w", e.Key, err)
		}
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush snapshot: %w", err)
	}
	return len(entries), nil
}

// LoadSnapshot queues every entry of the snapshot in r that has not expired
// yet, keeping its original expiry, and waits until they are applied. It
// returns the number of entries queued. Entries still go through the cost
// bound, so a smaller MaxCost may evict some of them right away.
func (c *Cache[V]) LoadSnapshot(r io.Reader) (int, error) {
	if c == nil || c.isClosed.Load() {
		return 0, ErrClosed
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to create snapshot decoder: %w", err)
	}
	defer zr.Close()

	dec := json.NewDecoder(zr)

	var header snapshotHeader
	if err := dec.Decode(&header); err != nil {
		return 0, fmt.Errorf("failed to decode snapshot header: %w", err)
	}
	if header.Version != snapshotVersion {
		return 0, fmt.Errorf("%w: %q", ErrSnapshotVersion, header.Version)
	}

	now := time.Now()
	loaded := 0
	for i := 0; i < header.Entries; i++ {
		var e SnapshotEntry[V]
		if err := dec.Decode(&e); err != nil {
			c.Wait()
			return loaded, fmt.Errorf("failed to decode snapshot entry %d: %w", i, err)
		}

		if !e.ExpireAt.After(now) || e.Cost <= 0 {
			continue
		}

		ok := c.enqueue(&Item[V]{
			Key:      keyID(e.Key),
			Name:     e.Key,
			Value:    e.Value,
			Cost:     e.Cost,
			ExpireAt: e.ExpireAt,
			Action:   ActionPut,
		})
		if !ok {
			return loaded, ErrClosed
		}
		loaded++
	}

	c.Wait()
	return loaded, nil
}

// SaveSnapshotFile writes the snapshot to a temporary file next to path and
// renames it into place once it is synced.
func (c *Cache[V]) SaveSnapshotFile(path string) (int, error) {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create snapshot file: %w", err)
	}

	n, err := c.SaveSnapshot(file)
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return n, nil
}

// LoadSnapshotFile loads the snapshot stored at path. A missing file is
// reported with an error wrapping fs.ErrNotExist.
func (c *Cache[V]) LoadSnapshotFile(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	return c.LoadSnapshot(file)
}
