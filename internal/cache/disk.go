package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yatagarasu/yatagarasu/internal/fingerprint"
)

// indexEntry is the on-disk index record for one cached object.
type indexEntry struct {
	Path           string    `json:"path"`
	Size           int64     `json:"size"`
	ContentType    string    `json:"content_type"`
	ETag           string    `json:"etag"`
	LastModified   string    `json:"last_modified"`
	Encoding       string    `json:"encoding"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Disk is a content-addressed on-disk cache layer. Writes go through a
// write-temp-then-rename sequence so a crash never leaves a partially
// written entry visible via the index.
type Disk struct {
	root        string
	maxBytes    int64
	maxItemSize int64
	sendfileMin int64

	mu    sync.RWMutex
	index map[string]indexEntry
	bytes int64

	hits, misses, sets, evictions atomic.Uint64
}

// NewDisk opens (or creates) a disk cache rooted at root, reconciling the
// persisted index with the entries/ directory: files the index doesn't
// reference, and index entries whose file is missing or size-mismatched,
// are dropped.
func NewDisk(root string, maxBytes, maxItemSize, sendfileMin int64) (*Disk, error) {
	d := &Disk{root: root, maxBytes: maxBytes, maxItemSize: maxItemSize, sendfileMin: sendfileMin, index: make(map[string]indexEntry)}

	if err := os.MkdirAll(d.entriesDir(), 0o755); err != nil {
		return nil, err
	}

	if err := d.loadIndex(); err != nil {
		return nil, err
	}
	d.reconcile()

	return d, nil
}

func (d *Disk) Name() string { return "disk" }

func (d *Disk) entriesDir() string { return filepath.Join(d.root, "entries") }
func (d *Disk) indexPath() string  { return filepath.Join(d.root, "index.json") }

func (d *Disk) loadIndex() error {
	raw, err := os.ReadFile(d.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var onDisk map[string]indexEntry
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		// A corrupt index is treated as empty rather than fatal; the
		// reconciliation pass below will rebuild correctness from whatever
		// entry files still exist on disk.
		return nil
	}

	d.index = onDisk
	return nil
}

func (d *Disk) reconcile() {
	entries, err := os.ReadDir(d.entriesDir())
	if err != nil {
		return
	}

	referenced := make(map[string]bool, len(d.index))
	for key, ie := range d.index {
		if info, statErr := os.Stat(ie.Path); statErr != nil || info.Size() != ie.Size {
			delete(d.index, key)
			continue
		}
		referenced[ie.Path] = true
		d.bytes += ie.Size
	}

	for _, e := range entries {
		full := filepath.Join(d.entriesDir(), e.Name())
		if !referenced[full] {
			_ = os.Remove(full)
		}
	}

	_ = d.persistIndex()
}

func (d *Disk) persistIndex() error {
	raw, err := json.Marshal(d.index)
	if err != nil {
		return err
	}

	tmp := d.indexPath() + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.indexPath())
}

func (d *Disk) Get(_ context.Context, fp fingerprint.Fingerprint) (*Entry, bool, error) {
	key := fp.HashHex()

	d.mu.RLock()
	ie, ok := d.index[key]
	d.mu.RUnlock()
	if !ok {
		d.misses.Add(1)
		return nil, false, nil
	}

	if !ie.ExpiresAt.IsZero() && time.Now().After(ie.ExpiresAt) {
		_, _ = d.Delete(context.Background(), fp)
		d.misses.Add(1)
		return nil, false, nil
	}

	data, err := os.ReadFile(ie.Path)
	if err != nil {
		d.misses.Add(1)
		return nil, false, nil
	}

	d.mu.Lock()
	ie.LastAccessedAt = time.Now()
	d.index[key] = ie
	d.mu.Unlock()

	d.hits.Add(1)
	return &Entry{
		Data:           data,
		ContentType:    ie.ContentType,
		ContentLength:  ie.Size,
		ETag:           ie.ETag,
		LastModified:   ie.LastModified,
		Encoding:       ie.Encoding,
		CreatedAt:      ie.CreatedAt,
		ExpiresAt:      ie.ExpiresAt,
		LastAccessedAt: ie.LastAccessedAt,
	}, true, nil
}

// GetSendfile returns a path eligible for the kernel sendfile fast path: the
// file's size must match its metadata size exactly and its TTL must still be
// live.
func (d *Disk) GetSendfile(_ context.Context, fp fingerprint.Fingerprint) (string, int64, bool, error) {
	key := fp.HashHex()

	d.mu.RLock()
	ie, ok := d.index[key]
	d.mu.RUnlock()
	if !ok || ie.Size < d.sendfileMin {
		return "", 0, false, nil
	}
	if !ie.ExpiresAt.IsZero() && time.Now().After(ie.ExpiresAt) {
		return "", 0, false, nil
	}

	info, err := os.Stat(ie.Path)
	if err != nil || info.Size() != ie.Size {
		return "", 0, false, nil
	}
	return ie.Path, ie.Size, true, nil
}

func (d *Disk) Set(_ context.Context, fp fingerprint.Fingerprint, entry *Entry) error {
	if int64(len(entry.Data)) > d.maxItemSize {
		return nil
	}

	key := fp.HashHex()
	finalPath := filepath.Join(d.entriesDir(), key+".data")
	tmpPath := finalPath + ".tmp-" + uuid.NewString()

	if err := os.WriteFile(tmpPath, entry.Data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	d.mu.Lock()
	if old, ok := d.index[key]; ok {
		d.bytes -= old.Size
	}
	d.index[key] = indexEntry{
		Path:           finalPath,
		Size:           int64(len(entry.Data)),
		ContentType:    entry.ContentType,
		ETag:           entry.ETag,
		LastModified:   entry.LastModified,
		Encoding:       entry.Encoding,
		CreatedAt:      entry.CreatedAt,
		ExpiresAt:      entry.ExpiresAt,
		LastAccessedAt: time.Now(),
	}
	d.bytes += int64(len(entry.Data))
	d.sets.Add(1)
	d.mu.Unlock()

	d.evictIfOverBudget()
	return d.persistIndex()
}

func (d *Disk) evictIfOverBudget() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.bytes > d.maxBytes {
		var oldestKey string
		var oldestTime time.Time
		found := false
		for k, ie := range d.index {
			if !found || ie.LastAccessedAt.Before(oldestTime) {
				oldestKey, oldestTime, found = k, ie.LastAccessedAt, true
			}
		}
		if !found {
			break
		}
		ie := d.index[oldestKey]
		_ = os.Remove(ie.Path)
		d.bytes -= ie.Size
		delete(d.index, oldestKey)
		d.evictions.Add(1)
	}
}

func (d *Disk) Delete(_ context.Context, fp fingerprint.Fingerprint) (bool, error) {
	key := fp.HashHex()

	d.mu.Lock()
	ie, ok := d.index[key]
	if ok {
		delete(d.index, key)
		d.bytes -= ie.Size
	}
	d.mu.Unlock()

	if !ok {
		return false, nil
	}
	_ = os.Remove(ie.Path)
	return true, d.persistIndex()
}

func (d *Disk) Clear(_ context.Context) error {
	d.mu.Lock()
	for _, ie := range d.index {
		_ = os.Remove(ie.Path)
	}
	d.index = make(map[string]indexEntry)
	d.bytes = 0
	d.mu.Unlock()
	return d.persistIndex()
}

func (d *Disk) Stats() Stats {
	d.mu.RLock()
	items := int64(len(d.index))
	bytes := d.bytes
	d.mu.RUnlock()

	return Stats{
		Hits:      d.hits.Load(),
		Misses:    d.misses.Load(),
		Sets:      d.sets.Load(),
		Evictions: d.evictions.Load(),
		Items:     items,
		Bytes:     bytes,
	}
}
