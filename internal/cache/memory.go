package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/fingerprint"
)

// Memory is an in-process LRU cache layer: plain least-recently-used
// eviction keyed by fingerprint hash, bounded by total bytes and a per-item
// size ceiling.
type Memory struct {
	maxBytes    int64
	maxItemSize int64

	mu    sync.Mutex
	ll    *list.List // front = most recently used
	items map[uint64]*list.Element
	bytes int64

	hits, misses, sets, evictions atomic.Uint64
}

type memEntry struct {
	key   uint64
	entry *Entry
}

// NewMemory builds a Memory layer bounded by maxBytes total and rejecting any
// single entry larger than maxItemSize.
func NewMemory(maxBytes, maxItemSize int64) *Memory {
	return &Memory{
		maxBytes:    maxBytes,
		maxItemSize: maxItemSize,
		ll:          list.New(),
		items:       make(map[uint64]*list.Element),
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(_ context.Context, fp fingerprint.Fingerprint) (*Entry, bool, error) {
	key := fp.Hash()

	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		m.misses.Add(1)
		return nil, false, nil
	}

	me := el.Value.(*memEntry)
	if me.entry.Expired(time.Now()) {
		m.removeLocked(el)
		m.misses.Add(1)
		return nil, false, nil
	}

	me.entry.LastAccessedAt = time.Now()
	m.ll.MoveToFront(el)
	m.hits.Add(1)
	return me.entry, true, nil
}

func (m *Memory) GetSendfile(_ context.Context, _ fingerprint.Fingerprint) (string, int64, bool, error) {
	return "", 0, false, nil
}

func (m *Memory) Set(_ context.Context, fp fingerprint.Fingerprint, entry *Entry) error {
	if int64(len(entry.Data)) > m.maxItemSize {
		return nil
	}
	key := fp.Hash()

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.removeLocked(el)
	}

	me := &memEntry{key: key, entry: entry}
	el := m.ll.PushFront(me)
	m.items[key] = el
	m.bytes += int64(len(entry.Data))
	m.sets.Add(1)

	for m.bytes > m.maxBytes && m.ll.Len() > 0 {
		back := m.ll.Back()
		m.removeLocked(back)
		m.evictions.Add(1)
	}

	return nil
}

func (m *Memory) removeLocked(el *list.Element) {
	me := el.Value.(*memEntry)
	m.ll.Remove(el)
	delete(m.items, me.key)
	m.bytes -= int64(len(me.entry.Data))
}

func (m *Memory) Delete(_ context.Context, fp fingerprint.Fingerprint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[fp.Hash()]
	if !ok {
		return false, nil
	}
	m.removeLocked(el)
	return true, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ll.Init()
	m.items = make(map[uint64]*list.Element)
	m.bytes = 0
	return nil
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	items := int64(m.ll.Len())
	bytes := m.bytes
	m.mu.Unlock()

	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Sets:      m.sets.Load(),
		Evictions: m.evictions.Load(),
		Items:     items,
		Bytes:     bytes,
	}
}
