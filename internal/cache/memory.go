package cache

import (
	"container/list"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
)

// Candidate is an unconfirmed combination: record IDs plus their sum.
// It carries no record state on purpose - validity is decided at use time
// by the allocation store.
type Candidate struct {
	IDs   []string        `json:"ids"`
	Total decimal.Decimal `json:"total"`
}

// Key maps a target value to its cache key: the target floored to a whole
// number. Near-duplicate targets (388.10, 388.40) share an entry; the reader
// re-checks that a cached sum actually fits its own target.
func Key(target decimal.Decimal) string {
	return target.Floor().String()
}

// Memory is a capacity-bounded LRU cache of unconfirmed candidates.
// Safe for concurrent use.
type Memory struct {
	mu           sync.Mutex
	capacity     int
	combosPerKey int
	entries      map[string]*memEntry
	order        *list.List // front = most recently used
}

type memEntry struct {
	key    string
	combos []Candidate
	elem   *list.Element
}

// NewMemory creates a cache holding at most capacity keys with at most
// combosPerKey candidates per key.
func NewMemory(capacity, combosPerKey int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	if combosPerKey < 1 {
		combosPerKey = 1
	}
	return &Memory{
		capacity:     capacity,
		combosPerKey: combosPerKey,
		entries:      make(map[string]*memEntry),
		order:        list.New(),
	}
}

// Put stores a candidate under key. Duplicate ID sets are ignored; once the
// per-key combo limit is reached new candidates are dropped (the oldest
// combos are the most likely to already be warm in callers). Inserting into
// a full cache evicts the least recently used key.
func (m *Memory) Put(key string, c Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		if len(m.entries) >= m.capacity {
			m.evictOldest()
		}
		e = &memEntry{key: key}
		e.elem = m.order.PushFront(e)
		m.entries[key] = e
	} else {
		m.order.MoveToFront(e.elem)
	}

	if len(e.combos) >= m.combosPerKey {
		return
	}
	for _, existing := range e.combos {
		if slices.Equal(existing.IDs, c.IDs) {
			return
		}
	}

	stored := Candidate{IDs: slices.Clone(c.IDs), Total: c.Total}
	e.combos = append(e.combos, stored)
}

// Get returns a copy of the candidates stored under key, most recently
// added first is NOT guaranteed - callers filter by fitness anyway.
func (m *Memory) Get(key string) []Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	m.order.MoveToFront(e.elem)

	out := make([]Candidate, len(e.combos))
	for i, c := range e.combos {
		out[i] = Candidate{IDs: slices.Clone(c.IDs), Total: c.Total}
	}
	return out
}

// Drop removes one candidate (matched by ID set) under key, typically after
// it failed revalidation. Removing the last candidate removes the key.
func (m *Memory) Drop(key string, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return
	}
	for i, c := range e.combos {
		if slices.Equal(c.IDs, ids) {
			e.combos = slices.Delete(e.combos, i, i+1)
			break
		}
	}
	if len(e.combos) == 0 {
		m.order.Remove(e.elem)
		delete(m.entries, key)
	}
}

// Combos returns the number of candidates stored under key.
func (m *Memory) Combos(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return len(e.combos)
	}
	return 0
}

// Len returns the number of keys currently cached.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Purge empties the cache. Called on catalog reload: every cached ID set
// may reference records that no longer exist.
func (m *Memory) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memEntry)
	m.order.Init()
}

// caller holds m.mu
func (m *Memory) evictOldest() {
	back := m.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*memEntry)
	m.order.Remove(back)
	delete(m.entries, e.key)
}
