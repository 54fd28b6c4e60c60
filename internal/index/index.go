package index

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/iiooiioo888/cs-pay/internal/catalog"
)

// Entry is one indexed record: just enough to search and reserve by.
type Entry struct {
	ID    string          `json:"id"`
	Value decimal.Decimal `json:"value"`
}

type slotState uint8

const (
	slotLive slotState = iota
	slotSuspended
	slotDead
)

type slot struct {
	Entry
	state slotState
}

// compaction thresholds: rewrite a bucket's slice once dead entries
// outnumber live ones and the bucket is big enough to matter
const (
	compactMinLen   = 32
	compactDeadFrac = 2
)

type bucketView struct {
	entries []slot         // ascending by (Value, ID)
	pos     map[string]int // ID -> index into entries
	dead    int
}

// Index holds the per-bucket sorted views.
//
// All methods are safe for concurrent use. Mutations (suspend/resume/drop)
// are in-place flag flips under the write lock; lookups take the read lock.
type Index struct {
	mu          sync.RWMutex
	granularity int
	maxBucket   int
	buckets     map[int]*bucketView
}

// New creates an empty index for buckets that are multiples of granularity
// in [granularity, maxBucket].
func New(granularity, maxBucket int) *Index {
	return &Index{
		granularity: granularity,
		maxBucket:   maxBucket,
		buckets:     make(map[int]*bucketView),
	}
}

// Build replaces the entire index content from a record set. Called on
// catalog load/reload, never on individual commits.
func (ix *Index) Build(records []catalog.Record) {
	grouped := make(map[int][]Entry)
	for _, r := range records {
		grouped[r.Bucket] = append(grouped[r.Bucket], Entry{ID: r.ID, Value: r.Value})
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.buckets = make(map[int]*bucketView, len(grouped))
	for b, entries := range grouped {
		sortEntries(entries)
		ix.buckets[b] = newBucketView(entries)
	}
}

// InstallSorted installs a presorted entry list for one bucket, typically
// from a file-cache snapshot. The caller vouches for the (value, ID) order.
func (ix *Index) InstallSorted(bucket int, entries []Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.buckets[bucket] = newBucketView(entries)
}

func newBucketView(entries []Entry) *bucketView {
	bv := &bucketView{
		entries: make([]slot, len(entries)),
		pos:     make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		bv.entries[i] = slot{Entry: e}
		bv.pos[e.ID] = i
	}
	return bv
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		c := entries[i].Value.Cmp(entries[j].Value)
		if c != 0 {
			return c < 0
		}
		return entries[i].ID < entries[j].ID
	})
}

// Largest returns the live entry with the greatest value not exceeding
// budget in the given bucket. Among entries sharing that value the one with
// the lexicographically smallest ID wins, which keeps the search
// deterministic. Entries for which skip returns true are ignored.
func (ix *Index) Largest(bucket int, budget decimal.Decimal, skip func(id string) bool) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	bv, ok := ix.buckets[bucket]
	if !ok {
		return Entry{}, false
	}
	return bv.largest(budget, skip)
}

func (bv *bucketView) largest(budget decimal.Decimal, skip func(id string) bool) (Entry, bool) {
	// First index whose value exceeds the budget; everything usable is
	// strictly to the left of it.
	hi := sort.Search(len(bv.entries), func(i int) bool {
		return bv.entries[i].Value.GreaterThan(budget)
	})

	for i := hi - 1; i >= 0; {
		v := bv.entries[i].Value

		// Walk to the start of the run of equal values, then scan the run
		// forward so the smallest usable ID wins the tie-break.
		j := i
		for j > 0 && bv.entries[j-1].Value.Equal(v) {
			j--
		}
		for k := j; k <= i; k++ {
			s := &bv.entries[k]
			if s.state != slotLive {
				continue
			}
			if skip != nil && skip(s.ID) {
				continue
			}
			return s.Entry, true
		}
		i = j - 1
	}
	return Entry{}, false
}

// SmallestAvailable returns the smallest live value across all buckets.
// The engine uses it as the stop condition: once the remaining budget falls
// below it, no further item can fit.
func (ix *Index) SmallestAvailable(skip func(id string) bool) (decimal.Decimal, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for b := ix.granularity; b <= ix.maxBucket; b += ix.granularity {
		bv, ok := ix.buckets[b]
		if !ok {
			continue
		}
		for i := range bv.entries {
			s := &bv.entries[i]
			if s.state != slotLive {
				continue
			}
			if skip != nil && skip(s.ID) {
				continue
			}
			return s.Value, true
		}
	}
	return decimal.Decimal{}, false
}

// Suspend hides a reserved entry from lookups. Reversible via Resume.
func (ix *Index) Suspend(bucket int, id string) {
	ix.setState(bucket, id, slotSuspended)
}

// Resume makes a suspended entry visible again after a rollback.
func (ix *Index) Resume(bucket int, id string) {
	ix.setState(bucket, id, slotLive)
}

// Drop removes a committed entry for good. The slot is tombstoned in place;
// compaction reclaims it later so no re-sort is ever needed.
func (ix *Index) Drop(bucket int, id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	bv, ok := ix.buckets[bucket]
	if !ok {
		return
	}
	i, ok := bv.pos[id]
	if !ok || bv.entries[i].state == slotDead {
		return
	}
	bv.entries[i].state = slotDead
	bv.dead++

	if len(bv.entries) >= compactMinLen && bv.dead*compactDeadFrac >= len(bv.entries) {
		bv.compact()
	}
}

func (ix *Index) setState(bucket int, id string, st slotState) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	bv, ok := ix.buckets[bucket]
	if !ok {
		return
	}
	if i, ok := bv.pos[id]; ok && bv.entries[i].state != slotDead {
		bv.entries[i].state = st
	}
}

// compact rewrites the bucket slice without dead slots. Order is preserved,
// so no re-sort. Caller holds the write lock.
func (bv *bucketView) compact() {
	kept := bv.entries[:0]
	for _, s := range bv.entries {
		if s.state != slotDead {
			kept = append(kept, s)
		}
	}
	bv.entries = kept
	bv.pos = make(map[string]int, len(kept))
	for i, s := range kept {
		bv.pos[s.ID] = i
	}
	bv.dead = 0
}

// BucketOrder returns the buckets to explore for a given remaining budget,
// most promising first: the bucket whose value range brackets the budget,
// then progressively smaller buckets. offset shifts the starting bucket down
// by whole buckets; controller retries use it to vary the exploration order
// between attempts.
func (ix *Index) BucketOrder(budget decimal.Decimal, offset int) []int {
	start := catalog.BucketFor(budget, ix.granularity, ix.maxBucket)
	start -= offset * ix.granularity
	if start > ix.maxBucket {
		start = ix.maxBucket
	}

	var order []int
	for b := start; b >= ix.granularity; b -= ix.granularity {
		order = append(order, b)
	}
	return order
}

// Snapshot exports a bucket's sorted entries (excluding tombstones) for the
// file cache. Suspended entries are included: reservations are transient and
// the allocation store re-drops used records on replay anyway.
func (ix *Index) Snapshot(bucket int) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	bv, ok := ix.buckets[bucket]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, len(bv.entries)-bv.dead)
	for _, s := range bv.entries {
		if s.state != slotDead {
			out = append(out, s.Entry)
		}
	}
	return out
}

// Buckets lists the bucket keys currently present, ascending.
func (ix *Index) Buckets() []int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	keys := make([]int, 0, len(ix.buckets))
	for b := range ix.buckets {
		keys = append(keys, b)
	}
	sort.Ints(keys)
	return keys
}

// Live reports whether an entry is currently visible to lookups.
// Intended for tests and diagnostics.
func (ix *Index) Live(bucket int, id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	bv, ok := ix.buckets[bucket]
	if !ok {
		return false
	}
	i, ok := bv.pos[id]
	return ok && bv.entries[i].state == slotLive
}
