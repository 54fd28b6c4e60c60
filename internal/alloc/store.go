package alloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/iiooiioo888/cs-pay/internal/ledger"
)

// State is a record's allocation state.
type State uint8

const (
	// Unused records are in the pool and eligible for reservation.
	Unused State = iota
	// Reserved records are held by exactly one in-flight transaction.
	Reserved
	// Used records are terminally consumed. Only an administrative reset
	// can bring them back.
	Used
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Reserved:
		return "reserved"
	case Used:
		return "used"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Sentinel errors for reservation outcomes.
var (
	// ErrConflict means the record was not Unused at reservation time.
	// Callers treat this as transient: exclude the record and search on.
	ErrConflict = errors.New("record is not unused")

	// ErrUnknownRecord means the ID is not part of the pool at all.
	ErrUnknownRecord = errors.New("record not registered")
)

// Store is the authoritative allocation state for the whole pool. It is the
// only component allowed to transition records between states; the index and
// caches are views that must revalidate against it.
type Store struct {
	mu     sync.Mutex
	states map[string]State

	clock  *Clock
	ledger *ledger.Store // nil disables persistence (tests, probes)
}

// NewStore creates an allocation store stamping ledger writes with clock.
// A nil ledger keeps everything in memory.
func NewStore(l *ledger.Store, clock *Clock) *Store {
	if clock == nil {
		clock = NewClock()
	}
	return &Store{
		states: make(map[string]State),
		clock:  clock,
		ledger: l,
	}
}

// Clock returns the store's logical clock.
func (s *Store) Clock() *Clock {
	return s.clock
}

// Register adds records to the pool in the Unused state.
// Already-known IDs keep their current state.
func (s *Store) Register(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.states[id]; !ok {
			s.states[id] = Unused
		}
	}
}

// RestoreUsed marks replayed records as terminally Used. Called once at
// startup with the used ledger's IDs, before any request runs.
func (s *Store) RestoreUsed(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.states[id] = Used
	}
}

// Reserve atomically transitions one record Unused -> Reserved.
// Returns ErrConflict if the record is held or consumed by someone else,
// ErrUnknownRecord if the ID was never registered.
func (s *Store) Reserve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return fmt.Errorf("reserve %s: %w", id, ErrUnknownRecord)
	}
	if st != Unused {
		return fmt.Errorf("reserve %s (state %s): %w", id, st, ErrConflict)
	}
	s.states[id] = Reserved
	return nil
}

// Commit transitions a whole candidate set Reserved -> Used in one
// transaction: the used ledger rows are appended atomically first, then the
// in-memory states flip. If the ledger write fails the records stay
// Reserved and the caller is expected to roll back.
//
// IDs are processed in ascending order; combined with Reserve's single
// compare-and-set this precludes deadlock across concurrent candidates.
func (s *Store) Commit(ctx context.Context, txnID string, target decimal.Decimal, ids []string) error {
	sorted := sortedIDs(ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Every record must be held by this transaction before anything is
	// observed as final.
	for _, id := range sorted {
		st, ok := s.states[id]
		if !ok {
			return fmt.Errorf("commit txn %s: %s: %w", txnID, id, ErrUnknownRecord)
		}
		if st != Reserved {
			return fmt.Errorf("commit txn %s: %s (state %s): %w", txnID, id, st, ErrConflict)
		}
	}

	if s.ledger != nil {
		items := make([]ledger.UsedItem, len(sorted))
		for i, id := range sorted {
			items[i] = ledger.UsedItem{RecordID: id, Seq: s.clock.Next()}
		}
		if err := s.ledger.AppendUsed(ctx, txnID, target, items); err != nil {
			return fmt.Errorf("commit txn %s: %w", txnID, err)
		}
	}

	for _, id := range sorted {
		s.states[id] = Used
	}

	slog.Debug("candidate committed", "txn", txnID, "records", len(sorted), "target", target)
	return nil
}

// Rollback returns reserved records to the pool. Records not currently
// Reserved are left untouched, so a partial rollback after a failed
// reservation sweep is safe to call with the full ID list.
//
// Reservations are never persisted, so rollback writes nothing to the
// ledgers: a request that ends in NotFound leaves zero net ledger change.
func (s *Store) Rollback(ids []string) {
	sorted := sortedIDs(ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range sorted {
		if s.states[id] == Reserved {
			s.states[id] = Unused
		}
	}
}

// StateOf reports a record's current state.
func (s *Store) StateOf(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	return st, ok
}

// AllUnused reports whether every given ID is currently Unused. The memory
// cache uses it as a cheap pre-check before attempting revalidation.
func (s *Store) AllUnused(ids []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if s.states[id] != Unused {
			return false
		}
	}
	return true
}

// Counts returns the number of records per state.
func (s *Store) Counts() (unused, reserved, used int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		switch st {
		case Unused:
			unused++
		case Reserved:
			reserved++
		case Used:
			used++
		}
	}
	return
}

func sortedIDs(ids []string) []string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return sorted
}
