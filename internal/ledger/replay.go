package ledger

import (
	"context"
	"fmt"
)

// PoolState is the rebuilt allocation view after a restart.
type PoolState struct {
	// UsedIDs are records that must start in the Used state.
	UsedIDs []string

	// LastSeq is the highest sequence either ledger has seen; the
	// allocation clock resumes strictly after it.
	LastSeq int64

	// Registered counts all records in the catalog table.
	Registered int
}

// Replay rebuilds the allocation view from the ledgers. Pool membership is
// derived, never stored: a record is in the pool exactly when it is
// registered and absent from the used ledger.
func (s *Store) Replay(ctx context.Context) (PoolState, error) {
	usedIDs, err := s.UsedIDs(ctx)
	if err != nil {
		return PoolState{}, fmt.Errorf("replay: %w", err)
	}

	lastSeq, err := s.LastSeq(ctx)
	if err != nil {
		return PoolState{}, fmt.Errorf("replay: %w", err)
	}

	var registered int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&registered); err != nil {
		return PoolState{}, fmt.Errorf("replay: count records: %w", err)
	}

	return PoolState{
		UsedIDs:    usedIDs,
		LastSeq:    lastSeq,
		Registered: registered,
	}, nil
}
