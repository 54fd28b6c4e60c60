package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iiooiioo888/cs-pay/internal/catalog"
)

// Reasons recorded on unused ledger rows.
const (
	ReasonRegistered = "registered"
	ReasonAdminReset = "admin_reset"
)

// UsedItem is one record consumed by a committed split, stamped with the
// allocation store's logical sequence.
type UsedItem struct {
	RecordID string
	Seq      int64
}

// UnusedItem is one pool membership event.
type UnusedItem struct {
	RecordID string
	Seq      int64
	Reason   string
}

// RegisterRecords registers catalog records, appending an unused ledger row
// for each record seen for the first time. Re-registering an existing record
// is a no-op (ON CONFLICT DO NOTHING), so reloading the same catalog does
// not grow the ledgers.
//
// seq supplies logical sequence numbers for the membership rows.
func (s *Store) RegisterRecords(ctx context.Context, records []catalog.Record, seq func() int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("register records: begin: %w", err)
	}
	defer tx.Rollback()

	insertRecord, err := tx.PrepareContext(ctx, `
		INSERT INTO records (id, name, value, url, bucket)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("register records: prepare: %w", err)
	}
	defer insertRecord.Close()

	insertUnused, err := tx.PrepareContext(ctx, `
		INSERT INTO unused (seq, record_id, txn_id, reason)
		VALUES (?, ?, '', ?)
	`)
	if err != nil {
		return fmt.Errorf("register records: prepare unused: %w", err)
	}
	defer insertUnused.Close()

	for _, r := range records {
		res, err := insertRecord.ExecContext(ctx, r.ID, r.Name, r.Value.String(), r.URL, r.Bucket)
		if err != nil {
			return fmt.Errorf("register record %s: %w", r.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("register record %s: rows affected: %w", r.ID, err)
		}
		if n == 0 {
			continue // already registered
		}
		if _, err := insertUnused.ExecContext(ctx, seq(), r.ID, ReasonRegistered); err != nil {
			return fmt.Errorf("register record %s: membership row: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("register records: commit: %w", err)
	}
	return nil
}

// AppendUsed appends the used ledger rows for one committed split in a
// single SQL transaction: either every record of the candidate is recorded
// as used or none is.
//
// The UNIQUE(record_id) constraint is the durable form of the exclusivity
// invariant - a second commit of the same record fails here no matter what
// the in-memory state says.
func (s *Store) AppendUsed(ctx context.Context, txnID string, target decimal.Decimal, items []UsedItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append used: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO used (seq, record_id, txn_id, target)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("append used: prepare: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.Seq, it.RecordID, txnID, target.String()); err != nil {
			return fmt.Errorf("append used %s (txn %s): %w", it.RecordID, txnID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append used: commit: %w", err)
	}
	return nil
}

// AppendUnused appends pool membership events, e.g. an administrative reset
// returning records to the pool. Normal rollbacks never reach here:
// reservations are not persisted, so there is nothing to undo durably.
func (s *Store) AppendUnused(ctx context.Context, txnID string, items []UnusedItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append unused: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO unused (seq, record_id, txn_id, reason)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("append unused: prepare: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.Seq, it.RecordID, txnID, it.Reason); err != nil {
			return fmt.Errorf("append unused %s (txn %s): %w", it.RecordID, txnID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append unused: commit: %w", err)
	}
	return nil
}
