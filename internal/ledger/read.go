package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iiooiioo888/cs-pay/internal/catalog"
)

// UsedRow is one used ledger entry as stored.
type UsedRow struct {
	Seq      int64
	RecordID string
	TxnID    string
	Target   decimal.Decimal
}

// BucketStats summarizes pool membership for one bucket.
type BucketStats struct {
	Bucket    int `json:"bucket"`
	Total     int `json:"total"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// Records returns every registered record, ordered by ID.
func (s *Store) Records(ctx context.Context) ([]catalog.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, value, url, bucket
		FROM records
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []catalog.Record
	for rows.Next() {
		var r catalog.Record
		var value string
		if err := rows.Scan(&r.ID, &r.Name, &value, &r.URL, &r.Bucket); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Value, err = decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("record %s: bad stored value %q: %w", r.ID, value, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// UsedIDs returns the IDs of all records ever committed, in deterministic
// order (seq ASC, record_id ASC).
func (s *Store) UsedIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id
		FROM used
		ORDER BY seq ASC, record_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query used ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan used id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate used ids: %w", err)
	}
	return ids, nil
}

// UsedByTxn returns the used ledger rows for one transaction, for audit.
func (s *Store) UsedByTxn(ctx context.Context, txnID string) ([]UsedRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, record_id, txn_id, target
		FROM used
		WHERE txn_id = ?
		ORDER BY seq ASC, record_id COLLATE BINARY ASC
	`, txnID)
	if err != nil {
		return nil, fmt.Errorf("query used by txn: %w", err)
	}
	defer rows.Close()

	return scanUsedRows(rows)
}

func scanUsedRows(rows *sql.Rows) ([]UsedRow, error) {
	var out []UsedRow
	for rows.Next() {
		var r UsedRow
		var target string
		if err := rows.Scan(&r.Seq, &r.RecordID, &r.TxnID, &target); err != nil {
			return nil, fmt.Errorf("scan used row: %w", err)
		}
		var err error
		r.Target, err = decimal.NewFromString(target)
		if err != nil {
			return nil, fmt.Errorf("used row %s: bad stored target %q: %w", r.RecordID, target, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate used rows: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest logical sequence across both ledgers, so the
// allocation clock can resume past it after a restart.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(m) FROM (
			SELECT MAX(seq) AS m FROM used
			UNION ALL
			SELECT MAX(seq) AS m FROM unused
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// Stats returns per-bucket pool membership, ascending by bucket.
func (s *Store) Stats(ctx context.Context) ([]BucketStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.bucket,
		       COUNT(*),
		       COUNT(u.record_id)
		FROM records r
		LEFT JOIN used u ON u.record_id = r.id
		GROUP BY r.bucket
		ORDER BY r.bucket ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []BucketStats
	for rows.Next() {
		var st BucketStats
		if err := rows.Scan(&st.Bucket, &st.Total, &st.Used); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.Remaining = st.Total - st.Used
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return out, nil
}
