package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Record is a single priced catalog entry.
//
// Identity is immutable. Allocation state is tracked by the allocation
// store, keyed by ID; the record itself never carries state.
type Record struct {
	// ID is unique across the catalog and stable across reloads of the
	// same source files: "<bucket>-<ordinal>", both zero-padded so that
	// lexicographic order equals load order. The engine's tie-break rule
	// (smallest ID wins among equal values) depends on this.
	ID string

	Name  string
	Value decimal.Decimal
	URL   string

	// Bucket is the partition key: the smallest multiple of the bucket
	// granularity strictly greater than Value.
	Bucket int
}

// Batch is the ordered set of records loaded from one bucket file.
type Batch struct {
	Bucket  int
	Records []Record
}

// RecordID builds the canonical record ID for a bucket and load ordinal.
// Zero-padding keeps lexicographic order aligned with (bucket, ordinal).
func RecordID(bucket, ordinal int) string {
	return fmt.Sprintf("%03d-%05d", bucket, ordinal)
}

// BucketFor returns the bucket a value belongs to: the smallest multiple of
// granularity strictly greater than v, capped at maxBucket. A value of 97
// with granularity 10 lands in bucket 100 (the less_than_100 file); an exact
// 100 lands in 110.
func BucketFor(v decimal.Decimal, granularity, maxBucket int) int {
	g := decimal.NewFromInt(int64(granularity))
	b := (int(v.Div(g).Floor().IntPart()) + 1) * granularity
	if b > maxBucket {
		b = maxBucket
	}
	if b < granularity {
		b = granularity
	}
	return b
}

// Fingerprint computes a stable SHA-256 over the full record set. The file
// cache tags its snapshots with this value so a catalog reload invalidates
// every snapshot built from the previous load.
func Fingerprint(records []Record) string {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, r := range sorted {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\n", r.ID, r.Name, r.Value.String(), r.URL, r.Bucket)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Flatten concatenates batches into a single record slice in bucket order.
func Flatten(batches []Batch) []Record {
	sorted := make([]Batch, len(batches))
	copy(sorted, batches)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bucket < sorted[j].Bucket })

	var out []Record
	for _, b := range sorted {
		out = append(out, b.Records...)
	}
	return out
}
