package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
)

// two-decimal rounding applied to every value at load time
const valuePlaces = 2

// Loader reads bucketed CSV source files (name,value,url with a header row)
// into immutable record batches.
//
// Missing or unreadable files yield an empty batch with a logged warning,
// never a fatal error: a partially provisioned catalog directory is a normal
// operating condition. Malformed rows within a file are skipped the same way.
type Loader struct {
	dir         string
	granularity int
	maxBucket   int
}

// NewLoader creates a loader rooted at dir for buckets that are multiples of
// granularity in [granularity, maxBucket].
func NewLoader(dir string, granularity, maxBucket int) *Loader {
	return &Loader{dir: dir, granularity: granularity, maxBucket: maxBucket}
}

// FileName returns the source file name for a bucket: "less_than_200.csv".
func FileName(bucket int) string {
	return fmt.Sprintf("less_than_%d.csv", bucket)
}

// LoadAll loads every bucket file in ascending bucket order.
func (l *Loader) LoadAll() ([]Batch, error) {
	var batches []Batch
	for b := l.granularity; b <= l.maxBucket; b += l.granularity {
		batch, err := l.LoadBucket(b)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// LoadBucket loads a single bucket file. Records get IDs assigned in row
// order so that IDs are stable for unchanged source files.
func (l *Loader) LoadBucket(bucket int) (Batch, error) {
	path := filepath.Join(l.dir, FileName(bucket))

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("bucket file missing", "bucket", bucket, "path", path)
			return Batch{Bucket: bucket}, nil
		}
		slog.Error("bucket file unreadable", "bucket", bucket, "path", path, "error", err)
		return Batch{Bucket: bucket}, nil
	}
	defer f.Close()

	batch, err := l.parse(f, bucket)
	if err != nil {
		return Batch{}, fmt.Errorf("load bucket %d: %w", bucket, err)
	}

	slog.Info("bucket loaded", "bucket", bucket, "records", len(batch.Records))
	return batch, nil
}

// parse reads CSV rows into records, skipping the header and any malformed
// rows. Row-level problems are logged and skipped; only reader-level I/O
// failures are returned.
func (l *Loader) parse(r io.Reader, bucket int) (Batch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // validated per row below

	batch := Batch{Bucket: bucket}
	ordinal := 0
	first := true

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				slog.Warn("skipping malformed row", "bucket", bucket, "line", pe.Line, "error", err)
				continue
			}
			return Batch{}, fmt.Errorf("read csv: %w", err)
		}

		if first {
			first = false // header row
			continue
		}

		rec, ok := l.parseRow(row, bucket, ordinal)
		if !ok {
			continue
		}
		batch.Records = append(batch.Records, rec)
		ordinal++
	}

	return batch, nil
}

func (l *Loader) parseRow(row []string, bucket, ordinal int) (Record, bool) {
	if len(row) < 3 {
		slog.Warn("skipping short row", "bucket", bucket, "fields", len(row))
		return Record{}, false
	}

	value, err := decimal.NewFromString(row[1])
	if err != nil {
		slog.Warn("skipping row with bad value", "bucket", bucket, "value", row[1], "error", err)
		return Record{}, false
	}
	value = value.Round(valuePlaces)

	if value.Sign() <= 0 {
		slog.Warn("skipping non-positive value", "bucket", bucket, "value", value)
		return Record{}, false
	}

	derived := BucketFor(value, l.granularity, l.maxBucket)
	if derived != bucket {
		slog.Warn("skipping row outside bucket range",
			"bucket", bucket, "derived_bucket", derived, "value", value)
		return Record{}, false
	}

	return Record{
		ID:     RecordID(bucket, ordinal),
		Name:   row[0],
		Value:  value,
		URL:    row[2],
		Bucket: bucket,
	}, true
}
