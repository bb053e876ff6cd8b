// Package store defines the minimal capability set the ingestion core
// requires of any key-value backend, plus the outcome taxonomy the writer
// branches on. Concrete adapters live in the subpackages.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitolmirror/capitolmirror/internal/domain"
)

// MaxBatchItems is the largest slice BatchPut accepts in one call. Adapters
// whose native batch is smaller must chunk internally.
const MaxBatchItems = 25

var (
	// ErrAuthFailed indicates the store rejected our credentials. Fatal for
	// the run.
	ErrAuthFailed = errors.New("store authentication failed")
	// ErrTableMissing indicates the target table does not exist. Fatal for
	// the run.
	ErrTableMissing = errors.New("store table missing")
)

// Outcome classifies the result of a single item write.
type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeThroughputExceeded Outcome = "throughput_exceeded"
	OutcomeTransient          Outcome = "transient_network"
	OutcomeTimeout            Outcome = "timeout"
	OutcomeConditionalFailed  Outcome = "conditional_check_failed"
	OutcomeValidationRejected Outcome = "validation_rejected_by_store"
	OutcomeAuthFailed         Outcome = "auth_failed"
	OutcomeTableMissing       Outcome = "table_missing"
	OutcomePermanent          Outcome = "permanent"
)

// Retryable reports whether the writer should retry the item with backoff.
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeThroughputExceeded, OutcomeTransient, OutcomeTimeout:
		return true
	}
	return false
}

// ItemPermanent reports whether the single item should be dropped and
// recorded while the run continues.
func (o Outcome) ItemPermanent() bool {
	switch o {
	case OutcomeConditionalFailed, OutcomeValidationRejected, OutcomePermanent:
		return true
	}
	return false
}

// Fatal reports whether the outcome must abort the whole run.
func (o Outcome) Fatal() bool {
	return o == OutcomeAuthFailed || o == OutcomeTableMissing
}

// ItemResult is the per-item outcome of a batch write.
type ItemResult struct {
	ID      string
	Outcome Outcome
	Err     error
}

// PrefixQuery addresses the store's secondary indexes. An empty Index means
// the primary id key. RangeFrom/RangeTo bound the sort attribute when set.
type PrefixQuery struct {
	Index     string
	Hash      string
	RangeFrom string
	RangeTo   string
	Limit     int
}

// Secondary index names the adapters agree on.
const (
	IndexTypeUpdateDate    = "type-update_date"
	IndexCongressType      = "congress-type"
	IndexChamberDate       = "chamber-date"
	IndexVersionUpdateDate = "version-update_date"
)

// Iterator yields query results lazily. Next returns false with a nil error
// when the sequence is exhausted.
type Iterator interface {
	Next(ctx context.Context) (map[string]any, bool, error)
}

// Store is the adapter contract consumed by the batch writer and the read
// surface.
type Store interface {
	// DescribeTable verifies the table exists and credentials work. Returns
	// nil, ErrTableMissing or ErrAuthFailed.
	DescribeTable(ctx context.Context) error
	// PutItem writes one canonical record.
	PutItem(ctx context.Context, rec *domain.Record) ItemResult
	// BatchPut writes up to MaxBatchItems records and reports one result per
	// input, in input order.
	BatchPut(ctx context.Context, recs []*domain.Record) ([]ItemResult, error)
	// QueryPrefix runs a hash+range query against an index.
	QueryPrefix(ctx context.Context, q PrefixQuery) (Iterator, error)
}

// ItemToRecord rebuilds a canonical record from a stored attribute map.
func ItemToRecord(item map[string]any) (*domain.Record, error) {
	rec := &domain.Record{Extras: make(map[string]any)}

	id, _ := item["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("stored item missing id")
	}
	rec.ID = id

	typ, _ := item["type"].(string)
	family, ok := domain.ParseFamily(typ)
	if !ok {
		return nil, fmt.Errorf("stored item %s has unknown type %q", id, typ)
	}
	rec.Type = family

	switch v := item["congress"].(type) {
	case int:
		rec.Congress = v
	case int64:
		rec.Congress = int(v)
	case float64:
		rec.Congress = int(v)
	default:
		return nil, fmt.Errorf("stored item %s has non-numeric congress", id)
	}

	rec.UpdateDate, _ = item["update_date"].(string)
	switch v := item["version"].(type) {
	case int:
		rec.Version = v
	case int64:
		rec.Version = int(v)
	case float64:
		rec.Version = int(v)
	}
	rec.URL, _ = item["url"].(string)

	for k, v := range item {
		switch k {
		case "id", "type", "congress", "update_date", "version", "url":
		default:
			rec.Extras[k] = v
		}
	}
	return rec, nil
}

// SliceIterator adapts an in-memory result set to the Iterator contract.
type SliceIterator struct {
	items []map[string]any
	pos   int
}

// NewSliceIterator wraps items in an Iterator.
func NewSliceIterator(items []map[string]any) *SliceIterator {
	return &SliceIterator{items: items}
}

// Next implements Iterator.
func (it *SliceIterator) Next(ctx context.Context) (map[string]any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.pos >= len(it.items) {
		return nil, false, nil
	}
	item := it.items[it.pos]
	it.pos++
	return item, true, nil
}
