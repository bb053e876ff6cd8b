// Package memory is an in-process store adapter used by tests and the
// offline smoke path. Failures can be scripted per item id to exercise the
// writer's outcome handling.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/store"
)

// Store implements store.Store with a mutex-guarded map.
type Store struct {
	mu       sync.Mutex
	items    map[string]map[string]any
	puts     int
	batches  int
	script   map[string][]store.Outcome // per-id outcome queue, consumed FIFO
	describe error
}

// New builds an empty in-memory store.
func New() *Store {
	return &Store{
		items:  make(map[string]map[string]any),
		script: make(map[string][]store.Outcome),
	}
}

// FailDescribe makes DescribeTable return err.
func (s *Store) FailDescribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.describe = err
}

// ScriptOutcome queues outcomes for an id; each write of that id consumes
// one. An empty queue means the write succeeds.
func (s *Store) ScriptOutcome(id string, outcomes ...store.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[id] = append(s.script[id], outcomes...)
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Get returns a stored item by id.
func (s *Store) Get(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok
}

// IDs returns all stored ids, sorted.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Batches returns how many BatchPut calls were issued.
func (s *Store) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// DescribeTable implements store.Store.
func (s *Store) DescribeTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.describe
}

func (s *Store) nextOutcome(id string) store.Outcome {
	queue := s.script[id]
	if len(queue) == 0 {
		return store.OutcomeOK
	}
	out := queue[0]
	s.script[id] = queue[1:]
	return out
}

func (s *Store) putLocked(rec *domain.Record) store.ItemResult {
	s.puts++
	out := s.nextOutcome(rec.ID)
	if out != store.OutcomeOK {
		return store.ItemResult{ID: rec.ID, Outcome: out, Err: fmt.Errorf("scripted %s", out)}
	}
	s.items[rec.ID] = rec.Item()
	return store.ItemResult{ID: rec.ID, Outcome: store.OutcomeOK}
}

// PutItem implements store.Store.
func (s *Store) PutItem(ctx context.Context, rec *domain.Record) store.ItemResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(rec)
}

// BatchPut implements store.Store.
func (s *Store) BatchPut(ctx context.Context, recs []*domain.Record) ([]store.ItemResult, error) {
	if len(recs) > store.MaxBatchItems {
		// The contract caps a single call; chunking is the adapter's job and
		// this fake mirrors the real adapters' internal chunking.
		var all []store.ItemResult
		for start := 0; start < len(recs); start += store.MaxBatchItems {
			end := start + store.MaxBatchItems
			if end > len(recs) {
				end = len(recs)
			}
			results, err := s.BatchPut(ctx, recs[start:end])
			all = append(all, results...)
			if err != nil {
				return all, err
			}
		}
		return all, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++

	results := make([]store.ItemResult, 0, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, s.putLocked(rec))
	}
	return results, nil
}

// QueryPrefix implements store.Store with linear filtering; fine for tests.
func (s *Store) QueryPrefix(ctx context.Context, q store.PrefixQuery) (store.Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashAttr, rangeAttr, err := indexAttrs(q.Index)
	if err != nil {
		return nil, err
	}

	var matched []map[string]any
	for _, id := range s.idsLocked() {
		item := s.items[id]
		if !attrEquals(item[hashAttr], q.Hash) {
			continue
		}
		if rangeAttr != "" && (q.RangeFrom != "" || q.RangeTo != "") {
			rv, _ := item[rangeAttr].(string)
			if q.RangeFrom != "" && rv < q.RangeFrom {
				continue
			}
			if q.RangeTo != "" && rv > q.RangeTo {
				continue
			}
		}
		matched = append(matched, item)
		if q.Limit > 0 && len(matched) >= q.Limit {
			break
		}
	}
	return store.NewSliceIterator(matched), nil
}

func (s *Store) idsLocked() []string {
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func indexAttrs(index string) (hash, rng string, err error) {
	switch index {
	case "":
		return "id", "", nil
	case store.IndexTypeUpdateDate:
		return "type", "update_date", nil
	case store.IndexCongressType:
		return "congress", "type", nil
	case store.IndexChamberDate:
		return "chamber", "date", nil
	case store.IndexVersionUpdateDate:
		return "version", "update_date", nil
	default:
		return "", "", fmt.Errorf("unknown index %q", index)
	}
}

func attrEquals(v any, hash string) bool {
	switch t := v.(type) {
	case string:
		return t == hash
	case int:
		n, err := strconv.Atoi(hash)
		return err == nil && t == n
	case int64:
		n, err := strconv.Atoi(hash)
		return err == nil && t == int64(n)
	case float64:
		n, err := strconv.Atoi(hash)
		return err == nil && t == float64(n)
	default:
		return false
	}
}
