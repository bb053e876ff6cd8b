// Package postgres adapts the store contract onto a Postgres table. The
// canonical record's index attributes live in dedicated columns; everything
// else rides in a JSONB attrs column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/store"
)

// Schema is the DDL the adapter expects. Kept here so operators can apply
// it with their migration tool of choice.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    congress    INTEGER NOT NULL,
    update_date TEXT NOT NULL,
    version     INTEGER NOT NULL,
    chamber     TEXT,
    date        TEXT,
    url         TEXT,
    attrs       JSONB NOT NULL DEFAULT '{}',
    stored_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS records_type_update_date ON records (type, update_date);
CREATE INDEX IF NOT EXISTS records_congress_type ON records (congress, type);
CREATE INDEX IF NOT EXISTS records_chamber_date ON records (chamber, date);
CREATE INDEX IF NOT EXISTS records_version_update_date ON records (version, update_date);
`

// Store implements store.Store over Postgres.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New connects with the given DSN.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection, for tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, timeout: 30 * time.Second}
}

// DescribeTable implements store.Store.
func (s *Store) DescribeTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var one int
	err := s.db.GetContext(ctx, &one, "SELECT 1 FROM records LIMIT 1")
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	switch classify(err) {
	case store.OutcomeTableMissing:
		return store.ErrTableMissing
	case store.OutcomeAuthFailed:
		return store.ErrAuthFailed
	default:
		return fmt.Errorf("describe records table: %w", err)
	}
}

const upsert = `
INSERT INTO records (id, type, congress, update_date, version, chamber, date, url, attrs, stored_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (id) DO UPDATE
SET type = EXCLUDED.type, congress = EXCLUDED.congress,
    update_date = EXCLUDED.update_date, version = EXCLUDED.version,
    chamber = EXCLUDED.chamber, date = EXCLUDED.date,
    url = EXCLUDED.url, attrs = EXCLUDED.attrs, stored_at = now()
WHERE records.version < EXCLUDED.version`

// PutItem implements store.Store. An existing row with an equal or newer
// version is left alone and reported as conditional_check_failed.
func (s *Store) PutItem(ctx context.Context, rec *domain.Record) store.ItemResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.put(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) put(ctx context.Context, ex execer, rec *domain.Record) store.ItemResult {
	attrs, err := json.Marshal(rec.Extras)
	if err != nil {
		return store.ItemResult{ID: rec.ID, Outcome: store.OutcomeValidationRejected, Err: err}
	}
	chamber, _ := rec.ExtraString("chamber")
	date, _ := rec.ExtraString("date")

	res, err := ex.ExecContext(ctx, upsert,
		rec.ID, string(rec.Type), rec.Congress, rec.UpdateDate, rec.Version,
		nullable(chamber), nullable(date), nullable(rec.URL), attrs)
	if err != nil {
		return store.ItemResult{ID: rec.ID, Outcome: classify(err), Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ItemResult{
			ID:      rec.ID,
			Outcome: store.OutcomeConditionalFailed,
			Err:     fmt.Errorf("existing row has version >= %d", rec.Version),
		}
	}
	return store.ItemResult{ID: rec.ID, Outcome: store.OutcomeOK}
}

// BatchPut implements store.Store. Items are written in one transaction;
// per-item failures fall back to item-by-item execution so one bad record
// cannot poison its batch.
func (s *Store) BatchPut(ctx context.Context, recs []*domain.Record) ([]store.ItemResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results, err := s.tryTx(ctx, recs)
	if err == nil {
		return results, nil
	}
	if outcome := classify(err); outcome.Fatal() {
		if outcome == store.OutcomeAuthFailed {
			return nil, store.ErrAuthFailed
		}
		return nil, store.ErrTableMissing
	}

	// Transaction failed on some item; retry individually for per-item
	// outcomes.
	results = make([]store.ItemResult, 0, len(recs))
	for _, rec := range recs {
		if cerr := ctx.Err(); cerr != nil {
			return results, cerr
		}
		results = append(results, s.put(ctx, s.db, rec))
	}
	return results, nil
}

func (s *Store) tryTx(ctx context.Context, recs []*domain.Record) ([]store.ItemResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	results := make([]store.ItemResult, 0, len(recs))
	for _, rec := range recs {
		r := s.put(ctx, tx, rec)
		if r.Outcome != store.OutcomeOK && r.Outcome != store.OutcomeConditionalFailed {
			return nil, r.Err
		}
		results = append(results, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

// QueryPrefix implements store.Store with a lazily scanned cursor.
func (s *Store) QueryPrefix(ctx context.Context, q store.PrefixQuery) (store.Iterator, error) {
	hashCol, rangeCol, err := indexCols(q.Index)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT id, type, congress, update_date, version, chamber, date, url, attrs FROM records WHERE %s = $1", hashCol)
	args := []any{q.Hash}
	if rangeCol != "" && q.RangeFrom != "" {
		args = append(args, q.RangeFrom)
		query += fmt.Sprintf(" AND %s >= $%d", rangeCol, len(args))
	}
	if rangeCol != "" && q.RangeTo != "" {
		args = append(args, q.RangeTo)
		query += fmt.Sprintf(" AND %s <= $%d", rangeCol, len(args))
	}
	query += " ORDER BY id"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return &rowIterator{rows: rows}, nil
}

type rowIterator struct {
	rows *sqlx.Rows
}

type recordRow struct {
	ID         string         `db:"id"`
	Type       string         `db:"type"`
	Congress   int            `db:"congress"`
	UpdateDate string         `db:"update_date"`
	Version    int            `db:"version"`
	Chamber    sql.NullString `db:"chamber"`
	Date       sql.NullString `db:"date"`
	URL        sql.NullString `db:"url"`
	Attrs      []byte         `db:"attrs"`
}

func (it *rowIterator) Next(ctx context.Context) (map[string]any, bool, error) {
	if err := ctx.Err(); err != nil {
		it.rows.Close()
		return nil, false, err
	}
	if !it.rows.Next() {
		err := it.rows.Err()
		it.rows.Close()
		return nil, false, err
	}

	var row recordRow
	if err := it.rows.StructScan(&row); err != nil {
		it.rows.Close()
		return nil, false, fmt.Errorf("scan record row: %w", err)
	}

	item := map[string]any{
		"id":          row.ID,
		"type":        row.Type,
		"congress":    row.Congress,
		"update_date": row.UpdateDate,
		"version":     row.Version,
	}
	if row.URL.Valid {
		item["url"] = row.URL.String
	}
	if len(row.Attrs) > 0 {
		var attrs map[string]any
		if err := json.Unmarshal(row.Attrs, &attrs); err != nil {
			return nil, false, fmt.Errorf("decode attrs for %s: %w", row.ID, err)
		}
		for k, v := range attrs {
			item[k] = v
		}
	}
	return item, true, nil
}

func indexCols(index string) (hash, rng string, err error) {
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

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func classify(err error) store.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return store.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return store.OutcomeTimeout
		}
		return store.OutcomeTransient
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "42P01": // undefined_table
			return store.OutcomeTableMissing
		case pqErr.Code.Class() == "28": // invalid_authorization_specification
			return store.OutcomeAuthFailed
		case pqErr.Code == "23505": // unique_violation
			return store.OutcomeConditionalFailed
		case pqErr.Code.Class() == "22" || pqErr.Code.Class() == "23":
			return store.OutcomeValidationRejected
		case pqErr.Code.Class() == "53": // insufficient_resources
			return store.OutcomeThroughputExceeded
		case pqErr.Code.Class() == "08": // connection_exception
			return store.OutcomeTransient
		}
	}
	return store.OutcomeTransient
}
