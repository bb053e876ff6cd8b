// Package export dumps mirrored records for one family and date range to
// CSV or JSON.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/store"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Request describes one export.
type Request struct {
	Family domain.Family
	From   string // YYYY-MM-DD, optional
	To     string // YYYY-MM-DD, optional
	Limit  int
	Format Format
}

// Run streams matching records to w and returns how many were written.
func Run(ctx context.Context, st store.Store, req Request, w io.Writer) (int, error) {
	if !req.Family.Valid() {
		return 0, fmt.Errorf("unknown family %q", req.Family)
	}
	it, err := st.QueryPrefix(ctx, store.PrefixQuery{
		Index:     store.IndexTypeUpdateDate,
		Hash:      string(req.Family),
		RangeFrom: req.From,
		RangeTo:   req.To,
		Limit:     req.Limit,
	})
	if err != nil {
		return 0, err
	}

	switch req.Format {
	case FormatJSON:
		return writeJSON(ctx, it, w)
	case FormatCSV, "":
		return writeCSV(ctx, it, w)
	default:
		return 0, fmt.Errorf("unknown format %q", req.Format)
	}
}

func writeJSON(ctx context.Context, it store.Iterator, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0
	if _, err := io.WriteString(w, "[\n"); err != nil {
		return count, err
	}
	for {
		item, ok, err := it.Next(ctx)
		if err != nil {
			return count, err
		}
		if !ok {
			break
		}
		if count > 0 {
			if _, err := io.WriteString(w, ",\n"); err != nil {
				return count, err
			}
		}
		if err := enc.Encode(item); err != nil {
			return count, err
		}
		count++
	}
	if _, err := io.WriteString(w, "]\n"); err != nil {
		return count, err
	}
	return count, nil
}

// csvHeader is the fixed column set; family-specific attributes are packed
// into the trailing attrs column as JSON.
var csvHeader = []string{"id", "type", "congress", "update_date", "version", "url", "attrs"}

func writeCSV(ctx context.Context, it store.Iterator, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}

	count := 0
	for {
		item, ok, err := it.Next(ctx)
		if err != nil {
			return count, err
		}
		if !ok {
			break
		}
		rec, err := store.ItemToRecord(item)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed stored item in export")
			continue
		}
		attrs, err := json.Marshal(rec.Extras)
		if err != nil {
			return count, err
		}
		row := []string{
			rec.ID,
			string(rec.Type),
			strconv.Itoa(rec.Congress),
			rec.UpdateDate,
			strconv.Itoa(rec.Version),
			rec.URL,
			string(attrs),
		}
		if err := cw.Write(row); err != nil {
			return count, err
		}
		count++
	}
	cw.Flush()
	return count, cw.Error()
}
