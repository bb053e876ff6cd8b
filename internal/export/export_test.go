package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/store/memory"
)

func seed(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	for _, r := range []*domain.Record{
		{ID: "118-hr-1", Type: domain.FamilyBill, Congress: 118, UpdateDate: "2024-01-10", Version: 1,
			URL: "https://api.congress.gov/v3/bill/118/hr/1", Extras: map[string]any{"title": "First"}},
		{ID: "118-hr-2", Type: domain.FamilyBill, Congress: 118, UpdateDate: "2024-02-10", Version: 1,
			Extras: map[string]any{"title": "Second"}},
		{ID: "118-treaty-1", Type: domain.FamilyTreaty, Congress: 118, UpdateDate: "2024-01-15", Version: 1,
			Extras: map[string]any{"topic": "Fisheries"}},
	} {
		res := st.PutItem(ctx, r)
		require.Equal(t, "ok", string(res.Outcome))
	}
	return st
}

func TestRunCSV(t *testing.T) {
	st := seed(t)
	var buf bytes.Buffer

	n, err := Run(context.Background(), st, Request{Family: domain.FamilyBill, Format: FormatCSV}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus two records")
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "118-hr-1", rows[1][0])
	assert.Equal(t, "bill", rows[1][1])
	assert.Equal(t, "118", rows[1][2])

	var attrs map[string]any
	require.NoError(t, json.Unmarshal([]byte(rows[1][6]), &attrs))
	assert.Equal(t, "First", attrs["title"])
}

func TestRunJSON(t *testing.T) {
	st := seed(t)
	var buf bytes.Buffer

	n, err := Run(context.Background(), st, Request{Family: domain.FamilyTreaty, Format: FormatJSON}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "118-treaty-1", items[0]["id"])
	assert.Equal(t, "Fisheries", items[0]["topic"])
}

func TestRunDateBoundsAndLimit(t *testing.T) {
	st := seed(t)
	var buf bytes.Buffer

	n, err := Run(context.Background(), st, Request{
		Family: domain.FamilyBill,
		From:   "2024-02-01",
		Format: FormatCSV,
	}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, strings.Contains(buf.String(), "118-hr-2"))
	assert.False(t, strings.Contains(buf.String(), "118-hr-1"))

	buf.Reset()
	n, err = Run(context.Background(), st, Request{Family: domain.FamilyBill, Limit: 1}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunRejectsBadRequests(t *testing.T) {
	st := seed(t)
	var buf bytes.Buffer

	_, err := Run(context.Background(), st, Request{Family: "senator"}, &buf)
	assert.Error(t, err)

	_, err = Run(context.Background(), st, Request{Family: domain.FamilyBill, Format: "xml"}, &buf)
	assert.Error(t, err)
}
