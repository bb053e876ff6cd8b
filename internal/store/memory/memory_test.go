package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/store"
)

func rec(id string, congress int, updateDate string) *domain.Record {
	return &domain.Record{
		ID:         id,
		Type:       domain.FamilyBill,
		Congress:   congress,
		UpdateDate: updateDate,
		Version:    domain.SchemaVersion,
		Extras:     map[string]any{"chamber": "house", "date": updateDate},
	}
}

func drain(t *testing.T, it store.Iterator) []map[string]any {
	t.Helper()
	var items []map[string]any
	for {
		item, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return items
		}
		items = append(items, item)
	}
}

func TestPutAndGet(t *testing.T) {
	st := New()
	res := st.PutItem(context.Background(), rec("118-hr-1", 118, "2024-01-01"))
	assert.Equal(t, store.OutcomeOK, res.Outcome)

	item, ok := st.Get("118-hr-1")
	require.True(t, ok)
	assert.Equal(t, "bill", item["type"])
	assert.Equal(t, 1, st.Len())
}

func TestBatchPutChunksLargeBatches(t *testing.T) {
	st := New()
	var recs []*domain.Record
	for i := 0; i < 60; i++ {
		recs = append(recs, rec(fmt.Sprintf("118-hr-%03d", i), 118, "2024-01-01"))
	}

	results, err := st.BatchPut(context.Background(), recs)
	require.NoError(t, err)
	assert.Len(t, results, 60)
	assert.Equal(t, 60, st.Len())
	assert.Equal(t, 3, st.Batches(), "60 items split into chunks of at most 25")
}

func TestScriptedOutcomesAreConsumedInOrder(t *testing.T) {
	st := New()
	st.ScriptOutcome("118-hr-1", store.OutcomeThroughputExceeded, store.OutcomeOK)

	res := st.PutItem(context.Background(), rec("118-hr-1", 118, "2024-01-01"))
	assert.Equal(t, store.OutcomeThroughputExceeded, res.Outcome)

	res = st.PutItem(context.Background(), rec("118-hr-1", 118, "2024-01-01"))
	assert.Equal(t, store.OutcomeOK, res.Outcome)
	assert.Equal(t, 1, st.Len())
}

func TestQueryPrefixByTypeAndDate(t *testing.T) {
	st := New()
	ctx := context.Background()
	st.PutItem(ctx, rec("118-hr-1", 118, "2024-01-01"))
	st.PutItem(ctx, rec("118-hr-2", 118, "2024-02-01"))
	st.PutItem(ctx, rec("118-hr-3", 118, "2024-03-01"))

	it, err := st.QueryPrefix(ctx, store.PrefixQuery{
		Index:     store.IndexTypeUpdateDate,
		Hash:      "bill",
		RangeFrom: "2024-01-15",
		RangeTo:   "2024-02-15",
	})
	require.NoError(t, err)
	items := drain(t, it)
	require.Len(t, items, 1)
	assert.Equal(t, "118-hr-2", items[0]["id"])
}

func TestQueryPrefixNumericHash(t *testing.T) {
	st := New()
	ctx := context.Background()
	st.PutItem(ctx, rec("118-hr-1", 118, "2024-01-01"))
	st.PutItem(ctx, rec("117-hr-1", 117, "2023-01-01"))

	it, err := st.QueryPrefix(ctx, store.PrefixQuery{
		Index: store.IndexCongressType,
		Hash:  "118",
	})
	require.NoError(t, err)
	items := drain(t, it)
	require.Len(t, items, 1)
	assert.Equal(t, "118-hr-1", items[0]["id"])
}

func TestQueryPrefixLimitAndUnknownIndex(t *testing.T) {
	st := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		st.PutItem(ctx, rec(fmt.Sprintf("118-hr-%d", i), 118, "2024-01-01"))
	}

	it, err := st.QueryPrefix(ctx, store.PrefixQuery{
		Index: store.IndexTypeUpdateDate,
		Hash:  "bill",
		Limit: 2,
	})
	require.NoError(t, err)
	assert.Len(t, drain(t, it), 2)

	_, err = st.QueryPrefix(ctx, store.PrefixQuery{Index: "no-such-index", Hash: "x"})
	assert.Error(t, err)
}

func TestDescribeTableFailure(t *testing.T) {
	st := New()
	require.NoError(t, st.DescribeTable(context.Background()))

	st.FailDescribe(store.ErrTableMissing)
	assert.ErrorIs(t, st.DescribeTable(context.Background()), store.ErrTableMissing)
}
