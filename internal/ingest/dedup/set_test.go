package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySet(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet()

	seen, err := set.Seen(ctx, "118-hr-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, set.Mark(ctx, "118-hr-1", "118-hr-2"))

	seen, err = set.Seen(ctx, "118-hr-1")
	require.NoError(t, err)
	assert.True(t, seen)

	n, err := set.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Marking twice neither grows the set nor the accounting.
	before := set.ApproxBytes()
	require.NoError(t, set.Mark(ctx, "118-hr-1"))
	assert.Equal(t, before, set.ApproxBytes())

	require.NoError(t, set.Reset(ctx))
	n, err = set.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, int64(0), set.ApproxBytes())

	seen, err = set.Seen(ctx, "118-hr-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemorySetApproxBytesGrows(t *testing.T) {
	set := NewMemorySet()
	require.Equal(t, int64(0), set.ApproxBytes())
	require.NoError(t, set.Mark(context.Background(), "118-hr-1"))
	assert.Greater(t, set.ApproxBytes(), int64(len("118-hr-1")))
}
