package dedup

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	set := NewRedisSet(client, "run-1")
	ctx := context.Background()
	key := "capmirror:processed:run-1"

	mock.ExpectSIsMember(key, "118-hr-1").SetVal(false)
	seen, err := set.Seen(ctx, "118-hr-1")
	require.NoError(t, err)
	assert.False(t, seen)

	mock.ExpectSAdd(key, "118-hr-1", "118-hr-2").SetVal(2)
	mock.ExpectExpire(key, redisTTL).SetVal(true)
	require.NoError(t, set.Mark(ctx, "118-hr-1", "118-hr-2"))

	mock.ExpectSIsMember(key, "118-hr-1").SetVal(true)
	seen, err = set.Seen(ctx, "118-hr-1")
	require.NoError(t, err)
	assert.True(t, seen)

	mock.ExpectSCard(key).SetVal(2)
	n, err := set.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mock.ExpectDel(key).SetVal(1)
	require.NoError(t, set.Reset(ctx))

	assert.Equal(t, int64(0), set.ApproxBytes())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSetMarkEmpty(t *testing.T) {
	client, mock := redismock.NewClientMock()
	set := NewRedisSet(client, "run-2")

	// No ids means no round trip at all.
	require.NoError(t, set.Mark(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
