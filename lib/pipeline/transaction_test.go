package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/conn/memconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionCommit(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	tx, err := Begin(c)
	require.NoError(t, err)

	var order []int64
	const k = 5
	for i := 0; i < k; i++ {
		require.NoError(t, tx.Incr("n", func(n int64) { order = append(order, n) }))
	}
	require.NoError(t, tx.Set("done", "yes", 0))

	// direct commands are rejected while the transaction is open
	_, err = c.Get(ctx, "n")
	require.ErrorIs(t, err, client.ErrBatchInProgress)

	ok, err := tx.Commit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, order)
	assert.Equal(t, client.BatchNone, c.Batch())
	assert.False(t, c.HadExceptions())

	v, found := srv.Get(0, "done")
	require.True(t, found)
	assert.Equal(t, "yes", string(v))

	// the client is usable for direct commands again
	n, err := c.Incr(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestTransactionAbortedByWatch(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	require.NoError(t, c.Watch(ctx, "k"))
	tx, err := Begin(c)
	require.NoError(t, err)

	called := 0
	require.NoError(t, tx.Set("k", "mine", 0))
	require.NoError(t, tx.Incr("n", func(int64) { called++ }))
	require.NoError(t, tx.QueueCommand(ReplyVoid, Callbacks{
		OnVoid:  func() { called++ },
		OnError: func(error) { called++ },
	}, "PING"))

	// another writer changes the watched key
	srv.Set(0, "k", []byte("theirs"))

	ok, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, called)
	assert.False(t, c.HadExceptions())
	assert.Equal(t, client.BatchNone, c.Batch())

	v, _ := srv.Get(0, "k")
	assert.Equal(t, "theirs", string(v))
	_, found := srv.Get(0, "n")
	assert.False(t, found)
}

func TestTransactionCommandErrorGoesToCallback(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)
	srv.Set(0, "s", []byte("text"))

	tx, err := Begin(c)
	require.NoError(t, err)

	var gotErr error
	var n int64
	require.NoError(t, tx.QueueCommand(ReplyInt, Callbacks{OnError: func(err error) { gotErr = err }}, "INCR", "s"))
	require.NoError(t, tx.Incr("n", func(v int64) { n = v }))

	ok, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Error(t, gotErr)
	assert.Equal(t, int64(1), n)
}

func TestTransactionQueueErrorIsProtocolError(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	tx, err := Begin(c)
	require.NoError(t, err)
	require.NoError(t, tx.Ping())
	require.NoError(t, tx.QueueCommand(ReplyVoid, Callbacks{}, "NOSUCHCOMMAND"))

	ok, err := tx.Commit(ctx)
	assert.False(t, ok)

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "command 1", pe.Stage)
	assert.False(t, pe.Retryable())
	assert.True(t, c.HadExceptions())
	assert.Equal(t, client.BatchNone, c.Batch())
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	tx, err := Begin(c)
	require.NoError(t, err)
	require.NoError(t, tx.Set("k", "v", 0))
	require.NoError(t, tx.Rollback())

	assert.True(t, c.HadExceptions())
	assert.Equal(t, client.BatchNone, c.Batch())
	_, found := srv.Get(0, "k")
	assert.False(t, found)

	require.ErrorIs(t, tx.Rollback(), ErrClosed)
	require.NoError(t, tx.Close())
	_, err = tx.Commit(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, tx.Set("k", "v", 0), ErrClosed)
}

func TestTransactionCloseRollsBack(t *testing.T) {
	c, _ := newTestClient(t)

	tx, err := Begin(c)
	require.NoError(t, err)
	require.NoError(t, tx.Close())

	assert.True(t, c.HadExceptions())
	assert.Equal(t, client.BatchNone, c.Batch())
}

func TestTransactionReplay(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	tx, err := Begin(c)
	require.NoError(t, err)

	_, err = tx.Replay(ctx)
	require.ErrorIs(t, err, ErrNotCommitted)

	var values []int64
	require.NoError(t, tx.Incr("n", func(n int64) { values = append(values, n) }))

	srv.Kill()
	ok, err := tx.Commit(ctx)
	require.ErrorIs(t, err, memconn.ErrConnReset)
	assert.False(t, ok)
	assert.Empty(t, values)

	ok, err = tx.Replay(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{1}, values)
	assert.Equal(t, client.BatchNone, c.Batch())
}

func TestCommitHonorsContext(t *testing.T) {
	c, _ := newTestClient(t)

	tx, err := Begin(c)
	require.NoError(t, err)
	defer tx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tx.Commit(ctx)
	require.True(t, errors.Is(err, context.Canceled))

	// the transaction is still open
	assert.Equal(t, client.BatchTransaction, c.Batch())
}
