package pipeline

import (
	"context"
	"testing"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/conn/memconn"
	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const host = endpoint.MemScheme + "m"

// newTestClient returns a client connected to a fresh in-memory master
func newTestClient(t *testing.T) (*client.Client, *memconn.Server) {
	t.Helper()
	n := memconn.NewNetwork()
	srv := n.AddServer(host, conn.RoleMaster)
	cn, err := n.Dial(context.Background(), endpoint.Endpoint{Host: host})
	require.NoError(t, err)

	c := client.New(cn, client.WithRedial(n.Dial))
	t.Cleanup(c.Dispose)
	return c, srv
}

func TestPipelineRepliesInQueueOrder(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	p, err := New(c)
	require.NoError(t, err)
	defer p.Close()

	var order []string
	require.NoError(t, p.Set("a", "1", 0))
	require.NoError(t, p.Incr("n", func(n int64) { order = append(order, "incr"); assert.Equal(t, int64(1), n) }))
	require.NoError(t, p.IncrBy("n", 4, func(n int64) { order = append(order, "incrby"); assert.Equal(t, int64(5), n) }))
	require.NoError(t, p.Get("a", func(b []byte) { order = append(order, "get"); assert.Equal(t, "1", string(b)) }))
	require.NoError(t, p.MGet(func(bs [][]byte) {
		order = append(order, "mget")
		assert.Equal(t, [][]byte{[]byte("1"), nil}, bs)
	}, "a", "missing"))
	require.NoError(t, p.Exists("a", func(ok bool) { order = append(order, "exists"); assert.True(t, ok) }))
	require.NoError(t, p.Del(func(n int64) { order = append(order, "del"); assert.Equal(t, int64(1), n) }, "a"))
	assert.Equal(t, 7, p.Len())

	// nothing is written before the flush
	assert.Empty(t, order)
	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, []string{"incr", "incrby", "get", "mget", "exists", "del"}, order)
}

func TestPipelineFansOutReplies(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	p, err := New(c)
	require.NoError(t, err)
	defer p.Close()

	var (
		i   int
		i64 int64
		b   bool
		bs  []byte
		s   string
		ms  []string
		m   map[string]string
	)
	require.NoError(t, p.QueueCommand(ReplyInt, Callbacks{
		OnInt:   func(v int) { i = v },
		OnInt64: func(v int64) { i64 = v },
		OnBool:  func(v bool) { b = v },
	}, "INCR", "n"))
	require.NoError(t, p.QueueCommand(ReplyVoid, Callbacks{}, "SET", "k", "v"))
	require.NoError(t, p.QueueCommand(ReplyBytes, Callbacks{
		OnBytes:  func(v []byte) { bs = v },
		OnString: func(v string) { s = v },
	}, "GET", "k"))
	require.NoError(t, p.QueueCommand(ReplyInt, Callbacks{}, "HSET", "h", "f1", "a", "f2", "b"))
	require.NoError(t, p.QueueCommand(ReplyMultiBytes, Callbacks{
		OnMultiString: func(v []string) { ms = v },
		OnMap:         func(v map[string]string) { m = v },
	}, "HGETALL", "h"))
	require.NoError(t, p.Flush(ctx))

	assert.Equal(t, 1, i)
	assert.Equal(t, int64(1), i64)
	assert.True(t, b)
	assert.Equal(t, "v", string(bs))
	assert.Equal(t, "v", s)
	assert.Len(t, ms, 4)
	assert.Equal(t, map[string]string{"f1": "a", "f2": "b"}, m)
}

func TestPipelineHoldsBatchMarker(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	p, err := New(c)
	require.NoError(t, err)

	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, client.ErrBatchInProgress)
	_, err = New(c)
	require.ErrorIs(t, err, client.ErrBatchInProgress)
	_, err = Begin(c)
	require.ErrorIs(t, err, client.ErrBatchInProgress)

	require.NoError(t, p.Close())
	require.NoError(t, c.Ping(ctx))
	require.ErrorIs(t, p.Ping(), ErrClosed)
	require.ErrorIs(t, p.Flush(ctx), ErrClosed)
}

func TestPipelineErrorCallback(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)
	srv.Set(0, "s", []byte("text"))

	p, err := New(c)
	require.NoError(t, err)
	defer p.Close()

	var gotErr error
	var got string
	require.NoError(t, p.QueueCommand(ReplyInt, Callbacks{OnError: func(err error) { gotErr = err }}, "INCR", "s"))
	require.NoError(t, p.Get("s", func(b []byte) { got = string(b) }))

	require.NoError(t, p.Flush(ctx))
	assert.True(t, conn.IsReplyError(gotErr))
	assert.Equal(t, "text", got)
	assert.False(t, c.HadExceptions())
}

func TestPipelineErrorWithoutCallback(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)
	srv.Set(0, "s", []byte("text"))

	p, err := New(c)
	require.NoError(t, err)
	defer p.Close()

	called := false
	require.NoError(t, p.Incr("s", nil))
	require.NoError(t, p.Get("s", func([]byte) { called = true }))

	err = p.Flush(ctx)
	require.True(t, conn.IsReplyError(err))
	assert.False(t, called)
	assert.True(t, c.HadExceptions())
}

func TestPipelineIOErrorMarksFaulty(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	p, err := New(c)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Ping())
	srv.Kill()

	require.ErrorIs(t, p.Flush(ctx), memconn.ErrConnReset)
	assert.True(t, c.HadExceptions())
}

func TestQueueFromSendActionFails(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	p, err := New(c)
	require.NoError(t, err)
	defer p.Close()

	var nested error
	err = p.Queue(ReplyVoid, func(cn conn.Conn) (conn.Reply, error) {
		nested = p.Ping()
		return cn.Send("PING")
	}, Callbacks{})
	require.NoError(t, err)
	require.ErrorIs(t, nested, ErrPendingOperation)
	assert.Equal(t, 1, p.Len())
	require.NoError(t, p.Flush(ctx))
}

func TestUnknownReplyKind(t *testing.T) {
	c, _ := newTestClient(t)

	p, err := New(c)
	require.NoError(t, err)
	defer p.Close()

	require.Error(t, p.QueueCommand(ReplyKind(42), Callbacks{}, "PING"))
	assert.Equal(t, 0, p.Len())
}

func TestPipelineReplay(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	p, err := New(c)
	require.NoError(t, err)
	defer p.Close()

	var values []int64
	require.NoError(t, p.Incr("n", func(n int64) { values = append(values, n) }))

	srv.Kill()
	require.Error(t, p.Flush(ctx))

	require.NoError(t, p.Replay(ctx))
	assert.Equal(t, []int64{1}, values)
	assert.True(t, c.Conn().Usable())

	v, ok := srv.Get(0, "n")
	require.True(t, ok)
	assert.Equal(t, "1", string(v))
}

func TestCloseWithUnflushedCommands(t *testing.T) {
	c, _ := newTestClient(t)

	p, err := New(c)
	require.NoError(t, err)
	require.NoError(t, p.Ping())
	require.NoError(t, p.Close())

	assert.True(t, c.HadExceptions())
	assert.Equal(t, client.BatchNone, c.Batch())
}

func TestPipelineStrictOwnership(t *testing.T) {
	n := memconn.NewNetwork()
	n.AddServer(host, conn.RoleMaster)
	cn, err := n.Dial(context.Background(), endpoint.Endpoint{Host: host})
	require.NoError(t, err)

	c := client.New(cn, client.WithStrictOwnership(true))
	defer c.Dispose()
	c.SetOwner("alice", true)

	p, err := New(c)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Ping())

	bob := client.WithOwner(context.Background(), "bob")
	require.ErrorIs(t, p.Flush(bob), client.ErrAccessViolation)

	alice := client.WithOwner(context.Background(), "alice")
	require.NoError(t, p.Flush(alice))
}
