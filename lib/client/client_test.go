package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/conn/memconn"
	"github.com/ValentinKolb/replkv/lib/endpoint"
)

func newTestClient(t *testing.T, opts ...Option) (*Client, *memconn.Network) {
	t.Helper()
	n := memconn.NewNetwork()
	n.AddServer("mem://m", conn.RoleMaster)
	cn, err := n.Dial(context.Background(), endpoint.Endpoint{Host: "mem://m"})
	if err != nil {
		t.Fatal(err)
	}
	return New(cn, opts...), n
}

type recordingHome struct {
	released []*Client
}

func (h *recordingHome) Release(c *Client) {
	h.released = append(h.released, c)
}

func TestTypedCommands(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	if v, err := c.Get(ctx, "k"); err != nil || string(v) != "v" {
		t.Errorf("Get = %q, %v", v, err)
	}
	if ok, _ := c.SetNX(ctx, "k", "x"); ok {
		t.Error("SetNX on existing key should fail")
	}
	if n, _ := c.IncrBy(ctx, "n", 3); n != 3 {
		t.Errorf("IncrBy = %d", n)
	}
	if n, _ := c.Incr(ctx, "n"); n != 4 {
		t.Errorf("Incr = %d", n)
	}
	if ok, _ := c.Exists(ctx, "n"); !ok {
		t.Error("n should exist")
	}
	if vals, _ := c.MGet(ctx, "k", "missing"); len(vals) != 2 || string(vals[0]) != "v" || vals[1] != nil {
		t.Errorf("MGet = %q", vals)
	}
	if _, err := c.HSet(ctx, "h", "a", 1, "b", 2); err != nil {
		t.Fatal(err)
	}
	if h, _ := c.HGetAll(ctx, "h"); h["a"] != "1" || h["b"] != "2" {
		t.Errorf("HGetAll = %v", h)
	}
	if n, _ := c.Del(ctx, "k", "n", "missing"); n != 2 {
		t.Errorf("Del = %d", n)
	}
	if ok, _ := c.Expire(ctx, "h", time.Minute); !ok {
		t.Error("Expire on existing key should succeed")
	}
	if role, _ := c.Role(ctx); role != conn.RoleMaster {
		t.Errorf("Role = %v", role)
	}
}

func TestNamespacePrefixesKeys(t *testing.T) {
	ctx := context.Background()
	c, n := newTestClient(t, WithNamespace("app:"))

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := n.Server("mem://m").Get(0, "app:k"); !ok {
		t.Error("key should be stored with the namespace prefix")
	}
}

func TestReplyErrorDoesNotMarkFaulty(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	_ = c.Set(ctx, "k", "not a number", 0)
	if _, err := c.Incr(ctx, "k"); !conn.IsReplyError(err) {
		t.Fatalf("expected reply error, got %v", err)
	}
	if c.HadExceptions() || !c.IsHealthy() {
		t.Error("reply errors must not mark the client faulty")
	}
}

func TestConnectionFaultIsSticky(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	c.Conn().(*memconn.Conn).Break()
	if err := c.Ping(ctx); err == nil {
		t.Fatal("expected an error on a broken connection")
	}
	if !c.HadExceptions() || c.IsHealthy() {
		t.Error("client should be marked faulty")
	}
}

func TestReleaseWithoutHomeDisposes(t *testing.T) {
	c, _ := newTestClient(t)
	c.Release()
	if !c.IsDisposed() || !c.Conn().(*memconn.Conn).Closed() {
		t.Error("unmanaged client should be disposed on release")
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("expected ErrDisposed, got %v", err)
	}
}

func TestReleaseReturnsToHome(t *testing.T) {
	home := &recordingHome{}
	c, _ := newTestClient(t, WithHome(home, 3))
	c.Release()

	if len(home.released) != 1 || home.released[0] != c {
		t.Fatal("client should be handed to its home")
	}
	if c.PoolIndex() != 3 || c.IsDisposed() {
		t.Error("pooled client must not be disposed on release")
	}
}

func TestStrictOwnership(t *testing.T) {
	c, _ := newTestClient(t, WithStrictOwnership(true))
	c.SetOwner("worker-1", true)

	owned := WithOwner(context.Background(), "worker-1")
	other := WithOwner(context.Background(), "worker-2")

	if err := c.Ping(owned); err != nil {
		t.Errorf("owner should have access: %v", err)
	}
	if err := c.Ping(other); !errors.Is(err, ErrAccessViolation) {
		t.Errorf("expected access violation, got %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrAccessViolation) {
		t.Errorf("context without owner should be rejected, got %v", err)
	}
}

func TestBatchMarkerIsExclusive(t *testing.T) {
	c, _ := newTestClient(t)

	if err := c.BeginBatch(BatchPipeline); err != nil {
		t.Fatal(err)
	}
	if err := c.BeginBatch(BatchTransaction); !errors.Is(err, ErrBatchInProgress) {
		t.Errorf("expected ErrBatchInProgress, got %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrBatchInProgress) {
		t.Errorf("direct commands must be rejected during a batch, got %v", err)
	}

	// ending the wrong kind is a no-op
	c.EndBatch(BatchTransaction)
	if c.Batch() != BatchPipeline {
		t.Errorf("batch = %v, want pipeline", c.Batch())
	}
	c.EndBatch(BatchPipeline)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping after batch failed: %v", err)
	}
}

func TestConfigureSelectsOnlyOnChange(t *testing.T) {
	c, _ := newTestClient(t)
	mc := c.Conn().(*memconn.Conn)

	if err := c.Configure(time.Second, 2*time.Second, 0); err != nil {
		t.Fatal(err)
	}
	if s, r := mc.Timeouts(); s != time.Second || r != 2*time.Second {
		t.Errorf("timeouts = %v/%v", s, r)
	}
	if err := c.Configure(0, 0, 2); err != nil {
		t.Fatal(err)
	}
	if mc.DB() != 2 {
		t.Errorf("db = %d, want 2", mc.DB())
	}
}

func TestReconnect(t *testing.T) {
	ctx := context.Background()
	n := memconn.NewNetwork()
	srv := n.AddServer("mem://m", conn.RoleMaster)
	cn, _ := n.Dial(ctx, endpoint.Endpoint{Host: "mem://m"})
	c := New(cn, WithRedial(n.Dial))

	srv.Kill()
	if err := c.Ping(ctx); err == nil {
		t.Fatal("expected error on killed connection")
	}
	if err := c.Reconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("ping after reconnect failed: %v", err)
	}
	if !c.HadExceptions() {
		t.Error("fault flag must survive a reconnect")
	}
	if !cn.(*memconn.Conn).Closed() {
		t.Error("old connection should be closed")
	}
}

func TestDeactivatedAt(t *testing.T) {
	c, _ := newTestClient(t)
	if _, ok := c.DeactivatedAt(); ok {
		t.Fatal("new client is not deactivated")
	}
	at := time.Unix(500, 0)
	c.MarkDeactivated(at)
	c.MarkDeactivated(at.Add(time.Hour))

	got, ok := c.DeactivatedAt()
	if !ok || !got.Equal(at) {
		t.Errorf("DeactivatedAt = %v, %v; want first timestamp", got, ok)
	}
	if c.IsHealthy() {
		t.Error("deactivated client is not healthy")
	}
}
