package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/endpoint"
)

var (
	// ErrAccessViolation is returned in strict ownership mode when a client
	// is used with a context that does not carry the owner it was acquired for
	ErrAccessViolation = errors.New("client accessed by a caller that does not own it")

	// ErrBatchInProgress is returned when a pipeline or transaction is opened
	// while another one is open, or a direct command is issued during one
	ErrBatchInProgress = errors.New("a pipeline or transaction is already open on this client")

	// ErrDisposed is returned by operations on a disposed client
	ErrDisposed = errors.New("client is disposed")
)

// Home is the pool a client returns to on Release
type Home interface {
	Release(c *Client)
}

// BatchKind marks what kind of batch is open on a client
type BatchKind int32

const (
	BatchNone BatchKind = iota
	BatchPipeline
	BatchTransaction
)

func (k BatchKind) String() string {
	switch k {
	case BatchPipeline:
		return "pipeline"
	case BatchTransaction:
		return "transaction"
	default:
		return "none"
	}
}

// RedialFunc opens a replacement connection for Reconnect
type RedialFunc func(ctx context.Context, ep endpoint.Endpoint) (conn.Conn, error)

var nextID atomic.Uint64

// Client is a pooled, stateful handle to one connection. While a client is
// active it is owned by exactly one caller.
type Client struct {
	id        uint64
	home      Home
	poolIndex int
	namespace string
	redial    RedialFunc
	strict    bool

	// connMu guards conn, which Reconnect swaps while pool snapshots read it
	connMu sync.RWMutex
	conn   conn.Conn

	active        atomic.Bool
	hadExceptions atomic.Bool
	disposed      atomic.Bool
	deactivatedAt atomic.Int64 // unix nanos, 0 while in service
	batch         atomic.Int32
	owner         atomic.Pointer[string]
}

// Option configures a Client
type Option func(*Client)

// WithHome binds the client to a pool slot
func WithHome(home Home, poolIndex int) Option {
	return func(c *Client) {
		c.home = home
		c.poolIndex = poolIndex
	}
}

// WithNamespace prefixes every key used by the typed commands
func WithNamespace(ns string) Option {
	return func(c *Client) { c.namespace = ns }
}

// WithRedial enables Reconnect
func WithRedial(fn RedialFunc) Option {
	return func(c *Client) { c.redial = fn }
}

// WithStrictOwnership makes every operation assert the caller's owner
func WithStrictOwnership(strict bool) Option {
	return func(c *Client) { c.strict = strict }
}

// New wraps a connection. A client without a home is unmanaged and is
// disposed on Release.
func New(cn conn.Conn, opts ...Option) *Client {
	c := &Client{
		id:        nextID.Add(1),
		conn:      cn,
		poolIndex: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) String() string {
	return fmt.Sprintf("client#%d(%s)", c.id, c.Conn().Endpoint())
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// ID identifies the client within the process
func (c *Client) ID() uint64 {
	return c.id
}

// Conn returns the underlying connection
func (c *Client) Conn() conn.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// Endpoint returns the endpoint the connection is bound to
func (c *Client) Endpoint() endpoint.Endpoint {
	return c.Conn().Endpoint()
}

// PoolIndex returns the slot index in the home pool (-1 if unmanaged)
func (c *Client) PoolIndex() int {
	return c.poolIndex
}

// Home returns the pool the client belongs to (nil if unmanaged)
func (c *Client) Home() Home {
	return c.home
}

// Namespace returns the key prefix
func (c *Client) Namespace() string {
	return c.namespace
}

// Key applies the namespace prefix
func (c *Client) Key(k string) string {
	return c.namespace + k
}

// IsActive reports whether the client is checked out
func (c *Client) IsActive() bool {
	return c.active.Load()
}

// SetActive is called by the pool on checkout and release
func (c *Client) SetActive(active bool) {
	c.active.Store(active)
}

// HadExceptions reports whether the client ever hit a connection fault.
// The flag is sticky: such a client is never handed out again.
func (c *Client) HadExceptions() bool {
	return c.hadExceptions.Load()
}

// MarkFaulty sets the sticky fault flag
func (c *Client) MarkFaulty() {
	c.hadExceptions.Store(true)
}

// IsDisposed reports whether Dispose was called
func (c *Client) IsDisposed() bool {
	return c.disposed.Load()
}

// MarkDeactivated records when the client was pulled out of service
func (c *Client) MarkDeactivated(at time.Time) {
	c.deactivatedAt.CompareAndSwap(0, at.UnixNano())
}

// DeactivatedAt returns the deactivation time, ok is false while in service
func (c *Client) DeactivatedAt() (at time.Time, ok bool) {
	ns := c.deactivatedAt.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// IsHealthy reports whether the client may be handed out
func (c *Client) IsHealthy() bool {
	return !c.hadExceptions.Load() &&
		!c.disposed.Load() &&
		c.deactivatedAt.Load() == 0 &&
		c.Conn().Usable()
}

// Dispose closes the connection. It is safe to call more than once.
func (c *Client) Dispose() {
	if c.disposed.Swap(true) {
		return
	}
	c.active.Store(false)

	c.connMu.RLock()
	defer c.connMu.RUnlock()
	_ = c.conn.Close()
}

// Release returns the client to its pool, an unmanaged client is disposed
func (c *Client) Release() {
	if c.home == nil {
		c.Dispose()
		return
	}
	c.home.Release(c)
}

// Reconnect replaces the underlying connection with a fresh one to the same
// endpoint. The fault flag stays set, the pool still retires the client on
// release.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.redial == nil {
		return errors.New("client has no redial function")
	}
	if c.disposed.Load() {
		return ErrDisposed
	}
	ep := c.Endpoint()
	fresh, err := c.redial(ctx, ep)
	if err != nil {
		return fmt.Errorf("reconnect to %s failed: %w", ep, err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.disposed.Load() {
		_ = fresh.Close()
		return ErrDisposed
	}
	_ = c.conn.Close()
	c.conn = fresh
	return nil
}

// Configure re-applies the per pool connection settings. The database is
// only selected again if it differs.
func (c *Client) Configure(send, receive time.Duration, db int) error {
	cn := c.Conn()
	cn.SetTimeouts(send, receive)
	if cn.DB() == db {
		return nil
	}
	if err := cn.Select(db); err != nil {
		return c.Fault(err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Ownership and batches
// --------------------------------------------------------------------------

// SetOwner binds the client to a caller (strict ownership mode)
func (c *Client) SetOwner(owner string, ok bool) {
	if !ok {
		c.owner.Store(nil)
		return
	}
	c.owner.Store(&owner)
}

// CheckAccess asserts that ctx carries the owner the client was acquired
// for. It is a no-op unless strict ownership is enabled.
func (c *Client) CheckAccess(ctx context.Context) error {
	if !c.strict {
		return nil
	}
	want := c.owner.Load()
	if want == nil {
		return nil
	}
	got, ok := OwnerFrom(ctx)
	if !ok || got != *want {
		return fmt.Errorf("%w: %s is owned by %q", ErrAccessViolation, c, *want)
	}
	return nil
}

// Batch returns the kind of batch currently open
func (c *Client) Batch() BatchKind {
	return BatchKind(c.batch.Load())
}

// BeginBatch claims the batch marker
func (c *Client) BeginBatch(kind BatchKind) error {
	if !c.batch.CompareAndSwap(int32(BatchNone), int32(kind)) {
		return fmt.Errorf("%w (%s open)", ErrBatchInProgress, c.Batch())
	}
	return nil
}

// EndBatch clears the batch marker if it is still held by kind
func (c *Client) EndBatch(kind BatchKind) {
	c.batch.CompareAndSwap(int32(kind), int32(BatchNone))
}

// Fault reports an error that occurred on the client's connection and
// passes it through. Connection faults set the sticky fault flag.
func (c *Client) Fault(err error) error {
	if conn.IsConnectionFault(err) {
		c.MarkFaulty()
	}
	return err
}
