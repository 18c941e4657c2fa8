package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/conn/resp"
	"github.com/ValentinKolb/replkv/lib/deactivation"
	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/ValentinKolb/replkv/lib/resolver"
	"github.com/ValentinKolb/replkv/lib/stats"
	"github.com/ValentinKolb/replkv/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the logger for the pool package
var Logger = logger.GetLogger("pool")

// FailoverFunc is notified after a failover with the new host lists
type FailoverFunc func(readWrite, readOnly []endpoint.Endpoint) error

// Option configures a Manager
type Option func(*Manager)

// WithDialer sets the dialer (default: a RESP dialer)
func WithDialer(d conn.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithStats sets the stats collector (default: stats.Default()). Without
// WithRegistry the pool then gets its own registry counting into s.
func WithStats(s stats.Collector) Option {
	return func(m *Manager) { m.stats = s }
}

// WithRegistry sets the deactivation registry (default: deactivation.Default())
func WithRegistry(r *deactivation.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithGracePeriod gives the pool its own deactivation registry with the grace
// period d. It is ignored if WithRegistry is set.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) { m.grace = &d }
}

// Manager is the connection pool: a write slot array for master hosts and a
// read slot array for slave hosts
type Manager struct {
	cfg      Config
	dialer   conn.Dialer
	stats    stats.Collector
	registry *deactivation.Registry
	resolver *resolver.Resolver

	grace        *time.Duration
	ownsRegistry bool // the registry was created for this pool only

	write *slotPool
	read  *slotPool // same as write in single pool mode

	failoverMu sync.Mutex
	cbMu       sync.Mutex
	callbacks  []FailoverFunc

	closed atomic.Bool
}

// New creates a pool. No connection is opened before the first acquire.
func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	m := &Manager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = resp.NewDialer(resp.DefaultOptions())
	}
	statsInjected := m.stats != nil
	if !statsInjected {
		m.stats = stats.Default()
	}
	switch {
	case m.registry != nil:
	case statsInjected || m.grace != nil:
		grace := deactivation.Default().GracePeriod()
		if m.grace != nil {
			grace = *m.grace
		}
		m.registry = deactivation.New(grace, m.stats)
		m.ownsRegistry = true
	default:
		m.registry = deactivation.Default()
	}

	m.resolver = resolver.New(resolver.Config{
		Masters:      cfg.Masters,
		Slaves:       cfg.Slaves,
		VerifyMaster: cfg.VerifyMaster,
		ProbeTimeout: cfg.ProbeTimeout,
	}, m.dialer, m.stats)

	m.write = newSlotPool(m, "write", cfg.MaxWritePoolSize, m.resolver.CreateMasterConnection, m.resolver.MasterCount)
	if cfg.SinglePool {
		m.read = m.write
	} else {
		m.read = newSlotPool(m, "read", cfg.MaxReadPoolSize, m.resolver.CreateSlaveConnection, m.resolver.SlaveCount)
	}

	Logger.Infof("pool created with %d masters, %d slaves (write size %d, read size %d)",
		len(cfg.Masters), len(cfg.Slaves), cfg.MaxWritePoolSize, len(m.read.slots))
	return m, nil
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.cfg
}

// Resolver returns the endpoint resolver
func (m *Manager) Resolver() *resolver.Resolver {
	return m.resolver
}

// Stats returns the stats collector
func (m *Manager) Stats() stats.Collector {
	return m.stats
}

// Registry returns the deactivation registry
func (m *Manager) Registry() *deactivation.Registry {
	return m.registry
}

// --------------------------------------------------------------------------
// Acquire / Release
// --------------------------------------------------------------------------

// GetClient acquires a client connected to a master
func (m *Manager) GetClient(ctx context.Context) (*client.Client, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	return m.write.acquire(ctx)
}

// GetReadOnlyClient acquires a client connected to a slave (or a master in
// single pool mode or without slaves)
func (m *Manager) GetReadOnlyClient(ctx context.Context) (*client.Client, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	return m.read.acquire(ctx)
}

// Release returns a client to its pool, equivalent to c.Release()
func (m *Manager) Release(c *client.Client) {
	c.Release()
}

// newClient wraps a new connection
func (m *Manager) newClient(cn conn.Conn, home *slotPool, idx int) *client.Client {
	opts := []client.Option{
		client.WithNamespace(m.cfg.Namespace),
		client.WithStrictOwnership(m.cfg.StrictOwnership),
		client.WithRedial(m.dialer.Dial),
	}
	if home != nil {
		opts = append(opts, client.WithHome(home, idx))
	}
	return client.New(cn, opts...)
}

// prepare applies the pool settings to a client that is being handed out
func (m *Manager) prepare(ctx context.Context, c *client.Client) error {
	ep := c.Endpoint()
	send, recv := ep.SendTimeout, ep.ReceiveTimeout
	if m.cfg.SendTimeout > 0 {
		send = m.cfg.SendTimeout
	}
	if m.cfg.ReceiveTimeout > 0 {
		recv = m.cfg.ReceiveTimeout
	}
	if err := c.Configure(send, recv, m.cfg.DB); err != nil {
		return err
	}
	if m.cfg.StrictOwnership {
		c.SetOwner(client.OwnerFrom(ctx))
	}
	return nil
}

// --------------------------------------------------------------------------
// Exec with retries
// --------------------------------------------------------------------------

// Exec runs fn with a write client. Connection faults are retried with
// backoff until RetryTimeout elapsed.
func (m *Manager) Exec(ctx context.Context, fn func(c *client.Client) error) error {
	return m.exec(ctx, m.GetClient, fn)
}

// ExecReadOnly runs fn with a read-only client, retrying like Exec
func (m *Manager) ExecReadOnly(ctx context.Context, fn func(c *client.Client) error) error {
	return m.exec(ctx, m.GetReadOnlyClient, fn)
}

func (m *Manager) exec(ctx context.Context, get func(context.Context) (*client.Client, error), fn func(*client.Client) error) error {
	// attempt reports whether a failure may be retried
	attempt := func(ctx context.Context) (bool, error) {
		c, err := get(ctx)
		if err != nil {
			return retryable(err), err
		}
		defer c.Release()

		err = fn(c)
		return c.HadExceptions() && retryable(err), err
	}

	retry, err := attempt(ctx)
	if err == nil || !retry || m.cfg.RetryTimeout <= 0 {
		return err
	}

	lastErr := err
	rerr := util.RetryUntilTrue(ctx, m.cfg.RetryTimeout, func(ctx context.Context) (bool, error) {
		m.stats.IncRetries()
		retry, err := attempt(ctx)
		if err == nil {
			return true, nil
		}
		lastErr = err
		if !retry {
			return false, err
		}
		Logger.Debugf("retrying after connection fault: %v", err)
		return false, nil
	})

	switch {
	case rerr == nil:
		m.stats.IncRetrySuccess()
		return nil
	case errors.Is(rerr, util.ErrRetryTimeout):
		m.stats.IncRetryTimeouts()
		return fmt.Errorf("%w after %v: %w", util.ErrRetryTimeout, m.cfg.RetryTimeout, lastErr)
	default:
		return rerr
	}
}

// --------------------------------------------------------------------------
// Failover
// --------------------------------------------------------------------------

// OnFailover registers a callback that runs after every failover
func (m *Manager) OnFailover(fn FailoverFunc) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// FailoverTo switches the pool to new hosts. Every pooled client is handed
// to the deactivation registry, the slots are cleared and the resolver lists
// are replaced. Clients created from now on connect to the new hosts.
func (m *Manager) FailoverTo(readWrite, readOnly []endpoint.Endpoint) error {
	if len(readWrite) == 0 {
		return errors.New("failover requires at least one read-write host")
	}

	m.failoverMu.Lock()
	defer m.failoverMu.Unlock()

	Logger.Infof("failing over to masters %v, slaves %v", readWrite, readOnly)

	old := m.write.clear()
	if m.read != m.write {
		old = append(old, m.read.clear()...)
	}
	for _, c := range old {
		m.registry.Deactivate(c)
	}

	m.resolver.ResetMasters(readWrite)
	m.resolver.ResetSlaves(readOnly)
	m.stats.IncFailovers()

	m.cbMu.Lock()
	callbacks := append([]FailoverFunc(nil), m.callbacks...)
	m.cbMu.Unlock()

	for i, fn := range callbacks {
		m.runCallback(i, fn, readWrite, readOnly)
	}
	return nil
}

// runCallback shields the failover from a misbehaving callback
func (m *Manager) runCallback(i int, fn FailoverFunc, readWrite, readOnly []endpoint.Endpoint) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("failover callback %d panicked: %v", i, r)
		}
	}()
	if err := fn(readWrite, readOnly); err != nil {
		Logger.Errorf("failover callback %d failed: %v", i, err)
	}
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close disposes every client, including the ones this pool handed to the
// deactivation registry. Entries of other pools sharing the registry stay.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	clients := m.write.close()
	if m.read != m.write {
		clients = append(clients, m.read.close()...)
	}
	for _, c := range clients {
		c.Dispose()
	}
	var n int
	if m.ownsRegistry {
		n = m.registry.DisposeAll()
	} else {
		n = m.registry.DisposeMatching(func(d deactivation.Disposable) bool {
			c, ok := d.(*client.Client)
			return ok && m.owns(c)
		})
	}

	Logger.Infof("pool closed, disposed %d clients and %d deactivated clients", len(clients), n)
	return nil
}

// owns reports whether c was created by one of the pool's slot arrays
func (m *Manager) owns(c *client.Client) bool {
	h := c.Home()
	return h == client.Home(m.write) || h == client.Home(m.read)
}
