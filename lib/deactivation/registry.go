package deactivation

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/replkv/lib/stats"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Logger is the logger for the deactivation package
var Logger = logger.GetLogger("deactivation")

// DefaultGracePeriod is the grace period of the process-wide registry
const DefaultGracePeriod = time.Minute

// Disposable is a connection that can be pulled out of service
type Disposable interface {
	// ID identifies the connection within the process
	ID() uint64
	// MarkDeactivated records the deactivation timestamp on the connection
	MarkDeactivated(at time.Time)
	// Dispose closes the connection for good
	Dispose()
}

type entry struct {
	client Disposable
	at     time.Time
}

// Registry holds deactivated connections for a grace period before they are
// disposed, so callers that still use them observe a clean failure instead
// of a closed socket.
type Registry struct {
	entries *xsync.MapOf[uint64, entry]
	grace   atomic.Int64
	stats   stats.Collector
	now     func() time.Time
}

// New creates a registry with the given grace period
func New(grace time.Duration, collector stats.Collector) *Registry {
	if collector == nil {
		collector = stats.Default()
	}
	r := &Registry{
		entries: xsync.NewMapOf[uint64, entry](),
		stats:   collector,
		now:     time.Now,
	}
	r.grace.Store(int64(grace))
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New(DefaultGracePeriod, stats.Default())
	})
	return defaultRegistry
}

// GracePeriod returns the current grace period
func (r *Registry) GracePeriod() time.Duration {
	return time.Duration(r.grace.Load())
}

// SetGracePeriod changes the grace period for future deactivations and sweeps
func (r *Registry) SetGracePeriod(d time.Duration) {
	r.grace.Store(int64(d))
}

// Deactivate pulls a connection out of service. With a zero grace period it
// is disposed right away. A connection that is already registered is
// disposed immediately instead of being recorded twice.
func (r *Registry) Deactivate(c Disposable) {
	now := r.now()
	c.MarkDeactivated(now)
	r.stats.IncDeactivated()

	if r.GracePeriod() <= 0 {
		c.Dispose()
		return
	}

	if _, loaded := r.entries.LoadOrStore(c.ID(), entry{client: c, at: now}); loaded {
		Logger.Debugf("client %d was already deactivated, disposing it now", c.ID())
		c.Dispose()
	}
}

// SweepExpired disposes every connection whose grace period elapsed and
// returns how many were disposed
func (r *Registry) SweepExpired() int {
	cutoff := r.now().Add(-r.GracePeriod())
	n := 0

	r.entries.Range(func(id uint64, e entry) bool {
		if e.at.After(cutoff) {
			return true
		}
		// only the sweep that removes the entry disposes it
		if removed, ok := r.entries.LoadAndDelete(id); ok {
			removed.client.Dispose()
			n++
		}
		return true
	})

	if n > 0 {
		Logger.Debugf("disposed %d deactivated clients", n)
	}
	return n
}

// DisposeAll disposes and forgets every registered connection
func (r *Registry) DisposeAll() int {
	return r.DisposeMatching(func(Disposable) bool { return true })
}

// DisposeMatching disposes and forgets the registered connections for which
// match returns true. Other entries keep waiting for their grace period.
func (r *Registry) DisposeMatching(match func(Disposable) bool) int {
	n := 0
	r.entries.Range(func(id uint64, e entry) bool {
		if !match(e.client) {
			return true
		}
		if removed, ok := r.entries.LoadAndDelete(id); ok {
			removed.client.Dispose()
			n++
		}
		return true
	})
	return n
}

// Pending returns the number of connections waiting for disposal
func (r *Registry) Pending() int {
	return r.entries.Size()
}
