package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/ValentinKolb/replkv/lib/stats"
	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the logger for the resolver package
var Logger = logger.GetLogger("resolver")

var (
	// ErrNoMasterFound is returned when no probed host reports the master
	// role after a role mismatch. It persists until the hosts are reset.
	ErrNoMasterFound = errors.New("no master found")

	// ErrNoHosts is returned when an endpoint is requested from an empty list
	ErrNoHosts = errors.New("no hosts configured")
)

// DefaultProbeTimeout bounds dial and role query of one host during a re-probe
const DefaultProbeTimeout = 2 * time.Second

// Config configures a Resolver
type Config struct {
	Masters []endpoint.Endpoint
	Slaves  []endpoint.Endpoint

	// VerifyMaster makes CreateConnection query the role of connections that
	// must be masters
	VerifyMaster bool

	// ProbeTimeout bounds each host probe during a re-probe. Slower hosts
	// are excluded from the new partition.
	ProbeTimeout time.Duration
}

// Resolver owns the master and slave endpoint lists and creates connections
type Resolver struct {
	mu       sync.RWMutex
	masters  []endpoint.Endpoint
	slaves   []endpoint.Endpoint
	allHosts []endpoint.Endpoint // every host ever seen, in order of appearance
	known    map[endpoint.Endpoint]struct{}

	dialer       conn.Dialer
	stats        stats.Collector
	verifyMaster bool
	probeTimeout time.Duration
}

// New creates a resolver. A nil collector uses the process-wide default.
func New(cfg Config, dialer conn.Dialer, collector stats.Collector) *Resolver {
	if collector == nil {
		collector = stats.Default()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	r := &Resolver{
		known:        make(map[endpoint.Endpoint]struct{}),
		dialer:       dialer,
		stats:        collector,
		verifyMaster: cfg.VerifyMaster,
		probeTimeout: cfg.ProbeTimeout,
	}
	r.masters = slices.Clone(cfg.Masters)
	r.slaves = slices.Clone(cfg.Slaves)
	r.remember(cfg.Masters)
	r.remember(cfg.Slaves)
	return r
}

// remember merges hosts into the all-hosts set (lock held)
func (r *Resolver) remember(hosts []endpoint.Endpoint) {
	for _, h := range hosts {
		if _, ok := r.known[h]; ok {
			continue
		}
		r.known[h] = struct{}{}
		r.allHosts = append(r.allHosts, h)
	}
}

// --------------------------------------------------------------------------
// Endpoint lists
// --------------------------------------------------------------------------

// ResolveMaster returns the master for a round-robin index
func (r *Resolver) ResolveMaster(i int) (endpoint.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return pick(r.masters, i)
}

// ResolveSlave returns the slave for a round-robin index. Without slaves
// the masters serve reads.
func (r *Resolver) ResolveSlave(i int) (endpoint.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.slaves) == 0 {
		return pick(r.masters, i)
	}
	return pick(r.slaves, i)
}

func pick(list []endpoint.Endpoint, i int) (endpoint.Endpoint, error) {
	if len(list) == 0 {
		return endpoint.Endpoint{}, ErrNoHosts
	}
	if i < 0 {
		i = -i
	}
	return list[i%len(list)], nil
}

// MasterCount returns the number of masters
func (r *Resolver) MasterCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.masters)
}

// SlaveCount returns the number of slaves, or the master count without slaves
func (r *Resolver) SlaveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.slaves) == 0 {
		return len(r.masters)
	}
	return len(r.slaves)
}

// Masters returns a copy of the current master list
func (r *Resolver) Masters() []endpoint.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.masters)
}

// Slaves returns a copy of the current slave list
func (r *Resolver) Slaves() []endpoint.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.slaves)
}

// AllHosts returns every host the resolver has ever been configured with
func (r *Resolver) AllHosts() []endpoint.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.allHosts)
}

// ResetMasters replaces the master list
func (r *Resolver) ResetMasters(hosts []endpoint.Endpoint) {
	r.mu.Lock()
	r.masters = slices.Clone(hosts)
	r.remember(hosts)
	r.mu.Unlock()

	r.stats.IncHostResets()
	Logger.Infof("reset masters to %v", hosts)
}

// ResetSlaves replaces the slave list
func (r *Resolver) ResetSlaves(hosts []endpoint.Endpoint) {
	r.mu.Lock()
	r.slaves = slices.Clone(hosts)
	r.remember(hosts)
	r.mu.Unlock()

	r.stats.IncHostResets()
	Logger.Infof("reset slaves to %v", hosts)
}

// --------------------------------------------------------------------------
// Connection creation
// --------------------------------------------------------------------------

// CreateMasterConnection connects to the master for a round-robin index
func (r *Resolver) CreateMasterConnection(ctx context.Context, i int) (conn.Conn, error) {
	ep, err := r.ResolveMaster(i)
	if err != nil {
		return nil, err
	}
	return r.CreateConnection(ctx, ep, true)
}

// CreateSlaveConnection connects to the slave for a round-robin index
func (r *Resolver) CreateSlaveConnection(ctx context.Context, i int) (conn.Conn, error) {
	ep, err := r.ResolveSlave(i)
	if err != nil {
		return nil, err
	}
	return r.CreateConnection(ctx, ep, false)
}

// CreateConnection connects to ep. If mustBeMaster is set and verification
// is enabled, a host that does not report the master role triggers a
// re-probe of all known hosts and a connection to the first confirmed master
// is returned instead.
func (r *Resolver) CreateConnection(ctx context.Context, ep endpoint.Endpoint, mustBeMaster bool) (conn.Conn, error) {
	c, err := r.dialer.Dial(ctx, ep)
	if err != nil {
		return nil, err
	}
	if !mustBeMaster || !r.verifyMaster {
		return c, nil
	}

	role, err := c.Role()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to query role of %s: %w", ep, err)
	}
	if role == conn.RoleMaster {
		return c, nil
	}
	_ = c.Close()

	r.stats.IncInvalidMasters()
	Logger.Warningf("master %s reports role %s, re-probing all known hosts", ep, role)

	return r.reprobe(ctx)
}

// reprobe queries the role of every known host, replaces both lists with
// the observed partition and returns a connection to the first master
func (r *Resolver) reprobe(ctx context.Context) (conn.Conn, error) {
	hosts := r.AllHosts()

	var (
		masters []endpoint.Endpoint
		slaves  []endpoint.Endpoint
		first   conn.Conn
	)

	for _, h := range hosts {
		c, role, err := r.probe(ctx, h)
		if err != nil {
			Logger.Debugf("excluding %s from re-probe: %v", h, err)
			continue
		}

		switch role {
		case conn.RoleMaster:
			masters = append(masters, h)
			if first == nil {
				first = c
				continue
			}
		case conn.RoleSlave:
			slaves = append(slaves, h)
		}
		_ = c.Close()
	}

	if len(masters) == 0 {
		r.stats.IncNoMastersFound()
		return nil, fmt.Errorf("%w among %d known hosts", ErrNoMasterFound, len(hosts))
	}

	r.ResetMasters(masters)
	r.ResetSlaves(slaves)
	return first, nil
}

// probe connects to h and queries its role within the probe timeout
func (r *Resolver) probe(ctx context.Context, h endpoint.Endpoint) (conn.Conn, conn.Role, error) {
	pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	c, err := r.dialer.Dial(pctx, h)
	if err != nil {
		return nil, conn.RoleUnknown, err
	}

	c.SetTimeouts(r.probeTimeout, r.probeTimeout)
	role, err := c.Role()
	if err != nil {
		_ = c.Close()
		return nil, conn.RoleUnknown, err
	}
	c.SetTimeouts(h.SendTimeout, h.ReceiveTimeout)
	return c, role, nil
}
