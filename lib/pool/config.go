package pool

import (
	"errors"
	"time"

	"github.com/ValentinKolb/replkv/lib/endpoint"
)

const (
	// DefaultPoolSizeMultiplier sizes a pool as hosts * multiplier if no
	// explicit size is configured
	DefaultPoolSizeMultiplier = 20

	// DefaultPoolTimeout is how long an acquire waits for a free slot
	DefaultPoolTimeout = 2 * time.Second

	// DefaultRecheckInterval is how often a waiting acquire rescans the slots
	// even without being signalled
	DefaultRecheckInterval = 100 * time.Millisecond

	// NoTimeout makes acquire wait until a slot frees up or ctx is done
	NoTimeout time.Duration = -1
)

// Config configures a Manager
type Config struct {
	// Masters are the read-write hosts, Slaves the read-only hosts
	Masters []endpoint.Endpoint
	Slaves  []endpoint.Endpoint

	// MaxWritePoolSize and MaxReadPoolSize are the slot counts
	// (0 = hosts * DefaultPoolSizeMultiplier)
	MaxWritePoolSize int
	MaxReadPoolSize  int

	// PoolTimeout bounds the wait for a free slot (0 = DefaultPoolTimeout,
	// NoTimeout = wait for ctx)
	PoolTimeout time.Duration

	// RecheckInterval is the longest a waiting acquire sleeps between scans
	RecheckInterval time.Duration

	// SendTimeout and ReceiveTimeout override the endpoint timeouts on
	// every checkout if set
	SendTimeout    time.Duration
	ReceiveTimeout time.Duration

	// DB is the logical database every client is switched to on checkout.
	// If 0, the database of the first master endpoint is used.
	DB int

	// Namespace prefixes the keys of the typed client commands
	Namespace string

	// StrictOwnership binds clients to the owner in the acquire context
	// (see client.WithOwner)
	StrictOwnership bool

	// VerifyMaster checks the role of new write connections
	VerifyMaster bool

	// ProbeTimeout bounds each host probe after a role mismatch
	ProbeTimeout time.Duration

	// SinglePool serves read-only requests from the write pool
	SinglePool bool

	// RetryTimeout is how long Exec retries connection faults (0 = no retry)
	RetryTimeout time.Duration
}

// withDefaults validates the config and fills in defaults
func (c Config) withDefaults() (Config, error) {
	if len(c.Masters) == 0 {
		return c, errors.New("at least one master host is required")
	}

	if c.MaxWritePoolSize <= 0 {
		c.MaxWritePoolSize = len(c.Masters) * DefaultPoolSizeMultiplier
	}
	if c.MaxReadPoolSize <= 0 {
		readHosts := len(c.Slaves)
		if readHosts == 0 {
			readHosts = len(c.Masters)
		}
		c.MaxReadPoolSize = readHosts * DefaultPoolSizeMultiplier
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = DefaultPoolTimeout
	}
	if c.RecheckInterval <= 0 {
		c.RecheckInterval = DefaultRecheckInterval
	}
	if c.DB == 0 {
		c.DB = c.Masters[0].DB
	}
	return c, nil
}
