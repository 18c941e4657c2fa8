package common

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/conn/memconn"
	"github.com/ValentinKolb/replkv/lib/conn/resp"
	"github.com/ValentinKolb/replkv/lib/deactivation"
	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/ValentinKolb/replkv/lib/pool"
	"github.com/ValentinKolb/replkv/lib/resolver"
)

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// TransportConfig configures the network connections
type TransportConfig struct {
	ReadBufferKB    int
	WriteBufferKB   int
	TCPNoDelay      bool
	TCPKeepAliveSec int
	ClientName      string
}

// ClientConfig holds all configuration parameters of the pooled client
type ClientConfig struct {
	// Masters are the read-write hosts, Slaves the read-only hosts
	// (see endpoint.Parse for the format)
	Masters []string
	Slaves  []string

	// pool settings
	MaxWritePoolSize int
	MaxReadPoolSize  int
	PoolTimeout      time.Duration
	RecheckInterval  time.Duration
	SinglePool       bool
	StrictOwnership  bool
	RetryTimeout     time.Duration

	// connection settings (0 = use the endpoint settings)
	SendTimeout    time.Duration
	ReceiveTimeout time.Duration
	DB             int
	Namespace      string

	// failover settings
	VerifyMaster bool
	ProbeTimeout time.Duration
	GracePeriod  time.Duration

	Transport TransportConfig

	// Logging configuration
	LogLevel string
}

// DefaultClientConfig returns the configuration used if nothing is set
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Masters:         []string{"localhost:6379"},
		PoolTimeout:     pool.DefaultPoolTimeout,
		RecheckInterval: pool.DefaultRecheckInterval,
		ProbeTimeout:    resolver.DefaultProbeTimeout,
		GracePeriod:     deactivation.DefaultGracePeriod,
		Transport: TransportConfig{
			ReadBufferKB:    16,
			WriteBufferKB:   16,
			TCPNoDelay:      true,
			TCPKeepAliveSec: 30,
		},
		LogLevel: "info",
	}
}

// ToManagerConfig parses the host lists and converts the configuration into
// a pool configuration
func (c *ClientConfig) ToManagerConfig() (pool.Config, error) {
	masters, err := endpoint.ParseList(c.Masters)
	if err != nil {
		return pool.Config{}, fmt.Errorf("invalid master host: %w", err)
	}
	slaves, err := endpoint.ParseList(c.Slaves)
	if err != nil {
		return pool.Config{}, fmt.Errorf("invalid slave host: %w", err)
	}

	return pool.Config{
		Masters:          masters,
		Slaves:           slaves,
		MaxWritePoolSize: c.MaxWritePoolSize,
		MaxReadPoolSize:  c.MaxReadPoolSize,
		PoolTimeout:      c.PoolTimeout,
		RecheckInterval:  c.RecheckInterval,
		SendTimeout:      c.SendTimeout,
		ReceiveTimeout:   c.ReceiveTimeout,
		DB:               c.DB,
		Namespace:        c.Namespace,
		StrictOwnership:  c.StrictOwnership,
		VerifyMaster:     c.VerifyMaster,
		ProbeTimeout:     c.ProbeTimeout,
		SinglePool:       c.SinglePool,
		RetryTimeout:     c.RetryTimeout,
	}, nil
}

// ToTransportOptions converts the transport settings into dialer options
func (c *ClientConfig) ToTransportOptions() resp.Options {
	opts := resp.DefaultOptions()
	if c.Transport.ReadBufferKB > 0 {
		opts.ReadBufferSize = c.Transport.ReadBufferKB * 1024
	}
	if c.Transport.WriteBufferKB > 0 {
		opts.WriteBufferSize = c.Transport.WriteBufferKB * 1024
	}
	opts.TCPNoDelay = c.Transport.TCPNoDelay
	opts.TCPKeepAlive = time.Duration(c.Transport.TCPKeepAliveSec) * time.Second
	opts.ClientName = c.Transport.ClientName
	return opts
}

// NewManager creates a pool for the configuration. Hosts of the form
// mem://name are served by in-memory stores that live as long as the pool:
// masters get their own dataset, slaves replicate the first master.
func (c *ClientConfig) NewManager(opts ...pool.Option) (*pool.Manager, error) {
	cfg, err := c.ToManagerConfig()
	if err != nil {
		return nil, err
	}

	dialer := conn.Dialer(resp.NewDialer(c.ToTransportOptions()))
	if mem := memNetwork(cfg.Masters, cfg.Slaves); mem != nil {
		network := dialer
		dialer = conn.DialerFunc(func(ctx context.Context, ep endpoint.Endpoint) (conn.Conn, error) {
			if ep.IsMem() {
				return mem.Dial(ctx, ep)
			}
			return network.Dial(ctx, ep)
		})
	}

	base := []pool.Option{pool.WithDialer(dialer), pool.WithGracePeriod(c.GracePeriod)}
	return pool.New(cfg, append(base, opts...)...)
}

// memNetwork starts an in-memory server for every mem:// host, nil if there
// is none
func memNetwork(masters, slaves []endpoint.Endpoint) *memconn.Network {
	var n *memconn.Network
	var primary *memconn.Server

	for _, ep := range masters {
		if !ep.IsMem() {
			continue
		}
		if n == nil {
			n = memconn.NewNetwork()
		}
		if n.Server(ep.Addr()) != nil {
			continue
		}
		s := n.AddServer(ep.Addr(), conn.RoleMaster)
		if primary == nil {
			primary = s
		}
	}
	for _, ep := range slaves {
		if !ep.IsMem() {
			continue
		}
		if n == nil {
			n = memconn.NewNetwork()
		}
		if n.Server(ep.Addr()) != nil {
			continue
		}
		if primary == nil {
			primary = n.AddServer(ep.Addr(), conn.RoleSlave)
			continue
		}
		n.AddReplica(ep.Addr(), primary)
	}
	return n
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	poolSize := func(n int) string {
		if n <= 0 {
			return "auto"
		}
		return strconv.Itoa(n)
	}

	// Hosts
	addSection("Masters")
	for i, host := range c.Masters {
		addField(strconv.Itoa(i), redact(host))
	}
	addSection("Slaves")
	if len(c.Slaves) == 0 {
		addField("-", "masters serve reads")
	}
	for i, host := range c.Slaves {
		addField(strconv.Itoa(i), redact(host))
	}

	// Pool settings
	addSection("Pool")
	addField("Write Pool Size", poolSize(c.MaxWritePoolSize))
	addField("Read Pool Size", poolSize(c.MaxReadPoolSize))
	addField("Pool Timeout", c.PoolTimeout.String())
	addField("Recheck Interval", c.RecheckInterval.String())
	addField("Single Pool", strconv.FormatBool(c.SinglePool))
	addField("Strict Ownership", strconv.FormatBool(c.StrictOwnership))
	addField("Retry Timeout", c.RetryTimeout.String())

	// Connection settings
	addSection("Connection")
	addField("Send Timeout", c.SendTimeout.String())
	addField("Receive Timeout", c.ReceiveTimeout.String())
	addField("Database", strconv.Itoa(c.DB))
	addField("Namespace", c.Namespace)
	addField("Read Buffer", fmt.Sprintf("%d KB", c.Transport.ReadBufferKB))
	addField("Write Buffer", fmt.Sprintf("%d KB", c.Transport.WriteBufferKB))
	addField("TCP No Delay", strconv.FormatBool(c.Transport.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))

	// Failover settings
	addSection("Failover")
	addField("Verify Master", strconv.FormatBool(c.VerifyMaster))
	addField("Probe Timeout", c.ProbeTimeout.String())
	addField("Grace Period", c.GracePeriod.String())

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// redact hides the password of a host string
func redact(host string) string {
	ep, err := endpoint.Parse(host)
	if err != nil {
		return host
	}
	return ep.String()
}
