package resp

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/ValentinKolb/replkv/lib/endpoint"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IConnector defines the transport-specific part of establishing a connection
type IConnector interface {
	// Connect establishes a single socket connection to the endpoint
	Connect(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, opts Options) error
}

// -----------------------------------------------------------
// TCP
// -----------------------------------------------------------

// tcpConnector implements the IConnector interface for TCP sockets
type tcpConnector struct{}

func (c *tcpConnector) GetName() string {
	return "tcp"
}

func (c *tcpConnector) Connect(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	d := net.Dialer{Timeout: ep.ConnectTimeout}
	return d.DialContext(ctx, "tcp", ep.Addr())
}

// UpgradeConnection applies the socket options to a TCP connection
func (c *tcpConnector) UpgradeConnection(conn net.Conn, opts Options) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(opts.TCPNoDelay); err != nil {
		return err
	}

	// Set socket buffer sizes if configured
	if opts.SocketWriteBuffer > 0 {
		if err := tcpConn.SetWriteBuffer(opts.SocketWriteBuffer); err != nil {
			return err
		}
	}
	if opts.SocketReadBuffer > 0 {
		if err := tcpConn.SetReadBuffer(opts.SocketReadBuffer); err != nil {
			return err
		}
	}

	// Enable keep-alive if configured
	if opts.TCPKeepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(opts.TCPKeepAlive); err != nil {
			return err
		}
	}

	return nil
}

// -----------------------------------------------------------
// TLS (TCP + crypto/tls)
// -----------------------------------------------------------

// tlsConnector wraps the tcp connector with a TLS client handshake
type tlsConnector struct {
	tcpConnector
	config *tls.Config
}

func (c *tlsConnector) GetName() string {
	return "tls"
}

func (c *tlsConnector) Connect(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	raw, err := c.tcpConnector.Connect(ctx, ep)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{}
	if c.config != nil {
		cfg = c.config.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = ep.Host
	}

	tlsConn := tls.Client(raw, cfg)
	if ep.ConnectTimeout > 0 {
		_ = tlsConn.SetDeadline(time.Now().Add(ep.ConnectTimeout))
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}

func (c *tlsConnector) UpgradeConnection(conn net.Conn, opts Options) error {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		return c.tcpConnector.UpgradeConnection(tlsConn.NetConn(), opts)
	}
	return nil
}

// -----------------------------------------------------------
// Unix sockets
// -----------------------------------------------------------

// unixConnector implements the IConnector interface for Unix sockets
type unixConnector struct{}

func (c *unixConnector) GetName() string {
	return "unix"
}

func (c *unixConnector) Connect(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	d := net.Dialer{Timeout: ep.ConnectTimeout}
	return d.DialContext(ctx, "unix", ep.Addr())
}

func (c *unixConnector) UpgradeConnection(net.Conn, Options) error {
	return nil
}
