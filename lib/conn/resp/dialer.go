package resp

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the logger for the resp package
var Logger = logger.GetLogger("conn")

// Dialer implements conn.Dialer for hosts speaking the RESP protocol over
// tcp, tls or unix sockets
type Dialer struct {
	opts Options
}

// NewDialer creates a new dialer with the given options
func NewDialer(opts Options) *Dialer {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultOptions().ReadBufferSize
	}
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = DefaultOptions().WriteBufferSize
	}
	return &Dialer{opts: opts}
}

// connectorFor selects the transport for an endpoint
func (d *Dialer) connectorFor(ep endpoint.Endpoint) IConnector {
	switch {
	case ep.IsUnix():
		return &unixConnector{}
	case ep.TLS:
		return &tlsConnector{config: d.opts.TLSConfig}
	default:
		return &tcpConnector{}
	}
}

// Dial connects to the endpoint and performs the session handshake
// (AUTH, SELECT, CLIENT SETNAME). The endpoint's timeouts become the
// connection's initial send and receive timeouts.
func (d *Dialer) Dial(ctx context.Context, ep endpoint.Endpoint) (conn.Conn, error) {
	if ep.IsMem() {
		return nil, fmt.Errorf("endpoint %s requires an in-memory dialer", ep)
	}

	connector := d.connectorFor(ep)

	nc, err := connector.Connect(ctx, ep)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s via %s: %w", ep, connector.GetName(), err)
	}

	if err := connector.UpgradeConnection(nc, d.opts); err != nil {
		Logger.Warningf("failed to apply socket options on %s: %v", ep, err)
	}

	c := newConn(nc, ep, d.opts)
	if err := c.handshake(ep, d.opts.ClientName); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("handshake with %s failed: %w", ep, err)
	}

	Logger.Debugf("connected to %s via %s", ep, connector.GetName())
	return c, nil
}

// newConn wraps an established socket
func newConn(nc net.Conn, ep endpoint.Endpoint, opts Options) *respConn {
	return &respConn{
		nc:          nc,
		ep:          ep,
		br:          bufio.NewReaderSize(nc, opts.ReadBufferSize),
		bw:          bufio.NewWriterSize(nc, opts.WriteBufferSize),
		sendTimeout: ep.SendTimeout,
		recvTimeout: ep.ReceiveTimeout,
	}
}

// handshake pipelines the session setup commands and checks every reply
func (c *respConn) handshake(ep endpoint.Endpoint, clientName string) error {
	var replies []conn.Reply

	send := func(cmd string, args ...any) error {
		r, err := c.Send(cmd, args...)
		if err != nil {
			return err
		}
		replies = append(replies, r)
		return nil
	}

	if ep.Password != "" {
		var err error
		if ep.Username != "" {
			err = send("AUTH", ep.Username, ep.Password)
		} else {
			err = send("AUTH", ep.Password)
		}
		if err != nil {
			return err
		}
	}
	if ep.DB != 0 {
		if err := send("SELECT", ep.DB); err != nil {
			return err
		}
	}
	if clientName != "" {
		if err := send("CLIENT", "SETNAME", clientName); err != nil {
			return err
		}
	}

	if len(replies) == 0 {
		return nil
	}
	if err := c.Flush(); err != nil {
		return err
	}
	for _, r := range replies {
		if err := r.ReadVoid(); err != nil {
			return err
		}
	}
	c.db = ep.DB
	return nil
}
