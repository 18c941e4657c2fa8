package memconn

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrUnknownHost is returned when dialing an address no server listens on
	ErrUnknownHost = errors.New("memconn: no such host")

	// ErrConnRefused is returned when dialing a server that is down
	ErrConnRefused = errors.New("memconn: connection refused")

	// ErrConnReset is returned by operations on a connection whose server
	// went down or was killed
	ErrConnReset = errors.New("memconn: connection reset by peer")
)

// --------------------------------------------------------------------------
// Network
// --------------------------------------------------------------------------

// Network is a set of in-memory servers addressed by endpoint address.
// It implements conn.Dialer.
type Network struct {
	servers *xsync.MapOf[string, *Server]
	onDial  atomic.Pointer[func(ep endpoint.Endpoint)]
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{servers: xsync.NewMapOf[string, *Server]()}
}

// AddServer starts a server with its own dataset at addr
func (n *Network) AddServer(addr string, role conn.Role) *Server {
	s := newServer(addr, role, newStore())
	n.servers.Store(addr, s)
	return s
}

// AddReplica starts a server at addr that shares the dataset of primary.
// Writes through the primary are visible on the replica immediately.
func (n *Network) AddReplica(addr string, primary *Server) *Server {
	s := newServer(addr, conn.RoleSlave, primary.store)
	n.servers.Store(addr, s)
	return s
}

// Server returns the server listening at addr, or nil
func (n *Network) Server(addr string) *Server {
	s, _ := n.servers.Load(addr)
	return s
}

// OnDial registers a hook that runs before every successful dial returns
func (n *Network) OnDial(fn func(ep endpoint.Endpoint)) {
	if fn == nil {
		n.onDial.Store(nil)
		return
	}
	n.onDial.Store(&fn)
}

// Dial implements conn.Dialer
func (n *Network) Dial(ctx context.Context, ep endpoint.Endpoint) (conn.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, ok := n.servers.Load(ep.Addr())
	if !ok {
		return nil, fmt.Errorf("dial %s: %w", ep.Addr(), ErrUnknownHost)
	}
	if s.down.Load() {
		return nil, fmt.Errorf("dial %s: %w", ep.Addr(), ErrConnRefused)
	}

	c := &Conn{
		srv:         s,
		ep:          ep,
		sendTimeout: ep.SendTimeout,
		recvTimeout: ep.ReceiveTimeout,
	}
	if ep.DB != 0 {
		if err := c.Select(ep.DB); err != nil {
			return nil, err
		}
	}

	s.dials.Add(1)
	s.conns.Store(c, struct{}{})

	if hook := n.onDial.Load(); hook != nil {
		(*hook)(ep)
	}
	return c, nil
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server is one host of the in-memory store
type Server struct {
	addr  string
	store *store
	role  atomic.Int32
	down  atomic.Bool
	dials atomic.Int64
	conns *xsync.MapOf[*Conn, struct{}]
}

func newServer(addr string, role conn.Role, st *store) *Server {
	s := &Server{
		addr:  addr,
		store: st,
		conns: xsync.NewMapOf[*Conn, struct{}](),
	}
	s.role.Store(int32(role))
	return s
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	return s.addr
}

// Role returns the replication role the server reports
func (s *Server) Role() conn.Role {
	return conn.Role(s.role.Load())
}

// SetRole changes the reported role (e.g. to promote a replica)
func (s *Server) SetRole(r conn.Role) {
	s.role.Store(int32(r))
}

// SetDown makes the server refuse new dials and breaks all open connections.
// Bringing it back up does not revive broken connections.
func (s *Server) SetDown(down bool) {
	s.down.Store(down)
	if down {
		s.Kill()
	}
}

// Kill breaks every open connection while the server stays reachable
func (s *Server) Kill() {
	s.conns.Range(func(c *Conn, _ struct{}) bool {
		c.broken.Store(true)
		return true
	})
}

// Dials returns the number of successful dials so far
func (s *Server) Dials() int64 {
	return s.dials.Load()
}

// OpenConns returns the number of connections that were not closed yet
func (s *Server) OpenConns() int {
	return s.conns.Size()
}

// Get reads a string key directly from the dataset
func (s *Server) Get(db int, key string) ([]byte, bool) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	it := s.store.lookup(storeKey{db, key})
	if it == nil || it.isHash() {
		return nil, false
	}
	return clone(it.str), true
}

// Set writes a string key directly into the dataset
func (s *Server) Set(db int, key string, value []byte) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.put(storeKey{db, key}, &item{str: clone(value)})
}
