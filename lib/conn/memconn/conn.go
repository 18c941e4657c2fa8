package memconn

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/endpoint"
)

// Conn is a session with an in-memory server. Like a socket connection,
// sent commands are only executed on Flush and replies are consumed in order.
type Conn struct {
	srv *Server
	ep  endpoint.Endpoint
	db  int

	outbox []command
	inbox  []conn.Value

	// MULTI/EXEC and WATCH state of the session
	multi   bool
	dirty   bool
	queued  []command
	watched map[storeKey]uint64

	sendTimeout time.Duration
	recvTimeout time.Duration

	broken atomic.Bool
	closed atomic.Bool
}

var _ conn.Conn = (*Conn)(nil)

func (c *Conn) Endpoint() endpoint.Endpoint {
	return c.ep
}

func (c *Conn) DB() int {
	return c.db
}

func (c *Conn) Usable() bool {
	return !c.closed.Load() && !c.broken.Load() && !c.srv.down.Load()
}

func (c *Conn) SetTimeouts(send, receive time.Duration) {
	c.sendTimeout = send
	c.recvTimeout = receive
}

// Timeouts returns the timeouts last set on the connection
func (c *Conn) Timeouts() (send, receive time.Duration) {
	return c.sendTimeout, c.recvTimeout
}

// Break simulates a dead socket on this connection only
func (c *Conn) Break() {
	c.broken.Store(true)
}

func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.srv.conns.Delete(c)
	return nil
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

func (c *Conn) check() error {
	if c.closed.Load() {
		return conn.ErrClosed
	}
	if c.broken.Load() || c.srv.down.Load() {
		c.broken.Store(true)
		return ErrConnReset
	}
	return nil
}

func (c *Conn) Send(cmd string, args ...any) (conn.Reply, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = clone(conn.ArgBytes(a))
	}
	c.outbox = append(c.outbox, command{name: strings.ToUpper(cmd), args: raw})
	return conn.NewReply(c), nil
}

// Flush executes all buffered commands and queues their replies
func (c *Conn) Flush() error {
	if err := c.check(); err != nil {
		return err
	}
	st := c.srv.store
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, cmd := range c.outbox {
		c.inbox = append(c.inbox, c.execute(cmd))
	}
	c.outbox = c.outbox[:0]
	return nil
}

func (c *Conn) NextValue() (conn.Value, error) {
	if err := c.check(); err != nil {
		return conn.Value{}, err
	}
	if len(c.inbox) == 0 {
		return conn.Value{}, conn.ErrNoReply
	}
	v := c.inbox[0]
	c.inbox = c.inbox[1:]
	return v, nil
}

func (c *Conn) NextArrayLen() (int, error) {
	v, err := c.NextValue()
	if err != nil {
		return 0, err
	}
	if v.Kind != conn.KindArray {
		if err := v.Err(); err != nil {
			return 0, err
		}
		return 0, &conn.UnexpectedReplyError{Want: "array", Got: v.TypeName()}
	}
	if v.Null {
		return -1, nil
	}
	c.inbox = append(append([]conn.Value{}, v.Elems...), c.inbox...)
	return len(v.Elems), nil
}

func (c *Conn) Select(db int) error {
	r, err := c.Send("SELECT", db)
	if err != nil {
		return err
	}
	if err := c.Flush(); err != nil {
		return err
	}
	return r.ReadVoid()
}

func (c *Conn) Role() (conn.Role, error) {
	r, err := c.Send("ROLE")
	if err != nil {
		return conn.RoleUnknown, err
	}
	if err := c.Flush(); err != nil {
		return conn.RoleUnknown, err
	}
	fields, err := r.ReadMultiString()
	if err != nil || len(fields) == 0 {
		return conn.RoleUnknown, err
	}
	return conn.ParseRole(fields[0]), nil
}

// --------------------------------------------------------------------------
// Command execution (store lock held)
// --------------------------------------------------------------------------

// execute runs one command in the context of this session
func (c *Conn) execute(cmd command) conn.Value {
	switch cmd.name {
	case "MULTI":
		if c.multi {
			return conn.Error("ERR MULTI calls can not be nested")
		}
		c.multi, c.dirty, c.queued = true, false, nil
		return conn.Status("OK")

	case "EXEC":
		return c.exec()

	case "DISCARD":
		if !c.multi {
			return conn.Error("ERR DISCARD without MULTI")
		}
		c.resetTx()
		return conn.Status("OK")

	case "WATCH":
		if c.multi {
			return conn.Error("ERR WATCH inside MULTI is not allowed")
		}
		if len(cmd.args) == 0 {
			return errArity(cmd.name)
		}
		if c.watched == nil {
			c.watched = make(map[storeKey]uint64)
		}
		for _, k := range cmd.args {
			sk := storeKey{c.db, string(k)}
			if _, ok := c.watched[sk]; !ok {
				c.watched[sk] = c.srv.store.version(sk)
			}
		}
		return conn.Status("OK")

	case "UNWATCH":
		c.watched = nil
		return conn.Status("OK")
	}

	if c.multi {
		if v, ok := c.validate(cmd); !ok {
			c.dirty = true
			return v
		}
		c.queued = append(c.queued, cmd)
		return conn.Status("QUEUED")
	}
	return c.run(cmd)
}

// validate checks a command before it is queued inside MULTI
func (c *Conn) validate(cmd command) (conn.Value, bool) {
	switch cmd.name {
	case "SELECT", "ROLE", "INFO", "AUTH", "CLIENT":
		return conn.Value{}, true
	}
	spec, ok := commands[cmd.name]
	if !ok {
		return conn.Error("ERR unknown command '" + cmd.name + "'"), false
	}
	if len(cmd.args) < spec.arity {
		return errArity(cmd.name), false
	}
	if spec.write && c.srv.Role() != conn.RoleMaster {
		return errReadOnly, false
	}
	return conn.Value{}, true
}

func (c *Conn) exec() conn.Value {
	if !c.multi {
		return conn.Error("ERR EXEC without MULTI")
	}
	defer c.resetTx()

	if c.dirty {
		return conn.Error("EXECABORT Transaction discarded because of previous errors.")
	}
	for k, ver := range c.watched {
		if c.srv.store.version(k) != ver {
			return conn.NullArray()
		}
	}

	results := make([]conn.Value, len(c.queued))
	for i, cmd := range c.queued {
		results[i] = c.run(cmd)
	}
	return conn.Array(results...)
}

func (c *Conn) resetTx() {
	c.multi, c.dirty, c.queued, c.watched = false, false, nil, nil
}

// run executes a command outside of MULTI (or during EXEC)
func (c *Conn) run(cmd command) conn.Value {
	switch cmd.name {
	case "SELECT":
		if len(cmd.args) != 1 {
			return errArity(cmd.name)
		}
		db, err := strconv.Atoi(string(cmd.args[0]))
		if err != nil || db < 0 || db > 15 {
			return conn.Error("ERR DB index is out of range")
		}
		c.db = db
		return conn.Status("OK")

	case "ROLE":
		return conn.Array(conn.Bulk([]byte(c.srv.Role().String())))

	case "INFO":
		return conn.Bulk([]byte("# Replication\r\nrole:" + c.srv.Role().String() + "\r\n"))

	case "AUTH", "CLIENT":
		return conn.Status("OK")
	}

	spec, ok := commands[cmd.name]
	if !ok {
		return conn.Error("ERR unknown command '" + cmd.name + "'")
	}
	if len(cmd.args) < spec.arity {
		return errArity(cmd.name)
	}
	if spec.write && c.srv.Role() != conn.RoleMaster {
		return errReadOnly
	}
	return spec.fn(c.srv.store, c.db, cmd.args)
}
