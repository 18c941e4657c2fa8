package conn

import (
	"context"
	"time"

	"github.com/ValentinKolb/replkv/lib/endpoint"
)

// --------------------------------------------------------------------------
// Connection Contract
// --------------------------------------------------------------------------

// Reply is the deferred reply of a command that was sent with Conn.Send.
// Each Read method consumes exactly one reply unit from the connection's
// reply stream, in the order the commands were sent. Reading is only valid
// after the connection has been flushed.
type Reply interface {
	// ReadVoid consumes a reply and only reports whether it was an error
	ReadVoid() error
	// ReadInt consumes an integer reply
	ReadInt() (int, error)
	// ReadInt64 consumes an integer reply
	ReadInt64() (int64, error)
	// ReadFloat consumes a bulk reply holding a float
	ReadFloat() (float64, error)
	// ReadBytes consumes a bulk reply. A nil bulk yields nil, nil.
	ReadBytes() ([]byte, error)
	// ReadString consumes a bulk reply as string
	ReadString() (string, error)
	// ReadMultiBytes consumes an array reply including all its elements
	ReadMultiBytes() ([][]byte, error)
	// ReadMultiString consumes an array reply including all its elements
	ReadMultiString() ([]string, error)
	// ReadArrayLen consumes only the header of an array reply, the elements
	// remain in the stream as individual reply units. A null array yields -1.
	ReadArrayLen() (int, error)
}

// Conn is a stateful handle to one session with a store host.
// A Conn is not safe for concurrent use, ownership is managed by the pool.
type Conn interface {
	// Endpoint returns the endpoint the connection is bound to
	Endpoint() endpoint.Endpoint
	// Send buffers a command. The bytes are written on the next Flush
	// (or earlier if the write buffer fills up).
	Send(cmd string, args ...any) (Reply, error)
	// Flush writes all buffered commands to the host
	Flush() error
	// Role queries the replication role reported by the host
	Role() (Role, error)
	// Usable reports whether the underlying session is still connected
	Usable() bool
	// DB returns the currently selected logical database
	DB() int
	// Select switches the logical database
	Select(db int) error
	// SetTimeouts sets the send and receive timeouts (0 = no timeout)
	SetTimeouts(send, receive time.Duration)
	// Close terminates the session
	Close() error
}

// Dialer creates connections to endpoints
type Dialer interface {
	Dial(ctx context.Context, ep endpoint.Endpoint) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, ep endpoint.Endpoint) (Conn, error)

// Dial calls f(ctx, ep)
func (f DialerFunc) Dial(ctx context.Context, ep endpoint.Endpoint) (Conn, error) {
	return f(ctx, ep)
}

// --------------------------------------------------------------------------
// Replication Role
// --------------------------------------------------------------------------

// Role is the replication role reported by a host
type Role int

const (
	RoleUnknown Role = iota
	RoleMaster
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return "unknown"
	}
}

// ParseRole converts the role name reported by ROLE / INFO replication
func ParseRole(s string) Role {
	switch s {
	case "master":
		return RoleMaster
	case "slave", "replica":
		return RoleSlave
	default:
		return RoleUnknown
	}
}
