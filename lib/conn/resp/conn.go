package resp

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/endpoint"
)

// respConn is a single RESP session. It is not safe for concurrent use.
type respConn struct {
	nc net.Conn
	ep endpoint.Endpoint
	br *bufio.Reader
	bw *bufio.Writer

	sendTimeout time.Duration
	recvTimeout time.Duration

	db      int
	pending int // number of sent commands whose reply was not read yet
	broken  atomic.Bool
	closed  atomic.Bool

	scratch []byte
}

func (c *respConn) Endpoint() endpoint.Endpoint {
	return c.ep
}

func (c *respConn) DB() int {
	return c.db
}

func (c *respConn) Usable() bool {
	return !c.closed.Load() && !c.broken.Load()
}

func (c *respConn) SetTimeouts(send, receive time.Duration) {
	c.sendTimeout = send
	c.recvTimeout = receive
}

func (c *respConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.nc.Close()
}

// fatal marks the connection broken and passes the error through
func (c *respConn) fatal(err error) error {
	if err != nil {
		c.broken.Store(true)
	}
	return err
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

func (c *respConn) Send(cmd string, args ...any) (conn.Reply, error) {
	if c.closed.Load() {
		return nil, conn.ErrClosed
	}
	if c.sendTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	}

	c.writeLen('*', 1+len(args))
	c.writeBulk([]byte(cmd))
	for _, a := range args {
		c.writeBulk(conn.ArgBytes(a))
	}

	// bufio keeps the first write error and returns it on every further call
	if _, err := c.bw.Write(nil); err != nil {
		return nil, c.fatal(err)
	}

	c.pending++
	return conn.NewReply(c), nil
}

func (c *respConn) writeLen(prefix byte, n int) {
	c.scratch = append(c.scratch[:0], prefix)
	c.scratch = strconv.AppendInt(c.scratch, int64(n), 10)
	c.scratch = append(c.scratch, '\r', '\n')
	_, _ = c.bw.Write(c.scratch)
}

func (c *respConn) writeBulk(b []byte) {
	c.writeLen('$', len(b))
	_, _ = c.bw.Write(b)
	_, _ = c.bw.WriteString("\r\n")
}

func (c *respConn) Flush() error {
	if c.closed.Load() {
		return conn.ErrClosed
	}
	if c.sendTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	}
	return c.fatal(c.bw.Flush())
}

// --------------------------------------------------------------------------
// Session commands
// --------------------------------------------------------------------------

func (c *respConn) Select(db int) error {
	r, err := c.Send("SELECT", db)
	if err != nil {
		return err
	}
	if err := c.Flush(); err != nil {
		return err
	}
	if err := r.ReadVoid(); err != nil {
		return err
	}
	c.db = db
	return nil
}

// Role asks the host for its replication role. Hosts that do not know the
// ROLE command are asked via INFO replication instead.
func (c *respConn) Role() (conn.Role, error) {
	r, err := c.Send("ROLE")
	if err != nil {
		return conn.RoleUnknown, err
	}
	if err := c.Flush(); err != nil {
		return conn.RoleUnknown, err
	}

	fields, err := r.ReadMultiString()
	if err == nil {
		if len(fields) == 0 {
			return conn.RoleUnknown, nil
		}
		return conn.ParseRole(fields[0]), nil
	}
	if !conn.IsReplyError(err) {
		return conn.RoleUnknown, err
	}

	r, err = c.Send("INFO", "replication")
	if err != nil {
		return conn.RoleUnknown, err
	}
	if err := c.Flush(); err != nil {
		return conn.RoleUnknown, err
	}
	info, err := r.ReadString()
	if err != nil {
		return conn.RoleUnknown, err
	}
	return parseInfoRole(info), nil
}

// parseInfoRole extracts the role line from an INFO replication section
func parseInfoRole(info string) conn.Role {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "role:"); ok {
			return conn.ParseRole(v)
		}
	}
	return conn.RoleUnknown
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// protocolError is a malformed reply; the stream cannot be trusted afterwards
type protocolError string

func (e protocolError) Error() string {
	return "resp protocol error: " + string(e)
}

// beginRead validates that a reply is outstanding and arms the read deadline
func (c *respConn) beginRead() error {
	if c.closed.Load() {
		return conn.ErrClosed
	}
	if c.broken.Load() {
		return c.fatal(net.ErrClosed)
	}
	if c.pending <= 0 {
		return conn.ErrNoReply
	}
	if c.recvTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.recvTimeout))
	}
	return nil
}

// readLine reads a CRLF terminated line, without the terminator
func (c *respConn) readLine() ([]byte, error) {
	line, err := c.br.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// long status lines are rare, fall back to an allocating read
		rest, err2 := c.br.ReadBytes('\n')
		line = append(append([]byte(nil), line...), rest...)
		err = err2
	}
	if err != nil {
		return nil, c.fatal(err)
	}
	n := len(line) - 2
	if n < 0 || line[n] != '\r' {
		return nil, c.fatal(protocolError("bad line terminator"))
	}
	return line[:n], nil
}

func parseLen(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, protocolError("bad length " + strconv.Quote(string(b)))
	}
	return n, nil
}

const (
	// maxBulkLen is the largest bulk string the server may send
	maxBulkLen = 512 << 20
	// maxArrayLen bounds the element count of a single array header
	maxArrayLen = 1 << 24
	// arrayPrealloc caps the elements allocated before they are read
	arrayPrealloc = 1024
)

// parseSize parses the length of a bulk string or array header. -1 marks a
// null value, anything below or above limit breaks the stream.
func parseSize(b []byte, limit int64) (int64, error) {
	n, err := parseLen(b)
	if err != nil {
		return 0, err
	}
	if n < -1 || n > limit {
		return 0, protocolError("bad length " + strconv.Quote(string(b)))
	}
	return n, nil
}

// readValue reads one complete reply unit including all nested elements
func (c *respConn) readValue() (conn.Value, error) {
	line, err := c.readLine()
	if err != nil {
		return conn.Value{}, err
	}
	return c.readValueFrom(line)
}

// readValueFrom parses a reply unit whose first line was already read
func (c *respConn) readValueFrom(line []byte) (conn.Value, error) {
	if len(line) == 0 {
		return conn.Value{}, c.fatal(protocolError("empty reply line"))
	}

	switch conn.Kind(line[0]) {
	case conn.KindStatus, conn.KindError:
		return conn.Value{Kind: conn.Kind(line[0]), Data: bytes.Clone(line[1:])}, nil

	case conn.KindInt:
		n, err := parseLen(line[1:])
		if err != nil {
			return conn.Value{}, c.fatal(err)
		}
		return conn.Int(n), nil

	case conn.KindBulk:
		n, err := parseSize(line[1:], maxBulkLen)
		if err != nil {
			return conn.Value{}, c.fatal(err)
		}
		if n < 0 {
			return conn.Bulk(nil), nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(c.br, buf); err != nil {
			return conn.Value{}, c.fatal(err)
		}
		if !bytes.HasSuffix(buf, []byte("\r\n")) {
			return conn.Value{}, c.fatal(protocolError("bad bulk terminator"))
		}
		return conn.Bulk(buf[:n]), nil

	case conn.KindArray:
		n, err := parseSize(line[1:], maxArrayLen)
		if err != nil {
			return conn.Value{}, c.fatal(err)
		}
		if n < 0 {
			return conn.NullArray(), nil
		}
		elems := make([]conn.Value, 0, min(n, arrayPrealloc))
		for i := int64(0); i < n; i++ {
			v, err := c.readValue()
			if err != nil {
				return conn.Value{}, err
			}
			elems = append(elems, v)
		}
		return conn.Array(elems...), nil

	default:
		return conn.Value{}, c.fatal(protocolError("unknown reply prefix " + strconv.Quote(string(line[:1]))))
	}
}

// NextValue consumes the next pending reply unit
func (c *respConn) NextValue() (conn.Value, error) {
	if err := c.beginRead(); err != nil {
		return conn.Value{}, err
	}
	v, err := c.readValue()
	if err != nil {
		return conn.Value{}, err
	}
	c.pending--
	return v, nil
}

// NextArrayLen consumes only the header of the next reply unit. The elements
// of an array become individual pending reply units.
func (c *respConn) NextArrayLen() (int, error) {
	if err := c.beginRead(); err != nil {
		return 0, err
	}
	line, err := c.readLine()
	if err != nil {
		return 0, err
	}
	if len(line) > 0 && conn.Kind(line[0]) == conn.KindArray {
		n, err := parseSize(line[1:], maxArrayLen)
		if err != nil {
			return 0, c.fatal(err)
		}
		c.pending--
		if n < 0 {
			return -1, nil
		}
		c.pending += int(n)
		return int(n), nil
	}

	v, err := c.readValueFrom(line)
	if err != nil {
		return 0, err
	}
	c.pending--
	if err := v.Err(); err != nil {
		return 0, err
	}
	return 0, &conn.UnexpectedReplyError{Want: "array", Got: v.TypeName()}
}
