package pipeline

import (
	"context"
	"time"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/conn"
)

// SendFunc writes one command to the connection (buffered) and returns its
// deferred reply
type SendFunc func(cn conn.Conn) (conn.Reply, error)

// operation is one queued command: its send action, the bound reply reader
// and the reply handle of the last send
type operation struct {
	send    SendFunc
	read    func(conn.Reply) error
	onError func(error)
	reply   conn.Reply
}

// queue holds the commands of a pipeline or transaction in send order
type queue struct {
	c       *client.Client
	ops     []*operation
	pending bool
	closed  bool
}

// Client returns the client the commands are sent with
func (q *queue) Client() *client.Client {
	return q.c
}

// Len returns the number of queued commands
func (q *queue) Len() int {
	return len(q.ops)
}

// check runs before every flush
func (q *queue) check(ctx context.Context) error {
	if q.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if q.c.IsDisposed() {
		return client.ErrDisposed
	}
	return q.c.CheckAccess(ctx)
}

// Queue runs send against the client's connection and binds the reply
// reader for kind to cb. The command is written on the next flush.
func (q *queue) Queue(kind ReplyKind, send SendFunc, cb Callbacks) error {
	if q.closed {
		return ErrClosed
	}
	if q.pending {
		return ErrPendingOperation
	}
	read, err := reader(kind, cb)
	if err != nil {
		return err
	}

	q.pending = true
	reply, err := send(q.c.Conn())
	q.pending = false
	if err != nil {
		q.c.MarkFaulty()
		return err
	}

	q.ops = append(q.ops, &operation{send: send, read: read, onError: cb.OnError, reply: reply})
	return nil
}

// resend re-issues every send action in order
func (q *queue) resend() error {
	cn := q.c.Conn()
	for _, op := range q.ops {
		reply, err := op.send(cn)
		if err != nil {
			q.c.MarkFaulty()
			return err
		}
		op.reply = reply
	}
	return nil
}

// reconnect replaces the connection if it can no longer be trusted
func (q *queue) reconnect(ctx context.Context) error {
	if q.c.Conn().Usable() && !q.c.HadExceptions() {
		return nil
	}
	Logger.Debugf("reconnecting %s before replay", q.c)
	return q.c.Reconnect(ctx)
}

// process reads the reply of op from r. Reply errors go to the error
// callback if there is one. Everything else leaves the reply stream in an
// unknown state and marks the client faulty.
func (q *queue) process(op *operation, r conn.Reply) error {
	err := op.read(r)
	if err == nil {
		return nil
	}
	if !conn.IsConnectionFault(err) && op.onError != nil {
		op.onError(err)
		return nil
	}
	q.c.MarkFaulty()
	return err
}

// --------------------------------------------------------------------------
// Typed commands
// --------------------------------------------------------------------------

// QueueCommand queues cmd with args
func (q *queue) QueueCommand(kind ReplyKind, cb Callbacks, cmd string, args ...any) error {
	return q.Queue(kind, func(cn conn.Conn) (conn.Reply, error) {
		return cn.Send(cmd, args...)
	}, cb)
}

// Ping queues a PING
func (q *queue) Ping() error {
	return q.QueueCommand(ReplyVoid, Callbacks{}, "PING")
}

// Set queues a SET. A ttl > 0 sets a millisecond expiry.
func (q *queue) Set(key string, value any, ttl time.Duration) error {
	args := []any{q.c.Key(key), value}
	if ttl > 0 {
		args = append(args, "PX", ttl)
	}
	return q.QueueCommand(ReplyVoid, Callbacks{}, "SET", args...)
}

// Get queues a GET, fn receives nil for a missing key
func (q *queue) Get(key string, fn func([]byte)) error {
	return q.QueueCommand(ReplyBytes, Callbacks{OnBytes: fn}, "GET", q.c.Key(key))
}

// Incr queues an INCR, fn receives the new value
func (q *queue) Incr(key string, fn func(int64)) error {
	return q.QueueCommand(ReplyInt, Callbacks{OnInt64: fn}, "INCR", q.c.Key(key))
}

// IncrBy queues an INCRBY, fn receives the new value
func (q *queue) IncrBy(key string, delta int64, fn func(int64)) error {
	return q.QueueCommand(ReplyInt, Callbacks{OnInt64: fn}, "INCRBY", q.c.Key(key), delta)
}

// Del queues a DEL, fn receives the number of removed keys
func (q *queue) Del(fn func(int64), keys ...string) error {
	return q.QueueCommand(ReplyInt, Callbacks{OnInt64: fn}, "DEL", q.keys(keys)...)
}

// Expire queues a PEXPIRE, fn receives whether the key exists
func (q *queue) Expire(key string, ttl time.Duration, fn func(bool)) error {
	return q.QueueCommand(ReplyInt, Callbacks{OnBool: fn}, "PEXPIRE", q.c.Key(key), ttl)
}

// Exists queues an EXISTS
func (q *queue) Exists(key string, fn func(bool)) error {
	return q.QueueCommand(ReplyInt, Callbacks{OnBool: fn}, "EXISTS", q.c.Key(key))
}

// HGetAll queues an HGETALL
func (q *queue) HGetAll(key string, fn func(map[string]string)) error {
	return q.QueueCommand(ReplyMultiBytes, Callbacks{OnMap: fn}, "HGETALL", q.c.Key(key))
}

// MGet queues an MGET, fn receives nil for missing keys
func (q *queue) MGet(fn func([][]byte), keys ...string) error {
	return q.QueueCommand(ReplyMultiBytes, Callbacks{OnMultiBytes: fn}, "MGET", q.keys(keys)...)
}

func (q *queue) keys(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = q.c.Key(k)
	}
	return out
}
