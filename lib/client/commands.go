package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/replkv/lib/conn"
)

// guard runs before every direct command
func (c *Client) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.disposed.Load() {
		return ErrDisposed
	}
	if err := c.CheckAccess(ctx); err != nil {
		return err
	}
	if c.Batch() != BatchNone {
		return ErrBatchInProgress
	}
	return nil
}

// call sends one command, flushes and reads the reply with read
func call[T any](ctx context.Context, c *Client, read func(conn.Reply) (T, error), cmd string, args ...any) (T, error) {
	var zero T
	if err := c.guard(ctx); err != nil {
		return zero, err
	}
	cn := c.Conn()
	r, err := cn.Send(cmd, args...)
	if err != nil {
		return zero, c.Fault(err)
	}
	if err := cn.Flush(); err != nil {
		return zero, c.Fault(err)
	}
	v, err := read(r)
	if err != nil {
		return zero, c.Fault(err)
	}
	return v, nil
}

func readVoid(r conn.Reply) (struct{}, error) {
	return struct{}{}, r.ReadVoid()
}

func readBool(r conn.Reply) (bool, error) {
	n, err := r.ReadInt64()
	return n == 1, err
}

func readHash(r conn.Reply) (map[string]string, error) {
	fields, err := r.ReadMultiString()
	if err != nil {
		return nil, err
	}
	return PairsToMap(fields), nil
}

// PairsToMap converts a flat field/value list into a map
func PairsToMap(fields []string) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		m[fields[i]] = fields[i+1]
	}
	return m
}

func (c *Client) keys(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = c.Key(k)
	}
	return out
}

// --------------------------------------------------------------------------
// Typed commands
// --------------------------------------------------------------------------

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	_, err := call(ctx, c, readVoid, "PING")
	return err
}

// Get returns the value of key, nil if it does not exist
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	return call(ctx, c, conn.Reply.ReadBytes, "GET", c.Key(key))
}

// Set stores value at key. A ttl > 0 sets a millisecond expiry.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	args := []any{c.Key(key), value}
	if ttl > 0 {
		args = append(args, "PX", ttl)
	}
	_, err := call(ctx, c, readVoid, "SET", args...)
	return err
}

// SetNX stores value at key only if the key does not exist
func (c *Client) SetNX(ctx context.Context, key string, value any) (bool, error) {
	return call(ctx, c, readBool, "SETNX", c.Key(key), value)
}

// Del removes keys and returns how many existed
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return call(ctx, c, conn.Reply.ReadInt64, "DEL", c.keys(keys)...)
}

// Exists reports whether key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	return call(ctx, c, readBool, "EXISTS", c.Key(key))
}

// Incr increments the integer at key by one
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return call(ctx, c, conn.Reply.ReadInt64, "INCR", c.Key(key))
}

// IncrBy increments the integer at key by delta
func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return call(ctx, c, conn.Reply.ReadInt64, "INCRBY", c.Key(key), delta)
}

// Expire sets a millisecond expiry on key and reports whether it exists
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return call(ctx, c, readBool, "PEXPIRE", c.Key(key), ttl)
}

// MGet returns the values of all keys, nil for missing ones
func (c *Client) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	return call(ctx, c, conn.Reply.ReadMultiBytes, "MGET", c.keys(keys)...)
}

// HSet sets hash fields from a flat field/value list
func (c *Client) HSet(ctx context.Context, key string, fieldValues ...any) (int64, error) {
	args := append([]any{c.Key(key)}, fieldValues...)
	return call(ctx, c, conn.Reply.ReadInt64, "HSET", args...)
}

// HGetAll returns all fields of a hash
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return call(ctx, c, readHash, "HGETALL", c.Key(key))
}

// Watch marks keys for optimistic concurrency control of the next MULTI
func (c *Client) Watch(ctx context.Context, keys ...string) error {
	_, err := call(ctx, c, readVoid, "WATCH", c.keys(keys)...)
	return err
}

// Unwatch forgets all watched keys
func (c *Client) Unwatch(ctx context.Context) error {
	_, err := call(ctx, c, readVoid, "UNWATCH")
	return err
}

// Role queries the replication role of the host
func (c *Client) Role(ctx context.Context) (conn.Role, error) {
	if err := c.guard(ctx); err != nil {
		return conn.RoleUnknown, err
	}
	role, err := c.Conn().Role()
	if err != nil {
		return conn.RoleUnknown, c.Fault(err)
	}
	return role, nil
}
