package memconn

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/replkv/lib/conn"
)

// storeKey addresses a key inside a logical database
type storeKey struct {
	db  int
	key string
}

// item is a stored value, either a plain string or a hash
type item struct {
	str      []byte
	hash     map[string][]byte
	expireAt time.Time
}

func (it *item) isHash() bool {
	return it.hash != nil
}

// store is the dataset shared by a master and its replicas. Every write
// bumps the key's version, which is what WATCH compares at EXEC time.
type store struct {
	mu       sync.Mutex
	items    map[storeKey]*item
	versions map[storeKey]uint64
	now      func() time.Time
}

func newStore() *store {
	return &store{
		items:    make(map[storeKey]*item),
		versions: make(map[storeKey]uint64),
		now:      time.Now,
	}
}

// lookup returns the live item, expiring it lazily
func (s *store) lookup(k storeKey) *item {
	it, ok := s.items[k]
	if !ok {
		return nil
	}
	if !it.expireAt.IsZero() && !s.now().Before(it.expireAt) {
		delete(s.items, k)
		s.versions[k]++
		return nil
	}
	return it
}

func (s *store) put(k storeKey, it *item) {
	s.items[k] = it
	s.versions[k]++
}

func (s *store) remove(k storeKey) bool {
	if s.lookup(k) == nil {
		return false
	}
	delete(s.items, k)
	s.versions[k]++
	return true
}

func (s *store) version(k storeKey) uint64 {
	s.lookup(k)
	return s.versions[k]
}

// --------------------------------------------------------------------------
// Command table
// --------------------------------------------------------------------------

// command is a buffered command as sent by a client
type command struct {
	name string
	args [][]byte
}

type cmdFunc func(s *store, db int, args [][]byte) conn.Value

type cmdSpec struct {
	arity int // minimum number of arguments
	write bool
	fn    cmdFunc
}

var commands = map[string]cmdSpec{
	"PING":    {0, false, cmdPing},
	"ECHO":    {1, false, cmdEcho},
	"GET":     {1, false, cmdGet},
	"SET":     {2, true, cmdSet},
	"SETNX":   {2, true, cmdSetNX},
	"MGET":    {1, false, cmdMGet},
	"MSET":    {2, true, cmdMSet},
	"DEL":     {1, true, cmdDel},
	"EXISTS":  {1, false, cmdExists},
	"INCR":    {1, true, incrBy(1, false)},
	"DECR":    {1, true, incrBy(-1, false)},
	"INCRBY":  {2, true, incrBy(1, true)},
	"DECRBY":  {2, true, incrBy(-1, true)},
	"EXPIRE":  {2, true, expire(time.Second)},
	"PEXPIRE": {2, true, expire(time.Millisecond)},
	"PTTL":    {1, false, cmdPTTL},
	"HSET":    {3, true, cmdHSet},
	"HGET":    {2, false, cmdHGet},
	"HGETALL": {1, false, cmdHGetAll},
	"DBSIZE":  {0, false, cmdDBSize},
	"FLUSHDB": {0, true, cmdFlushDB},
}

func errArity(name string) conn.Value {
	return conn.Error("ERR wrong number of arguments for '" + strings.ToLower(name) + "' command")
}

var (
	errWrongType = conn.Error("WRONGTYPE Operation against a key holding the wrong kind of value")
	errNotInt    = conn.Error("ERR value is not an integer or out of range")
	errSyntax    = conn.Error("ERR syntax error")
	errReadOnly  = conn.Error("READONLY You can't write against a read only replica.")
)

func cmdPing(_ *store, _ int, args [][]byte) conn.Value {
	if len(args) > 0 {
		return conn.Bulk(args[0])
	}
	return conn.Status("PONG")
}

func cmdEcho(_ *store, _ int, args [][]byte) conn.Value {
	return conn.Bulk(args[0])
}

func cmdGet(s *store, db int, args [][]byte) conn.Value {
	it := s.lookup(storeKey{db, string(args[0])})
	if it == nil {
		return conn.Bulk(nil)
	}
	if it.isHash() {
		return errWrongType
	}
	return conn.Bulk(it.str)
}

func cmdSet(s *store, db int, args [][]byte) conn.Value {
	k := storeKey{db, string(args[0])}
	it := &item{str: clone(args[1])}
	nx := false

	for i := 2; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "NX":
			nx = true
		case "EX", "PX":
			if i+1 >= len(args) {
				return errSyntax
			}
			n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil || n <= 0 {
				return errNotInt
			}
			unit := time.Millisecond
			if strings.EqualFold(string(args[i]), "EX") {
				unit = time.Second
			}
			it.expireAt = s.now().Add(time.Duration(n) * unit)
			i++
		default:
			return errSyntax
		}
	}

	if nx && s.lookup(k) != nil {
		return conn.Bulk(nil)
	}
	s.put(k, it)
	return conn.Status("OK")
}

func cmdSetNX(s *store, db int, args [][]byte) conn.Value {
	k := storeKey{db, string(args[0])}
	if s.lookup(k) != nil {
		return conn.Int(0)
	}
	s.put(k, &item{str: clone(args[1])})
	return conn.Int(1)
}

func cmdMGet(s *store, db int, args [][]byte) conn.Value {
	out := make([]conn.Value, len(args))
	for i, a := range args {
		it := s.lookup(storeKey{db, string(a)})
		if it == nil || it.isHash() {
			out[i] = conn.Bulk(nil)
			continue
		}
		out[i] = conn.Bulk(it.str)
	}
	return conn.Array(out...)
}

func cmdMSet(s *store, db int, args [][]byte) conn.Value {
	if len(args)%2 != 0 {
		return errArity("MSET")
	}
	for i := 0; i < len(args); i += 2 {
		s.put(storeKey{db, string(args[i])}, &item{str: clone(args[i+1])})
	}
	return conn.Status("OK")
}

func cmdDel(s *store, db int, args [][]byte) conn.Value {
	var n int64
	for _, a := range args {
		if s.remove(storeKey{db, string(a)}) {
			n++
		}
	}
	return conn.Int(n)
}

func cmdExists(s *store, db int, args [][]byte) conn.Value {
	var n int64
	for _, a := range args {
		if s.lookup(storeKey{db, string(a)}) != nil {
			n++
		}
	}
	return conn.Int(n)
}

func incrBy(sign int64, withArg bool) cmdFunc {
	return func(s *store, db int, args [][]byte) conn.Value {
		delta := int64(1)
		if withArg {
			d, err := strconv.ParseInt(string(args[1]), 10, 64)
			if err != nil {
				return errNotInt
			}
			delta = d
		}
		delta *= sign

		k := storeKey{db, string(args[0])}
		var cur int64
		it := s.lookup(k)
		if it != nil {
			if it.isHash() {
				return errWrongType
			}
			n, err := strconv.ParseInt(string(it.str), 10, 64)
			if err != nil {
				return errNotInt
			}
			cur = n
		}
		cur += delta

		next := &item{str: strconv.AppendInt(nil, cur, 10)}
		if it != nil {
			next.expireAt = it.expireAt
		}
		s.put(k, next)
		return conn.Int(cur)
	}
}

func expire(unit time.Duration) cmdFunc {
	return func(s *store, db int, args [][]byte) conn.Value {
		n, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil {
			return errNotInt
		}
		k := storeKey{db, string(args[0])}
		it := s.lookup(k)
		if it == nil {
			return conn.Int(0)
		}
		if n <= 0 {
			s.remove(k)
			return conn.Int(1)
		}
		it.expireAt = s.now().Add(time.Duration(n) * unit)
		s.versions[k]++
		return conn.Int(1)
	}
}

func cmdPTTL(s *store, db int, args [][]byte) conn.Value {
	it := s.lookup(storeKey{db, string(args[0])})
	switch {
	case it == nil:
		return conn.Int(-2)
	case it.expireAt.IsZero():
		return conn.Int(-1)
	default:
		return conn.Int(it.expireAt.Sub(s.now()).Milliseconds())
	}
}

func cmdHSet(s *store, db int, args [][]byte) conn.Value {
	if len(args)%2 != 1 {
		return errArity("HSET")
	}
	k := storeKey{db, string(args[0])}
	it := s.lookup(k)
	if it == nil {
		it = &item{hash: make(map[string][]byte)}
	} else if !it.isHash() {
		return errWrongType
	}

	var added int64
	for i := 1; i < len(args); i += 2 {
		f := string(args[i])
		if _, ok := it.hash[f]; !ok {
			added++
		}
		it.hash[f] = clone(args[i+1])
	}
	s.put(k, it)
	return conn.Int(added)
}

func cmdHGet(s *store, db int, args [][]byte) conn.Value {
	it := s.lookup(storeKey{db, string(args[0])})
	if it == nil {
		return conn.Bulk(nil)
	}
	if !it.isHash() {
		return errWrongType
	}
	return conn.Bulk(it.hash[string(args[1])])
}

func cmdHGetAll(s *store, db int, args [][]byte) conn.Value {
	it := s.lookup(storeKey{db, string(args[0])})
	if it == nil {
		return conn.Array()
	}
	if !it.isHash() {
		return errWrongType
	}
	out := make([]conn.Value, 0, 2*len(it.hash))
	for f, v := range it.hash {
		out = append(out, conn.Bulk([]byte(f)), conn.Bulk(v))
	}
	return conn.Array(out...)
}

func cmdDBSize(s *store, db int, _ [][]byte) conn.Value {
	var n int64
	for k := range s.items {
		if k.db == db && s.lookup(k) != nil {
			n++
		}
	}
	return conn.Int(n)
}

func cmdFlushDB(s *store, db int, _ [][]byte) conn.Value {
	for k := range s.items {
		if k.db == db {
			delete(s.items, k)
			s.versions[k]++
		}
	}
	return conn.Status("OK")
}

func clone(b []byte) []byte {
	return append([]byte{}, b...)
}
