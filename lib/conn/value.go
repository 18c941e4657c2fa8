package conn

import (
	"strconv"
)

// --------------------------------------------------------------------------
// Reply Values
// --------------------------------------------------------------------------

// Kind is the wire type of a reply unit
type Kind byte

const (
	KindStatus Kind = '+'
	KindError  Kind = '-'
	KindInt    Kind = ':'
	KindBulk   Kind = '$'
	KindArray  Kind = '*'
)

// Value is one fully parsed reply unit
type Value struct {
	Kind  Kind
	Data  []byte
	Int   int64
	Null  bool
	Elems []Value
}

// Status creates a status reply (e.g. "OK", "QUEUED")
func Status(s string) Value { return Value{Kind: KindStatus, Data: []byte(s)} }

// Error creates an error reply
func Error(msg string) Value { return Value{Kind: KindError, Data: []byte(msg)} }

// Int creates an integer reply
func Int(n int64) Value { return Value{Kind: KindInt, Int: n} }

// Bulk creates a bulk reply, nil yields the nil bulk
func Bulk(b []byte) Value {
	if b == nil {
		return Value{Kind: KindBulk, Null: true}
	}
	return Value{Kind: KindBulk, Data: b}
}

// Array creates an array reply
func Array(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Kind: KindArray, Elems: elems}
}

// NullArray creates the nil array reply (e.g. an aborted EXEC)
func NullArray() Value { return Value{Kind: KindArray, Null: true} }

// TypeName returns a readable name of the reply type
func (v Value) TypeName() string {
	switch v.Kind {
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	case KindInt:
		return "integer"
	case KindBulk:
		if v.Null {
			return "nil"
		}
		return "bulk"
	case KindArray:
		if v.Null {
			return "nil array"
		}
		return "array"
	default:
		return "unknown"
	}
}

// Err returns a *ReplyError for error replies and nil otherwise
func (v Value) Err() error {
	if v.Kind == KindError {
		return &ReplyError{Msg: string(v.Data)}
	}
	return nil
}

// AsInt64 converts integer replies and bulk/status replies holding a number
func (v Value) AsInt64() (int64, error) {
	switch v.Kind {
	case KindInt:
		return v.Int, nil
	case KindBulk, KindStatus:
		if v.Null {
			break
		}
		n, err := strconv.ParseInt(string(v.Data), 10, 64)
		if err != nil {
			return 0, &UnexpectedReplyError{Want: "integer", Got: strconv.Quote(string(v.Data))}
		}
		return n, nil
	case KindError:
		return 0, v.Err()
	}
	return 0, &UnexpectedReplyError{Want: "integer", Got: v.TypeName()}
}

// AsFloat converts integer replies and bulk/status replies holding a float
func (v Value) AsFloat() (float64, error) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), nil
	case KindBulk, KindStatus:
		if v.Null {
			break
		}
		f, err := strconv.ParseFloat(string(v.Data), 64)
		if err != nil {
			return 0, &UnexpectedReplyError{Want: "float", Got: strconv.Quote(string(v.Data))}
		}
		return f, nil
	case KindError:
		return 0, v.Err()
	}
	return 0, &UnexpectedReplyError{Want: "float", Got: v.TypeName()}
}

// AsBytes converts any non-array reply to bytes. The nil bulk yields nil.
func (v Value) AsBytes() ([]byte, error) {
	switch v.Kind {
	case KindBulk:
		if v.Null {
			return nil, nil
		}
		return v.Data, nil
	case KindStatus:
		return v.Data, nil
	case KindInt:
		return strconv.AppendInt(nil, v.Int, 10), nil
	case KindError:
		return nil, v.Err()
	}
	return nil, &UnexpectedReplyError{Want: "bulk", Got: v.TypeName()}
}

// AsMultiBytes converts an array reply. Nested arrays (like the replica list
// of ROLE) are not flattened and yield nil entries.
func (v Value) AsMultiBytes() ([][]byte, error) {
	if v.Kind == KindError {
		return nil, v.Err()
	}
	if v.Kind != KindArray {
		return nil, &UnexpectedReplyError{Want: "array", Got: v.TypeName()}
	}
	if v.Null {
		return nil, nil
	}
	out := make([][]byte, len(v.Elems))
	for i, e := range v.Elems {
		if e.Kind == KindArray {
			continue
		}
		b, err := e.AsBytes()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Generic Reply implementation
// --------------------------------------------------------------------------

// ValueSource is the reply stream of a connection
type ValueSource interface {
	// NextValue consumes the next complete reply unit
	NextValue() (Value, error)
	// NextArrayLen consumes the header of the next reply unit. The elements
	// of an array become individual units at the front of the stream.
	NextArrayLen() (int, error)
}

// NewReply returns a Reply that reads from the given stream
func NewReply(src ValueSource) Reply {
	return valueReply{src: src}
}

type valueReply struct {
	src ValueSource
}

func (r valueReply) next() (Value, error) {
	v, err := r.src.NextValue()
	if err != nil {
		return Value{}, err
	}
	return v, v.Err()
}

func (r valueReply) ReadVoid() error {
	_, err := r.next()
	return err
}

func (r valueReply) ReadInt() (int, error) {
	n, err := r.ReadInt64()
	return int(n), err
}

func (r valueReply) ReadInt64() (int64, error) {
	v, err := r.next()
	if err != nil {
		return 0, err
	}
	return v.AsInt64()
}

func (r valueReply) ReadFloat() (float64, error) {
	v, err := r.next()
	if err != nil {
		return 0, err
	}
	return v.AsFloat()
}

func (r valueReply) ReadBytes() ([]byte, error) {
	v, err := r.next()
	if err != nil {
		return nil, err
	}
	return v.AsBytes()
}

func (r valueReply) ReadString() (string, error) {
	b, err := r.ReadBytes()
	return string(b), err
}

func (r valueReply) ReadMultiBytes() ([][]byte, error) {
	v, err := r.next()
	if err != nil {
		return nil, err
	}
	return v.AsMultiBytes()
}

func (r valueReply) ReadMultiString() ([]string, error) {
	bs, err := r.ReadMultiBytes()
	if err != nil || bs == nil {
		return nil, err
	}
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out, nil
}

func (r valueReply) ReadArrayLen() (int, error) {
	return r.src.NextArrayLen()
}
