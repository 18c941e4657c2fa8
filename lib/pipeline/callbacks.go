package pipeline

import (
	"fmt"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/conn"
)

// ReplyKind selects how the reply of a queued command is read
type ReplyKind int

const (
	// ReplyVoid only checks for an error reply
	ReplyVoid ReplyKind = iota
	// ReplyInt reads an integer (OnInt, OnInt64, OnBool)
	ReplyInt
	// ReplyFloat reads a bulk holding a float (OnFloat)
	ReplyFloat
	// ReplyBytes reads a bulk (OnBytes, OnString)
	ReplyBytes
	// ReplyMultiBytes reads an array (OnMultiBytes, OnMultiString, OnMap)
	ReplyMultiBytes
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyVoid:
		return "void"
	case ReplyInt:
		return "int"
	case ReplyFloat:
		return "float"
	case ReplyBytes:
		return "bytes"
	case ReplyMultiBytes:
		return "multi-bytes"
	default:
		return fmt.Sprintf("ReplyKind(%d)", int(k))
	}
}

// Callbacks receive the reply of a queued command. Every callback that
// matches the reply kind is called, nil callbacks are skipped. OnBool is
// true if the integer reply is 1.
//
// If OnError is set, an error reply is passed to it and processing continues
// with the next command. Otherwise the error is returned by Flush or Commit.
type Callbacks struct {
	OnVoid        func()
	OnInt         func(int)
	OnInt64       func(int64)
	OnBool        func(bool)
	OnFloat       func(float64)
	OnBytes       func([]byte)
	OnString      func(string)
	OnMultiBytes  func([][]byte)
	OnMultiString func([]string)
	OnMap         func(map[string]string)
	OnError       func(error)
}

// reader binds the reply reader for kind to the callbacks
func reader(kind ReplyKind, cb Callbacks) (func(conn.Reply) error, error) {
	switch kind {
	case ReplyVoid:
		return func(r conn.Reply) error {
			if err := r.ReadVoid(); err != nil {
				return err
			}
			if cb.OnVoid != nil {
				cb.OnVoid()
			}
			return nil
		}, nil

	case ReplyInt:
		return func(r conn.Reply) error {
			n, err := r.ReadInt64()
			if err != nil {
				return err
			}
			if cb.OnInt != nil {
				cb.OnInt(int(n))
			}
			if cb.OnInt64 != nil {
				cb.OnInt64(n)
			}
			if cb.OnBool != nil {
				cb.OnBool(n == 1)
			}
			return nil
		}, nil

	case ReplyFloat:
		return func(r conn.Reply) error {
			f, err := r.ReadFloat()
			if err != nil {
				return err
			}
			if cb.OnFloat != nil {
				cb.OnFloat(f)
			}
			return nil
		}, nil

	case ReplyBytes:
		return func(r conn.Reply) error {
			b, err := r.ReadBytes()
			if err != nil {
				return err
			}
			if cb.OnBytes != nil {
				cb.OnBytes(b)
			}
			if cb.OnString != nil {
				cb.OnString(string(b))
			}
			return nil
		}, nil

	case ReplyMultiBytes:
		return func(r conn.Reply) error {
			bs, err := r.ReadMultiBytes()
			if err != nil {
				return err
			}
			if cb.OnMultiBytes != nil {
				cb.OnMultiBytes(bs)
			}
			if cb.OnMultiString == nil && cb.OnMap == nil {
				return nil
			}
			strs := make([]string, len(bs))
			for i, b := range bs {
				strs[i] = string(b)
			}
			if cb.OnMultiString != nil {
				cb.OnMultiString(strs)
			}
			if cb.OnMap != nil {
				cb.OnMap(client.PairsToMap(strs))
			}
			return nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown reply kind %v", kind)
	}
}
