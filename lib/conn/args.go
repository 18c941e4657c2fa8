package conn

import (
	"fmt"
	"strconv"
	"time"
)

// ArgBytes converts a command argument to its wire representation.
// Durations are sent as whole milliseconds.
func ArgBytes(arg any) []byte {
	switch v := arg.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	case int:
		return strconv.AppendInt(nil, int64(v), 10)
	case int64:
		return strconv.AppendInt(nil, v, 10)
	case int32:
		return strconv.AppendInt(nil, int64(v), 10)
	case uint64:
		return strconv.AppendUint(nil, v, 10)
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10)
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64)
	case bool:
		if v {
			return []byte("1")
		}
		return []byte("0")
	case time.Duration:
		return strconv.AppendInt(nil, v.Milliseconds(), 10)
	case nil:
		return []byte{}
	case fmt.Stringer:
		return []byte(v.String())
	default:
		return []byte(fmt.Sprint(v))
	}
}
