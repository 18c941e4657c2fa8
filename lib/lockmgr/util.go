package lockmgr

import (
	"strconv"
	"time"
)

// encodeExpiry returns the value stored at a lock key: the expiry in unix
// milliseconds plus one
func encodeExpiry(expiry time.Time) string {
	return strconv.FormatInt(expiry.UnixMilli()+1, 10)
}

// decodeExpiry parses a lock value, ok is false if it is not a valid expiry
func decodeExpiry(value []byte) (expiry time.Time, ok bool) {
	ms, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms - 1), true
}
