package resp

import (
	"crypto/tls"
	"time"
)

// Options holds the socket and buffer settings applied to every dialed connection
type Options struct {
	// ReadBufferSize is the size of the bufio reader in bytes
	ReadBufferSize int
	// WriteBufferSize is the size of the bufio writer in bytes
	WriteBufferSize int
	// SocketReadBuffer sets SO_RCVBUF on tcp sockets (0 = system default)
	SocketReadBuffer int
	// SocketWriteBuffer sets SO_SNDBUF on tcp sockets (0 = system default)
	SocketWriteBuffer int
	// TCPNoDelay disables Nagle's algorithm
	TCPNoDelay bool
	// TCPKeepAlive is the keep-alive period (0 = disabled)
	TCPKeepAlive time.Duration
	// TLSConfig is used for endpoints with ssl=true
	TLSConfig *tls.Config
	// ClientName is sent with CLIENT SETNAME after connecting if not empty
	ClientName string
}

// DefaultOptions returns the default socket options
func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		TCPNoDelay:      true,
		TCPKeepAlive:    30 * time.Second,
	}
}
