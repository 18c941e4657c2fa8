/*
Package conn defines the contract between the connection pool and the code
that speaks to a store host.

A Conn is one session. Commands are buffered with Send, written with Flush
and their replies are consumed strictly in send order through the Reply
handle each Send returned:

	r1, _ := c.Send("INCR", "counter")
	r2, _ := c.Send("GET", "name")
	_ = c.Flush()
	n, _ := r1.ReadInt64()
	name, _ := r2.ReadString()

Errors fall into two classes. A *ReplyError is an error reply from the host
and leaves the reply stream in sync. Everything else (I/O errors, malformed
replies, closed connections) means the session can no longer be trusted;
IsConnectionFault distinguishes the two.

Two implementations exist: package resp talks RESP over tcp, tls or unix
sockets, and package memconn provides an in-memory replicated store used for
tests and local development.
*/
package conn
