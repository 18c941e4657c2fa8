package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/conn"
)

// Transaction queues commands between MULTI and EXEC. The store applies
// them all at once, or none of them if a key watched before Begin changed.
//
// A Transaction is not safe for concurrent use.
type Transaction struct {
	queue
	multi     conn.Reply
	committed bool // Commit ran at least once
}

// Begin opens a transaction on c and buffers MULTI
func Begin(c *client.Client) (*Transaction, error) {
	if err := c.BeginBatch(client.BatchTransaction); err != nil {
		return nil, err
	}
	t := &Transaction{queue: queue{c: c}}
	if err := t.sendMulti(); err != nil {
		c.EndBatch(client.BatchTransaction)
		return nil, err
	}
	return t, nil
}

func (t *Transaction) sendMulti() error {
	r, err := t.c.Conn().Send("MULTI")
	if err != nil {
		t.c.MarkFaulty()
		return err
	}
	t.multi = r
	return nil
}

// Commit sends EXEC and processes the replies. It returns false, nil if the
// transaction was aborted because a watched key changed; no callback is
// called in that case. The transaction is finished on every path.
func (t *Transaction) Commit(ctx context.Context) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	defer t.finish()
	t.committed = true

	exec, err := t.c.Conn().Send("EXEC")
	if err != nil {
		t.c.MarkFaulty()
		return false, err
	}
	if err := t.c.Conn().Flush(); err != nil {
		t.c.MarkFaulty()
		return false, err
	}

	err = t.readReplies(exec)
	if errors.Is(err, ErrTransactionAborted) {
		Logger.Debugf("transaction on %s aborted, a watched key changed", t.c)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// readReplies reads MULTI's reply, one QUEUED per command, the length of
// EXEC's result array and then the result of every command
func (t *Transaction) readReplies(exec conn.Reply) error {
	if err := t.multi.ReadVoid(); err != nil {
		return t.fatal("MULTI", err)
	}
	for i, op := range t.ops {
		if err := op.reply.ReadVoid(); err != nil {
			return t.fatal(fmt.Sprintf("command %d", i), err)
		}
	}

	n, err := exec.ReadArrayLen()
	if err != nil {
		return t.fatal("EXEC", err)
	}
	if n == -1 {
		return ErrTransactionAborted
	}
	if n != len(t.ops) {
		return t.fatal("EXEC", fmt.Errorf("%d results for %d commands", n, len(t.ops)))
	}

	for _, op := range t.ops {
		if err := t.process(op, exec); err != nil {
			return err
		}
	}
	return nil
}

// fatal marks the client faulty. Errors other than connection faults mean
// the replies did not match the commands and become a *ProtocolError.
func (t *Transaction) fatal(stage string, err error) error {
	t.c.MarkFaulty()
	if conn.IsConnectionFault(err) {
		return err
	}
	Logger.Warningf("transaction on %s out of sync at %s: %v", t.c, stage, err)
	return &ProtocolError{Stage: stage, Err: err}
}

// Rollback abandons the transaction before Commit. MULTI and the queued
// commands are already buffered on the connection, so the client is marked
// faulty and will be retired by the pool.
func (t *Transaction) Rollback() error {
	if t.closed {
		return ErrClosed
	}
	t.c.MarkFaulty()
	t.finish()
	return nil
}

// Close rolls back a transaction that was neither committed nor rolled back
func (t *Transaction) Close() error {
	if t.closed {
		return nil
	}
	return t.Rollback()
}

// Replay runs a transaction again after Commit: MULTI, every queued command and
// EXEC. The connection is replaced first if it broke or the commit failed.
func (t *Transaction) Replay(ctx context.Context) (bool, error) {
	if !t.committed {
		return false, ErrNotCommitted
	}
	if err := t.c.BeginBatch(client.BatchTransaction); err != nil {
		return false, err
	}
	t.closed = false

	if err := t.reconnect(ctx); err != nil {
		t.finish()
		return false, err
	}
	if err := t.sendMulti(); err != nil {
		t.finish()
		return false, err
	}
	if err := t.resend(); err != nil {
		t.finish()
		return false, err
	}
	return t.Commit(ctx)
}

func (t *Transaction) finish() {
	t.closed = true
	t.c.EndBatch(client.BatchTransaction)
}
