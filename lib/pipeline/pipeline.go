package pipeline

import (
	"context"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the logger for the pipeline package
var Logger = logger.GetLogger("pipeline")

// Pipeline batches commands on one client. Commands are buffered when they
// are queued and written together on Flush, the replies are then read in
// queue order and passed to the callbacks.
//
// A Pipeline is not safe for concurrent use.
type Pipeline struct {
	queue
	next int // first operation whose reply was not read yet
}

// New opens a pipeline on c. Direct commands on c fail until the pipeline is
// closed.
func New(c *client.Client) (*Pipeline, error) {
	if err := c.BeginBatch(client.BatchPipeline); err != nil {
		return nil, err
	}
	return &Pipeline{queue: queue{c: c}}, nil
}

// Flush writes all buffered commands and processes the replies of every
// command queued since the last flush
func (p *Pipeline) Flush(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if err := p.c.Conn().Flush(); err != nil {
		p.c.MarkFaulty()
		return err
	}

	for p.next < len(p.ops) {
		op := p.ops[p.next]
		p.next++
		if err := p.process(op, op.reply); err != nil {
			// the remaining replies can no longer be matched to their commands
			p.next = len(p.ops)
			return err
		}
	}
	return nil
}

// Replay sends every queued command again and flushes. The connection is
// replaced first if it broke or a previous flush failed.
func (p *Pipeline) Replay(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if err := p.reconnect(ctx); err != nil {
		return err
	}
	if err := p.resend(); err != nil {
		return err
	}
	p.next = 0
	return p.Flush(ctx)
}

// Close releases the client's batch marker. Commands that were queued but
// never flushed are still buffered on the connection, so the client is
// marked faulty in that case.
func (p *Pipeline) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.next < len(p.ops) {
		Logger.Debugf("closing pipeline on %s with %d unflushed commands", p.c, len(p.ops)-p.next)
		p.c.MarkFaulty()
	}
	p.c.EndBatch(client.BatchPipeline)
	return nil
}
