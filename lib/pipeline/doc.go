/*
Package pipeline batches commands on a single client.

A Pipeline buffers every queued command on the client's connection and
writes them together on Flush. The replies are then read strictly in queue
order and passed to the callbacks that were registered with each command.
An integer reply is handed to the int, int64 and bool callbacks, a bulk reply
to the bytes and string callbacks and an array reply to the multi-bytes,
multi-string and map callbacks.

A Transaction brackets the queued commands with MULTI and EXEC. On Commit the
replies are read as: the OK for MULTI, one QUEUED per command, the length of
the EXEC result array and finally one result per command. If a key watched
before Begin changed, EXEC returns a null array and Commit reports false
without calling any callback. Replies that do not match the commands yield a
*ProtocolError and the client is marked faulty.

While a pipeline or transaction is open, direct commands on the client fail
with client.ErrBatchInProgress. Close releases the client again; a
transaction that was not committed is rolled back.

	tx, err := pipeline.Begin(c)
	if err != nil {
		return err
	}
	defer tx.Close()

	_ = tx.Set("a", "1", 0)
	_ = tx.Incr("counter", func(n int64) { fmt.Println("counter:", n) })
	ok, err := tx.Commit(ctx)
*/
package pipeline
