// Package batch coalesces small native requests into one native call.
//
// A Queue collects entries until MaxSize are waiting or MaxWait has passed
// since the first one, then hands the whole batch to its Invoke function as
// a single List argument. The native result is mapped back to the entries
// by position, or by request id when MatchByID is set, and each entry's
// Pending resolves exactly once.
//
//	q := batch.New("sign", batch.DefaultConfig(), func(ctx context.Context, args []native.Value) (native.Value, error) {
//	    return manager.CallTable(ctx, table, "sign_batch", args)
//	})
//	sig, err := q.Enqueue(native.Bytes(msg)).Wait(ctx)
//
// Queues are serialized by default: one batch in flight, batches executed
// in flush order.
package batch
