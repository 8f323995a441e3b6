// Package memory watches memory pressure on behalf of native resources.
//
// Native allocations are invisible to the Go collector, so a host can run
// out of memory while the Go heap looks small. The Monitor samples the heap,
// the host and the number of tracked native resources, classifies each
// sample as normal, elevated or critical and responds:
//
//	elevated: Coordinator.Suggest (rate limited, asynchronous runtime.GC)
//	critical: Suggest, and with ForceCleanup the Tracker disposes
//	          resources idle for longer than StaleAfter
//
// Monitor.Run is meant to run on its own goroutine; nothing here sits on a
// caller's path.
package memory
