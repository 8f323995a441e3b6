// Package resource manages handles to native-owned objects.
//
// A Handle is an opaque token: a native identifier plus a type tag and a
// disposed flag. A Resource pairs a handle with the destructor that releases
// it. The destructor runs exactly once no matter how many times, or from how
// many goroutines, Dispose is called.
//
//	r := resource.New(tracker, resource.NewHandle(id, "wallet"), destroy)
//	defer r.Dispose(ctx)
//
//	err := r.Use("balance", func(h *resource.Handle) error {
//	    return nativeBalance(h.ID())
//	})
//
// Using and Acquire scope a resource to a function and dispose it on every
// exit path, including panics. A Stack does the same for a group: resources
// pushed onto it are released in reverse order when it is closed.
//
// # Tracking
//
// A Tracker keeps weak references to live resources. It never extends their
// lifetime. Sweep finds wrappers that were garbage collected without Dispose
// and reports them as leaks, and DisposeAll releases every registered
// resource matching a predicate, which is how idle resources are reclaimed
// under memory pressure.
//
// Observers receive lifecycle events synchronously:
//
//	unsubscribe := tracker.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    if e.Type == resource.EventLeaked {
//	        log.Printf("leaked %s", e.Info.Key)
//	    }
//	}))
//	defer unsubscribe()
package resource
