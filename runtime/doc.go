// Package runtime is the front door to a native library guarded by
// nativeguard.
//
// # Quick Start
//
//	loader := native.NewLoader(native.WasmFile("wallet.wasm", native.WasmConfig{WIT: witText}),
//	    native.WithRequiredExports("wallet_create", "wallet_destroy"))
//
//	rt, err := runtime.New(ctx, loader, runtime.WithLogger(log))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	rt.RegisterType(runtime.TypeSpec{
//	    Tag:     "wallet",
//	    Create:  "wallet_create",
//	    Destroy: "wallet_destroy",
//	})
//
//	w, err := rt.AcquireResource(ctx, "wallet")
//	if err != nil {
//	    return err
//	}
//	defer rt.Dispose(ctx, w)
//
//	balance, err := rt.InvokeOn(ctx, w, "wallet_balance")
//
// # Calls
//
// Invoke and InvokeOn run through the call manager: per-endpoint circuit
// breakers, classification of failures into caller, transient and fatal,
// and retries with exponential backoff for transient ones. Validators
// registered with RegisterValidator run first, so rejected input never
// reaches the library or counts against a circuit.
//
// # Batching
//
// RegisterBatch gives an operation a coalescing queue. Enqueue returns a
// batch.Pending at once; requests are flushed together when the batch is
// full or MaxWait has passed:
//
//	rt.RegisterBatch("balance_many", batch.DefaultConfig())
//	p := rt.Enqueue("balance_many", native.String(addr))
//	v, err := p.Wait(ctx)
//
// # Background work
//
// Unless WithoutWatchers is given, New starts a leak sweep over the
// resource tracker and the memory pressure monitor. Both stop at Close,
// which also drains the queues, disposes every live resource and closes
// the library.
package runtime
