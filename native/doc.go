// Package native is the boundary to the opaque native library.
//
// Everything crossing the boundary is a Value, a tagged union checked once
// against the entry point's Signature. Code above this package works with
// typed accessors and never re-inspects raw native data.
//
// A Table is the library's function table. FuncTable backs it with Go
// functions; WasmTable runs a WebAssembly module with wazero and treats its
// exports as entry points:
//
//	table, err := native.OpenWasm(ctx, binary, native.WasmConfig{
//	    WIT: `add: func(a: s32, b: s32) -> s32;`,
//	})
//	sum, err := table.Call(ctx, "add", []native.Value{native.Int(2), native.Int(3)})
//
// A module may export last_error, returning an i32 status for the call that
// just completed. Non-zero statuses surface as *StatusError. A trap leaves
// the module in an unknown state, so the table stops accepting calls and
// returns ErrUnavailable from then on.
//
// Loader loads a library once and shares the outcome between concurrent
// callers.
package native
