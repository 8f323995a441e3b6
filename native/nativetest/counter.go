// Package nativetest provides a tiny WebAssembly library for exercising
// native tables without a toolchain.
package nativetest

// CounterWASM is a small core module standing in for a native library.
// It exports:
//
//	create() -> i64          increments a counter and returns it
//	destroy(i64) -> i32      returns 0
//	add(i32, i32) -> i32
//	last_error() -> i32      returns and clears the status
//	crash()                  traps
//	busy() -> i32            sets status 2 (busy) and returns 0
var CounterWASM = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section
	0x01, 0x17, 0x05,
	0x60, 0x00, 0x01, 0x7e,
	0x60, 0x01, 0x7e, 0x01, 0x7f,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x60, 0x00, 0x01, 0x7f,
	0x60, 0x00, 0x00,
	// function section
	0x03, 0x07, 0x06, 0x00, 0x01, 0x02, 0x03, 0x04, 0x03,
	// global section: counter, status
	0x06, 0x0b, 0x02,
	0x7f, 0x01, 0x41, 0x00, 0x0b,
	0x7f, 0x01, 0x41, 0x00, 0x0b,
	// export section
	0x07, 0x36, 0x06,
	0x06, 'c', 'r', 'e', 'a', 't', 'e', 0x00, 0x00,
	0x07, 'd', 'e', 's', 't', 'r', 'o', 'y', 0x00, 0x01,
	0x03, 'a', 'd', 'd', 0x00, 0x02,
	0x0a, 'l', 'a', 's', 't', '_', 'e', 'r', 'r', 'o', 'r', 0x00, 0x03,
	0x05, 'c', 'r', 'a', 's', 'h', 0x00, 0x04,
	0x04, 'b', 'u', 's', 'y', 0x00, 0x05,
	// code section
	0x0a, 0x31, 0x06,
	0x0c, 0x00, 0x23, 0x00, 0x41, 0x01, 0x6a, 0x24, 0x00, 0x23, 0x00, 0xad, 0x0b,
	0x04, 0x00, 0x41, 0x00, 0x0b,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
	0x08, 0x00, 0x23, 0x01, 0x41, 0x00, 0x24, 0x01, 0x0b,
	0x03, 0x00, 0x00, 0x0b,
	0x08, 0x00, 0x41, 0x02, 0x24, 0x01, 0x41, 0x00, 0x0b,
}

// CounterWIT declares the signatures of CounterWASM.
const CounterWIT = `
create: func() -> u64;
destroy: func(h: u64) -> s32;
add: func(a: s32, b: s32) -> s32;
busy: func() -> s32;
crash: func();
`
