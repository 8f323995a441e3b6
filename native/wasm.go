package native

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/nativeguard/errors"
)

// LastErrorExport is the optional export a module uses to report an
// errno-style status for the call that just returned. It takes no
// arguments, returns an i32 and resets the status.
const LastErrorExport = "last_error"

// WasmConfig configures a WasmTable.
type WasmConfig struct {
	Logger *zap.Logger
	// WIT declares signatures for the exports. Without it signatures are
	// derived from the core wasm types.
	WIT string
	// Name is the module instance name.
	Name string
	// MemoryLimitPages caps linear memory in 64KiB pages. Zero means the
	// wazero default.
	MemoryLimitPages uint32
}

type wasmFunc struct {
	fn  api.Function
	sig Signature
}

// WasmTable runs a WebAssembly module as the native library. Exports are
// the entry points. A trap poisons the table: the module's state can no
// longer be trusted, so every later call fails with ErrUnavailable.
type WasmTable struct {
	runtime   wazero.Runtime
	module    api.Module
	lastError api.Function
	poisonErr atomic.Pointer[error]
	log       *zap.Logger
	funcs     map[string]wasmFunc
	mu        sync.Mutex
	closed    atomic.Bool
}

// OpenWasm compiles and instantiates a module.
func OpenWasm(ctx context.Context, binary []byte, cfg WasmConfig) (*WasmTable, error) {
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	compiled, err := rt.CompileModule(ctx, binary)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("compile wasm module", err)
	}

	funcs, err := resolveSignatures(compiled.ExportedFunctions(), cfg.WIT)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(cfg.Name))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("instantiate wasm module", err)
	}

	t := &WasmTable{
		runtime: rt,
		module:  mod,
		log:     log,
		funcs:   make(map[string]wasmFunc, len(funcs)),
	}
	for name, sig := range funcs {
		t.funcs[name] = wasmFunc{fn: mod.ExportedFunction(name), sig: sig}
	}
	if def, ok := compiled.ExportedFunctions()[LastErrorExport]; ok && isStatusExport(def) {
		t.lastError = mod.ExportedFunction(LastErrorExport)
	}

	log.Debug("wasm library loaded",
		zap.Int("functions", len(t.funcs)),
		zap.Bool("status_export", t.lastError != nil))
	return t, nil
}

func isStatusExport(def api.FunctionDefinition) bool {
	return len(def.ParamTypes()) == 0 &&
		len(def.ResultTypes()) == 1 &&
		def.ResultTypes()[0] == api.ValueTypeI32
}

// resolveSignatures matches declared signatures to exports. Every WIT
// function must be exported with compatible core types.
func resolveSignatures(exports map[string]api.FunctionDefinition, witText string) (map[string]Signature, error) {
	out := make(map[string]Signature)

	if witText == "" {
		for name, def := range exports {
			if name == LastErrorExport {
				continue
			}
			sig, ok := coreSignature(name, def)
			if !ok {
				continue
			}
			out[name] = sig
		}
		return out, nil
	}

	declared, err := ParseWIT(witText)
	if err != nil {
		return nil, err
	}
	for name, sig := range declared {
		def, ok := exports[name]
		if !ok {
			return nil, errors.Load(fmt.Sprintf("function %q declared but not exported", name), nil)
		}
		if err := matchCoreTypes(sig, def); err != nil {
			return nil, errors.Load(fmt.Sprintf("function %q", name), err)
		}
		out[name] = sig
	}
	return out, nil
}

func coreSignature(name string, def api.FunctionDefinition) (Signature, bool) {
	sig := Signature{Name: name}
	for i, vt := range def.ParamTypes() {
		p, ok := coreParam(vt)
		if !ok {
			return Signature{}, false
		}
		if names := def.ParamNames(); i < len(names) {
			p.Name = names[i]
		}
		sig.Params = append(sig.Params, p)
	}
	if len(def.ResultTypes()) > 1 {
		return Signature{}, false
	}
	for _, vt := range def.ResultTypes() {
		p, ok := coreParam(vt)
		if !ok {
			return Signature{}, false
		}
		sig.Results = append(sig.Results, p)
	}
	return sig, true
}

func coreParam(vt api.ValueType) (Param, bool) {
	switch vt {
	case api.ValueTypeI32:
		return Param{Kind: KindInt, Bits: 32}, true
	case api.ValueTypeI64:
		return Param{Kind: KindInt, Bits: 64}, true
	case api.ValueTypeF32:
		return Param{Kind: KindFloat, Bits: 32}, true
	case api.ValueTypeF64:
		return Param{Kind: KindFloat, Bits: 64}, true
	}
	return Param{}, false
}

func coreType(p Param) (api.ValueType, bool) {
	switch p.Kind {
	case KindBool:
		return api.ValueTypeI32, true
	case KindInt, KindUint:
		if p.bits() <= 32 {
			return api.ValueTypeI32, true
		}
		return api.ValueTypeI64, true
	case KindHandle:
		return api.ValueTypeI64, true
	case KindFloat:
		if p.Bits == 32 {
			return api.ValueTypeF32, true
		}
		return api.ValueTypeF64, true
	}
	return 0, false
}

func matchCoreTypes(sig Signature, def api.FunctionDefinition) error {
	if len(sig.Params) != len(def.ParamTypes()) {
		return fmt.Errorf("declares %d params, export has %d", len(sig.Params), len(def.ParamTypes()))
	}
	if len(sig.Results) != len(def.ResultTypes()) || len(sig.Results) > 1 {
		return fmt.Errorf("declares %d results, export has %d", len(sig.Results), len(def.ResultTypes()))
	}
	check := func(what string, i int, p Param, vt api.ValueType) error {
		want, ok := coreType(p)
		if !ok {
			return fmt.Errorf("%s %d: %s has no core wasm representation", what, i, p.Kind)
		}
		if want != vt {
			return fmt.Errorf("%s %d: declared %s, export has %s", what, i, api.ValueTypeName(want), api.ValueTypeName(vt))
		}
		return nil
	}
	for i, p := range sig.Params {
		if err := check("param", i, p, def.ParamTypes()[i]); err != nil {
			return err
		}
	}
	for i, p := range sig.Results {
		if err := check("result", i, p, def.ResultTypes()[i]); err != nil {
			return err
		}
	}
	return nil
}

// Call invokes an export. Calls into one module instance are serialized.
func (t *WasmTable) Call(ctx context.Context, name string, args []Value) (Value, error) {
	if err := t.unavailable(); err != nil {
		return Value{}, err
	}

	f, ok := t.funcs[name]
	if !ok {
		return Value{}, errors.NotFound(errors.PhaseCall, "function", name)
	}
	if err := f.sig.CheckArgs(args); err != nil {
		return Value{}, err
	}

	params := make([]uint64, len(args))
	for i, a := range args {
		params[i] = encodeCore(f.sig.Params[i], a)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.unavailable(); err != nil {
		return Value{}, err
	}

	results, err := f.fn.Call(ctx, params...)
	if err != nil {
		t.poison(name, err)
		return Value{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, name, err)
	}

	if t.lastError != nil {
		status, err := t.lastError.Call(ctx)
		if err != nil {
			t.poison(LastErrorExport, err)
			return Value{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, LastErrorExport, err)
		}
		if code := Code(api.DecodeI32(status[0])); code != CodeOK {
			return Value{}, Status(name, code, "")
		}
	}

	if len(f.sig.Results) == 0 {
		return Void(), nil
	}
	return decodeCore(f.sig.Results[0], results[0]), nil
}

func (t *WasmTable) unavailable() error {
	if t.closed.Load() {
		return fmt.Errorf("%w: closed", ErrUnavailable)
	}
	if p := t.poisonErr.Load(); p != nil {
		return fmt.Errorf("%w: poisoned by earlier trap: %v", ErrUnavailable, *p)
	}
	return nil
}

func (t *WasmTable) poison(name string, cause error) {
	if t.poisonErr.CompareAndSwap(nil, &cause) {
		t.log.Error("wasm library trapped, marking unavailable",
			zap.String("operation", name),
			zap.Error(cause))
	}
}

// Poisoned reports whether a trap made the table unusable.
func (t *WasmTable) Poisoned() bool { return t.poisonErr.Load() != nil }

func (t *WasmTable) Has(name string) bool {
	_, ok := t.funcs[name]
	return ok
}

func (t *WasmTable) Signatures() []Signature {
	sigs := make([]Signature, 0, len(t.funcs))
	for _, f := range t.funcs {
		sigs = append(sigs, f.sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Name < sigs[j].Name })
	return sigs
}

// Close releases the wazero runtime. In-flight calls finish first.
func (t *WasmTable) Close(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runtime.Close(ctx)
}

func encodeCore(p Param, v Value) uint64 {
	switch p.Kind {
	case KindBool:
		if b, _ := v.AsBool(); b {
			return 1
		}
		return 0
	case KindInt:
		i, _ := v.AsInt()
		if p.bits() <= 32 {
			return api.EncodeI32(int32(i))
		}
		return api.EncodeI64(i)
	case KindUint, KindHandle:
		u, _ := v.AsUint()
		if p.Kind == KindUint && p.bits() <= 32 {
			return api.EncodeU32(uint32(u))
		}
		return u
	case KindFloat:
		f, _ := v.AsFloat()
		if p.Bits == 32 {
			return api.EncodeF32(float32(f))
		}
		return api.EncodeF64(f)
	}
	return 0
}

func decodeCore(p Param, raw uint64) Value {
	switch p.Kind {
	case KindBool:
		return Bool(api.DecodeU32(raw) != 0)
	case KindInt:
		if p.bits() <= 32 {
			return Int(int64(api.DecodeI32(raw)))
		}
		return Int(int64(raw))
	case KindUint:
		if p.bits() <= 32 {
			return Uint(uint64(api.DecodeU32(raw)))
		}
		return Uint(raw)
	case KindHandle:
		return Uint(raw)
	case KindFloat:
		if p.Bits == 32 {
			return Float(float64(api.DecodeF32(raw)))
		}
		return Float(api.DecodeF64(raw))
	}
	return Void()
}
