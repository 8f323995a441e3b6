package runtime

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/wippyai/nativeguard/batch"
	"github.com/wippyai/nativeguard/call"
	"github.com/wippyai/nativeguard/config"
	"github.com/wippyai/nativeguard/errors"
	"github.com/wippyai/nativeguard/metrics"
	"github.com/wippyai/nativeguard/native"
	"github.com/wippyai/nativeguard/native/nativemock"
	"github.com/wippyai/nativeguard/native/nativetest"
	"github.com/wippyai/nativeguard/resource"
	"github.com/wippyai/nativeguard/validate"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Retry.InitialBackoff = config.Duration(time.Millisecond)
	cfg.Retry.MaxBackoff = config.Duration(5 * time.Millisecond)
	cfg.Batch.MaxWait = config.Duration(5 * time.Millisecond)
	return cfg
}

func newRuntime(t *testing.T, open native.OpenFunc, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithConfig(testConfig()), WithoutWatchers()}, opts...)
	rt, err := New(context.Background(), native.NewLoader(open), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func openCounter(ctx context.Context) (native.Table, error) {
	return native.OpenWasm(ctx, nativetest.CounterWASM, native.WasmConfig{WIT: nativetest.CounterWIT})
}

// objectTable is an in-process library managing numbered objects.
type objectTable struct {
	*native.FuncTable
	live      map[uint64]bool
	destroyed atomic.Int32
	closed    atomic.Bool
	next      uint64
	mu        sync.Mutex
}

func newObjectTable() *objectTable {
	t := &objectTable{FuncTable: native.NewFuncTable(), live: make(map[uint64]bool)}
	t.RegisterFunc("obj_create", func(context.Context, []native.Value) (native.Value, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.next++
		t.live[t.next] = true
		return native.Handle(resource.NativeID(t.next)), nil
	})
	t.RegisterFunc("obj_destroy", func(_ context.Context, args []native.Value) (native.Value, error) {
		id, _ := args[0].AsHandle()
		t.mu.Lock()
		delete(t.live, uint64(id))
		t.mu.Unlock()
		t.destroyed.Add(1)
		return native.Void(), nil
	})
	t.RegisterFunc("obj_label", func(_ context.Context, args []native.Value) (native.Value, error) {
		id, _ := args[0].AsHandle()
		suffix, _ := args[1].AsString()
		return native.String(resource.Key{Tag: "obj", ID: id}.String() + suffix), nil
	})
	t.RegisterFunc("null_create", func(context.Context, []native.Value) (native.Value, error) {
		return native.Uint(0), nil
	})
	t.RegisterFunc("double_all", func(_ context.Context, args []native.Value) (native.Value, error) {
		entries, _ := args[0].AsList()
		out := make([]native.Value, len(entries))
		for i, e := range entries {
			n, _ := e.Index(0).AsInt()
			out[i] = native.Int(n * 2)
		}
		return native.List(out...), nil
	})
	t.OnClose(func(context.Context) error {
		t.closed.Store(true)
		return nil
	})
	return t
}

func TestNewRequiresLoader(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotInitialized, errors.KindOf(err))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Batch.MaxSize = 0
	_, err := New(context.Background(), native.NewLoader(openCounter), WithConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.max_size")
}

func TestAcquireInvokeDisposeWasm(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, openCounter)
	require.NoError(t, rt.RegisterType(TypeSpec{Tag: "counter", Create: "create", Destroy: "destroy"}))

	first, err := rt.AcquireResource(ctx, "counter")
	require.NoError(t, err)
	second, err := rt.AcquireResource(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, resource.NativeID(1), first.Handle().ID())
	assert.Equal(t, resource.NativeID(2), second.Handle().ID())

	v, err := rt.Invoke(ctx, "add", native.Int(40), native.Int(2))
	require.NoError(t, err)
	n, _ := v.AsInt()
	assert.Equal(t, int64(42), n)

	d := rt.Diagnostics()
	assert.True(t, d.Loaded)
	assert.Equal(t, 2, d.Live)
	assert.Equal(t, map[resource.TypeTag]int{"counter": 2}, d.Resources)
	assert.Equal(t, call.StateClosed, d.Circuits["add"])

	require.NoError(t, rt.Dispose(ctx, first))
	require.NoError(t, rt.Dispose(ctx, first))
	assert.True(t, first.Disposed())
	assert.Equal(t, 1, rt.Diagnostics().Live)
}

func TestInvokeOnPassesHandleFirst(t *testing.T) {
	ctx := context.Background()
	table := newObjectTable()
	rt := newRuntime(t, native.Static(table))
	require.NoError(t, rt.RegisterType(TypeSpec{Tag: "obj", Create: "obj_create", Destroy: "obj_destroy"}))

	obj, err := rt.AcquireResource(ctx, "obj")
	require.NoError(t, err)

	v, err := rt.InvokeOn(ctx, obj, "obj_label", native.String("!"))
	require.NoError(t, err)
	s, _ := v.AsString()
	assert.Equal(t, "obj#1!", s)

	require.NoError(t, rt.Dispose(ctx, obj))
	assert.Equal(t, int32(1), table.destroyed.Load())

	_, err = rt.InvokeOn(ctx, obj, "obj_label", native.String("!"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDisposed)
}

func TestAcquireUnknownType(t *testing.T) {
	rt := newRuntime(t, native.Static(newObjectTable()))
	_, err := rt.AcquireResource(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestAcquireNullObjectIsFatal(t *testing.T) {
	rt := newRuntime(t, native.Static(newObjectTable()))
	require.NoError(t, rt.RegisterType(TypeSpec{Tag: "null", Create: "null_create", Destroy: "obj_destroy"}))

	_, err := rt.AcquireResource(context.Background(), "null")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFatal)
	assert.Zero(t, rt.Diagnostics().Live)
}

func TestRegisterTypeRejectsDuplicates(t *testing.T) {
	rt := newRuntime(t, native.Static(newObjectTable()))
	spec := TypeSpec{Tag: "obj", Create: "obj_create", Destroy: "obj_destroy"}
	require.NoError(t, rt.RegisterType(spec))
	assert.Error(t, rt.RegisterType(spec))
	assert.Error(t, rt.RegisterType(TypeSpec{Tag: "half"}))
}

func TestValidatorRejectsBeforeNativeCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	table := nativemock.NewMockTable(ctrl)
	table.EXPECT().Close(gomock.Any()).Return(nil).AnyTimes()

	rt := newRuntime(t, native.Static(table))
	rt.RegisterValidator("transfer",
		validate.Arg(0, "address", validate.Required(), validate.Length(4, 4)),
		validate.Arg(1, "amount", validate.Range(1, 100)))

	for range 20 {
		_, err := rt.Invoke(context.Background(), "transfer", native.String("abcd"), native.Int(1000))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrCaller)
	}

	_, tracked := rt.Diagnostics().Circuits["transfer"]
	assert.False(t, tracked, "rejected input never reaches a circuit")
}

func TestInvokeGoesThroughCallManager(t *testing.T) {
	ctrl := gomock.NewController(t)
	table := nativemock.NewMockTable(ctrl)
	busy := native.Status("poll", native.CodeBusy, "busy")

	gomock.InOrder(
		table.EXPECT().Call(gomock.Any(), "poll", gomock.Any()).Return(native.Value{}, busy),
		table.EXPECT().Call(gomock.Any(), "poll", gomock.Any()).Return(native.Int(1), nil),
	)
	table.EXPECT().Close(gomock.Any()).Return(nil)

	rt := newRuntime(t, native.Static(table))
	v, err := rt.Invoke(context.Background(), "poll")
	require.NoError(t, err)
	n, _ := v.AsInt()
	assert.Equal(t, int64(1), n)
}

func TestTrapTripsEveryCircuit(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, openCounter)

	_, err := rt.Invoke(ctx, "add", native.Int(1), native.Int(1))
	require.NoError(t, err)

	_, err = rt.Invoke(ctx, "crash")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFatal)

	_, err = rt.Invoke(ctx, "add", native.Int(1), native.Int(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)

	for endpoint, state := range rt.Diagnostics().Circuits {
		assert.Equal(t, call.StateOpen, state, endpoint)
	}
}

func TestLoadFailureDoesNotTouchCircuits(t *testing.T) {
	boom := stderrors.New("no such library")
	rt := newRuntime(t, func(context.Context) (native.Table, error) { return nil, boom })

	_, err := rt.Invoke(context.Background(), "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, errors.KindFatal, errors.KindOf(err))

	d := rt.Diagnostics()
	assert.False(t, d.Loaded)
	assert.Empty(t, d.Circuits)
	assert.Error(t, rt.Ready(context.Background()))
}

func TestEnqueueBatches(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, native.Static(newObjectTable()))
	require.NoError(t, rt.RegisterBatch("double_all", batch.Config{MaxSize: 3, MaxWait: time.Second}))
	assert.Error(t, rt.RegisterBatch("double_all", batch.DefaultConfig()))

	pending := []*batch.Pending{
		rt.Enqueue("double_all", native.Int(1)),
		rt.Enqueue("double_all", native.Int(2)),
		rt.Enqueue("double_all", native.Int(3)),
	}
	for i, p := range pending {
		v, err := p.Wait(ctx)
		require.NoError(t, err)
		n, _ := v.AsInt()
		assert.Equal(t, int64(2*(i+1)), n)
	}

	stats := rt.Diagnostics().Batches["double_all"]
	assert.Equal(t, 1, int(stats.Batches))
}

func TestEnqueueRejections(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, native.Static(newObjectTable()))
	require.NoError(t, rt.RegisterBatch("double_all", batch.DefaultConfig()))
	rt.RegisterValidator("double_all", validate.Arg(0, "n", validate.Range(0, 10)))

	_, err := rt.Enqueue("missing", native.Int(1)).Wait(ctx)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	_, err = rt.Enqueue("double_all", native.Int(50)).Wait(ctx)
	assert.ErrorIs(t, err, errors.ErrCaller)
}

func TestCloseReleasesEverything(t *testing.T) {
	ctx := context.Background()
	table := newObjectTable()
	rt, err := New(ctx, native.NewLoader(native.Static(table)), WithConfig(testConfig()))
	require.NoError(t, err)

	require.NoError(t, rt.RegisterType(TypeSpec{Tag: "obj", Create: "obj_create", Destroy: "obj_destroy"}))
	require.NoError(t, rt.RegisterBatch("double_all", batch.Config{MaxSize: 100, MaxWait: time.Hour}))

	for range 3 {
		_, err := rt.AcquireResource(ctx, "obj")
		require.NoError(t, err)
	}
	queued := rt.Enqueue("double_all", native.Int(21))

	require.NoError(t, rt.Close(ctx))

	v, err := queued.Wait(ctx)
	require.NoError(t, err, "queued work is drained on close")
	n, _ := v.AsInt()
	assert.Equal(t, int64(42), n)

	assert.Equal(t, int32(3), table.destroyed.Load())
	assert.True(t, table.closed.Load())
	assert.True(t, rt.Diagnostics().Closed)

	_, err = rt.Invoke(ctx, "obj_create")
	assert.ErrorIs(t, err, errors.ErrClosed)
	_, err = rt.Enqueue("double_all", native.Int(1)).Wait(ctx)
	assert.ErrorIs(t, err, errors.ErrClosed)

	require.NoError(t, rt.Close(ctx))
}

type liveRecorder struct {
	metrics.NoOp
	mu   sync.Mutex
	live map[string]int
}

func (r *liveRecorder) RecordLiveResources(resourceType string, count int) {
	r.mu.Lock()
	r.live[resourceType] = count
	r.mu.Unlock()
}

func TestLiveResourceMetrics(t *testing.T) {
	ctx := context.Background()
	rec := &liveRecorder{live: make(map[string]int)}
	rt := newRuntime(t, native.Static(newObjectTable()), WithRecorder(rec))
	require.NoError(t, rt.RegisterType(TypeSpec{Tag: "obj", Create: "obj_create", Destroy: "obj_destroy"}))

	a, err := rt.AcquireResource(ctx, "obj")
	require.NoError(t, err)
	_, err = rt.AcquireResource(ctx, "obj")
	require.NoError(t, err)
	require.NoError(t, rt.Dispose(ctx, a))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.live["obj"])
}
