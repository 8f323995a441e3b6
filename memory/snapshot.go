package memory

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Snapshot is one reading of memory usage.
type Snapshot struct {
	Timestamp time.Time
	// HeapUsed is live Go heap in bytes.
	HeapUsed uint64
	// HeapLimit is the Go memory limit, or total system memory when no
	// limit is set.
	HeapLimit       uint64
	SystemUsed      uint64
	SystemTotal     uint64
	NativeResources int
}

// HeapRatio returns HeapUsed/HeapLimit, or 0 when the limit is unknown.
func (s Snapshot) HeapRatio() float64 {
	if s.HeapLimit == 0 {
		return 0
	}
	return float64(s.HeapUsed) / float64(s.HeapLimit)
}

// Sampler produces snapshots.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Snapshot, error)

func (f SamplerFunc) Sample(ctx context.Context) (Snapshot, error) { return f(ctx) }

// RuntimeSampler reads the Go runtime and the host. Native resources are
// invisible to the Go heap, so their count comes from a callback, usually
// the resource tracker.
type RuntimeSampler struct {
	nativeCount func() int
	now         func() time.Time
}

func NewRuntimeSampler(nativeCount func() int) *RuntimeSampler {
	return &RuntimeSampler{nativeCount: nativeCount, now: time.Now}
}

func (s *RuntimeSampler) Sample(ctx context.Context) (Snapshot, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := Snapshot{
		Timestamp: s.now(),
		HeapUsed:  ms.HeapAlloc,
	}
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		snap.HeapLimit = uint64(limit)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		Logger().Debug("system memory unavailable", zap.Error(err))
	} else {
		snap.SystemUsed = vm.Used
		snap.SystemTotal = vm.Total
		if snap.HeapLimit == 0 {
			snap.HeapLimit = vm.Total
		}
	}

	if s.nativeCount != nil {
		snap.NativeResources = s.nativeCount()
	}
	return snap, nil
}
