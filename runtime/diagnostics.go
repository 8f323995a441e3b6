package runtime

import (
	"github.com/wippyai/nativeguard/batch"
	"github.com/wippyai/nativeguard/call"
	"github.com/wippyai/nativeguard/memory"
	"github.com/wippyai/nativeguard/resource"
)

// Diagnostics is a read-only view of the runtime's state.
type Diagnostics struct {
	Resources   map[resource.TypeTag]int
	Circuits    map[string]call.State
	Batches     map[string]batch.Stats
	Pressure    memory.Level
	Trend       memory.Trend
	Collections memory.CoordinatorStats
	Live        int
	Anomalies   uint64
	Leaked      uint64
	Loaded      bool
	Closed      bool
}

// Diagnostics collects a snapshot of every component.
func (r *Runtime) Diagnostics() Diagnostics {
	d := Diagnostics{
		Resources: r.tracker.CountByType(),
		Circuits:  r.calls.States(),
		Batches:   make(map[string]batch.Stats),
		Live:      r.tracker.Count(),
		Anomalies: r.tracker.Anomalies(),
		Leaked:    r.tracker.Leaked(),
		Loaded:    r.loader.Loaded(),
		Closed:    r.closed.Load(),
	}

	r.mu.RLock()
	for op, q := range r.queues {
		d.Batches[op] = q.Stats()
	}
	r.mu.RUnlock()

	if r.monitor != nil {
		d.Pressure = r.monitor.Level()
		d.Trend = r.monitor.Trend()
		d.Collections = r.monitor.Coordinator().Stats()
	}
	return d
}
