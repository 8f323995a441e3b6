package runtime

import (
	"sync"

	"github.com/wippyai/nativeguard/metrics"
	"github.com/wippyai/nativeguard/resource"
)

// liveCounter mirrors tracker events into per-type gauges. It keeps its
// own counts because tracker observers must not call back into the
// tracker.
type liveCounter struct {
	recorder metrics.Recorder
	counts   map[resource.TypeTag]int
	mu       sync.Mutex
}

func newLiveCounter(r metrics.Recorder) *liveCounter {
	return &liveCounter{recorder: r, counts: make(map[resource.TypeTag]int)}
}

func (c *liveCounter) OnResourceEvent(e resource.Event) {
	tag := e.Info.Key.Tag
	c.recorder.RecordResourceEvent(string(tag), e.Type.String())

	var delta int
	switch e.Type {
	case resource.EventRegistered:
		delta = 1
	case resource.EventUnregistered, resource.EventLeaked:
		delta = -1
	case resource.EventDuplicate:
		// The superseded entry leaves the registry without an
		// unregister event.
		delta = -1
	default:
		return
	}

	c.mu.Lock()
	c.counts[tag] += delta
	n := c.counts[tag]
	c.mu.Unlock()
	c.recorder.RecordLiveResources(string(tag), n)
}
