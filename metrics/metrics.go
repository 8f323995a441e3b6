// Package metrics records operational measurements of the native boundary.
package metrics

import "time"

// Outcome labels a finished call or batch.
const (
	OutcomeSuccess = "success"
)

// Recorder receives measurements from every component. Implementations
// must be safe for concurrent use and must not block.
type Recorder interface {
	// RecordCall is called once per logical call. kind is empty on success.
	RecordCall(operation, endpoint, kind string, attempts int, duration time.Duration)
	RecordRejection(operation, endpoint, reason string)
	RecordCircuitStateChange(endpoint, from, to string)

	RecordBatchFlush(queue string, size int, duration time.Duration, kind string)
	RecordQueueDepth(queue string, depth int)

	RecordResourceEvent(resourceType, event string)
	RecordLiveResources(resourceType string, count int)

	RecordPressureLevel(level string)
	RecordCollection(performed bool)
}

// NoOp discards every measurement.
type NoOp struct{}

func (NoOp) RecordCall(operation, endpoint, kind string, attempts int, duration time.Duration) {}
func (NoOp) RecordRejection(operation, endpoint, reason string)                                {}
func (NoOp) RecordCircuitStateChange(endpoint, from, to string)                                {}
func (NoOp) RecordBatchFlush(queue string, size int, duration time.Duration, kind string)      {}
func (NoOp) RecordQueueDepth(queue string, depth int)                                          {}
func (NoOp) RecordResourceEvent(resourceType, event string)                                    {}
func (NoOp) RecordLiveResources(resourceType string, count int)                                {}
func (NoOp) RecordPressureLevel(level string)                                                  {}
func (NoOp) RecordCollection(performed bool)                                                   {}

// OrNoOp returns r, or NoOp when r is nil.
func OrNoOp(r Recorder) Recorder {
	if r == nil {
		return NoOp{}
	}
	return r
}
