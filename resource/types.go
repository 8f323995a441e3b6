package resource

import (
	"fmt"
	"sync/atomic"
	"time"
)

// NativeID is the opaque identifier the native library returned for an
// object: a pointer, an index or a token. Zero is the null identity.
type NativeID uint64

// TypeTag names the kind of native object a handle refers to.
type TypeTag string

// Key is the native identity of a handle.
type Key struct {
	Tag TypeTag
	ID  NativeID
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Tag, k.ID)
}

// Handle is an immutable token for a native-owned object. It carries
// identity and a disposed flag, nothing else.
type Handle struct {
	tag      TypeTag
	id       NativeID
	disposed atomic.Bool
}

// NewHandle creates a handle for a native object.
func NewHandle(id NativeID, tag TypeTag) *Handle {
	return &Handle{id: id, tag: tag}
}

// ID returns the native identifier.
func (h *Handle) ID() NativeID { return h.id }

// Tag returns the native object kind.
func (h *Handle) Tag() TypeTag { return h.tag }

// Key returns the handle's native identity.
func (h *Handle) Key() Key { return Key{Tag: h.tag, ID: h.id} }

// Disposed reports whether the native object has been released.
func (h *Handle) Disposed() bool { return h.disposed.Load() }

// markDisposed flips the flag once; later calls report false.
func (h *Handle) markDisposed() bool {
	return h.disposed.CompareAndSwap(false, true)
}

func (h *Handle) String() string {
	return h.Key().String()
}

// Info is a point-in-time view of a tracked resource.
type Info struct {
	CreatedAt      time.Time
	LastAccessedAt time.Time
	Key            Key
	Disposed       bool
	// Collected is set when the wrapper was garbage collected without being
	// disposed, meaning the native object leaked.
	Collected bool
}

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventRegistered EventType = iota
	EventUnregistered
	EventDuplicate
	EventLeaked
	EventIdle
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "registered"
	case EventUnregistered:
		return "unregistered"
	case EventDuplicate:
		return "duplicate"
	case EventLeaked:
		return "leaked"
	case EventIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Event represents a resource lifecycle event.
type Event struct {
	Info Info
	Type EventType
}

// Observer receives notifications about resource lifecycle events.
// Observers are called synchronously and must not call back into the tracker.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }
