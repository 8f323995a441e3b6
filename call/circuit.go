package call

import (
	"sync"
	"time"

	"github.com/wippyai/nativeguard/errors"
)

// State is the admission state of a circuit.
type State uint8

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitConfig controls when a circuit opens and for how long.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive transient failures
	// that opens the circuit.
	FailureThreshold int
	// CoolDown is how long an open circuit rejects calls before admitting
	// a single probe.
	CoolDown time.Duration
}

type transition struct {
	from, to State
}

// ticket identifies an admitted call. gen is the circuit generation at
// admission; outcomes from an older generation are discarded.
type ticket struct {
	gen   uint64
	probe bool
}

// Circuit tracks the health of one endpoint.
type Circuit struct {
	openedAt      time.Time
	onChange      func(endpoint string, from, to State)
	name          string
	cfg           CircuitConfig
	failures      int
	gen           uint64
	mu            sync.Mutex
	state         State
	probeInFlight bool
}

func newCircuit(name string, cfg CircuitConfig, onChange func(string, State, State)) *Circuit {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	return &Circuit{name: name, cfg: cfg, onChange: onChange}
}

// Name returns the endpoint the circuit guards.
func (c *Circuit) Name() string { return c.name }

// State returns the current state. An open circuit whose cool-down has
// elapsed stays open until the next call turns it half-open.
func (c *Circuit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failures returns the consecutive transient failure count.
func (c *Circuit) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// admit decides whether a call may reach native code. The first call after
// the cool-down becomes the only probe; everyone else is rejected until the
// probe settles.
func (c *Circuit) admit(now time.Time) (t ticket, ok bool) {
	c.mu.Lock()
	var tr *transition
	switch c.state {
	case StateClosed:
		ok = true
	case StateOpen:
		if now.Sub(c.openedAt) >= c.cfg.CoolDown {
			tr = c.moveLocked(StateHalfOpen)
			c.probeInFlight = true
			t.probe, ok = true, true
		}
	case StateHalfOpen:
		if !c.probeInFlight {
			c.probeInFlight = true
			t.probe, ok = true, true
		}
	}
	t.gen = c.gen
	c.mu.Unlock()
	c.emit(tr)
	return t, ok
}

// record applies the classified outcome of an admitted call. kind is empty
// for success. An outcome admitted before the last trip, reset or reopen
// is stale and changes nothing.
func (c *Circuit) record(t ticket, kind errors.Kind, now time.Time) {
	c.mu.Lock()
	if t.gen != c.gen {
		c.mu.Unlock()
		return
	}
	probe := t.probe
	var tr *transition
	switch kind {
	case "":
		if probe {
			c.probeInFlight = false
			c.failures = 0
			tr = c.moveLocked(StateClosed)
		} else if c.state == StateClosed {
			c.failures = 0
		}
	case errors.KindTransient:
		switch {
		case probe:
			tr = c.openLocked(now)
		case c.state == StateClosed:
			c.failures++
			if c.failures >= c.cfg.FailureThreshold {
				tr = c.openLocked(now)
			}
		}
	default:
		// Outcomes that say nothing about endpoint health release the
		// probe slot and leave the state alone.
		if probe {
			c.probeInFlight = false
		}
	}
	c.mu.Unlock()
	c.emit(tr)
}

// trip forces the circuit open.
func (c *Circuit) trip(now time.Time) {
	c.mu.Lock()
	tr := c.openLocked(now)
	c.mu.Unlock()
	c.emit(tr)
}

// reset forces the circuit closed and clears the failure count.
func (c *Circuit) reset() {
	c.mu.Lock()
	c.gen++
	c.failures = 0
	c.probeInFlight = false
	tr := c.moveLocked(StateClosed)
	c.mu.Unlock()
	c.emit(tr)
}

// openLocked opens the circuit, restarting the cool-down and starting a
// new generation.
func (c *Circuit) openLocked(now time.Time) *transition {
	c.gen++
	c.openedAt = now
	c.probeInFlight = false
	return c.moveLocked(StateOpen)
}

func (c *Circuit) moveLocked(to State) *transition {
	if c.state == to {
		return nil
	}
	tr := &transition{from: c.state, to: to}
	c.state = to
	return tr
}

func (c *Circuit) emit(tr *transition) {
	if tr != nil && c.onChange != nil {
		c.onChange(c.name, tr.from, tr.to)
	}
}
