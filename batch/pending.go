package batch

import (
	"context"

	"github.com/wippyai/nativeguard/errors"
	"github.com/wippyai/nativeguard/native"
)

// Pending is the future outcome of an enqueued request. It resolves
// exactly once.
type Pending struct {
	err   error
	value native.Value
	done  chan struct{}
	id    string
}

func newPending(id string) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

// Rejected returns a Pending already resolved with err.
func Rejected(err error) *Pending {
	p := newPending("")
	p.resolve(native.Value{}, err)
	return p
}

func (p *Pending) resolve(v native.Value, err error) {
	p.value, p.err = v, err
	close(p.done)
}

// ID returns the request id, or "" for a request rejected at enqueue.
func (p *Pending) ID() string { return p.id }

// Done is closed once the outcome is available.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the outcome is available or ctx ends. Giving up does
// not remove the request from its batch.
func (p *Pending) Wait(ctx context.Context) (native.Value, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return native.Value{}, errors.Cancelled(errors.PhaseBatch, "wait", ctx.Err())
	}
}
