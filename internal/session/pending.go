package session

import (
	"context"
	"sync"
	"time"

	"github.com/eleven-am/voice-client/internal/shared"
)

// pendingRequest is one in-flight single-shot text exchange. It settles
// exactly once from whichever of {terminal event, timeout, cancellation}
// fires first; later resolutions are no-ops.
type pendingRequest struct {
	once sync.Once
	done chan struct{}
	val  string
	err  error
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{done: make(chan struct{})}
}

func (p *pendingRequest) succeed(val string) {
	p.once.Do(func() {
		p.val = val
		close(p.done)
	})
}

func (p *pendingRequest) fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// wait blocks until the request settles. The timeout timer is released as
// soon as a terminal event wins; lifetime guards against a disposed owner.
func (p *pendingRequest) wait(ctx context.Context, lifetime <-chan struct{}, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		p.fail(shared.ErrRequestTimeout)
	case <-ctx.Done():
		p.fail(ctx.Err())
	case <-lifetime:
		p.fail(shared.ErrDisposed)
	}

	<-p.done
	return p.val, p.err
}
