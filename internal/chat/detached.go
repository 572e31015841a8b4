package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultFailureBuffer = 64

// Detached runs fire-and-forget work. Tasks are not tied to the triggering
// request: they survive its cancellation and no deadline is imposed here.
// Failures are delivered to a dedicated sink instead of the caller.
type Detached struct {
	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	failures  chan DetachedFailure
	drained   chan struct{}
	logger    *zap.Logger
	onFail    func(DetachedFailure)
	closeOnce sync.Once
}

// NewDetached starts the failure sink. onFail, if set, is invoked for every
// failure after it is logged.
func NewDetached(logger *zap.Logger, onFail func(DetachedFailure)) *Detached {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Detached{
		failures: make(chan DetachedFailure, defaultFailureBuffer),
		drained:  make(chan struct{}),
		logger:   logger,
		onFail:   onFail,
	}
	go d.drain()
	return d
}

// Go spawns fn and returns immediately. The caller must not wait on it.
// After Close the task still runs, but Close and Wait no longer track it.
func (d *Detached) Go(ctx context.Context, op, conversationID string, fn func(context.Context) error) {
	detachedCtx := context.WithoutCancel(ctx)

	d.mu.Lock()
	tracked := !d.closed
	if tracked {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	if !tracked {
		d.logger.Warn("detached operation started after close", zap.String("op", op), zap.String("conversation_id", conversationID))
	}

	go func() {
		if tracked {
			defer d.wg.Done()
		}
		if err := fn(detachedCtx); err != nil {
			d.Report(DetachedFailure{Op: op, ConversationID: conversationID, Err: err})
		}
	}()
}

// Report hands a failure to the sink without ever blocking the caller. Once
// the sink is closed failures are handled inline.
func (d *Detached) Report(f DetachedFailure) {
	d.mu.Lock()
	queued := false
	if !d.closed {
		select {
		case d.failures <- f:
			queued = true
		default:
		}
	}
	d.mu.Unlock()

	if !queued {
		d.handle(f)
	}
}

// Wait blocks until every task spawned so far has returned.
func (d *Detached) Wait() {
	d.wg.Wait()
}

// Close waits for outstanding tasks and then stops the failure sink.
func (d *Detached) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		d.wg.Wait()
		close(d.failures)
		<-d.drained
	})
}

func (d *Detached) drain() {
	defer close(d.drained)
	for f := range d.failures {
		d.handle(f)
	}
}

func (d *Detached) handle(f DetachedFailure) {
	if d.onFail != nil {
		defer d.onFail(f)
	}
	d.logger.Warn("detached operation failed",
		zap.String("op", f.Op),
		zap.String("conversation_id", f.ConversationID),
		zap.Error(f.Err),
	)
}
