// Package stream adapts a grouping session to push-driven row input with
// backpressure-aware object output.
package stream

import (
	"context"

	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/nest"
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

const defaultHighWater = 64

type options struct {
	logger    *zap.Logger
	highWater int
	session   []nest.SessionOption
}

// Option configures an Adapter or a Pipe.
type Option func(*options)

// WithLogger sets the logger. nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHighWater sets how many undelivered objects Pipe tolerates before it
// stops reading rows and blocks on the output channel.
func WithHighWater(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.highWater = n
		}
	}
}

// WithSessionOptions passes options to the underlying session.
func WithSessionOptions(opts ...nest.SessionOption) Option {
	return func(o *options) { o.session = append(o.session, opts...) }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), highWater: defaultHighWater}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Adapter is a row sink and object source around one root session.
//
// Finalized objects are queued and offered to the consumer in order. When the
// consumer refuses one, draining stops and resumes on the next Write or
// Flush; nothing is dropped or reordered. An Adapter is not safe for
// concurrent use, but Stats may be read from any goroutine.
type Adapter struct {
	session  *nest.Session
	consumer Consumer
	logger   *zap.Logger

	queue []any
	head  int

	ended     bool
	completed bool
	endCtx    context.Context
	err       error

	stats statsCollector
}

// NewAdapter wraps spec in a fresh session delivering to consumer.
func NewAdapter(spec nest.Spec, consumer Consumer, opts ...Option) *Adapter {
	o := buildOptions(opts)
	a := &Adapter{
		consumer: consumer,
		logger:   o.logger,
	}
	sessionOpts := append([]nest.SessionOption{nest.WithLogger(o.logger)}, o.session...)
	a.session = nest.NewSession(spec, sessionOpts...)
	a.session.OnObject(a.enqueue)
	return a
}

// SessionID returns the id of the underlying session.
func (a *Adapter) SessionID() string { return a.session.ID() }

// Write drains what it can, then ingests row. Objects finalized by row are
// queued behind anything still pending. A rejected row is not counted.
func (a *Adapter) Write(row rows.Row) error {
	if a.ended {
		return derrors.ErrStreamEnded
	}
	a.Flush()
	if _, err := a.session.Ingest(row); err != nil {
		return err
	}
	a.stats.recordRow()
	return nil
}

// Flush offers pending objects until the consumer refuses one or the queue
// is empty, and returns how many were delivered. Once the input has ended and
// the queue is empty, the consumer is completed.
func (a *Adapter) Flush() int {
	n := 0
	for a.head < len(a.queue) {
		if !a.consumer.Offer(a.queue[a.head]) {
			a.stats.recordPause()
			a.logger.Debug("consumer paused", zap.Int("pending", a.Pending()))
			break
		}
		a.pop()
		n++
	}
	if a.head == len(a.queue) {
		a.queue, a.head = a.queue[:0], 0
	}
	if a.ended && a.Pending() == 0 {
		a.complete()
	}
	return n
}

// End flushes the open object, drains as far as the consumer allows and,
// once everything is delivered, completes the consumer. If the consumer
// pauses, completion happens on the Flush that empties the queue. Further
// calls are no-ops.
func (a *Adapter) End(ctx context.Context) error {
	if a.ended {
		return a.err
	}
	a.ended = true
	a.endCtx = ctx
	a.session.End()
	a.Flush()
	return a.err
}

// Pending returns the number of queued, undelivered objects.
func (a *Adapter) Pending() int { return len(a.queue) - a.head }

// Done reports whether the input ended and every object was delivered.
func (a *Adapter) Done() bool { return a.completed }

// Err returns the error returned by the consumer's Complete, if any.
func (a *Adapter) Err() error { return a.err }

// Stats returns a snapshot of the adapter's counters.
func (a *Adapter) Stats() Stats { return a.stats.snapshot() }

func (a *Adapter) enqueue(obj any) {
	a.queue = append(a.queue, obj)
	a.stats.recordObject(a.Pending())
}

func (a *Adapter) peek() (any, bool) {
	if a.head >= len(a.queue) {
		return nil, false
	}
	return a.queue[a.head], true
}

// pop removes the head of the queue after the caller delivered it itself.
func (a *Adapter) pop() {
	if a.head >= len(a.queue) {
		return
	}
	a.queue[a.head] = nil
	a.head++
	a.stats.recordDelivered()
}

func (a *Adapter) complete() {
	if a.completed {
		return
	}
	a.completed = true
	if c, ok := a.consumer.(Completer); ok {
		ctx := a.endCtx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := c.Complete(ctx); err != nil {
			a.err = err
			a.logger.Error("consumer completion failed", zap.Error(err))
		}
	}
	a.logger.Debug("stream completed", zap.Int64("objects", a.stats.objects.Load()))
}
