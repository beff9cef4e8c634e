package stream

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/nest"
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

const tracerName = "daedalus/stream"

// Pipe reads src to the end, groups it with spec and sends every object to
// out in order. Objects are handed over without blocking while out has room;
// once HighWater objects are waiting, Pipe stops reading and blocks on out
// until ctx is done. src is closed and out is closed when Pipe returns.
func Pipe(ctx context.Context, src rows.Source, spec nest.Spec, out chan<- any, opts ...Option) (Stats, error) {
	defer close(out)
	defer src.Close()

	o := buildOptions(opts)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "stream.Pipe",
		trace.WithAttributes(attribute.Int("stream.high_water", o.highWater)))
	defer span.End()

	a := NewAdapter(spec, ChanConsumer(out), opts...)
	a.endCtx = ctx

	fail := func(err error) (Stats, error) {
		stats := a.Stats()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		setStatsAttributes(span, stats)
		o.logger.Error("pipe failed", zap.Error(err), zap.Int64("rows", stats.Rows))
		return stats, err
	}

	for index := 0; ; index++ {
		row, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("read row: %w", err))
		}
		if err := a.Write(row); err != nil {
			return fail(fmt.Errorf("row %d: %w", index, err))
		}
		for a.Pending() >= o.highWater {
			if err := sendNext(ctx, a, out); err != nil {
				return fail(err)
			}
		}
	}

	if err := a.End(ctx); err != nil {
		return fail(err)
	}
	for a.Pending() > 0 {
		if err := sendNext(ctx, a, out); err != nil {
			return fail(err)
		}
	}
	a.complete()

	stats := a.Stats()
	setStatsAttributes(span, stats)
	o.logger.Info("pipe finished",
		zap.String("session", a.SessionID()),
		zap.Int64("rows", stats.Rows),
		zap.Int64("objects", stats.Objects),
		zap.Int64("pauses", stats.Pauses))
	return stats, a.Err()
}

// sendNext blocks until the head of the queue is accepted by out.
func sendNext(ctx context.Context, a *Adapter, out chan<- any) error {
	obj, ok := a.peek()
	if !ok {
		return nil
	}
	select {
	case out <- obj:
		a.pop()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipe cancelled: %w", ctx.Err())
	}
}

func setStatsAttributes(span trace.Span, stats Stats) {
	span.SetAttributes(
		attribute.Int64("stream.rows", stats.Rows),
		attribute.Int64("stream.objects", stats.Objects),
		attribute.Int64("stream.pauses", stats.Pauses),
		attribute.Int64("stream.max_pending", stats.MaxPending),
	)
}
