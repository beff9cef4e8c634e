package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/nest"
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

func TestPipe_SlowReader(t *testing.T) {
	out := make(chan any)
	input := peopleRows(50)

	type result struct {
		stats Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := Pipe(context.Background(), rows.NewSliceSource(input...), peopleParser(t), out, WithHighWater(2))
		done <- result{stats, err}
	}()

	var got []any
	for obj := range out {
		time.Sleep(time.Millisecond)
		got = append(got, obj)
	}

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, got, 50)
	for i, obj := range got {
		assert.Equal(t, i+1, obj.(map[string]any)["id"])
	}
	assert.Equal(t, int64(100), res.stats.Rows)
	assert.Equal(t, int64(50), res.stats.Delivered)
	assert.LessOrEqual(t, res.stats.MaxPending, int64(2))
}

func TestPipe_BufferedChannel(t *testing.T) {
	out := make(chan any, 100)

	stats, err := Pipe(context.Background(), rows.NewSliceSource(peopleRows(10)...), peopleParser(t), out)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Objects)

	n := 0
	for range out {
		n++
	}
	assert.Equal(t, 10, n)
}

func TestPipe_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan any)

	errCh := make(chan error, 1)
	go func() {
		_, err := Pipe(ctx, rows.NewSliceSource(peopleRows(10)...), peopleParser(t), out, WithHighWater(1))
		errCh <- err
	}()

	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)

	_, open := <-out
	assert.False(t, open, "out is closed on failure")
}

type failingSource struct{ n int }

func (f *failingSource) Next(context.Context) (rows.Row, error) {
	if f.n == 0 {
		return nil, errors.New("disk gone")
	}
	f.n--
	return rows.Values{f.n, "x"}, nil
}

func (f *failingSource) Close() error { return nil }

func TestPipe_SourceError(t *testing.T) {
	out := make(chan any, 10)

	_, err := Pipe(context.Background(), &failingSource{n: 2}, peopleParser(t), out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestPipe_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	out := make(chan any, 10)
	_, err := Pipe(context.Background(), rows.NewSliceSource(peopleRows(3)...), peopleParser(t), out)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "stream.Pipe", spans[0].Name())

	attrs := map[string]int64{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInt64()
	}
	assert.Equal(t, int64(6), attrs["stream.rows"])
	assert.Equal(t, int64(3), attrs["stream.objects"])
}

func TestPipe_DrainsSource(t *testing.T) {
	src := rows.NewSliceSource(rows.Values{1, "a"})
	out := make(chan any, 1)

	_, err := Pipe(context.Background(), src, peopleParser(t), out)
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestPipe_ComputeErrorNamesRow(t *testing.T) {
	p := nest.Must(nest.Positional(0, nest.Fields{
		"v": func(r rows.Row) (any, error) {
			if v, _ := r.Index(0); v == 3 {
				return nil, errors.New("bad row")
			}
			return nil, nil
		},
	}))
	out := make(chan any, 10)

	stats, err := Pipe(context.Background(), rows.NewSliceSource(
		rows.Values{1}, rows.Values{2}, rows.Values{3},
	), p, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2:")
	assert.ErrorIs(t, err, derrors.ErrComputeFailed)
	assert.Equal(t, int64(2), stats.Rows)
}
