// Package iteration groups many independent row sources with one compiled
// parser tree.
package iteration

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/nest"
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

// Iterator runs one session per source with a configurable execution strategy
type Iterator struct {
	config Config
	logger *zap.Logger
}

// NewIterator creates a new iterator with given config
func NewIterator(config Config, logger *zap.Logger) *Iterator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = runtime.NumCPU()
	}
	if config.Strategy == "" {
		config.Strategy = StrategySequential
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Iterator{config: config, logger: logger}
}

// Group groups every source in its own session over spec. Results are
// index-aligned with sources. The first failure cancels the remaining work
// and is returned with the index of its source. Every source is closed.
func (it *Iterator) Group(ctx context.Context, spec nest.Spec, sources []rows.Source, opts ...nest.SessionOption) ([]Result, error) {
	if err := it.config.Validate(); err != nil {
		closeAll(sources)
		return nil, err
	}
	results := make([]Result, len(sources))
	if len(sources) == 0 {
		return results, nil
	}

	// Sources the run never reached are closed here.
	closeOnce := make([]sync.Once, len(sources))
	defer func() {
		for i := range sources {
			closeOnce[i].Do(func() { sources[i].Close() })
		}
	}()

	fn := func(ctx context.Context, i int) error {
		var id string
		sessionOpts := append(append([]nest.SessionOption(nil), opts...), func(s *nest.Session) { id = s.ID() })
		var objs []any
		var err error
		closeOnce[i].Do(func() {
			objs, err = nest.GroupSource(ctx, spec, sources[i], sessionOpts...)
		})
		if err != nil {
			return err
		}
		results[i] = Result{Objects: objs, Session: id}
		it.logger.Debug("source grouped",
			zap.Int("index", i),
			zap.String("session", id),
			zap.Int("objects", len(objs)))
		return nil
	}

	var err error
	if it.config.Strategy == StrategySequential {
		err = it.runSequential(ctx, len(sources), fn)
	} else {
		err = it.runParallel(ctx, len(sources), fn)
	}
	if err != nil {
		it.logger.Error("batch grouping failed", zap.Error(err))
		return nil, err
	}
	return results, nil
}

// GroupRows is Group over in-memory row slices.
func (it *Iterator) GroupRows(ctx context.Context, spec nest.Spec, batches [][]rows.Row) ([]Result, error) {
	sources := make([]rows.Source, len(batches))
	for i, batch := range batches {
		sources[i] = rows.NewSliceSource(batch...)
	}
	return it.Group(ctx, spec, sources)
}

// runSequential runs fn for each index in order (fail-fast)
func (it *Iterator) runSequential(ctx context.Context, n int, fn func(context.Context, int) error) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, i); err != nil {
			return fmt.Errorf("failed grouping source %d: %w", i, err)
		}
	}
	return nil
}

// runParallel runs fn on a worker pool (fail-fast)
func (it *Iterator) runParallel(ctx context.Context, n int, fn func(context.Context, int) error) error {
	numWorkers := it.config.MaxConcurrent
	if numWorkers > n {
		numWorkers = n
	}

	workCh := make(chan int, n)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstError error

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				if ctx.Err() != nil {
					return
				}
				if err := fn(ctx, idx); err != nil {
					mu.Lock()
					if firstError == nil {
						firstError = fmt.Errorf("failed grouping source %d: %w", idx, err)
						cancel()
					}
					mu.Unlock()
				}
			}
		}()
	}

sendLoop:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break sendLoop
		case workCh <- i:
		}
	}
	close(workCh)
	wg.Wait()

	if firstError != nil {
		return firstError
	}
	return ctx.Err()
}

func closeAll(sources []rows.Source) {
	for _, src := range sources {
		src.Close()
	}
}
