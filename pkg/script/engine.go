// Package script evaluates computed properties written in JavaScript.
//
// An Engine compiles a script once and returns a rows.Extractor that can be
// used wherever a computed property is accepted. Evaluations run on a bounded
// pool of sandboxed goja runtimes; each call is interrupted after the
// configured timeout. The row is bound to the variable row: an array for
// positional rows, an object for named rows.
//
//	eng, _ := script.NewEngine(script.DefaultConfig(), logger)
//	fullName, _ := eng.Expression(`row.first + " " + row.last`)
//	p, _ := nest.Named("id", "id", nest.Fields{"fullName": fullName})
package script

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

// Engine compiles and evaluates scripts. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	pool   *pool
	logger *zap.Logger
}

// NewEngine creates an engine. Zero fields of cfg take their defaults.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, derrors.NewError(derrors.CodeInvalidDefinition, "invalid script engine configuration", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, pool: newPool(cfg), logger: logger}, nil
}

// Expression compiles a single JavaScript expression over row.
func (e *Engine) Expression(src string) (rows.Extractor, error) {
	if strings.TrimSpace(src) == "" {
		return nil, derrors.NewError(derrors.CodeInvalidProperty, "empty expression", derrors.ErrInvalidProperty)
	}
	wrapped := "(function(row) { return (" + src + "\n); })"
	return e.compile(src, wrapped)
}

// Function compiles a function body over row. Its return value is the
// property value; no return yields nil.
func (e *Engine) Function(body string) (rows.Extractor, error) {
	if strings.TrimSpace(body) == "" {
		return nil, derrors.NewError(derrors.CodeInvalidProperty, "empty function body", derrors.ErrInvalidProperty)
	}
	wrapped := "(function(row) {" + body + "\n})"
	return e.compile(body, wrapped)
}

func (e *Engine) compile(source, wrapped string) (rows.Extractor, error) {
	prog, err := goja.Compile("", wrapped, false)
	if err != nil {
		return nil, derrors.NewError(derrors.CodeInvalidProperty, "script does not compile", fromCompileError(err, source))
	}
	e.logger.Debug("script compiled", zap.Int("length", len(source)))
	return func(row rows.Row) (any, error) {
		return e.eval(prog, row)
	}, nil
}

func (e *Engine) eval(prog *goja.Program, row rows.Row) (any, error) {
	rt, err := e.pool.acquire(context.Background())
	if err != nil {
		return nil, &Error{Type: ErrorTypeInternal, Message: err.Error()}
	}
	defer e.pool.release(rt)

	fn, err := rt.function(prog)
	if err != nil {
		rt.broken = true
		return nil, fromRunError(err, false)
	}

	var (
		mu       sync.Mutex
		finished bool
		timedOut bool
	)
	timer := time.AfterFunc(e.cfg.Timeout, func() {
		mu.Lock()
		defer mu.Unlock()
		if !finished {
			timedOut = true
			rt.vm.Interrupt("execution timeout")
		}
	})

	val, err := fn(goja.Undefined(), rt.vm.ToValue(rows.Export(row)))

	timer.Stop()
	mu.Lock()
	finished = true
	expired := timedOut
	mu.Unlock()
	rt.vm.ClearInterrupt()

	if err != nil {
		if expired {
			rt.broken = true
			e.logger.Warn("script timed out", zap.Duration("timeout", e.cfg.Timeout))
		}
		return nil, fromRunError(err, expired)
	}
	return export(val), nil
}

func export(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// Stats returns runtime pool counters.
func (e *Engine) Stats() PoolStats { return e.pool.stats() }

// Close releases idle runtimes. Extractors created by a closed engine fail.
func (e *Engine) Close() error {
	e.pool.close()
	return nil
}
