package script

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
)

// runtime is one pooled goja runtime and the functions instantiated in it.
type runtime struct {
	vm     *goja.Runtime
	fns    map[*goja.Program]goja.Callable
	uses   int
	broken bool
}

// function returns the function value of prog in this runtime, running the
// program the first time it is seen.
func (r *runtime) function(prog *goja.Program) (goja.Callable, error) {
	if fn, ok := r.fns[prog]; ok {
		return fn, nil
	}
	val, err := r.vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("program does not evaluate to a function")
	}
	r.fns[prog] = fn
	return fn, nil
}

// PoolStats reports runtime pool activity
type PoolStats struct {
	Created  int64 `json:"created"`
	Acquired int64 `json:"acquired"`
	Idle     int   `json:"idle"`
	InUse    int   `json:"in_use"`
}

// pool bounds the number of runtimes evaluating at once. goja runtimes are
// not goroutine safe, so each one serves a single evaluation at a time.
type pool struct {
	idle     chan *runtime
	slots    chan struct{}
	sandbox  *sandbox
	maxReuse int

	created  atomic.Int64
	acquired atomic.Int64

	mu     sync.Mutex
	closed bool
}

func newPool(cfg Config) *pool {
	return &pool{
		idle:     make(chan *runtime, cfg.PoolSize),
		slots:    make(chan struct{}, cfg.PoolSize),
		sandbox:  newSandbox(cfg),
		maxReuse: cfg.MaxReuse,
	}
}

// acquire takes a slot, waiting while PoolSize runtimes are busy, and hands
// out an idle runtime or a new one.
func (p *pool) acquire(ctx context.Context) (*runtime, error) {
	if p.isClosed() {
		return nil, fmt.Errorf("pool is closed")
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.acquired.Add(1)

	select {
	case rt := <-p.idle:
		return rt, nil
	default:
	}

	rt, err := p.create()
	if err != nil {
		<-p.slots
		return nil, err
	}
	return rt, nil
}

// release returns rt to the idle set unless it is worn out or broken.
func (p *pool) release(rt *runtime) {
	defer func() { <-p.slots }()

	rt.uses++
	if rt.broken || rt.uses >= p.maxReuse || p.isClosed() {
		return
	}
	select {
	case p.idle <- rt:
	default:
	}
}

func (p *pool) create() (*runtime, error) {
	vm := goja.New()
	if err := p.sandbox.apply(vm); err != nil {
		return nil, fmt.Errorf("failed to create secure context: %w", err)
	}
	p.created.Add(1)
	return &runtime{vm: vm, fns: make(map[*goja.Program]goja.Callable)}, nil
}

func (p *pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *pool) stats() PoolStats {
	return PoolStats{
		Created:  p.created.Load(),
		Acquired: p.acquired.Load(),
		Idle:     len(p.idle),
		InUse:    len(p.slots),
	}
}

// close drops idle runtimes. Runtimes in use are dropped on release.
func (p *pool) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case <-p.idle:
		default:
			return
		}
	}
}
