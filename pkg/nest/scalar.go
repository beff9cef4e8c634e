package nest

import (
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

// scalarGrouper groups on the key alone and yields the key as the value.
type scalarGrouper struct {
	key   rows.Locator
	value any
	open  bool
}

func (g *scalarGrouper) Prepare(row rows.Row, fresh bool) (Step, error) {
	v := g.key.Lookup(row)
	if g.open && !fresh && rows.KeyEqual(v, g.value) {
		return NoStep, nil
	}
	if rows.IsNull(v) {
		if fresh && g.open {
			return StepFunc(func() (any, bool) {
				g.End()
				return nil, false
			}), nil
		}
		return NoStep, nil
	}
	return StepFunc(func() (any, bool) {
		g.value, g.open = v, true
		return v, true
	}), nil
}

func (g *scalarGrouper) Current() (any, bool) {
	if !g.open {
		return nil, false
	}
	return g.value, true
}

func (g *scalarGrouper) End() (any, bool) {
	if !g.open {
		return nil, false
	}
	v := g.value
	g.value, g.open = nil, false
	return v, true
}
