package nest

import (
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

// grouper is the grouping state of one Parser level at one usage site.
// children are index-aligned with parser.nested.
type grouper struct {
	parser   *Parser
	children []Grouper

	key     any
	current Object
	open    bool
}

func (g *grouper) Prepare(row rows.Row, fresh bool) (Step, error) {
	key := g.parser.key.Lookup(row)

	// Same run: only nested levels can change.
	if g.open && !fresh && rows.KeyEqual(key, g.key) {
		steps, err := g.prepareChildren(row, false)
		if err != nil {
			return nil, err
		}
		return StepFunc(func() (any, bool) {
			g.commitChildren(steps)
			return nil, false
		}), nil
	}

	if rows.IsNull(key) {
		if fresh && g.open {
			// The open value belongs to the parent's previous object.
			return StepFunc(func() (any, bool) {
				g.reset()
				return nil, false
			}), nil
		}
		return NoStep, nil
	}

	obj, err := g.parser.buildCore(row)
	if err != nil {
		return nil, err
	}
	steps, err := g.prepareChildren(row, true)
	if err != nil {
		return nil, err
	}
	return StepFunc(func() (any, bool) {
		for _, prop := range g.parser.nested {
			if prop.kind == kindMany {
				obj[prop.name] = []any{}
			} else {
				obj[prop.name] = nil
			}
		}
		g.key, g.current, g.open = key, obj, true
		g.commitChildren(steps)
		return obj, true
	}), nil
}

func (g *grouper) prepareChildren(row rows.Row, fresh bool) ([]Step, error) {
	if len(g.children) == 0 {
		return nil, nil
	}
	steps := make([]Step, len(g.children))
	for i, child := range g.children {
		step, err := child.Prepare(row, fresh)
		if err != nil {
			return nil, err
		}
		steps[i] = step
	}
	return steps, nil
}

// commitChildren applies the children's steps and attaches every value they
// opened: appended for nested lists, assigned for nested singles.
func (g *grouper) commitChildren(steps []Step) {
	for i, step := range steps {
		v, opened := step.Commit()
		if !opened {
			continue
		}
		prop := g.parser.nested[i]
		if prop.kind == kindMany {
			list, _ := g.current[prop.name].([]any)
			g.current[prop.name] = append(list, v)
		} else {
			g.current[prop.name] = v
		}
	}
}

func (g *grouper) Current() (any, bool) {
	if !g.open {
		return nil, false
	}
	return g.current, true
}

func (g *grouper) End() (any, bool) {
	if !g.open {
		return nil, false
	}
	obj := g.current
	g.reset()
	return obj, true
}

func (g *grouper) reset() {
	g.key, g.current, g.open = nil, nil, false
	for _, child := range g.children {
		child.End()
	}
}
