package nest

import (
	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

// Object is a grouped entity.
type Object = map[string]any

// buildCore evaluates the scalar and computed properties against row.
// Nested fields are filled in by the grouper.
func (p *Parser) buildCore(row rows.Row) (Object, error) {
	obj := make(Object, len(p.core)+len(p.nested))
	for _, prop := range p.core {
		switch prop.kind {
		case kindScalar:
			obj[prop.name] = prop.loc.Lookup(row)
		case kindComputed:
			v, err := prop.compute(row)
			if err != nil {
				return nil, derrors.ComputeFailed(prop.name, err)
			}
			obj[prop.name] = v
		}
	}
	return obj, nil
}
