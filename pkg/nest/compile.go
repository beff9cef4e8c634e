package nest

import (
	"fmt"
	"reflect"
	"sort"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

// Shape selects how a property definition is read.
type Shape int

const (
	ShapePositional Shape = iota + 1 // Fields map, key defaults to index 0
	ShapeNamed                       // ordered entry list, key required
	ShapeScalar                      // no properties, the key is the value
)

func (s Shape) String() string {
	switch s {
	case ShapePositional:
		return "positional"
	case ShapeNamed:
		return "named"
	case ShapeScalar:
		return "scalar"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// ParseShape maps a shape name to a Shape.
func ParseShape(name string) (Shape, error) {
	switch name {
	case "positional":
		return ShapePositional, nil
	case "named":
		return ShapeNamed, nil
	case "scalar":
		return ShapeScalar, nil
	}
	return 0, derrors.NewError(derrors.CodeInvalidShape, fmt.Sprintf("unknown shape %q", name), derrors.ErrInvalidShape)
}

// Fields maps property names to their definitions.
type Fields map[string]any

type propKind uint8

const (
	kindScalar propKind = iota
	kindComputed
	kindSingle
	kindMany
)

type property struct {
	name    string
	kind    propKind
	loc     rows.Locator
	compute rows.Extractor
	child   Spec
}

// compileFields classifies every entry of fields in name order, so computed
// functions of a positional definition always run in the same order.
func compileFields(fields map[string]any) ([]property, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	props := make([]property, 0, len(names))
	for _, name := range names {
		prop, err := classify(name, fields[name])
		if err != nil {
			return nil, err
		}
		props = append(props, prop)
	}
	return props, nil
}

// compileEntries classifies a named-shape entry list, keeping list order.
func compileEntries(entries []any) ([]property, error) {
	var props []property
	for i, entry := range entries {
		switch e := entry.(type) {
		case string:
			if e == "" {
				return nil, derrors.NewError(derrors.CodeInvalidProperty,
					fmt.Sprintf("entry %d: empty field name", i), derrors.ErrInvalidProperty)
			}
			props = append(props, property{name: e, kind: kindScalar, loc: rows.Name(e)})
		case Fields:
			more, err := compileFields(e)
			if err != nil {
				return nil, err
			}
			props = append(props, more...)
		case map[string]any:
			more, err := compileFields(e)
			if err != nil {
				return nil, err
			}
			props = append(props, more...)
		default:
			return nil, derrors.NewError(derrors.CodeInvalidProperty,
				fmt.Sprintf("entry %d: expected a field name or Fields, got %T", i, entry), derrors.ErrInvalidProperty)
		}
	}
	return props, nil
}

func classify(name string, def any) (property, error) {
	if name == "" {
		return property{}, derrors.InvalidProperty(name, "empty property name")
	}
	prop := property{name: name}

	switch v := def.(type) {
	case int:
		if v < 0 {
			return prop, derrors.InvalidProperty(name, "negative column index %d", v)
		}
		prop.kind, prop.loc = kindScalar, rows.Index(v)
	case string:
		if v == "" {
			return prop, derrors.InvalidProperty(name, "empty column name")
		}
		prop.kind, prop.loc = kindScalar, rows.Name(v)
	case rows.Locator:
		if v.IsZero() {
			return prop, derrors.InvalidProperty(name, "unset locator")
		}
		prop.kind, prop.loc = kindScalar, v
	case rows.Extractor:
		if v == nil {
			return prop, derrors.InvalidProperty(name, "nil function")
		}
		prop.kind, prop.compute = kindComputed, v
	case func(rows.Row) (any, error):
		if v == nil {
			return prop, derrors.InvalidProperty(name, "nil function")
		}
		prop.kind, prop.compute = kindComputed, v
	case func(rows.Row) any:
		if v == nil {
			return prop, derrors.InvalidProperty(name, "nil function")
		}
		prop.kind = kindComputed
		prop.compute = func(row rows.Row) (any, error) { return v(row), nil }
	case Spec:
		if isNilSpec(v) {
			return prop, derrors.InvalidProperty(name, "nil parser of type %T", v)
		}
		prop.kind, prop.child = kindSingle, v
	case []Spec:
		if len(v) != 1 {
			return prop, derrors.InvalidProperty(name, "a nested list takes exactly one parser, got %d", len(v))
		}
		if isNilSpec(v[0]) {
			return prop, derrors.InvalidProperty(name, "nil parser in nested list")
		}
		prop.kind, prop.child = kindMany, v[0]
	case []any:
		if len(v) != 1 {
			return prop, derrors.InvalidProperty(name, "a nested list takes exactly one parser, got %d", len(v))
		}
		child, ok := v[0].(Spec)
		if !ok || isNilSpec(child) {
			return prop, derrors.InvalidProperty(name, "unknown parser of type %T", v[0])
		}
		prop.kind, prop.child = kindMany, child
	default:
		return prop, derrors.InvalidProperty(name, "unknown parser of type %T", def)
	}
	return prop, nil
}

// isNilSpec catches typed nils such as (*Parser)(nil) stored in an interface.
func isNilSpec(s Spec) bool {
	if s == nil {
		return true
	}
	rv := reflect.ValueOf(s)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func checkDuplicates(props []property) error {
	seen := make(map[string]struct{}, len(props))
	for _, p := range props {
		if _, dup := seen[p.name]; dup {
			return derrors.InvalidProperty(p.name, "defined more than once")
		}
		seen[p.name] = struct{}{}
	}
	return nil
}
