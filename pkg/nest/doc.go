// Package nest turns runs of flat, denormalized rows into nested objects.
//
// A SQL join across a one-to-many relationship repeats the parent columns on
// every child row. A Parser describes how to fold those rows back: which
// column identifies the entity at each level (the key), which columns become
// plain fields, which fields are computed from the whole row, and which
// fields delegate to a child Parser for a nested object or a nested list.
//
// # Row Shapes
//
// The shape of the definition is chosen explicitly at construction:
//
//   - ShapePositional: properties are a Fields map of name to definition,
//     typically column indexes. The key defaults to index 0.
//   - ShapeNamed: properties are an ordered list whose entries are column
//     names (the property takes the column's name) or Fields maps. A key is required.
//   - ShapeScalar: no properties; each group yields the key value itself.
//     Used for lists of plain values such as ["Blue", "Green"].
//
// # Property Definitions
//
// Each definition is classified once, when the Parser is built:
//
//	int, string, rows.Locator         scalar lookup
//	func(rows.Row) (any, error)       computed
//	func(rows.Row) any                computed
//	nest.Spec (e.g. *nest.Parser)     nested single
//	[]nest.Spec{child}, []any{child}  nested many
//
// Anything else is a configuration error naming the property.
//
// # Grouping
//
// Consecutive rows with an equal key at a level belong to one object. When
// the key changes the open object is finalized and a new one is started from
// the current row; plain and computed fields are taken from the first row of
// the run only. A null key never opens, extends or finalizes an object, so
// left joins without a matching child row leave the child list empty.
//
// Rows are never sorted or buffered: a key that reappears after a different
// key starts a second object.
//
// A compiled Parser is immutable. Grouping state lives in Groupers created per
// usage site, so one Parser can appear under several parents and back any
// number of concurrent Sessions.
//
// # Sessions
//
// A Session drives the root level. Observers registered with OnObject receive
// every finalized root object, in input order, and End flushes the last one:
//
//	p := nest.Must(nest.Positional(0, nest.Fields{
//		"id":   0,
//		"name": 1,
//		"blogs": []nest.Spec{nest.Must(nest.Positional(2, nest.Fields{
//			"id":    2,
//			"title": 3,
//		}))},
//	}))
//
//	s := p.NewSession()
//	s.OnObject(func(obj any) { fmt.Println(obj) })
//	for _, row := range input {
//		if _, err := s.Ingest(row); err != nil {
//			return err
//		}
//	}
//	s.End()
package nest
