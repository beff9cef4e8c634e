// Package rows provides a uniform read-only view over flat tabular rows.
//
// A row can be positional (Values), named (Record), both (Columns, which
// shares a Header across all rows of one result set) or a JSON document
// (JSON). Lookups never fail: a missing index or field resolves to an
// absent value, which callers treat exactly like a null column.
package rows

import (
	"strconv"

	"github.com/tidwall/gjson"
)

// Row is a read-only view over one row of input.
type Row interface {
	// Index returns the value at position i.
	Index(i int) (any, bool)
	// Field returns the value of the named column.
	Field(name string) (any, bool)
}

// Values is a positional row.
type Values []any

// Index implements Row.
func (v Values) Index(i int) (any, bool) {
	if i < 0 || i >= len(v) {
		return nil, false
	}
	return v[i], true
}

// Field implements Row. Positional rows have no names.
func (v Values) Field(string) (any, bool) { return nil, false }

// Export returns the row as a plain slice.
func (v Values) Export() any { return []any(v) }

// Record is a named row.
type Record map[string]any

// Index implements Row. Named rows have no positions.
func (r Record) Index(int) (any, bool) { return nil, false }

// Field implements Row.
func (r Record) Field(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

// Export returns the row as a plain map.
func (r Record) Export() any { return map[string]any(r) }

// Columns is a positional row whose positions are also reachable by name
// through a Header shared by every row of the same result set.
type Columns struct {
	header *Header
	values []any
}

// NewColumns binds values to header. values is not copied.
func NewColumns(header *Header, values []any) Columns {
	return Columns{header: header, values: values}
}

// Index implements Row.
func (c Columns) Index(i int) (any, bool) {
	return Values(c.values).Index(i)
}

// Field implements Row.
func (c Columns) Field(name string) (any, bool) {
	if c.header == nil {
		return nil, false
	}
	i, ok := c.header.Lookup(name)
	if !ok {
		return nil, false
	}
	return c.Index(i)
}

// Header returns the header the row is bound to.
func (c Columns) Header() *Header { return c.header }

// Export returns the row as a map keyed by column name.
func (c Columns) Export() any {
	out := make(map[string]any, len(c.values))
	if c.header == nil {
		return out
	}
	for i, name := range c.header.Names() {
		if i < len(c.values) {
			out[name] = c.values[i]
		}
	}
	return out
}

// JSON is a row holding one JSON document. Field accepts gjson paths, so
// nested documents can be addressed as "author.id"; JSON arrays answer Index.
type JSON struct {
	doc gjson.Result
}

// ParseJSON wraps raw, which must be a valid JSON object or array.
func ParseJSON(raw []byte) (JSON, bool) {
	if !gjson.ValidBytes(raw) {
		return JSON{}, false
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() && !doc.IsArray() {
		return JSON{}, false
	}
	return JSON{doc: doc}, true
}

// Index implements Row.
func (j JSON) Index(i int) (any, bool) {
	if !j.doc.IsArray() || i < 0 {
		return nil, false
	}
	res := j.doc.Get(strconv.Itoa(i))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// Field implements Row.
func (j JSON) Field(name string) (any, bool) {
	if !j.doc.IsObject() {
		return nil, false
	}
	res := j.doc.Get(name)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// Export returns the decoded document.
func (j JSON) Export() any { return j.doc.Value() }

// Exporter is implemented by rows that can present themselves as plain Go values.
type Exporter interface {
	Export() any
}

// Export returns row as a plain slice or map, or nil when the row cannot export itself.
func Export(row Row) any {
	if e, ok := row.(Exporter); ok {
		return e.Export()
	}
	return nil
}
