package rows

import (
	"bytes"
	"database/sql/driver"
	"reflect"
	"strconv"
	"time"
)

type locatorKind uint8

const (
	locatorUnset locatorKind = iota
	locatorIndex
	locatorName
)

// Locator addresses one value of a row, by position or by name.
// The zero Locator is unset.
type Locator struct {
	kind  locatorKind
	index int
	name  string
}

// Index returns a positional locator.
func Index(i int) Locator {
	return Locator{kind: locatorIndex, index: i}
}

// Name returns a named locator.
func Name(name string) Locator {
	return Locator{kind: locatorName, name: name}
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool { return l.kind == locatorUnset }

// IsIndex reports whether the locator is positional.
func (l Locator) IsIndex() bool { return l.kind == locatorIndex }

// Lookup returns the located value, or nil when the row does not have it.
func (l Locator) Lookup(row Row) any {
	var v any
	switch l.kind {
	case locatorIndex:
		v, _ = row.Index(l.index)
	case locatorName:
		v, _ = row.Field(l.name)
	}
	return v
}

func (l Locator) String() string {
	switch l.kind {
	case locatorIndex:
		return "[" + strconv.Itoa(l.index) + "]"
	case locatorName:
		return strconv.Quote(l.name)
	default:
		return "<unset>"
	}
}

// Extractor derives a value from a whole row.
type Extractor func(row Row) (any, error)

// IsNull reports whether v represents a missing value: nil, a nil pointer,
// map, slice or interface, or a driver.Valuer (sql.NullString and friends)
// whose value is nil.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return true
		}
	}
	if valuer, ok := v.(driver.Valuer); ok {
		return nullValue(valuer)
	}
	return false
}

// nullValue treats a Valuer that fails or panics as a present value.
func nullValue(valuer driver.Valuer) (null bool) {
	defer func() {
		if recover() != nil {
			null = false
		}
	}()
	dv, err := valuer.Value()
	return err == nil && dv == nil
}

// KeyEqual compares two keys for equality. It never panics on uncomparable
// values and applies no numeric coercion: int64(1) and float64(1) differ.
func KeyEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return safeEqual(a, b)
	}
	return reflect.DeepEqual(a, b)
}

// safeEqual compares values of comparable static type whose dynamic
// contents may still be uncomparable (a struct holding an interface field).
func safeEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return a == b
}
