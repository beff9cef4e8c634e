package rows

import (
	"golang.org/x/text/cases"
)

// Header is an ordered list of column names shared by the rows of one result set.
type Header struct {
	names []string
	index map[string]int
	fold  bool
}

// HeaderOption configures a Header.
type HeaderOption func(*Header)

// FoldCase makes name lookups case-insensitive using Unicode case folding.
// Database drivers disagree on the case of column names; folding lets one
// definition serve all of them.
func FoldCase() HeaderOption {
	return func(h *Header) { h.fold = true }
}

// NewHeader builds a header. When a name repeats, the first position wins,
// matching how SQL result sets expose duplicated column labels.
func NewHeader(names []string, opts ...HeaderOption) *Header {
	h := &Header{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for _, opt := range opts {
		opt(h)
	}
	for i, name := range h.names {
		key := h.normalize(name)
		if _, exists := h.index[key]; !exists {
			h.index[key] = i
		}
	}
	return h
}

// Names returns the column names in order.
func (h *Header) Names() []string { return h.names }

// Len returns the number of columns.
func (h *Header) Len() int { return len(h.names) }

// Lookup returns the position of the named column.
func (h *Header) Lookup(name string) (int, bool) {
	i, ok := h.index[h.normalize(name)]
	return i, ok
}

func (h *Header) normalize(name string) string {
	if !h.fold {
		return name
	}
	// Casers are stateful, so one is created per call.
	return cases.Fold().String(name)
}
