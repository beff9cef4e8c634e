package nest

import (
	"context"
	"fmt"
	"io"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

// Spec is anything that can group rows at one level of a tree.
// *Parser implements it; so may custom leaves.
type Spec interface {
	// NewGrouper returns fresh grouping state for one usage site.
	NewGrouper() Grouper
}

// Grouper holds the grouping state of one level at one usage site.
//
// Ingesting a row is two-phase. Prepare inspects the row, builds whatever
// the row opens and prepares nested levels, without changing any state.
// Commit on the returned Step applies the change. A row whose preparation
// fails therefore leaves every level of the tree untouched.
type Grouper interface {
	// Prepare evaluates row. fresh is set when the parent has just opened a
	// new object: the level then starts a new value for it instead of
	// continuing the previous parent's run.
	Prepare(row rows.Row, fresh bool) (Step, error)
	// Current returns the open value.
	Current() (any, bool)
	// End finalizes and returns the open value, leaving the grouper empty.
	End() (any, bool)
}

// Step is a prepared, not yet applied, change to a Grouper.
type Step interface {
	// Commit applies the change. It reports the value the row opened at
	// this level, if any, so the parent can attach it.
	Commit() (opened any, ok bool)
}

// StepFunc adapts a function to Step.
type StepFunc func() (any, bool)

// Commit implements Step.
func (f StepFunc) Commit() (any, bool) { return f() }

// NoStep is the Step of a row that changes nothing.
var NoStep Step = StepFunc(func() (any, bool) { return nil, false })

// Options configures New.
type Options struct {
	// Key locates the value identifying the entity of a row.
	Key rows.Locator
	// Shape selects how Properties is read.
	Shape Shape
	// Properties is a Fields map for ShapePositional, an entry list ([]any)
	// for ShapeNamed, and nil for ShapeScalar.
	Properties any
}

// Parser is an immutable, compiled grouping level.
type Parser struct {
	shape  Shape
	key    rows.Locator
	core   []property
	nested []property
}

var _ Spec = (*Parser)(nil)

// New compiles opts into a Parser. Every configuration problem is reported
// here; a Parser that compiled never fails on input shape.
func New(opts Options) (*Parser, error) {
	p := &Parser{shape: opts.Shape, key: opts.Key}

	var props []property
	var err error
	switch opts.Shape {
	case ShapePositional:
		if p.key.IsZero() {
			p.key = rows.Index(0)
		}
		switch defs := opts.Properties.(type) {
		case nil:
		case Fields:
			props, err = compileFields(defs)
		case map[string]any:
			props, err = compileFields(defs)
		default:
			return nil, derrors.NewError(derrors.CodeInvalidShape,
				fmt.Sprintf("positional properties must be Fields, got %T", opts.Properties), derrors.ErrInvalidShape)
		}
	case ShapeNamed:
		if p.key.IsZero() {
			return nil, derrors.NewError(derrors.CodeMissingKey, "named parser requires a key", derrors.ErrMissingKey)
		}
		switch defs := opts.Properties.(type) {
		case nil:
		case []any:
			props, err = compileEntries(defs)
		case []string:
			entries := make([]any, len(defs))
			for i, name := range defs {
				entries[i] = name
			}
			props, err = compileEntries(entries)
		default:
			return nil, derrors.NewError(derrors.CodeInvalidShape,
				fmt.Sprintf("named properties must be an entry list, got %T", opts.Properties), derrors.ErrInvalidShape)
		}
	case ShapeScalar:
		if p.key.IsZero() {
			return nil, derrors.NewError(derrors.CodeMissingKey, "scalar parser requires a key", derrors.ErrMissingKey)
		}
		if opts.Properties != nil {
			return nil, derrors.NewError(derrors.CodeInvalidShape, "scalar parser takes no properties", derrors.ErrInvalidShape)
		}
	default:
		return nil, derrors.NewError(derrors.CodeInvalidShape, fmt.Sprintf("unknown shape %v", opts.Shape), derrors.ErrInvalidShape)
	}
	if err != nil {
		return nil, err
	}
	if err := checkDuplicates(props); err != nil {
		return nil, err
	}

	for _, prop := range props {
		if prop.kind == kindSingle || prop.kind == kindMany {
			p.nested = append(p.nested, prop)
		} else {
			p.core = append(p.core, prop)
		}
	}
	return p, nil
}

// Positional compiles a parser over positional rows keyed by column index key.
func Positional(key int, fields Fields) (*Parser, error) {
	return New(Options{Key: rows.Index(key), Shape: ShapePositional, Properties: fields})
}

// Named compiles a parser over named rows keyed by column key. Each entry
// is a column name or a Fields map.
func Named(key string, entries ...any) (*Parser, error) {
	var k rows.Locator
	if key != "" {
		k = rows.Name(key)
	}
	return New(Options{Key: k, Shape: ShapeNamed, Properties: entries})
}

// Scalar compiles a parser that collects the distinct consecutive values at key.
func Scalar(key rows.Locator) (*Parser, error) {
	return New(Options{Key: key, Shape: ShapeScalar})
}

// Must panics if err is non-nil. It is meant for package-level parser trees.
func Must(p *Parser, err error) *Parser {
	if err != nil {
		panic(err)
	}
	return p
}

// Shape returns the row shape the parser was built for.
func (p *Parser) Shape() Shape { return p.shape }

// Key returns the key locator.
func (p *Parser) Key() rows.Locator { return p.key }

// Properties returns the property names: plain and computed first, then nested.
func (p *Parser) Properties() []string {
	names := make([]string, 0, len(p.core)+len(p.nested))
	for _, prop := range p.core {
		names = append(names, prop.name)
	}
	for _, prop := range p.nested {
		names = append(names, prop.name)
	}
	return names
}

// NewGrouper implements Spec.
func (p *Parser) NewGrouper() Grouper {
	if p.shape == ShapeScalar {
		return &scalarGrouper{key: p.key}
	}
	g := &grouper{parser: p, children: make([]Grouper, len(p.nested))}
	for i, prop := range p.nested {
		g.children[i] = prop.child.NewGrouper()
	}
	return g
}

// Group groups rs in a fresh session and returns every object in order.
func (p *Parser) Group(rs []rows.Row) ([]any, error) {
	s := p.NewSession()
	out := make([]any, 0)
	s.OnObject(func(obj any) { out = append(out, obj) })
	for i, row := range rs {
		if _, err := s.Ingest(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	s.End()
	return out, nil
}

// GroupSource drains src in a fresh session and returns every object in order.
// src is closed before returning.
func (p *Parser) GroupSource(ctx context.Context, src rows.Source, opts ...SessionOption) ([]any, error) {
	return GroupSource(ctx, p, src, opts...)
}

// GroupSource drains src in a fresh session over any Spec. src is closed
// before returning.
func GroupSource(ctx context.Context, spec Spec, src rows.Source, opts ...SessionOption) ([]any, error) {
	defer src.Close()

	s := NewSession(spec, opts...)
	out := make([]any, 0)
	s.OnObject(func(obj any) { out = append(out, obj) })
	for i := 0; ; i++ {
		row, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if _, err := s.Ingest(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	s.End()
	return out, nil
}
