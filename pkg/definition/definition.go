// Package definition builds parser trees from JSON documents.
//
// A document names reusable levels and a root level:
//
//	{
//	  "definitions": {
//	    "book": {"key": "bookId", "shape": "named", "properties": ["bookId", "title"]}
//	  },
//	  "root": {
//	    "key": "authorId",
//	    "shape": "named",
//	    "properties": [
//	      "authorId",
//	      {"name": {"expr": "row.first + ' ' + row.last"}},
//	      {"books": [{"ref": "book"}]}
//	    ]
//	  }
//	}
//
// A property is an integer or string locator, {"expr": js} or
// {"script": js} for computed values, {"ref": name} or an inline level for a
// nested single, and a one-element array of either for a nested list.
// Documents are validated against Schema before compiling. Each named
// definition is compiled once and shared by all references to it.
package definition

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/nest"
	"github.com/wehubfusion/Daedalus/pkg/rows"
	"github.com/wehubfusion/Daedalus/pkg/script"
)

// Document is a compiled definition document.
type Document struct {
	Root  *nest.Parser
	named map[string]*nest.Parser
}

// Lookup returns the compiled parser of a named definition.
func (d *Document) Lookup(name string) (*nest.Parser, bool) {
	p, ok := d.named[name]
	return p, ok
}

// Names returns the definition names in sorted order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.named))
	for name := range d.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type options struct {
	engine *script.Engine
	logger *zap.Logger
}

// Option configures Compile.
type Option func(*options)

// WithEngine sets the engine compiling expr and script properties.
// Without one, documents containing them are rejected.
func WithEngine(engine *script.Engine) Option {
	return func(o *options) { o.engine = engine }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Load reads a document from r and compiles it.
func Load(r io.Reader, opts ...Option) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	return Compile(data, opts...)
}

// Compile validates and compiles a definition document.
func Compile(data []byte, opts ...Option) (*Document, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := validateDoc(raw); err != nil {
		return nil, err
	}

	doc := raw.(map[string]any)
	defs, _ := doc["definitions"].(map[string]any)
	c := &compiler{
		opts:     o,
		defs:     defs,
		compiled: make(map[string]*nest.Parser, len(defs)),
		visiting: make(map[string]bool),
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := c.ref(name, "definitions."+name); err != nil {
			return nil, err
		}
	}

	root, err := c.level("root", doc["root"].(map[string]any))
	if err != nil {
		return nil, err
	}
	o.logger.Debug("definition compiled",
		zap.Int("definitions", len(c.compiled)),
		zap.Strings("root_properties", root.Properties()))
	return &Document{Root: root, named: c.compiled}, nil
}

type compiler struct {
	opts     options
	defs     map[string]any
	compiled map[string]*nest.Parser
	visiting map[string]bool
	stack    []string
}

// ref compiles the named definition once. Cycles are errors: a parser tree
// is finite.
func (c *compiler) ref(name, path string) (*nest.Parser, error) {
	if p, ok := c.compiled[name]; ok {
		return p, nil
	}
	def, ok := c.defs[name]
	if !ok {
		return nil, derrors.NewError(derrors.CodeInvalidDefinition,
			fmt.Sprintf("%s: no definition named %q", path, name), derrors.ErrUnknownReference)
	}
	if c.visiting[name] {
		cycle := append(append([]string(nil), c.stack...), name)
		return nil, derrors.NewError(derrors.CodeInvalidDefinition,
			fmt.Sprintf("cyclic reference %s", strings.Join(cycle, " -> ")), derrors.ErrInvalidDefinition)
	}

	c.visiting[name] = true
	c.stack = append(c.stack, name)
	p, err := c.level("definitions."+name, def.(map[string]any))
	c.stack = c.stack[:len(c.stack)-1]
	delete(c.visiting, name)
	if err != nil {
		return nil, err
	}
	c.compiled[name] = p
	return p, nil
}

func (c *compiler) level(path string, lv map[string]any) (*nest.Parser, error) {
	shape, err := nest.ParseShape(lv["shape"].(string))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	key, err := locator(lv["key"])
	if err != nil {
		return nil, derrors.InvalidProperty(path+".key", "%v", err)
	}

	var props any
	switch defs := lv["properties"].(type) {
	case nil:
	case map[string]any:
		fields, err := c.fields(path, defs)
		if err != nil {
			return nil, err
		}
		props = fields
	case []any:
		entries := make([]any, len(defs))
		for i, entry := range defs {
			switch e := entry.(type) {
			case string:
				entries[i] = e
			case map[string]any:
				fields, err := c.fields(path, e)
				if err != nil {
					return nil, err
				}
				entries[i] = fields
			}
		}
		props = entries
	}

	p, err := nest.New(nest.Options{Key: key, Shape: shape, Properties: props})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (c *compiler) fields(path string, defs map[string]any) (nest.Fields, error) {
	out := make(nest.Fields, len(defs))
	for name, def := range defs {
		v, err := c.property(path+"."+name, def)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// property turns one schema-valid property value into what nest accepts.
func (c *compiler) property(path string, def any) (any, error) {
	switch d := def.(type) {
	case json.Number, string:
		loc, err := locator(d)
		if err != nil {
			return nil, derrors.InvalidProperty(path, "%v", err)
		}
		return loc, nil
	case []any:
		child, err := c.nested(path+"[]", d[0].(map[string]any))
		if err != nil {
			return nil, err
		}
		return []nest.Spec{child}, nil
	case map[string]any:
		if src, ok := d["expr"].(string); ok {
			return c.computed(path, src, false)
		}
		if src, ok := d["script"].(string); ok {
			return c.computed(path, src, true)
		}
		return c.nested(path, d)
	}
	return nil, derrors.InvalidProperty(path, "unsupported value of type %T", def)
}

func (c *compiler) nested(path string, d map[string]any) (*nest.Parser, error) {
	if name, ok := d["ref"].(string); ok {
		return c.ref(name, path)
	}
	return c.level(path, d)
}

func (c *compiler) computed(path, src string, body bool) (rows.Extractor, error) {
	if c.opts.engine == nil {
		return nil, derrors.InvalidProperty(path, "computed properties need a script engine")
	}
	var (
		fn  rows.Extractor
		err error
	)
	if body {
		fn, err = c.opts.engine.Function(src)
	} else {
		fn, err = c.opts.engine.Expression(src)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fn, nil
}

// locator converts a decoded key into a Locator. nil yields the unset locator.
func locator(v any) (rows.Locator, error) {
	switch k := v.(type) {
	case nil:
		return rows.Locator{}, nil
	case string:
		return rows.Name(k), nil
	case json.Number:
		i, err := k.Int64()
		if err != nil || i < 0 {
			return rows.Locator{}, fmt.Errorf("column index must be a non-negative integer, got %s", k)
		}
		return rows.Index(int(i)), nil
	}
	return rows.Locator{}, fmt.Errorf("unsupported key of type %T", v)
}
