package rows

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSVConfig configures a CSVSource.
type CSVConfig struct {
	// HasHeader treats the first record as column names; rows are then Columns.
	HasHeader bool
	// Comma is the field delimiter.
	Comma rune
	// TrimSpace trims surrounding whitespace from every cell.
	TrimSpace bool
	// EmptyAsNull turns empty cells into nil so they read as null keys.
	EmptyAsNull bool
	// FoldCase makes header lookups case-insensitive.
	FoldCase bool
	// LazyQuotes is passed to encoding/csv.
	LazyQuotes bool
}

// DefaultCSVConfig returns the configuration used for typical exported join results.
func DefaultCSVConfig() CSVConfig {
	return CSVConfig{
		HasHeader:   true,
		Comma:       ',',
		TrimSpace:   true,
		EmptyAsNull: true,
	}
}

// ApplyDefaults fills unset fields.
func (c *CSVConfig) ApplyDefaults() {
	if c.Comma == 0 {
		c.Comma = ','
	}
}

// Validate checks the configuration.
func (c CSVConfig) Validate() error {
	if c.Comma == '\r' || c.Comma == '\n' || c.Comma == '"' {
		return fmt.Errorf("invalid csv delimiter %q", c.Comma)
	}
	return nil
}

// CSVSource reads rows from CSV text. Without a header it yields Values,
// with one it yields Columns sharing a single Header.
type CSVSource struct {
	reader *csv.Reader
	closer io.Closer
	cfg    CSVConfig
	header *Header
	line   int
	err    error
}

// NewCSVSource reads CSV from r. If r is an io.Closer it is closed by Close.
func NewCSVSource(r io.Reader, cfg CSVConfig) (*CSVSource, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.Comma = cfg.Comma
	cr.LazyQuotes = cfg.LazyQuotes
	cr.FieldsPerRecord = -1

	s := &CSVSource{reader: cr, cfg: cfg}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}

	if cfg.HasHeader {
		names, err := cr.Read()
		if err != nil {
			s.Close()
			if err == io.EOF {
				return nil, fmt.Errorf("csv input has no header")
			}
			return nil, fmt.Errorf("read csv header: %w", err)
		}
		s.line++
		for i := range names {
			names[i] = strings.TrimSpace(strings.TrimPrefix(names[i], "\ufeff"))
		}
		var opts []HeaderOption
		if cfg.FoldCase {
			opts = append(opts, FoldCase())
		}
		s.header = NewHeader(names, opts...)
	}
	return s, nil
}

// Header returns the parsed header, or nil when the input has none.
func (s *CSVSource) Header() *Header { return s.header }

// Next implements Source.
func (s *CSVSource) Next(ctx context.Context) (Row, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := s.reader.Read()
	if err != nil {
		if err != io.EOF {
			err = fmt.Errorf("csv read error at line %d: %w", s.line+1, err)
		}
		s.err = err
		return nil, err
	}
	s.line++

	values := make([]any, len(record))
	for i, cell := range record {
		if s.cfg.TrimSpace {
			cell = strings.TrimSpace(cell)
		}
		if cell == "" && s.cfg.EmptyAsNull {
			continue
		}
		values[i] = cell
	}

	if s.header != nil {
		return NewColumns(s.header, values), nil
	}
	return Values(values), nil
}

// Close implements Source.
func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	c := s.closer
	s.closer = nil
	return c.Close()
}
