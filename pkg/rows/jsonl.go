package rows

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

const maxJSONLine = 16 * 1024 * 1024

// JSONLinesSource reads one JSON document per line. Blank lines are skipped.
type JSONLinesSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// NewJSONLinesSource reads newline-delimited JSON from r.
// If r is an io.Closer it is closed by Close.
func NewJSONLinesSource(r io.Reader) *JSONLinesSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxJSONLine)
	s := &JSONLinesSource{scanner: sc}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Next implements Source.
func (s *JSONLinesSource) Next(ctx context.Context) (Row, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read json line %d: %w", s.line+1, err)
			}
			return nil, io.EOF
		}
		s.line++

		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		// The scanner reuses its buffer; gjson results keep references into raw.
		row, ok := ParseJSON(bytes.Clone(raw))
		if !ok {
			return nil, fmt.Errorf("line %d: not a JSON object or array", s.line)
		}
		return row, nil
	}
}

// Close implements Source.
func (s *JSONLinesSource) Close() error {
	if s.closer == nil {
		return nil
	}
	c := s.closer
	s.closer = nil
	return c.Close()
}
