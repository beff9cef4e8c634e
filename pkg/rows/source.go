package rows

import (
	"context"
	"io"
)

// Source delivers rows one at a time. Next returns io.EOF after the last row.
type Source interface {
	Next(ctx context.Context) (Row, error)
	Close() error
}

// SliceSource serves rows from memory.
type SliceSource struct {
	rows []Row
	pos  int
}

// NewSliceSource returns a source over rows.
func NewSliceSource(rows ...Row) *SliceSource {
	return &SliceSource{rows: rows}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

// Close implements Source.
func (s *SliceSource) Close() error { return nil }

// Collect drains src into a slice and closes it.
func Collect(ctx context.Context, src Source) ([]Row, error) {
	defer src.Close()
	var out []Row
	for {
		row, err := src.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
}
