package rows

import (
	"context"
	"database/sql"
	"fmt"
	"io"
)

// SQLSource adapts a database/sql result set. Rows are Columns, so
// definitions may address them by position or by column label.
type SQLSource struct {
	rows   *sql.Rows
	header *Header
	dest   []any
}

// NewSQLSource reads the column labels of rows and returns a source over it.
// The source owns rows and closes it.
func NewSQLSource(rows *sql.Rows, opts ...HeaderOption) (*SQLSource, error) {
	names, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("read columns: %w", err)
	}
	return &SQLSource{
		rows:   rows,
		header: NewHeader(names, opts...),
		dest:   make([]any, len(names)),
	}, nil
}

// Query runs query on db and returns a source over its result.
func Query(ctx context.Context, db *sql.DB, query string, args ...any) (*SQLSource, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return NewSQLSource(rows, FoldCase())
}

// Header returns the result-set header.
func (s *SQLSource) Header() *Header { return s.header }

// Next implements Source.
func (s *SQLSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate rows: %w", err)
		}
		return nil, io.EOF
	}

	values := make([]any, len(s.dest))
	for i := range values {
		s.dest[i] = &values[i]
	}
	// Scanning into *any copies driver-owned byte slices.
	if err := s.rows.Scan(s.dest...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return NewColumns(s.header, values), nil
}

// Close implements Source.
func (s *SQLSource) Close() error {
	return s.rows.Close()
}
