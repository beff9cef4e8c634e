package rows

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PGXRows is the part of pgx.Rows a PGXSource reads.
type PGXRows interface {
	FieldDescriptions() []pgconn.FieldDescription
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

var _ PGXRows = (pgx.Rows)(nil)

// Querier is implemented by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGXSource adapts a pgx result set. Values are decoded by pgx into their
// natural Go types, so keys compare the way PostgreSQL compares them.
type PGXSource struct {
	rows   PGXRows
	header *Header
}

// NewPGXSource returns a source over rows. The source owns rows and closes it.
func NewPGXSource(rows PGXRows) *PGXSource {
	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, fd := range fields {
		names[i] = fd.Name
	}
	return &PGXSource{rows: rows, header: NewHeader(names)}
}

// QueryPGX runs query and returns a source over its result.
func QueryPGX(ctx context.Context, q Querier, query string, args ...any) (*PGXSource, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return NewPGXSource(rows), nil
}

// Header returns the result-set header.
func (s *PGXSource) Header() *Header { return s.header }

// Next implements Source.
func (s *PGXSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate rows: %w", err)
		}
		return nil, io.EOF
	}
	values, err := s.rows.Values()
	if err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return NewColumns(s.header, values), nil
}

// Close implements Source.
func (s *PGXSource) Close() error {
	s.rows.Close()
	return s.rows.Err()
}
