package docstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Filter restricts a Query. Build one with Where.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Where builds a filter. Supported operators are "==" and "array-contains".
func Where(field, op string, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

func (f Filter) clause() (string, []any, error) {
	if !fieldNameRe.MatchString(f.Field) {
		return "", nil, fmt.Errorf("invalid field name %q", f.Field)
	}
	path := "$." + f.Field
	value := sqlValue(f.Value)
	switch f.Op {
	case "==":
		return "json_extract(data, ?) = ?", []any{path, value}, nil
	case "array-contains":
		return "EXISTS (SELECT 1 FROM json_each(data, ?) WHERE value = ?)", []any{path, value}, nil
	default:
		return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
	}
}

// sqlValue maps a Go value onto what json_extract returns for it.
func sqlValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case int:
		return int64(t)
	default:
		return v
	}
}

// Query returns every document in coll matching all filters, ordered by id.
func (s *Store) Query(ctx context.Context, coll string, filters ...Filter) ([]*Snapshot, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, data, updated_at FROM documents WHERE collection = ?`)
	args := []any{coll}
	for _, f := range filters {
		clause, fargs, err := f.clause()
		if err != nil {
			return nil, fmt.Errorf("docstore: query %s: %w", coll, err)
		}
		sb.WriteString(" AND ")
		sb.WriteString(clause)
		args = append(args, fargs...)
	}
	sb.WriteString(" ORDER BY id")

	rows, err := s.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: query %s: %w", coll, err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var (
			id, raw   string
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &raw, &updatedAt); err != nil {
			return nil, fmt.Errorf("docstore: scan %s: %w", coll, err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("docstore: query %s/%s: %w", coll, id, err)
		}
		out = append(out, &Snapshot{Collection: coll, ID: id, Data: data, UpdateTime: updatedAt})
	}
	return out, rows.Err()
}
