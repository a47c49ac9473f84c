// Package executor runs compiled statements against a data store.
//
// Adapters are thin database/sql wrappers: they take a compiled statement,
// bind its parameter vector, and reshape rows into ordered field/value
// mappings. They never see raw request text.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/canonica-labs/dealquery/internal/compiler"
)

// Cell is one value of a row under its output alias.
type Cell struct {
	Key   string
	Value interface{}
}

// Row is an ordered record. It marshals to a JSON object whose keys keep
// projection order.
type Row []Cell

// MarshalJSON writes the row as an object in cell order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the value stored under key.
func (r Row) Get(key string) (interface{}, bool) {
	for _, c := range r {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

// Result is the outcome of running one statement.
type Result struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Count reads the scalar produced by a count statement.
func (r *Result) Count() (int64, error) {
	if len(r.Rows) != 1 || len(r.Rows[0]) == 0 {
		return 0, fmt.Errorf("count statement returned %d rows", len(r.Rows))
	}
	switch v := r.Rows[0][0].Value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("count statement returned %T", v)
	}
}

// Adapter is implemented by every data-store adapter.
type Adapter interface {
	// Name returns the engine name.
	Name() string

	// Dialect returns the SQL dialect statements must be rendered in.
	Dialect() compiler.Dialect

	// Query runs stmt with its bound parameters.
	Query(ctx context.Context, stmt *compiler.Statement) (*Result, error)

	// Ping checks that the data store is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection pool. Close is idempotent.
	Close() error
}
