// Package cache layers an optional result cache over an executor adapter.
//
// Entries are keyed on the compiled statement text and its parameter
// vector; concurrent identical requests share one data-store call.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/executor"
)

// Cache stores executor results.
type Cache interface {
	// Get returns the cached result for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) (*executor.Result, bool, error)

	// Set stores res under key for ttl.
	Set(ctx context.Context, key string, res *executor.Result, ttl time.Duration) error
}

// Config selects a cache backend.
type Config struct {
	// Backend is none, memory or redis.
	Backend string
	TTL     time.Duration

	// Size bounds the memory backend's entry count.
	Size int

	Redis RedisConfig
}

// New builds the configured backend. The none backend returns a nil Cache.
func New(cfg Config) (Cache, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "memory":
		m, err := NewMemory(cfg.Size)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "redis":
		return NewRedis(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

// Key derives the cache key of a statement.
func Key(stmt *compiler.Statement) (string, error) {
	args, err := json.Marshal(stmt.Args)
	if err != nil {
		return "", fmt.Errorf("cache: encoding parameters: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(stmt.Dialect))
	h.Write([]byte{0})
	h.Write([]byte(stmt.SQL))
	h.Write([]byte{0})
	h.Write(args)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// wireResult is the serialized form of a result; rows keep column order.
type wireResult struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

func encode(res *executor.Result) ([]byte, error) {
	w := wireResult{Columns: res.Columns, Rows: make([][]interface{}, len(res.Rows))}
	for i, row := range res.Rows {
		vals := make([]interface{}, len(row))
		for j, c := range row {
			vals[j] = c.Value
		}
		w.Rows[i] = vals
	}
	return json.Marshal(w)
}

func decode(b []byte) (*executor.Result, error) {
	var w wireResult
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("cache: decoding entry: %w", err)
	}
	res := &executor.Result{Columns: w.Columns, Rows: make([]executor.Row, len(w.Rows))}
	for i, vals := range w.Rows {
		if len(vals) != len(w.Columns) {
			return nil, fmt.Errorf("cache: entry row %d has %d values for %d columns", i, len(vals), len(w.Columns))
		}
		row := make(executor.Row, len(vals))
		for j, v := range vals {
			row[j] = executor.Cell{Key: w.Columns[j], Value: v}
		}
		res.Rows[i] = row
	}
	return res, nil
}
