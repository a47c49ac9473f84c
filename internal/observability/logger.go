// Package observability provides structured process logs, the per-request
// query audit trail, and Prometheus metrics for the dealquery gateway.
//
// Every request must emit one audit entry: query_id, user, roles joined,
// field count, render mode, outcome, execution time and the failing
// parameter key. Entries never carry parameter values or SQL text.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/canonica-labs/dealquery/internal/compiler"
)

// Outcomes of a request.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// QueryLogEntry is one audited request.
type QueryLogEntry struct {
	// QueryID is the unique identifier of the request.
	QueryID string

	// User is the authenticated caller; "anonymous" when auth is disabled.
	User string

	// Roles are the join roles the statement used, in join order.
	Roles []string

	// FieldCount is the number of filter parameters.
	FieldCount int

	// Mode is the render mode: count, page or limit. Empty when the
	// request was rejected before compilation finished.
	Mode string

	// Engine is the data store the statement ran on.
	Engine string

	// CacheHit reports whether the result came from the cache.
	CacheHit bool

	// ExecutionTime covers compile and execute. Must be non-negative.
	ExecutionTime time.Duration

	// Outcome is success, rejected (compile-time failure) or error.
	Outcome string

	// ErrorKey is the offending parameter key of a rejected request.
	ErrorKey string

	// ErrorCode is the error category, zero on success.
	ErrorCode int
}

// Validate checks that all required fields are present.
func (e *QueryLogEntry) Validate() error {
	if e.QueryID == "" {
		return fmt.Errorf("observability: query_id is required")
	}
	if e.User == "" {
		return fmt.Errorf("observability: user is required")
	}
	if e.ExecutionTime < 0 {
		return fmt.Errorf("observability: execution_time cannot be negative")
	}
	switch e.Outcome {
	case OutcomeSuccess, OutcomeRejected, OutcomeError:
	default:
		return fmt.Errorf("observability: unknown outcome %q", e.Outcome)
	}
	return nil
}

// QueryLogger records audit entries.
type QueryLogger interface {
	// LogQuery records one request. An invalid entry is an error.
	LogQuery(ctx context.Context, entry QueryLogEntry) error

	// GetAuditSummary returns aggregate counts; it never includes
	// individual requests.
	GetAuditSummary(ctx context.Context) *AuditSummary
}

// AuditSummary aggregates the audit trail.
type AuditSummary struct {
	AcceptedCount    int            `json:"accepted_count"`
	RejectedCount    int            `json:"rejected_count"`
	ErrorCount       int            `json:"error_count"`
	TopRejectionKeys []KeyStat      `json:"top_rejection_keys"`
	ModeCounts       map[string]int `json:"mode_counts"`
}

// KeyStat counts rejections attributed to one parameter key.
type KeyStat struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func newSummary() *AuditSummary {
	return &AuditSummary{TopRejectionKeys: []KeyStat{}, ModeCounts: map[string]int{}}
}

type jsonLogOutput struct {
	Timestamp       string   `json:"timestamp"`
	Level           string   `json:"level"`
	QueryID         string   `json:"query_id"`
	User            string   `json:"user"`
	Roles           []string `json:"roles"`
	FieldCount      int      `json:"field_count"`
	Mode            string   `json:"mode,omitempty"`
	Engine          string   `json:"engine,omitempty"`
	CacheHit        bool     `json:"cache_hit,omitempty"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	Outcome         string   `json:"outcome"`
	ErrorKey        string   `json:"error_key,omitempty"`
	ErrorCode       int      `json:"error_code,omitempty"`
}

func toOutput(entry QueryLogEntry) jsonLogOutput {
	level := "info"
	switch entry.Outcome {
	case OutcomeRejected:
		level = "warn"
	case OutcomeError:
		level = "error"
	}
	roles := entry.Roles
	if roles == nil {
		roles = []string{}
	}
	return jsonLogOutput{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Level:           level,
		QueryID:         entry.QueryID,
		User:            entry.User,
		Roles:           roles,
		FieldCount:      entry.FieldCount,
		Mode:            entry.Mode,
		Engine:          entry.Engine,
		CacheHit:        entry.CacheHit,
		ExecutionTimeMs: entry.ExecutionTime.Milliseconds(),
		Outcome:         entry.Outcome,
		ErrorKey:        entry.ErrorKey,
		ErrorCode:       entry.ErrorCode,
	}
}

// tally keeps in-process summary counters.
type tally struct {
	mu       sync.Mutex
	outcomes map[string]int
	keys     map[string]int
	modes    map[string]int
}

func newTally() *tally {
	return &tally{outcomes: map[string]int{}, keys: map[string]int{}, modes: map[string]int{}}
}

func (t *tally) add(entry QueryLogEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes[entry.Outcome]++
	if entry.Outcome == OutcomeRejected && entry.ErrorKey != "" {
		t.keys[entry.ErrorKey]++
	}
	if entry.Mode != "" {
		t.modes[entry.Mode]++
	}
}

func (t *tally) summary() *AuditSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := newSummary()
	s.AcceptedCount = t.outcomes[OutcomeSuccess]
	s.RejectedCount = t.outcomes[OutcomeRejected]
	s.ErrorCount = t.outcomes[OutcomeError]
	for k, n := range t.keys {
		s.TopRejectionKeys = append(s.TopRejectionKeys, KeyStat{Key: k, Count: n})
	}
	sortKeyStats(s.TopRejectionKeys)
	if len(s.TopRejectionKeys) > 5 {
		s.TopRejectionKeys = s.TopRejectionKeys[:5]
	}
	for m, n := range t.modes {
		s.ModeCounts[m] = n
	}
	return s
}

func sortKeyStats(stats []KeyStat) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Key < stats[j].Key
	})
}

// JSONLogger writes one JSON object per line.
type JSONLogger struct {
	mu     sync.Mutex
	writer io.Writer
	tally  *tally
}

// NewJSONLogger creates a logger writing to w.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{writer: w, tally: newTally()}
}

// LogQuery writes entry as a JSON line.
func (l *JSONLogger) LogQuery(ctx context.Context, entry QueryLogEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(toOutput(entry))
	if err != nil {
		return fmt.Errorf("observability: failed to marshal log: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	_, err = l.writer.Write(data)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("observability: failed to write log: %w", err)
	}

	l.tally.add(entry)
	return nil
}

// GetAuditSummary returns the counters accumulated by this process.
func (l *JSONLogger) GetAuditSummary(context.Context) *AuditSummary {
	return l.tally.summary()
}

// NoopLogger discards all entries.
type NoopLogger struct{}

// NewNoopLogger creates a new no-op logger.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// LogQuery does nothing and always succeeds.
func (l *NoopLogger) LogQuery(context.Context, QueryLogEntry) error {
	return nil
}

// GetAuditSummary returns an empty summary.
func (l *NoopLogger) GetAuditSummary(context.Context) *AuditSummary {
	return newSummary()
}

// PersistentLogger stores audit entries in the query_audit_logs table
// created by the storage migrations.
type PersistentLogger struct {
	db      *sql.DB
	dialect compiler.Dialect
	writer  io.Writer
}

// NewPersistentLogger creates a logger inserting into db. Placeholders are
// rendered for dialect; w, when non-nil, also receives JSON lines.
func NewPersistentLogger(db *sql.DB, dialect compiler.Dialect, w io.Writer) (*PersistentLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("observability: database connection is required for persistent logging")
	}
	return &PersistentLogger{db: db, dialect: dialect, writer: w}, nil
}

// LogQuery inserts entry.
func (l *PersistentLogger) LogQuery(ctx context.Context, entry QueryLogEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	ph := make([]string, 11)
	for i := range ph {
		ph[i] = l.dialect.Placeholder(i + 1)
	}
	query := `INSERT INTO query_audit_logs (
		query_id, user_id, roles, field_count, mode, engine, cache_hit,
		execution_time_ms, outcome, error_key, error_code
	) VALUES (` + strings.Join(ph, ", ") + `)`

	cacheHit := 0
	if entry.CacheHit {
		cacheHit = 1
	}
	var errorCode interface{}
	if entry.ErrorCode != 0 {
		errorCode = entry.ErrorCode
	}

	_, err := l.db.ExecContext(ctx, query,
		entry.QueryID,
		entry.User,
		nullableString(strings.Join(entry.Roles, ",")),
		entry.FieldCount,
		nullableString(entry.Mode),
		nullableString(entry.Engine),
		cacheHit,
		entry.ExecutionTime.Milliseconds(),
		entry.Outcome,
		nullableString(entry.ErrorKey),
		errorCode,
	)
	if err != nil {
		return fmt.Errorf("observability: failed to persist audit log: %w", err)
	}

	if l.writer != nil {
		if data, err := json.Marshal(toOutput(entry)); err == nil {
			_, _ = l.writer.Write(append(data, '\n'))
		}
	}
	return nil
}

// GetAuditSummary aggregates the persisted entries. Query failures leave
// the affected counters at zero.
func (l *PersistentLogger) GetAuditSummary(ctx context.Context) *AuditSummary {
	summary := newSummary()

	rows, err := l.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM query_audit_logs GROUP BY outcome`)
	if err == nil {
		for rows.Next() {
			var outcome string
			var n int
			if rows.Scan(&outcome, &n) != nil {
				continue
			}
			switch outcome {
			case OutcomeSuccess:
				summary.AcceptedCount = n
			case OutcomeRejected:
				summary.RejectedCount = n
			case OutcomeError:
				summary.ErrorCount = n
			}
		}
		rows.Close()
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT error_key, COUNT(*) AS cnt
		FROM query_audit_logs
		WHERE outcome = 'rejected' AND error_key IS NOT NULL
		GROUP BY error_key
		ORDER BY cnt DESC, error_key
		LIMIT 5`)
	if err == nil {
		for rows.Next() {
			var stat KeyStat
			if rows.Scan(&stat.Key, &stat.Count) == nil {
				summary.TopRejectionKeys = append(summary.TopRejectionKeys, stat)
			}
		}
		rows.Close()
	}

	rows, err = l.db.QueryContext(ctx, `SELECT mode, COUNT(*) FROM query_audit_logs WHERE mode IS NOT NULL GROUP BY mode`)
	if err == nil {
		for rows.Next() {
			var mode string
			var n int
			if rows.Scan(&mode, &n) == nil {
				summary.ModeCounts[mode] = n
			}
		}
		rows.Close()
	}

	return summary
}

// nullableString converts empty strings to nil for SQL NULL.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
