// Package service runs transaction requests end to end: compile, authorize,
// execute (through the result cache when one is configured) and shape the
// response envelope. Every request produces exactly one audit entry.
package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/canonica-labs/dealquery/internal/auth"
	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/executor"
	"github.com/canonica-labs/dealquery/internal/observability"
	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/pkg/models"
)

// Options wire the optional collaborators of a TransactionService.
type Options struct {
	Logger     *slog.Logger
	Audit      observability.QueryLogger
	Metrics    *observability.Metrics
	Authorizer *auth.TableAuthorizer
}

// TransactionService serves the transactions endpoint.
type TransactionService struct {
	compiler *compiler.Compiler
	exec     executor.Adapter

	log      *slog.Logger
	audit    observability.QueryLogger
	metrics  *observability.Metrics
	authz    *auth.TableAuthorizer
	examples []models.Example
}

// cachedQuerier is implemented by adapters that can report cache hits.
type cachedQuerier interface {
	QueryCached(ctx context.Context, stmt *compiler.Statement) (*executor.Result, bool, error)
}

// New creates a service rendering statements in exec's dialect.
func New(c *compiler.Compiler, exec executor.Adapter, opts Options) (*TransactionService, error) {
	examples, err := loadExamples()
	if err != nil {
		return nil, err
	}
	s := &TransactionService{
		compiler: c.WithDialect(exec.Dialect()),
		exec:     exec,
		log:      opts.Logger,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		authz:    opts.Authorizer,
		examples: examples,
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.audit == nil {
		s.audit = observability.NewNoopLogger()
	}
	if s.authz == nil {
		s.authz = auth.NewTableAuthorizer()
	}
	return s, nil
}

// Compiler returns the compiler bound to the executor's dialect.
func (s *TransactionService) Compiler() *compiler.Compiler {
	return s.compiler
}

// Engine returns the executor's engine name.
func (s *TransactionService) Engine() string {
	return s.exec.Name()
}

// Result is the outcome of one request. Exactly one of Count and Rows is set.
type Result struct {
	QueryID  string
	Mode     compiler.Mode
	CacheHit bool

	Count *models.CountResponse
	Rows  *models.TransactionsResponse
}

// Body returns the response envelope.
func (r *Result) Body() interface{} {
	if r.Count != nil {
		return r.Count
	}
	return r.Rows
}

type queryIDKey struct{}

// WithQueryID attaches a caller-chosen query id to ctx.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey{}, id)
}

// QueryIDFromContext returns the query id attached to ctx, or "".
func QueryIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(queryIDKey{}).(string)
	return id
}

// Query compiles and runs one request.
func (s *TransactionService) Query(ctx context.Context, params query.Params) (*Result, error) {
	start := time.Now()
	id := QueryIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	user := auth.UserFromContext(ctx)
	entry := observability.QueryLogEntry{QueryID: id, User: user.ID, Engine: s.exec.Name()}

	if d, ok, err := query.ParseDetail(params); err != nil {
		s.finish(ctx, &entry, start, err)
		return nil, err
	} else if ok {
		return s.queryDetail(ctx, d, &entry, start)
	}

	stmt, fields, err := s.compile(params)
	if err != nil {
		s.finish(ctx, &entry, start, err)
		return nil, err
	}
	entry.Mode = string(stmt.Mode)
	entry.FieldCount = fields
	for _, j := range stmt.Joins {
		entry.Roles = append(entry.Roles, j.Role)
	}

	if err := s.authorize(user, stmt); err != nil {
		s.finish(ctx, &entry, start, err)
		return nil, err
	}

	res := &Result{QueryID: id, Mode: stmt.Mode}
	execStart := time.Now()
	switch stmt.Mode {
	case compiler.ModeCount:
		err = s.runCount(ctx, stmt, res)
	case compiler.ModePage:
		err = s.runPage(ctx, stmt, res)
	default:
		err = s.runLimit(ctx, stmt, res)
	}
	if s.metrics != nil {
		s.metrics.ExecuteDuration.WithLabelValues(s.exec.Name(), string(stmt.Mode)).Observe(time.Since(execStart).Seconds())
	}
	entry.CacheHit = res.CacheHit
	s.finish(ctx, &entry, start, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// compile parses and compiles params and reports how many distinct fields
// the request references.
func (s *TransactionService) compile(params query.Params) (*compiler.Statement, int, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.CompileDuration.Observe(time.Since(start).Seconds())
		}
	}()

	q, err := s.compiler.Parse(params)
	if err != nil {
		return nil, 0, err
	}
	stmt, err := s.compiler.Compile(q)
	if err != nil {
		return nil, 0, err
	}

	seen := make(map[string]bool)
	for _, f := range q.Filters {
		seen[f.Field.Name] = true
	}
	for _, c := range stmt.Columns {
		if c.Field != "" {
			seen[c.Field] = true
		}
	}
	return stmt, len(seen), nil
}

func (s *TransactionService) authorize(user *auth.User, stmt *compiler.Statement) error {
	tables := []string{s.compiler.Registry().Base().Table}
	for _, j := range stmt.Joins {
		tables = append(tables, j.Table)
	}
	return s.authz.Authorize(user, tables)
}

func (s *TransactionService) runCount(ctx context.Context, stmt *compiler.Statement, res *Result) error {
	out, hit, err := s.run(ctx, stmt)
	if err != nil {
		return err
	}
	n, err := out.Count()
	if err != nil {
		return errors.NewExecution(s.exec.Name(), err)
	}
	res.CacheHit = hit
	res.Count = &models.CountResponse{Count: n}
	return nil
}

// runPage fetches the page and its total concurrently.
func (s *TransactionService) runPage(ctx context.Context, stmt *compiler.Statement, res *Result) error {
	countStmt, err := stmt.CountStatement()
	if err != nil {
		return errors.NewExecution(s.exec.Name(), err)
	}

	var page, total *executor.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, res.CacheHit, err = s.run(gctx, stmt)
		return err
	})
	g.Go(func() error {
		var err error
		total, _, err = s.run(gctx, countStmt)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	n, err := total.Count()
	if err != nil {
		return errors.NewExecution(s.exec.Name(), err)
	}
	pages := (n + int64(stmt.PageSize) - 1) / int64(stmt.PageSize)

	data, err := s.encodeRows(page)
	if err != nil {
		return err
	}
	res.Rows = &models.TransactionsResponse{
		Data: data,
		Meta: models.PageMeta{Page: stmt.Page, PageSize: stmt.PageSize, Total: &n, TotalPages: &pages},
	}
	return nil
}

func (s *TransactionService) runLimit(ctx context.Context, stmt *compiler.Statement, res *Result) error {
	out, hit, err := s.run(ctx, stmt)
	if err != nil {
		return err
	}
	data, err := s.encodeRows(out)
	if err != nil {
		return err
	}
	res.CacheHit = hit
	res.Rows = &models.TransactionsResponse{
		Data: data,
		Meta: models.PageMeta{Page: 1, PageSize: stmt.Limit},
	}
	return nil
}

func (s *TransactionService) run(ctx context.Context, stmt *compiler.Statement) (*executor.Result, bool, error) {
	if cq, ok := s.exec.(cachedQuerier); ok {
		return cq.QueryCached(ctx, stmt)
	}
	out, err := s.exec.Query(ctx, stmt)
	return out, false, err
}

func (s *TransactionService) encodeRows(out *executor.Result) ([]json.RawMessage, error) {
	data := make([]json.RawMessage, 0, len(out.Rows))
	for _, row := range out.Rows {
		b, err := json.Marshal(row)
		if err != nil {
			return nil, errors.NewExecution(s.exec.Name(), err)
		}
		data = append(data, b)
	}
	return data, nil
}

// finish records metrics and the audit entry for a request.
func (s *TransactionService) finish(ctx context.Context, entry *observability.QueryLogEntry, start time.Time, err error) {
	entry.ExecutionTime = time.Since(start)
	entry.Outcome = Outcome(err)
	if err != nil {
		entry.ErrorKey = errors.Key(err)
		entry.ErrorCode = int(errors.CodeOf(err))
	}

	if s.metrics != nil {
		mode := entry.Mode
		if mode == "" {
			mode = "none"
		}
		s.metrics.QueriesTotal.WithLabelValues(mode, entry.Outcome).Inc()
	}

	switch entry.Outcome {
	case observability.OutcomeError:
		s.log.Error("query failed", "query_id", entry.QueryID, "engine", entry.Engine, "error", err)
	case observability.OutcomeRejected:
		s.log.Info("query rejected", "query_id", entry.QueryID, "key", entry.ErrorKey, "code", entry.ErrorCode)
	default:
		s.log.Debug("query served", "query_id", entry.QueryID, "mode", entry.Mode, "duration", entry.ExecutionTime)
	}

	// The audit entry is written even when the caller has gone away.
	if aerr := s.audit.LogQuery(context.WithoutCancel(ctx), *entry); aerr != nil {
		s.log.Warn("audit log failed", "query_id", entry.QueryID, "error", aerr)
	}
}

// Outcome classifies err for audit and metrics. Requests refused before
// reaching the data store, and lookups of missing records, are rejected.
func Outcome(err error) string {
	switch code := errors.CodeOf(err); {
	case err == nil:
		return observability.OutcomeSuccess
	case errors.IsCompileError(err), code == errors.CodeForbidden, code == errors.CodeNotFound:
		return observability.OutcomeRejected
	}
	return observability.OutcomeError
}

// Explain reports how params compile without running them.
// A detail request explains the statement for the transaction row.
func (s *TransactionService) Explain(params query.Params) (*models.ExplainResponse, error) {
	d, ok, err := query.ParseDetail(params)
	if err != nil {
		return nil, err
	}
	if ok {
		params = mainParams(d)
	}
	plan, err := s.compiler.Explain(params)
	if err != nil {
		return nil, err
	}
	resp := &models.ExplainResponse{
		Mode:       string(plan.Mode),
		Dialect:    plan.Dialect,
		SQL:        plan.SQL,
		ParamCount: plan.ParamCount,
		GroupBy:    plan.GroupBy,
		Limit:      plan.Limit,
		Offset:     plan.Offset,
		Lint: models.LintInfo{
			Checked:      plan.Lint.Checked,
			Skipped:      plan.Lint.Skipped,
			Placeholders: plan.Lint.Placeholders,
			Error:        plan.Lint.Error,
		},
		Columns: make([]models.ColumnInfo, len(plan.Columns)),
		Joins:   make([]models.JoinInfo, len(plan.Joins)),
	}
	for i, c := range plan.Columns {
		resp.Columns[i] = models.ColumnInfo{Alias: c.Alias, Kind: c.Kind, Field: c.Field}
	}
	for i, j := range plan.Joins {
		resp.Joins[i] = models.JoinInfo{Role: j.Role, Table: j.Table, Alias: j.Alias, Fanout: j.Fanout}
	}
	return resp, nil
}

// Ping checks the data store.
func (s *TransactionService) Ping(ctx context.Context) error {
	return s.exec.Ping(ctx)
}

// AuditSummary returns aggregate audit counts.
func (s *TransactionService) AuditSummary(ctx context.Context) *observability.AuditSummary {
	return s.audit.GetAuditSummary(ctx)
}
