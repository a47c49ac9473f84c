package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/canonica-labs/dealquery/internal/auth"
	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/executor"
	"github.com/canonica-labs/dealquery/internal/observability"
	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/pkg/models"
)

// ModeDetail labels single-transaction detail requests in audit and metrics.
const ModeDetail compiler.Mode = "detail"

var (
	detailColumns = []string{
		"transactionId", "type", "typeName", "year", "month", "day",
		"closingYear", "closingMonth", "closingDay", "status", "currencyId",
		"size", "comments", "roundNumber", "companyId",
	}
	detailCompanyColumns = []string{"companyName", "industryDescription", "countryName"}
	relatedColumns       = []string{"involvedCompanyId", "involvedCompanyName", "relationType", "relationshipName"}
	advisorColumns       = []string{"advisorId", "advisorName", "advisorType", "advisorTypeName"}
)

// detailPlan holds the statements behind one detail request.
type detailPlan struct {
	main     *compiler.Statement
	related  *compiler.Statement
	advisors *compiler.Statement
}

func (p *detailPlan) statements() []*compiler.Statement {
	out := []*compiler.Statement{p.main}
	for _, s := range []*compiler.Statement{p.related, p.advisors} {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// mainParams is the request for the transaction row itself.
func mainParams(d *query.Detail) query.Params {
	cols := detailColumns
	if d.Relationships {
		cols = append(append([]string{}, detailColumns...), detailCompanyColumns...)
	}
	return query.Params{
		{Key: query.ParamTransactionID, Value: strconv.FormatInt(d.TransactionID, 10)},
		{Key: query.ParamSelect, Value: strings.Join(cols, ",")},
		{Key: query.ParamLimit, Value: "1"},
	}
}

// listParams lists the rows of one fan-out role, skipping the null row a
// transaction without any produces.
func listParams(d *query.Detail, cols []string, limit int) query.Params {
	return query.Params{
		{Key: query.ParamTransactionID, Value: strconv.FormatInt(d.TransactionID, 10)},
		{Key: cols[0], Value: "notnull:"},
		{Key: query.ParamSelect, Value: strings.Join(cols, ",")},
		{Key: query.ParamOrderBy, Value: cols[0]},
		{Key: query.ParamLimit, Value: strconv.Itoa(limit)},
	}
}

func (s *TransactionService) planDetail(d *query.Detail) (*detailPlan, error) {
	limit := s.compiler.Options().MaxPageSize
	var (
		plan detailPlan
		err  error
	)
	if plan.main, err = s.compiler.CompileParams(mainParams(d)); err != nil {
		return nil, err
	}
	if d.Relationships {
		if plan.related, err = s.compiler.CompileParams(listParams(d, relatedColumns, limit)); err != nil {
			return nil, err
		}
	}
	if d.Advisors {
		if plan.advisors, err = s.compiler.CompileParams(listParams(d, advisorColumns, limit)); err != nil {
			return nil, err
		}
	}
	return &plan, nil
}

func (s *TransactionService) queryDetail(ctx context.Context, d *query.Detail, entry *observability.QueryLogEntry, start time.Time) (*Result, error) {
	entry.Mode = string(ModeDetail)
	plan, err := s.planDetail(d)
	if err != nil {
		s.finish(ctx, entry, start, err)
		return nil, err
	}

	user := auth.UserFromContext(ctx)
	seen := make(map[string]bool)
	for _, stmt := range plan.statements() {
		if err := s.authorize(user, stmt); err != nil {
			s.finish(ctx, entry, start, err)
			return nil, err
		}
		for _, j := range stmt.Joins {
			if !seen[j.Role] {
				seen[j.Role] = true
				entry.Roles = append(entry.Roles, j.Role)
			}
		}
		entry.FieldCount += len(stmt.Columns)
	}

	res := &Result{QueryID: entry.QueryID, Mode: ModeDetail}
	execStart := time.Now()
	err = s.runDetail(ctx, d, plan, res)
	if s.metrics != nil {
		s.metrics.ExecuteDuration.WithLabelValues(s.exec.Name(), string(ModeDetail)).Observe(time.Since(execStart).Seconds())
	}
	entry.CacheHit = res.CacheHit
	s.finish(ctx, entry, start, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// runDetail fetches the transaction and its related rows concurrently and
// nests the related rows under the transaction.
func (s *TransactionService) runDetail(ctx context.Context, d *query.Detail, plan *detailPlan, res *Result) error {
	var main, related, advisors *executor.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		main, res.CacheHit, err = s.run(gctx, plan.main)
		return err
	})
	if plan.related != nil {
		g.Go(func() error {
			var err error
			related, _, err = s.run(gctx, plan.related)
			return err
		})
	}
	if plan.advisors != nil {
		g.Go(func() error {
			var err error
			advisors, _, err = s.run(gctx, plan.advisors)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(main.Rows) == 0 {
		return errors.NewNotFound(query.ParamTransactionID, "transaction", strconv.FormatInt(d.TransactionID, 10))
	}
	row := append(executor.Row{}, main.Rows[0]...)
	if related != nil {
		row = append(row, executor.Cell{Key: "relatedCompanies", Value: nonNil(related.Rows)})
	}
	if advisors != nil {
		row = append(row, executor.Cell{Key: "advisors", Value: nonNil(advisors.Rows)})
	}

	data, err := s.encodeRows(&executor.Result{Rows: []executor.Row{row}})
	if err != nil {
		return err
	}
	res.Rows = &models.TransactionsResponse{
		Data: data,
		Meta: models.PageMeta{Page: 1, PageSize: 1},
	}
	return nil
}

func nonNil(rows []executor.Row) []executor.Row {
	if rows == nil {
		return []executor.Row{}
	}
	return rows
}
