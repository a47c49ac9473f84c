package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"sync"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/errors"
)

// BigQueryConfig configures the BigQuery adapter.
type BigQueryConfig struct {
	// ProjectID is the GCP project ID.
	ProjectID string

	// CredentialsFile is a service account key; empty uses Application
	// Default Credentials.
	CredentialsFile string

	// Location is the BigQuery region (e.g., "US", "EU").
	Location string

	// Dataset holds the transaction tables; statements use unqualified names.
	Dataset string
}

// Validate validates the configuration.
func (c BigQueryConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("bigquery: project_id is required")
	}
	if c.Dataset == "" {
		return fmt.Errorf("bigquery: dataset is required")
	}
	return nil
}

// BigQuery is an Adapter over the BigQuery client. Statements bind their
// parameter vector as positional query parameters.
type BigQuery struct {
	mu       sync.RWMutex
	cfg      BigQueryConfig
	client   *bigquery.Client
	settings Config
	closed   bool
}

// OpenBigQuery creates the client. Like Open, it does not contact the
// service; use Ping to verify connectivity.
func OpenBigQuery(ctx context.Context, cfg Config) (*BigQuery, error) {
	bq := cfg.BigQuery
	if err := bq.Validate(); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if bq.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(bq.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, bq.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery: failed to create client: %w", err)
	}
	return &BigQuery{cfg: bq, client: client, settings: cfg}, nil
}

// Name returns the engine name.
func (a *BigQuery) Name() string {
	return "bigquery"
}

// Dialect returns the BigQuery dialect.
func (a *BigQuery) Dialect() compiler.Dialect {
	return compiler.BigQuery
}

// Query runs stmt with the configured timeout and retry policy.
func (a *BigQuery) Query(ctx context.Context, stmt *compiler.Statement) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewExecution(a.Name(), fmt.Errorf("bigquery: context error: %w", err))
	}
	if stmt == nil || stmt.SQL == "" {
		return nil, errors.NewExecution(a.Name(), fmt.Errorf("bigquery: statement is empty"))
	}

	a.mu.RLock()
	if a.closed || a.client == nil {
		a.mu.RUnlock()
		return nil, errors.NewExecution(a.Name(), fmt.Errorf("bigquery: adapter is closed"))
	}
	client := a.client
	a.mu.RUnlock()

	if a.settings.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.settings.QueryTimeout)
		defer cancel()
	}

	var res *Result
	rr := ExecuteWithRetry(ctx, a.settings.Retry, func() error {
		var err error
		res, err = a.run(ctx, client, stmt)
		return err
	})
	if !rr.Success {
		return nil, errors.NewExecution(a.Name(), rr.LastError)
	}
	return res, nil
}

func (a *BigQuery) run(ctx context.Context, client *bigquery.Client, stmt *compiler.Statement) (*Result, error) {
	q := client.Query(stmt.SQL)
	q.DefaultProjectID = a.cfg.ProjectID
	q.DefaultDatasetID = a.cfg.Dataset
	if a.cfg.Location != "" {
		q.Location = a.cfg.Location
	}
	q.Parameters = queryParameters(stmt.Args)

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery: query failed: %w", err)
	}

	var (
		keys []string
		out  = make([]Row, 0)
	)
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if stderrors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery: failed to read row: %w", err)
		}
		if keys == nil {
			keys = outputKeys(stmt, schemaNames(it.Schema))
		}
		row := make(Row, len(values))
		for i, v := range values {
			row[i] = Cell{Key: keys[i], Value: normalizeBigQuery(v)}
		}
		out = append(out, row)
	}
	if keys == nil {
		keys = outputKeys(stmt, schemaNames(it.Schema))
	}
	return &Result{Columns: keys, Rows: out}, nil
}

func schemaNames(s bigquery.Schema) []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

func queryParameters(args []interface{}) []bigquery.QueryParameter {
	params := make([]bigquery.QueryParameter, len(args))
	for i, arg := range args {
		if d, ok := arg.(decimal.Decimal); ok {
			arg = d.Rat()
		}
		params[i] = bigquery.QueryParameter{Value: arg}
	}
	return params
}

func normalizeBigQuery(v bigquery.Value) interface{} {
	switch x := v.(type) {
	case *big.Rat:
		f, _ := x.Float64()
		return f
	case []byte:
		return string(x)
	}
	return v
}

// Ping runs a trivial query.
func (a *BigQuery) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed || a.client == nil {
		return fmt.Errorf("bigquery: adapter is closed")
	}

	q := a.client.Query("SELECT 1")
	if a.cfg.Location != "" {
		q.Location = a.cfg.Location
	}
	if _, err := q.Read(ctx); err != nil {
		return fmt.Errorf("bigquery: ping failed: %w", err)
	}
	return nil
}

// Close releases the client. Close is idempotent.
func (a *BigQuery) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}
