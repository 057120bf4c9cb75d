// Package executor implements the Query Executor (C10): the component that
// ties the rewriter, retry engine, result stream, offset cache, and schema
// layers into executeQuery/executeUpdate, and intercepts
// information_schema.* queries into synthetic metadata result sets.
//
// Grounded on the teacher's repository facade
// (internal/repository/ddb/repository.go), which is the one place that
// decides "is this a metadata lookup or a real data operation" before
// delegating — the same shape this executor uses for information_schema
// interception versus real ExecuteStatement calls.
package executor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ddbsql/ddbsql/internal/driverrors"
	"github.com/ddbsql/ddbsql/internal/observability"
	"github.com/ddbsql/ddbsql/internal/offsetcache"
	"github.com/ddbsql/ddbsql/internal/remote"
	"github.com/ddbsql/ddbsql/internal/resultstream"
	"github.com/ddbsql/ddbsql/internal/retryengine"
	"github.com/ddbsql/ddbsql/internal/rewriter"
	"github.com/ddbsql/ddbsql/internal/schema"
)

// Config bundles the executor's construction-time settings, sourced from
// the parsed DSN (internal/dsn.Config).
type Config struct {
	FetchSize         int
	MaxRows           int
	OffsetWarnThreshold int
	TableFilterPrefix string
}

// Executor is the per-connection query execution facade.
type Executor struct {
	remote      *remote.Client
	retry       *retryengine.Engine
	offsetCache *offsetcache.Cache
	schemaCache *schema.Cache
	lazyLoader  *schema.LazyLoader
	cfg         Config
	metrics     *observability.Collector
	logger      *zap.Logger

	mu        sync.Mutex
	batch     []string // queued DML statements (batch mode, spec.md §4.10)
}

func New(client *remote.Client, retry *retryengine.Engine, offsetCache *offsetcache.Cache, schemaCache *schema.Cache, lazyLoader *schema.LazyLoader, cfg Config, metrics *observability.Collector, logger *zap.Logger) *Executor {
	if metrics == nil {
		metrics = observability.Noop()
	}
	return &Executor{
		remote:      client,
		retry:       retry,
		offsetCache: offsetCache,
		schemaCache: schemaCache,
		lazyLoader:  lazyLoader,
		cfg:         cfg,
		metrics:     metrics,
		logger:      observability.WithFallback(logger),
	}
}

// QueryResult is what ExecuteQuery returns: either a live Stream over a
// remote table, or a synthetic in-memory result set for an
// information_schema interception. Updatable is non-nil only when the
// result came from ExecuteUpdatableQuery and the originating statement was
// eligible for write-back (spec.md §4.10 step 7).
type QueryResult struct {
	Stream   *resultstream.Stream // nil for synthetic results
	Columns  []string
	Synthetic [][]interface{} // non-nil only when Stream is nil
	Updatable *UpdatableHandle
}

// ExecuteQuery implements spec.md §4.10's executeQuery algorithm.
func (e *Executor) ExecuteQuery(ctx context.Context, sqlText string) (*QueryResult, error) {
	return e.executeQuery(ctx, sqlText, false)
}

// ExecuteUpdatableQuery behaves like ExecuteQuery but also attempts to wrap
// the result in an UpdatableHandle per spec.md §4.10 step 7: a simple
// single-table SELECT (no JOIN/GROUP BY/UNION/aggregate) with resolvable
// primary-key metadata gets write-back; anything else degrades to a plain
// (non-updatable) result rather than failing the query.
func (e *Executor) ExecuteUpdatableQuery(ctx context.Context, sqlText string) (*QueryResult, error) {
	return e.executeQuery(ctx, sqlText, true)
}

func (e *Executor) executeQuery(ctx context.Context, sqlText string, wantUpdatable bool) (*QueryResult, error) {
	queryID := uuid.NewString()
	ctx, finish := observability.StartSpan(ctx, "ddbsql.executeQuery")
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("ddbsql.query_id", queryID))
	logger := e.logger.With(zap.String("query_id", queryID))
	var err error
	defer finish(&err)

	if res, matched, matchErr := e.tryInformationSchema(ctx, sqlText); matched {
		err = matchErr
		return res, err
	}

	rw, rwErr := rewriter.Rewrite(sqlText, e.cfg.OffsetWarnThreshold)
	if rwErr != nil {
		err = driverrors.New(driverrors.KindValidation, "executeQuery").Cause(rwErr).Message("invalid SQL").Build()
		return nil, err
	}
	if rw.LargeOffsetWarning != "" {
		logger.Warn(rw.LargeOffsetWarning, zap.String("sql", sqlText))
	}
	if rw.StatementKind.IsDML() {
		err = driverrors.Validation("executeQuery", "sql", "DML statement passed to executeQuery; use executeUpdate")
		return nil, err
	}

	offset := 0
	if rw.Offset != nil {
		offset = *rw.Offset
	}
	offsetRemaining, resumeToken := resultstream.ResolveInitialOffset(e.offsetCache, rw.CleanedSQL, offset)

	fetchLimit := e.effectivePageLimit(rw)

	var page remote.PageResponse
	err = e.retry.Do(ctx, func(ctx context.Context) error {
		var execErr error
		page, execErr = e.remote.ExecuteStatement(ctx, rw.CleanedSQL, resumeToken, int32(fetchLimit))
		return execErr
	})
	if err != nil {
		return nil, err
	}

	tableHint := extractTableName(rw.CleanedSQL)

	streamCfg := resultstream.Config{
		SQL:          rw.CleanedSQL,
		FetchSize:    e.cfg.FetchSize,
		Limit:        rw.Limit,
		Offset:       rw.Offset,
		MaxRows:      e.cfg.MaxRows,
		TableKeyHint: tableHint,
		OffsetCache:  e.offsetCache,
	}

	fetch := func(ctx context.Context, nextToken string, limit int32) (remote.PageResponse, error) {
		var p remote.PageResponse
		err := e.retry.Do(ctx, func(ctx context.Context) error {
			var execErr error
			p, execErr = e.remote.ExecuteStatement(ctx, rw.CleanedSQL, nextToken, limit)
			return execErr
		})
		return p, err
	}

	stream := resultstream.New(fetch, streamCfg, page, offsetRemaining)
	res := &QueryResult{Stream: stream}
	if wantUpdatable {
		res.Updatable = e.tryBuildUpdatable(ctx, rw, tableHint)
	}
	return res, nil
}

var joinGroupUnionAggregateRe = regexp.MustCompile(`(?i)\b(JOIN|GROUP\s+BY|UNION|COUNT\s*\(|SUM\s*\(|AVG\s*\(|MIN\s*\(|MAX\s*\()`)

// isSimpleSingleTableSelect reports whether sql is a plain single-table scan
// with none of the constructs spec.md §4.10 step 7 excludes from write-back
// eligibility.
func isSimpleSingleTableSelect(sql string) bool {
	return !joinGroupUnionAggregateRe.MatchString(sql)
}

// tryBuildUpdatable implements spec.md §4.10 step 7's eligibility check.
// Primary-key columns are taken from the table's declared key schema
// (DescribeTable), the same source markKeyColumns in package schema uses.
func (e *Executor) tryBuildUpdatable(ctx context.Context, rw rewriter.Rewritten, table string) *UpdatableHandle {
	if table == "" || !isSimpleSingleTableSelect(rw.CleanedSQL) {
		return nil
	}
	desc, err := e.remote.DescribeTable(ctx, table)
	if err != nil || len(desc.KeySchema) == 0 {
		return nil
	}
	keyColumns := make([]string, 0, len(desc.KeySchema))
	for _, k := range desc.KeySchema {
		keyColumns = append(keyColumns, k.AttributeName)
	}
	sort.Strings(keyColumns)
	return &UpdatableHandle{remote: e.remote, retry: e.retry, table: table, keyColumns: keyColumns}
}

// effectivePageLimit implements spec.md §4.10 step 4's priority: SQL LIMIT
// > maxRows > fetchSize.
func (e *Executor) effectivePageLimit(rw rewriter.Rewritten) int {
	if rw.Limit != nil && *rw.Limit > 0 {
		if e.cfg.FetchSize > 0 && e.cfg.FetchSize < *rw.Limit {
			return e.cfg.FetchSize
		}
		return *rw.Limit
	}
	if e.cfg.MaxRows > 0 {
		if e.cfg.FetchSize > 0 && e.cfg.FetchSize < e.cfg.MaxRows {
			return e.cfg.FetchSize
		}
		return e.cfg.MaxRows
	}
	return e.cfg.FetchSize
}

// ExecuteUpdate implements spec.md §4.10's executeUpdate: DML-only, direct
// execution through the retry engine (no client-level transaction support
// beyond the remote service's native API — see tx.go). Returns 1 on every
// successful execution: DynamoDB does not report row counts, and a statement
// that matched no item is not told apart from one that changed an item.
func (e *Executor) ExecuteUpdate(ctx context.Context, sqlText string) (int64, error) {
	queryID := uuid.NewString()
	ctx, finish := observability.StartSpan(ctx, "ddbsql.executeUpdate")
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("ddbsql.query_id", queryID))
	var err error
	defer finish(&err)

	rw, rwErr := rewriter.Rewrite(sqlText, e.cfg.OffsetWarnThreshold)
	if rwErr != nil {
		err = driverrors.New(driverrors.KindValidation, "executeUpdate").Cause(rwErr).Message("invalid SQL").Build()
		return 0, err
	}
	if !rw.StatementKind.IsDML() {
		err = driverrors.Validation("executeUpdate", "sql", "non-DML statement passed to executeUpdate; use executeQuery")
		return 0, err
	}

	err = e.retry.Do(ctx, func(ctx context.Context) error {
		_, execErr := e.remote.ExecuteStatement(ctx, rw.CleanedSQL, "", 0)
		return execErr
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// QueueBatch adds sqlText to the per-connection DML batch queue (spec.md
// §4.10's batch mode).
func (e *Executor) QueueBatch(sqlText string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batch = append(e.batch, sqlText)
}

// BatchOutcome is one statement's flush result.
type BatchOutcome struct {
	UpdateCount int64
	Failed      bool
	Err         error
}

// FlushBatch executes every queued statement through executeUpdate's path,
// collecting a per-item outcome in submission order. A batch-failure signal
// (returned bool) is raised when any item failed, but every outcome is
// still returned — the caller decides how to surface partial failure.
func (e *Executor) FlushBatch(ctx context.Context) ([]BatchOutcome, bool) {
	e.mu.Lock()
	statements := e.batch
	e.batch = nil
	e.mu.Unlock()

	outcomes := make([]BatchOutcome, len(statements))
	anyFailed := false
	for i, stmt := range statements {
		count, err := e.ExecuteUpdate(ctx, stmt)
		if err != nil {
			outcomes[i] = BatchOutcome{Failed: true, Err: err}
			anyFailed = true
			continue
		}
		outcomes[i] = BatchOutcome{UpdateCount: count}
	}
	return outcomes, anyFailed
}

// ExecuteTransaction commits a batch of DML statements atomically through
// the remote service's native transactional API, retried as a single unit
// through C2 (partial application on failure is the remote API's own
// all-or-nothing guarantee, not something this driver layers on top).
func (e *Executor) ExecuteTransaction(ctx context.Context, statements []string) error {
	return e.retry.Do(ctx, func(ctx context.Context) error {
		return e.remote.ExecuteTransaction(ctx, statements)
	})
}

// tryInformationSchema implements spec.md §4.10 step 1 and §6's
// information-schema surface. matched is false when sqlText is not an
// information_schema query at all, in which case res/err are both zero.
func (e *Executor) tryInformationSchema(ctx context.Context, sqlText string) (*QueryResult, bool, error) {
	norm := strings.ToLower(strings.TrimSpace(sqlText))
	switch {
	case strings.Contains(norm, "information_schema.tables"):
		res, err := e.queryInfoSchemaTables(ctx, sqlText)
		return res, true, err
	case strings.Contains(norm, "information_schema.columns"):
		res, err := e.queryInfoSchemaColumns(ctx, sqlText)
		return res, true, err
	case strings.Contains(norm, "information_schema.index_columns"):
		res, err := e.queryInfoSchemaIndexColumns(ctx, sqlText)
		return res, true, err
	case strings.Contains(norm, "information_schema.indexes"):
		res, err := e.queryInfoSchemaIndexes(ctx, sqlText)
		return res, true, err
	default:
		return nil, false, nil
	}
}

var equalityFilterRe = regexp.MustCompile(`(?i)(table_name|column_name|index_name)\s*=\s*'([^']*)'`)

// extractFilters pattern-matches `col = 'value'` equality predicates out of
// a WHERE clause, per spec.md §4.10 step 1's "pattern-based" extraction.
func extractFilters(sqlText string) map[string]string {
	filters := make(map[string]string)
	for _, m := range equalityFilterRe.FindAllStringSubmatch(sqlText, -1) {
		filters[strings.ToLower(m[1])] = m[2]
	}
	return filters
}

func (e *Executor) queryInfoSchemaTables(ctx context.Context, sqlText string) (*QueryResult, error) {
	filters := extractFilters(sqlText)
	names, err := e.remote.ListTables(ctx, e.cfg.TableFilterPrefix)
	if err != nil {
		// Remote-permanent on a metadata RPC degrades to an empty result set.
		e.logger.Warn("ListTables failed for information_schema.tables", zap.Error(err))
		return &QueryResult{Columns: []string{"table_name", "table_type"}}, nil
	}
	rows := make([][]interface{}, 0, len(names))
	for _, n := range names {
		if want, ok := filters["table_name"]; ok && want != n {
			continue
		}
		rows = append(rows, []interface{}{n, "TABLE"})
	}
	return &QueryResult{Columns: []string{"table_name", "table_type"}, Synthetic: rows}, nil
}

func (e *Executor) queryInfoSchemaColumns(ctx context.Context, sqlText string) (*QueryResult, error) {
	filters := extractFilters(sqlText)
	table, ok := filters["table_name"]
	if !ok {
		return &QueryResult{Columns: columnsSchemaColumns()}, nil
	}

	cols, err := e.resolveColumns(ctx, table)
	if err != nil {
		e.logger.Warn("schema resolution failed for information_schema.columns", zap.String("table", table), zap.Error(err))
		return &QueryResult{Columns: columnsSchemaColumns()}, nil
	}

	rows := make([][]interface{}, 0, len(cols))
	for name, col := range cols {
		if want, ok := filters["column_name"]; ok && want != name {
			continue
		}
		nullable := "NO"
		if col.Nullable {
			nullable = "YES"
		}
		rows = append(rows, []interface{}{
			table, name, string(col.ResolvedSQLType), col.ColumnSize, col.DecimalDigits, nullable,
		})
	}
	return &QueryResult{Columns: columnsSchemaColumns(), Synthetic: rows}, nil
}

func columnsSchemaColumns() []string {
	return []string{"table_name", "column_name", "type_name", "column_size", "decimal_digits", "is_nullable"}
}

func (e *Executor) queryInfoSchemaIndexes(ctx context.Context, sqlText string) (*QueryResult, error) {
	filters := extractFilters(sqlText)
	table, ok := filters["table_name"]
	cols := []string{"table_name", "index_name", "non_unique"}
	if !ok {
		return &QueryResult{Columns: cols}, nil
	}
	desc, err := e.remote.DescribeTable(ctx, table)
	if err != nil {
		e.logger.Warn("DescribeTable failed for information_schema.indexes", zap.String("table", table), zap.Error(err))
		return &QueryResult{Columns: cols}, nil
	}
	rows := [][]interface{}{{table, "PRIMARY", false}}
	for _, gsi := range desc.GlobalSecondaryIndexes {
		if want, ok := filters["index_name"]; ok && want != gsi.IndexName {
			continue
		}
		rows = append(rows, []interface{}{table, gsi.IndexName, true})
	}
	for _, lsi := range desc.LocalSecondaryIndexes {
		if want, ok := filters["index_name"]; ok && want != lsi.IndexName {
			continue
		}
		rows = append(rows, []interface{}{table, lsi.IndexName, true})
	}
	return &QueryResult{Columns: cols, Synthetic: rows}, nil
}

func (e *Executor) queryInfoSchemaIndexColumns(ctx context.Context, sqlText string) (*QueryResult, error) {
	filters := extractFilters(sqlText)
	table, ok := filters["table_name"]
	cols := []string{"table_name", "index_name", "column_name", "ordinal_position"}
	if !ok {
		return &QueryResult{Columns: cols}, nil
	}
	desc, err := e.remote.DescribeTable(ctx, table)
	if err != nil {
		e.logger.Warn("DescribeTable failed for information_schema.index_columns", zap.String("table", table), zap.Error(err))
		return &QueryResult{Columns: cols}, nil
	}

	var rows [][]interface{}
	addIndexCols := func(indexName string, keys []remote.KeySchemaElement) {
		if want, ok := filters["index_name"]; ok && want != indexName {
			return
		}
		for i, k := range keys {
			if want, ok := filters["column_name"]; ok && want != k.AttributeName {
				continue
			}
			rows = append(rows, []interface{}{table, indexName, k.AttributeName, i + 1})
		}
	}
	addIndexCols("PRIMARY", desc.KeySchema)
	for _, gsi := range desc.GlobalSecondaryIndexes {
		addIndexCols(gsi.IndexName, gsi.KeySchema)
	}
	for _, lsi := range desc.LocalSecondaryIndexes {
		addIndexCols(lsi.IndexName, lsi.KeySchema)
	}
	return &QueryResult{Columns: cols, Synthetic: rows}, nil
}

// resolveColumns implements the C9→C8→C7→C6→C5 fallback chain of spec.md
// §2's data-flow summary: prefer the background-refreshing cache, fall
// through to the lazy loader (which itself drives discovery/sampling) on
// miss.
func (e *Executor) resolveColumns(ctx context.Context, table string) (schema.ColumnMap, error) {
	if e.schemaCache != nil {
		if cols, ok := e.schemaCache.Get(table); ok {
			return cols, nil
		}
	}
	if e.lazyLoader != nil {
		cols, err := e.lazyLoader.Get(ctx, table, schema.SamplePolicy{Strategy: schema.StrategyAuto})
		if err != nil {
			return nil, err
		}
		if cols != nil && e.schemaCache != nil {
			e.schemaCache.Put(table, cols, true)
		}
		return cols, nil
	}
	return nil, fmt.Errorf("executor: no schema resolution path configured")
}

var fromTableRe = regexp.MustCompile(`(?i)from\s+"?([a-zA-Z0-9_.\-]+)"?`)

// extractTableName pulls the base table name out of a cleaned SELECT for
// use as the result stream's column-ordering hint.
func extractTableName(sql string) string {
	m := fromTableRe.FindStringSubmatch(sql)
	if len(m) < 2 {
		return ""
	}
	return strings.SplitN(m[1], ".", 2)[0]
}
