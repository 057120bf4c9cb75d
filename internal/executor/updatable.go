package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ddbsql/ddbsql/internal/remote"
	"github.com/ddbsql/ddbsql/internal/retryengine"
)

// UpdatableHandle is spec.md §4.10 step 7's write-back capability: reachable
// from a QueryResult produced by ExecuteUpdatableQuery when the originating
// SELECT was a simple single-table scan with resolvable primary-key
// metadata. UpdateRow/DeleteRow synthesize PartiQL DML against the same
// table and execute it through the same retry-wrapped remote client the
// read path used, matching the "single forward pass with optional
// single-table row-edit write-back" cursor this driver supports.
type UpdatableHandle struct {
	remote     *remote.Client
	retry      *retryengine.Engine
	table      string
	keyColumns []string
}

// UpdateRow synthesizes and executes UPDATE "table" SET ... WHERE <key> for
// the row identified by key, setting the columns named in sets.
func (u *UpdatableHandle) UpdateRow(ctx context.Context, key map[string]interface{}, sets map[string]interface{}) error {
	if len(sets) == 0 {
		return nil
	}
	setClauses := make([]string, 0, len(sets))
	params := make([]interface{}, 0, len(sets)+len(u.keyColumns))
	for col, val := range sets {
		setClauses = append(setClauses, fmt.Sprintf(`"%s" = ?`, col))
		params = append(params, val)
	}
	where, whereParams, err := u.buildWhere(key)
	if err != nil {
		return err
	}
	params = append(params, whereParams...)
	stmt := fmt.Sprintf(`UPDATE "%s" SET %s WHERE %s`, u.table, strings.Join(setClauses, ", "), where)
	return u.retry.Do(ctx, func(ctx context.Context) error {
		return u.remote.ExecuteStatementWithParams(ctx, stmt, params)
	})
}

// DeleteRow synthesizes and executes DELETE FROM "table" WHERE <key> for the
// row identified by key.
func (u *UpdatableHandle) DeleteRow(ctx context.Context, key map[string]interface{}) error {
	where, params, err := u.buildWhere(key)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`DELETE FROM "%s" WHERE %s`, u.table, where)
	return u.retry.Do(ctx, func(ctx context.Context) error {
		return u.remote.ExecuteStatementWithParams(ctx, stmt, params)
	})
}

func (u *UpdatableHandle) buildWhere(key map[string]interface{}) (string, []interface{}, error) {
	clauses := make([]string, 0, len(u.keyColumns))
	params := make([]interface{}, 0, len(u.keyColumns))
	for _, col := range u.keyColumns {
		val, ok := key[col]
		if !ok {
			return "", nil, fmt.Errorf("executor: updatable write-back missing key column %q", col)
		}
		clauses = append(clauses, fmt.Sprintf(`"%s" = ?`, col))
		params = append(params, val)
	}
	return strings.Join(clauses, " AND "), params, nil
}
