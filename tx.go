package ddbsql

import "context"

// Transaction accumulates DML statements issued on a connection between
// BeginTx and Commit, then submits them as one atomic call to the remote
// service's native transactional API (spec.md §1 Non-goals: "server-side
// transactions beyond the remote service's native transactional API").
// Rollback simply discards the accumulator — nothing was ever sent.
type Transaction struct {
	conn       *Conn
	statements []string
}

// Commit submits every queued statement atomically. An empty transaction
// commits as a no-op.
func (t *Transaction) Commit() error {
	defer func() { t.conn.tx = nil }()
	if len(t.statements) == 0 {
		return nil
	}
	return t.conn.executor.ExecuteTransaction(context.Background(), t.statements)
}

// Rollback discards the queued statements without contacting the remote
// service.
func (t *Transaction) Rollback() error {
	t.conn.tx = nil
	t.statements = nil
	return nil
}
