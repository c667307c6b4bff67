package manager

import (
	"context"
	"database/sql"
)

// Querier is the statement surface table handlers run against. Both the
// pool's connections and the manager's primary connection satisfy it, so
// handler code is identical in pooled and single-connection mode.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}

// primaryQuerier adapts the manager's primary *sql.Conn to Querier.
type primaryQuerier struct {
	sc *sql.Conn
}

func (q primaryQuerier) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.sc.ExecContext(ctx, query, args...)
}

func (q primaryQuerier) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.sc.QueryContext(ctx, query, args...)
}

func (q primaryQuerier) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.sc.QueryRowContext(ctx, query, args...)
}
