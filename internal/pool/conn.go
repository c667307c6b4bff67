package pool

import (
	"context"
	"database/sql"
)

// Conn is one dedicated connection to the store. It wraps a *sql.Conn
// checked out of the pool's private factory, so statements issued through it
// always hit the same underlying SQLite handle — required for transactions
// and for the single-writer discipline.
type Conn struct {
	name string
	sc   *sql.Conn
	inTx bool
}

// Name returns the connection's unique name, derived from the config's
// connection name plus a counter.
func (c *Conn) Name() string {
	return c.name
}

// InTransaction reports whether the connection is pinned to an open
// transaction.
func (c *Conn) InTransaction() bool {
	return c.inTx
}

// Exec executes a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.sc.ExecContext(ctx, query, args...)
}

// Query executes a statement that returns rows.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.sc.QueryContext(ctx, query, args...)
}

// QueryRow executes a statement expected to return at most one row.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.sc.QueryRowContext(ctx, query, args...)
}

// close releases the underlying handle. With the factory's idle pool
// disabled this closes the driver connection for real.
func (c *Conn) close() error {
	return c.sc.Close()
}
