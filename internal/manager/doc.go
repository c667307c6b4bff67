// Package manager owns the lifecycle of one logical database: a primary
// connection for schema and maintenance work, a session-affine connection
// pool for concurrent callers, a registry of table handlers, rolling
// statistics, and a periodic health check. Transactions are delegated to the
// pool so a transaction begun by a session is committed on the same
// connection; without a session the manager falls back to a transaction on
// the primary connection.
package manager
