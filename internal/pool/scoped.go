package pool

import "context"

// ScopedConn is a borrow guard around an acquired connection. Callers defer
// Release immediately after a successful AcquireScoped so the connection
// returns to the pool on every exit path, early returns and panics included.
type ScopedConn struct {
	pool     *Pool
	session  *Session
	conn     *Conn
	released bool
}

// AcquireScoped acquires a connection wrapped in a release guard.
func (p *Pool) AcquireScoped(ctx context.Context, s *Session) (*ScopedConn, error) {
	c, err := p.Acquire(ctx, s)
	if err != nil {
		return nil, err
	}
	return &ScopedConn{pool: p, session: s, conn: c}, nil
}

// Conn returns the borrowed connection. The borrower must not retain it past
// the guard's Release.
func (g *ScopedConn) Conn() *Conn {
	return g.conn
}

// Release returns the connection to the pool. Release is idempotent; inside
// a transaction the pool keeps the connection pinned regardless.
func (g *ScopedConn) Release() {
	if g.released {
		return
	}
	g.released = true
	g.pool.Release(g.session, g.conn)
}
