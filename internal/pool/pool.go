package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/devstore/pkg/types"
)

// slot is the per-session bookkeeping: the idle connections owned by the
// session plus its pinned transaction connection, if any.
type slot struct {
	session  *Session
	idle     []*Conn
	activeTx *Conn
}

// Pool owns every connection handle it creates. State transitions (acquire,
// release, begin/commit/rollback, reaping, idle-closing) are serialized by
// one mutex held only for bookkeeping — never across an engine call, which
// may block for the configured busy timeout.
type Pool struct {
	cfg    types.Config
	db     *sql.DB // connection factory; idle pooling disabled
	logger *zap.Logger

	mu          sync.Mutex
	closed      bool
	slots       map[uint64]*slot
	owner       map[*Conn]uint64 // in-use connections -> owning session
	total       int              // open plus reserved connections
	nextSession uint64
	nextConn    int
}

// New opens a connection factory for the config and returns an empty pool.
// Connections are opened lazily, one at a time, by the acquiring caller.
func New(cfg types.Config, logger *zap.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening connection factory: %w", err)
	}
	// The pool does its own bookkeeping; the factory must not cache or cap
	// below it. Idle caching is disabled so a released *sql.Conn closes the
	// driver connection for real.
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(0)

	return &Pool{
		cfg:    cfg,
		db:     db,
		logger: logger.With(zap.String("component", "pool"), zap.String("database", cfg.Name)),
		slots:  make(map[uint64]*slot),
		owner:  make(map[*Conn]uint64),
	}, nil
}

// DSN builds the modernc.org/sqlite connection string for the config. The
// pragmas ride on the DSN so every connection the factory opens is
// configured identically.
func DSN(cfg types.Config) string {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.FilePath, cfg.BusyTimeout.Milliseconds())
	if cfg.EnableForeignKeys {
		dsn += "&_pragma=foreign_keys(1)"
	}
	if cfg.EnableWAL {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	return dsn
}

// Bind registers a new session with the pool. The caller owns the session
// and must Close it when its worker retires.
func (p *Pool) Bind() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, types.ErrPoolClosed
	}
	p.nextSession++
	s := &Session{id: p.nextSession, pool: p}
	p.slots[s.id] = &slot{session: s}
	return s, nil
}

// Acquire returns a connection owned by the session. Precedence: the
// session's pinned transaction connection, then its idle queue, then a newly
// opened connection if the pool is under capacity. At capacity it returns
// ErrPoolExhausted immediately; callers retry with their own backoff.
func (p *Pool) Acquire(ctx context.Context, s *Session) (*Conn, error) {
	if s == nil || s.Closed() {
		return nil, types.ErrSessionClosed
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, types.ErrPoolClosed
	}
	doomed := p.reapLocked()

	sl := p.slots[s.id]
	if sl == nil {
		p.mu.Unlock()
		p.closeAll(doomed)
		return nil, types.ErrSessionClosed
	}

	// Inside a transaction every acquire resolves to the pinned connection.
	if sl.activeTx != nil {
		c := sl.activeTx
		p.mu.Unlock()
		p.closeAll(doomed)
		return c, nil
	}

	if n := len(sl.idle); n > 0 {
		c := sl.idle[n-1]
		sl.idle = sl.idle[:n-1]
		p.owner[c] = s.id
		p.mu.Unlock()
		p.closeAll(doomed)
		return c, nil
	}

	if p.total >= p.cfg.MaxConnections {
		p.mu.Unlock()
		p.closeAll(doomed)
		return nil, types.ErrPoolExhausted
	}

	// Reserve capacity, then open without the lock: the open can block for
	// the busy timeout and must not stall unrelated pool traffic.
	p.total++
	name := fmt.Sprintf("%s_%d", p.cfg.ConnectionName, p.nextConn+1)
	p.nextConn++
	p.mu.Unlock()
	p.closeAll(doomed)

	sc, err := p.db.Conn(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.logger.Warn("opening connection failed", zap.Error(err))
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	c := &Conn{name: name, sc: sc}

	p.mu.Lock()
	if p.closed || s.Closed() {
		p.total--
		closed := p.closed
		p.mu.Unlock()
		p.closeAll([]*Conn{c})
		if closed {
			return nil, types.ErrPoolClosed
		}
		return nil, types.ErrSessionClosed
	}
	p.owner[c] = s.id
	p.mu.Unlock()
	return c, nil
}

// Release returns a connection to the session's idle queue. Releasing a
// connection the session does not hold in-use is a no-op, as is releasing
// the pinned transaction connection — that one only comes back through
// Commit or Rollback.
func (p *Pool) Release(s *Session, c *Conn) {
	if s == nil || c == nil {
		return
	}

	p.mu.Lock()
	owner, inUse := p.owner[c]
	if !inUse || owner != s.id {
		p.mu.Unlock()
		return
	}
	sl := p.slots[s.id]
	if sl != nil && sl.activeTx == c {
		p.mu.Unlock()
		return
	}
	delete(p.owner, c)
	if p.closed || s.Closed() || sl == nil {
		// Nobody can ever reuse it; close instead of idling.
		p.total--
		p.dropSlotIfDrainedLocked(s.id)
		p.mu.Unlock()
		p.closeAll([]*Conn{c})
		return
	}
	sl.idle = append(sl.idle, c)
	p.mu.Unlock()
}

// BeginTx pins a connection to the session for the duration of one
// transaction. A second call from the same session returns the already
// pinned connection. On failure to start the transaction the connection
// goes back to the idle queue and the error is returned.
func (p *Pool) BeginTx(ctx context.Context, s *Session) (*Conn, error) {
	if s == nil || s.Closed() {
		return nil, types.ErrSessionClosed
	}

	p.mu.Lock()
	sl := p.slots[s.id]
	if sl != nil && sl.activeTx != nil {
		c := sl.activeTx
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.Acquire(ctx, s)
	if err != nil {
		return nil, err
	}

	// BEGIN IMMEDIATE takes the write lock up front, so lock contention
	// surfaces here (bounded by the busy timeout) rather than at commit.
	if _, err := c.Exec(ctx, "BEGIN IMMEDIATE"); err != nil {
		p.Release(s, c)
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	c.inTx = true

	p.mu.Lock()
	if sl = p.slots[s.id]; sl != nil {
		sl.activeTx = c
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	// Session retired between acquire and pin; Release rolls the
	// transaction back and closes the connection.
	p.Release(s, c)
	return nil, types.ErrSessionClosed
}

// Commit commits the session's pinned transaction. The connection returns to
// the session's idle queue whether or not the commit itself succeeds.
func (p *Pool) Commit(ctx context.Context, s *Session) error {
	return p.finishTx(ctx, s, "COMMIT")
}

// Rollback rolls back the session's pinned transaction. The connection
// returns to the session's idle queue whether or not the rollback succeeds.
func (p *Pool) Rollback(ctx context.Context, s *Session) error {
	return p.finishTx(ctx, s, "ROLLBACK")
}

func (p *Pool) finishTx(ctx context.Context, s *Session, stmt string) error {
	if s == nil {
		return types.ErrSessionClosed
	}

	p.mu.Lock()
	sl := p.slots[s.id]
	if sl == nil || sl.activeTx == nil {
		p.mu.Unlock()
		return types.ErrNoTransaction
	}
	c := sl.activeTx
	sl.activeTx = nil
	p.mu.Unlock()

	_, execErr := c.Exec(ctx, stmt)
	c.inTx = false
	p.Release(s, c)

	if execErr != nil {
		p.logger.Warn("finishing transaction failed",
			zap.String("statement", stmt), zap.Error(execErr))
		return fmt.Errorf("%s: %w", stmt, execErr)
	}
	return nil
}

// CloseIdle closes every idle connection across all sessions and returns the
// number closed. Bulk maintenance calls this before checking that nothing is
// left in use.
func (p *Pool) CloseIdle() int {
	p.mu.Lock()
	var doomed []*Conn
	for id, sl := range p.slots {
		doomed = append(doomed, sl.idle...)
		p.total -= len(sl.idle)
		sl.idle = nil
		p.dropSlotIfDrainedLocked(id)
	}
	p.mu.Unlock()

	p.closeAll(doomed)
	return len(doomed)
}

// Close shuts the pool down, closing idle and in-use connections alike.
// In-use connections at close time are a caller bug; they are counted,
// logged, and closed anyway.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var doomed []*Conn
	for _, sl := range p.slots {
		doomed = append(doomed, sl.idle...)
		sl.idle = nil
		sl.activeTx = nil
	}
	leaked := len(p.owner)
	for c := range p.owner {
		doomed = append(doomed, c)
	}
	p.owner = make(map[*Conn]uint64)
	p.slots = make(map[uint64]*slot)
	p.total = 0
	p.mu.Unlock()

	if leaked > 0 {
		p.logger.Warn("closing pool with connections still in use", zap.Int("in_use", leaked))
	}
	p.closeAll(doomed)

	if err := p.db.Close(); err != nil {
		return fmt.Errorf("closing connection factory: %w", err)
	}
	return nil
}

// Total returns the number of open (plus reserved) connections.
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// InUse returns the number of connections currently checked out, including
// pinned transaction connections.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.owner)
}

// Idle returns the number of idle connections across all sessions.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, sl := range p.slots {
		n += len(sl.idle)
	}
	return n
}

// reap runs one reaping pass outside of any other pool operation.
func (p *Pool) reap() {
	p.mu.Lock()
	doomed := p.reapLocked()
	p.mu.Unlock()
	p.closeAll(doomed)
}

// reapLocked collects connections owned by closed sessions: their idle
// queues, plus any transaction left pinned (rolled back on close). In-use
// connections are left for Release to retire. Caller holds p.mu; the
// returned connections must be closed after it is dropped.
func (p *Pool) reapLocked() []*Conn {
	var doomed []*Conn
	for id, sl := range p.slots {
		if !sl.session.Closed() {
			continue
		}
		doomed = append(doomed, sl.idle...)
		p.total -= len(sl.idle)
		sl.idle = nil
		if c := sl.activeTx; c != nil {
			sl.activeTx = nil
			delete(p.owner, c)
			p.total--
			doomed = append(doomed, c)
		}
		p.dropSlotIfDrainedLocked(id)
	}
	return doomed
}

// dropSlotIfDrainedLocked removes a closed session's slot once nothing
// references it. Caller holds p.mu.
func (p *Pool) dropSlotIfDrainedLocked(id uint64) {
	sl := p.slots[id]
	if sl == nil || !sl.session.Closed() {
		return
	}
	if len(sl.idle) > 0 || sl.activeTx != nil {
		return
	}
	for _, owner := range p.owner {
		if owner == id {
			return
		}
	}
	delete(p.slots, id)
}

// closeAll rolls back and closes connections with no lock held.
func (p *Pool) closeAll(conns []*Conn) {
	for _, c := range conns {
		if c.inTx {
			if _, err := c.Exec(context.Background(), "ROLLBACK"); err != nil {
				p.logger.Warn("rolling back reaped transaction failed", zap.Error(err))
			}
			c.inTx = false
		}
		if err := c.close(); err != nil {
			p.logger.Warn("closing connection failed", zap.String("conn", c.name), zap.Error(err))
		}
	}
}
