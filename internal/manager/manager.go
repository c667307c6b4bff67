package manager

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/devstore/internal/pool"
	"github.com/mesh-intelligence/devstore/pkg/types"
)

// state tracks the manager lifecycle. Opening falls back to uninitialized
// when any initialize step fails.
type state int

const (
	stateUninitialized state = iota
	stateOpening
	stateReady
	stateClosing
	stateClosed
)

// Registrar populates the table registry during initialize. It receives the
// manager so handlers can route their statements through it.
type Registrar func(m *Manager) ([]types.TableOps, error)

// connectTimeout bounds the initial connectivity check.
const connectTimeout = 5 * time.Second

// Manager owns one logical database instance.
type Manager struct {
	cfg       types.Config
	logger    *zap.Logger
	sink      types.EventSink
	registrar Registrar

	mu        sync.Mutex
	st        state
	db        *sql.DB
	primary   *sql.Conn
	pl        *pool.Pool
	tables    map[types.TableType]types.TableOps
	primaryTx bool

	healthStop chan struct{}
	healthDone chan struct{}

	evMu       sync.RWMutex
	events     chan types.Event
	eventsDone chan struct{}

	statsMu sync.Mutex
	stats   types.Stats
}

// New constructs a manager for the config. The config is validated here,
// before any connection is opened. The sink may be nil; events are then
// discarded. The manager is caller-owned: construct it once at startup and
// pass it by handle, there is no process-wide instance.
func New(cfg types.Config, registrar Registrar, logger *zap.Logger, sink types.EventSink) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "dbmanager"), zap.String("database", cfg.Name)),
		sink:      sink,
		registrar: registrar,
		tables:    make(map[types.TableType]types.TableOps),
		stats:     types.Stats{LastQueryTime: time.Now()},
	}, nil
}

// Config returns the manager's immutable configuration.
func (m *Manager) Config() types.Config {
	return m.cfg
}

// IsOpen reports whether the manager is ready for operations.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st == stateReady
}

// Initialize opens the database: storage directory, primary connection,
// engine pragmas, configured init statements, table registration and
// creation, and the periodic health check. Every step must succeed; on
// failure everything opened so far is torn down and the manager returns to
// its uninitialized state. Initializing an open manager is an error — close
// it first.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.st == stateReady || m.st == stateOpening {
		m.mu.Unlock()
		return types.ErrAlreadyOpen
	}
	m.st = stateOpening
	m.mu.Unlock()

	m.startEventDispatch()
	m.logger.Info("initializing database", zap.String("path", m.cfg.FilePath))

	if err := m.initResources(ctx); err != nil {
		m.teardown()
		m.mu.Lock()
		m.st = stateUninitialized
		m.mu.Unlock()
		m.logger.Error("database initialization failed", zap.Error(err))
		m.emit(types.EventError, false, err.Error())
		m.emit(types.EventInitialized, false, err.Error())
		// A discarded manager must not leave the dispatcher goroutine behind;
		// stopping here also drains the two failure events.
		m.stopEventDispatch()
		return err
	}

	m.mu.Lock()
	m.st = stateReady
	m.mu.Unlock()

	m.startHealthCheck()
	m.logger.Info("database initialized")
	m.emit(types.EventInitialized, true, "")
	return nil
}

// initResources performs the initialize steps in order. The caller
// transitions the state machine around it.
func (m *Manager) initResources(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(m.cfg.FilePath), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", pool.DSN(m.cfg))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	// The primary handle is a single dedicated connection; everything the
	// manager runs directly goes through it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	m.db = db

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	primary, err := db.Conn(connCtx)
	if err != nil {
		return fmt.Errorf("opening primary connection: %w", err)
	}
	m.primary = primary

	if err := m.configurePrimary(ctx); err != nil {
		return fmt.Errorf("configuring primary connection: %w", err)
	}

	for _, stmt := range m.cfg.InitStatements {
		if _, err := primary.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running init statement %q: %w", stmt, err)
		}
	}

	pl, err := pool.New(m.cfg, m.logger)
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	m.pl = pl

	if m.registrar != nil {
		handlers, err := m.registrar(m)
		if err != nil {
			return fmt.Errorf("registering tables: %w", err)
		}
		for _, h := range handlers {
			m.RegisterTable(h)
		}
	}

	if err := m.createAllTables(ctx); err != nil {
		return err
	}
	return nil
}

// configurePrimary applies the engine configuration the DSN does not carry,
// mirroring the flags in Config.
func (m *Manager) configurePrimary(ctx context.Context) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", m.cfg.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = %d", m.cfg.CacheSizePages),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA recursive_triggers = OFF",
	}
	if m.cfg.EnableForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}
	if m.cfg.EnableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := m.primary.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// RegisterTable adds a handler to the registry, replacing any handler
// already registered for the same table type.
func (m *Manager) RegisterTable(h types.TableOps) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[h.TableType()] = h
	m.logger.Debug("registered table", zap.String("table", h.TableName()))
}

// Table returns the registered handler for the table type.
func (m *Manager) Table(tt types.TableType) (types.TableOps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.tables[tt]
	if !ok {
		return nil, types.ErrTableNotRegistered
	}
	return h, nil
}

// createAllTables creates every registered table. Individual failures are
// counted and logged but do not stop the batch; the batch as a whole fails
// if any table could not be created.
func (m *Manager) createAllTables(ctx context.Context) error {
	m.mu.Lock()
	handlers := make([]types.TableOps, 0, len(m.tables))
	for _, h := range m.tables {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	created := 0
	for _, h := range handlers {
		if err := h.CreateTable(ctx); err != nil {
			m.logger.Warn("creating table failed", zap.String("table", h.TableName()), zap.Error(err))
			continue
		}
		created++
	}
	m.logger.Info("table creation finished",
		zap.Int("created", created), zap.Int("total", len(handlers)))
	if created != len(handlers) {
		return fmt.Errorf("created %d of %d tables", created, len(handlers))
	}
	return nil
}

// DropAllTables drops every registered table, proceeding through failures.
// It returns the number dropped and the number registered.
func (m *Manager) DropAllTables(ctx context.Context) (dropped, total int) {
	m.mu.Lock()
	handlers := make([]types.TableOps, 0, len(m.tables))
	for _, h := range m.tables {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		if err := h.DropTable(ctx); err != nil {
			m.logger.Warn("dropping table failed", zap.String("table", h.TableName()), zap.Error(err))
			continue
		}
		dropped++
	}
	m.logger.Info("table drop finished", zap.Int("dropped", dropped), zap.Int("total", len(handlers)))
	return dropped, len(handlers)
}

// TruncateAllTables deletes every row from every registered table, keeping
// the schemas, and proceeds through failures. It returns the number truncated
// and the number registered.
func (m *Manager) TruncateAllTables(ctx context.Context) (truncated, total int) {
	m.mu.Lock()
	handlers := make([]types.TableOps, 0, len(m.tables))
	for _, h := range m.tables {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		if err := h.TruncateTable(ctx); err != nil {
			m.logger.Warn("truncating table failed", zap.String("table", h.TableName()), zap.Error(err))
			continue
		}
		truncated++
	}
	m.logger.Info("table truncation finished", zap.Int("truncated", truncated), zap.Int("total", len(handlers)))
	return truncated, len(handlers)
}

// Close stops the health check, drops the table registry, destroys the pool
// (closing all its connections), and closes the primary connection. The
// manager can be initialized again afterward.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.st != stateReady {
		m.mu.Unlock()
		m.stopEventDispatch()
		return nil
	}
	m.st = stateClosing
	m.mu.Unlock()

	m.stopHealthCheck()
	m.teardown()

	m.mu.Lock()
	m.st = stateClosed
	m.mu.Unlock()

	m.stopEventDispatch()
	m.logger.Info("database closed")
	return nil
}

// teardown releases whatever initialize managed to open, in reverse order.
func (m *Manager) teardown() {
	m.mu.Lock()
	pl := m.pl
	primary := m.primary
	db := m.db
	m.pl = nil
	m.primary = nil
	m.db = nil
	m.tables = make(map[types.TableType]types.TableOps)
	m.primaryTx = false
	m.mu.Unlock()

	if pl != nil {
		if err := pl.Close(); err != nil {
			m.logger.Warn("closing pool failed", zap.Error(err))
		}
	}
	if primary != nil {
		if err := primary.Close(); err != nil {
			m.logger.Warn("closing primary connection failed", zap.Error(err))
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			m.logger.Warn("closing database handle failed", zap.Error(err))
		}
	}
}

// Session registers a new pool session for a worker. Workers close their
// session when they retire so the pool can reclaim their connections.
func (m *Manager) Session() (*pool.Session, error) {
	m.mu.Lock()
	pl := m.pl
	m.mu.Unlock()
	if pl == nil {
		return nil, types.ErrNotOpen
	}
	return pl.Bind()
}

// Pool returns the manager's connection pool, or nil before initialize.
func (m *Manager) Pool() *pool.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pl
}

// WithConn runs fn against a connection: a pooled one owned by the session,
// or the primary connection when s is nil. The pooled connection is released
// on every exit path.
func (m *Manager) WithConn(ctx context.Context, s *pool.Session, fn func(q Querier) error) error {
	m.mu.Lock()
	pl := m.pl
	primary := m.primary
	st := m.st
	m.mu.Unlock()

	if st != stateReady && st != stateOpening {
		return types.ErrNotOpen
	}

	if s != nil && pl != nil {
		guard, err := pl.AcquireScoped(ctx, s)
		if err != nil {
			return err
		}
		defer guard.Release()
		return fn(guard.Conn())
	}

	if primary == nil {
		return types.ErrNotOpen
	}
	return fn(primaryQuerier{sc: primary})
}

// ExecWithStats executes one statement through WithConn, timing it and
// folding the outcome into the statistics.
func (m *Manager) ExecWithStats(ctx context.Context, s *pool.Session, query string, args ...any) error {
	start := time.Now()
	err := m.WithConn(ctx, s, func(q Querier) error {
		_, execErr := q.Exec(ctx, query, args...)
		return execErr
	})
	m.RecordQuery(err == nil, time.Since(start))
	if err != nil {
		m.logger.Warn("statement failed", zap.String("query", query), zap.Error(err))
	}
	return err
}

// RecordQuery folds one executed statement into the statistics. Handlers
// call it for statements they run themselves. Stats have their own lock so
// query bookkeeping never contends with pool bookkeeping.
func (m *Manager) RecordQuery(success bool, elapsed time.Duration) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.Record(success, elapsed)
}

// Statistics returns a snapshot of the rolling statistics.
func (m *Manager) Statistics() types.Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// ResetStatistics zeroes the counters.
func (m *Manager) ResetStatistics() {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats = types.Stats{LastQueryTime: time.Now()}
}

// HealthCheck runs a trivial round trip on the primary connection, records
// it, and emits the result. A nil error means healthy.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	primary := m.primary
	st := m.st
	m.mu.Unlock()

	if st != stateReady || primary == nil {
		return types.ErrNotOpen
	}

	start := time.Now()
	var one int
	err := primary.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	m.RecordQuery(err == nil, time.Since(start))
	m.emit(types.EventHealthChecked, err == nil, errMessage(err))
	if err != nil {
		m.logger.Warn("health check failed", zap.Error(err))
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// startHealthCheck launches the periodic health check loop.
func (m *Manager) startHealthCheck() {
	if m.cfg.HealthCheckInterval <= 0 {
		return
	}
	m.healthStop = make(chan struct{})
	m.healthDone = make(chan struct{})

	go func() {
		defer close(m.healthDone)
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.healthStop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
				_ = m.HealthCheck(ctx)
				cancel()
			}
		}
	}()
}

// stopHealthCheck stops the loop and waits for it to exit.
func (m *Manager) stopHealthCheck() {
	if m.healthStop == nil {
		return
	}
	close(m.healthStop)
	<-m.healthDone
	m.healthStop = nil
	m.healthDone = nil
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
