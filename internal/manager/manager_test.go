package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/devstore/pkg/types"
)

// widgetTable is a minimal table handler for exercising the registry.
type widgetTable struct {
	mgr *Manager
}

func (t *widgetTable) TableName() string          { return "widgets" }
func (t *widgetTable) TableType() types.TableType { return types.TableType("widgets") }

func (t *widgetTable) CreateTable(ctx context.Context) error {
	return t.mgr.ExecWithStats(ctx, nil,
		"CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY, v TEXT NOT NULL)")
}

func (t *widgetTable) DropTable(ctx context.Context) error {
	return t.mgr.ExecWithStats(ctx, nil, "DROP TABLE IF EXISTS widgets")
}

func (t *widgetTable) TruncateTable(ctx context.Context) error {
	return t.mgr.ExecWithStats(ctx, nil, "DELETE FROM widgets")
}

func (t *widgetTable) TableExists(ctx context.Context) (bool, error) {
	return t.mgr.TableExists(ctx, "widgets")
}

func (t *widgetTable) TotalCount(ctx context.Context) (int64, error) {
	var n int64
	err := t.mgr.WithConn(ctx, nil, func(q Querier) error {
		return q.QueryRow(ctx, "SELECT COUNT(*) FROM widgets").Scan(&n)
	})
	return n, err
}

// widgetRegistrar registers the widget table.
func widgetRegistrar(m *Manager) ([]types.TableOps, error) {
	return []types.TableOps{&widgetTable{mgr: m}}, nil
}

// brokenTable refuses every batch operation, for aggregate-count behavior.
type brokenTable struct{}

func (brokenTable) TableName() string                         { return "broken" }
func (brokenTable) TableType() types.TableType                { return types.TableType("broken") }
func (brokenTable) CreateTable(ctx context.Context) error     { return fmt.Errorf("create refused") }
func (brokenTable) DropTable(ctx context.Context) error       { return fmt.Errorf("drop refused") }
func (brokenTable) TruncateTable(ctx context.Context) error   { return fmt.Errorf("truncate refused") }
func (brokenTable) TableExists(ctx context.Context) (bool, error) { return false, nil }
func (brokenTable) TotalCount(ctx context.Context) (int64, error) { return 0, nil }

// eventRecorder is a sink that collects events for later assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *eventRecorder) sink() types.EventSink {
	return func(ev types.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}
}

func (r *eventRecorder) snapshot() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) kinds() []types.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// newTestManager builds and initializes a manager on a fresh database file.
func newTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := types.NewConfig("test", filepath.Join(t.TempDir(), "test.db"))
	cfg.HealthCheckInterval = 0

	m, err := New(cfg, widgetRegistrar, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(types.Config{}, nil, nil, nil)
	assert.ErrorIs(t, err, types.ErrNameEmpty)
}

func TestInitializeAndClose(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	assert.True(t, m.IsOpen())
	assert.ErrorIs(t, m.Initialize(ctx), types.ErrAlreadyOpen)

	exists, err := m.TableExists(ctx, "widgets")
	require.NoError(t, err)
	assert.True(t, exists)

	h, err := m.Table(types.TableType("widgets"))
	require.NoError(t, err)
	assert.Equal(t, "widgets", h.TableName())

	_, err = m.Table(types.TableType("unknown"))
	assert.ErrorIs(t, err, types.ErrTableNotRegistered)

	require.NoError(t, m.Close())
	assert.False(t, m.IsOpen())

	// The manager can be initialized again after close.
	require.NoError(t, m.Initialize(ctx))
	assert.True(t, m.IsOpen())
}

func TestTruncateAllTables(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	table := &widgetTable{mgr: m}

	require.NoError(t, m.ExecWithStats(ctx, nil, "INSERT INTO widgets (v) VALUES ('a')"))
	require.NoError(t, m.ExecWithStats(ctx, nil, "INSERT INTO widgets (v) VALUES ('b')"))

	truncated, total := m.TruncateAllTables(ctx)
	assert.Equal(t, 1, truncated)
	assert.Equal(t, 1, total)

	// Rows are gone but the schema stays.
	n, err := table.TotalCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	exists, err := table.TableExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDropAllTables(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	table := &widgetTable{mgr: m}

	dropped, total := m.DropAllTables(ctx)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, total)

	exists, err := table.TableExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBatchPassthroughsProceedThroughFailure(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	table := &widgetTable{mgr: m}

	// A handler whose operations fail must not stop the batch; it is counted
	// against the aggregate instead.
	m.RegisterTable(brokenTable{})
	require.NoError(t, m.ExecWithStats(ctx, nil, "INSERT INTO widgets (v) VALUES ('a')"))

	truncated, total := m.TruncateAllTables(ctx)
	assert.Equal(t, 1, truncated)
	assert.Equal(t, 2, total)

	n, err := table.TotalCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "healthy tables must still be truncated")

	dropped, total := m.DropAllTables(ctx)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 2, total)

	exists, err := table.TableExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists, "healthy tables must still be dropped")
}

func TestInitializeFailureLeavesManagerClosed(t *testing.T) {
	ctx := context.Background()
	cfg := types.NewConfig("test", filepath.Join(t.TempDir(), "test.db"))
	cfg.HealthCheckInterval = 0

	badRegistrar := func(m *Manager) ([]types.TableOps, error) {
		return nil, fmt.Errorf("boom")
	}

	m, err := New(cfg, badRegistrar, nil, nil)
	require.NoError(t, err)

	require.Error(t, m.Initialize(ctx))
	assert.False(t, m.IsOpen())

	_, err = m.Session()
	assert.ErrorIs(t, err, types.ErrNotOpen)
	assert.ErrorIs(t, m.HealthCheck(ctx), types.ErrNotOpen)
}

func TestInitializeFailureStopsEventDispatch(t *testing.T) {
	ctx := context.Background()
	cfg := types.NewConfig("test", filepath.Join(t.TempDir(), "test.db"))
	cfg.HealthCheckInterval = 0

	badRegistrar := func(m *Manager) ([]types.TableOps, error) {
		return nil, fmt.Errorf("boom")
	}

	rec := &eventRecorder{}
	m, err := New(cfg, badRegistrar, nil, rec.sink())
	require.NoError(t, err)
	require.Error(t, m.Initialize(ctx))

	// The failure path stops and drains the dispatcher before returning, so
	// the failure events are already delivered and no goroutine lingers on a
	// discarded manager.
	kinds := rec.kinds()
	assert.Contains(t, kinds, types.EventError)
	assert.Contains(t, kinds, types.EventInitialized)
	for _, ev := range rec.snapshot() {
		assert.False(t, ev.Success)
	}
}

func TestInitializeRunsInitStatements(t *testing.T) {
	ctx := context.Background()
	cfg := types.NewConfig("test", filepath.Join(t.TempDir(), "test.db"))
	cfg.HealthCheckInterval = 0
	cfg.InitStatements = []string{
		"CREATE TABLE IF NOT EXISTS bootstrap (id INTEGER PRIMARY KEY)",
	}

	m, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))
	defer m.Close()

	exists, err := m.TableExists(ctx, "bootstrap")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	before := m.Statistics().TotalQueries
	require.NoError(t, m.HealthCheck(ctx))
	after := m.Statistics()

	assert.Equal(t, before+1, after.TotalQueries)
	assert.Equal(t, after.SuccessfulQueries+after.FailedQueries, after.TotalQueries)
}

func TestStatisticsReset(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.HealthCheck(ctx))
	require.Greater(t, m.Statistics().TotalQueries, int64(0))

	m.ResetStatistics()
	stats := m.Statistics()
	assert.Zero(t, stats.TotalQueries)
	assert.Zero(t, stats.FailedQueries)
}

func TestPrimaryTransactionFallback(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.BeginTransaction(ctx, nil))

	// A second primary transaction is rejected while one is open.
	assert.Error(t, m.BeginTransaction(ctx, nil))

	err := m.WithConn(ctx, nil, func(q Querier) error {
		_, err := q.Exec(ctx, "INSERT INTO widgets (v) VALUES ('a')")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, m.CommitTransaction(ctx, nil))

	n, err := (&widgetTable{mgr: m}).TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, m.CommitTransaction(ctx, nil), types.ErrNoTransaction)
	assert.ErrorIs(t, m.RollbackTransaction(ctx, nil), types.ErrNoTransaction)
}

func TestSessionTransactionDelegation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	s, err := m.Session()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, m.BeginTransaction(ctx, s))
	err = m.WithConn(ctx, s, func(q Querier) error {
		_, err := q.Exec(ctx, "INSERT INTO widgets (v) VALUES ('tx')")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, m.RollbackTransaction(ctx, s))

	n, err := (&widgetTable{mgr: m}).TotalCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "rolled back insert must not persist")
}

func TestExecuteInTransaction(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	table := &widgetTable{mgr: m}

	s, err := m.Session()
	require.NoError(t, err)
	defer s.Close()

	t.Run("commits on nil error", func(t *testing.T) {
		err := m.ExecuteInTransaction(ctx, s, func(q Querier) error {
			_, err := q.Exec(ctx, "INSERT INTO widgets (v) VALUES ('keep')")
			return err
		})
		require.NoError(t, err)

		n, err := table.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		wantErr := fmt.Errorf("reject")
		err := m.ExecuteInTransaction(ctx, s, func(q Querier) error {
			if _, err := q.Exec(ctx, "INSERT INTO widgets (v) VALUES ('drop')"); err != nil {
				return err
			}
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)

		n, err := table.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = m.ExecuteInTransaction(ctx, s, func(q Querier) error {
				if _, err := q.Exec(ctx, "INSERT INTO widgets (v) VALUES ('panic')"); err != nil {
					return err
				}
				panic("boom")
			})
		})

		n, err := table.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		// The session is usable again after the rollback.
		require.NoError(t, m.BeginTransaction(ctx, s))
		require.NoError(t, m.RollbackTransaction(ctx, s))
	})
}

func TestOptimizeAbortsWhileInUse(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	s, err := m.Session()
	require.NoError(t, err)
	defer s.Close()

	guard, err := m.Pool().AcquireScoped(ctx, s)
	require.NoError(t, err)

	before := m.Statistics().TotalQueries
	err = m.Optimize(ctx)
	assert.ErrorIs(t, err, types.ErrConnectionsInUse)
	assert.Equal(t, before, m.Statistics().TotalQueries,
		"aborted optimize must not run any maintenance statement")

	guard.Release()
	require.NoError(t, m.Optimize(ctx))
}

func TestBackupRestoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := types.NewConfig("test", filepath.Join(dir, "test.db"))
	cfg.HealthCheckInterval = 0

	m, err := New(cfg, widgetRegistrar, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))
	defer m.Close()
	table := &widgetTable{mgr: m}

	require.NoError(t, m.ExecWithStats(ctx, nil, "INSERT INTO widgets (v) VALUES ('kept')"))

	backupPath := filepath.Join(dir, "test_backup.db")
	require.NoError(t, m.Backup(ctx, backupPath))

	require.NoError(t, m.ExecWithStats(ctx, nil, "INSERT INTO widgets (v) VALUES ('lost')"))
	n, err := table.TotalCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	require.NoError(t, m.Restore(ctx, backupPath))
	assert.True(t, m.IsOpen())

	n, err = table.TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "restore must revert to the backup's contents")
}

func TestRestoreMissingBackup(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	err := m.Restore(ctx, filepath.Join(t.TempDir(), "absent.db"))
	assert.ErrorIs(t, err, types.ErrBackupFileMissing)
}

func TestDatabaseSize(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	size, err := m.DatabaseSize(ctx)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

func TestBackupName(t *testing.T) {
	name := BackupName("/data/devices.db", mustParseTime(t, "2026-08-23T10:30:00Z"))
	assert.Equal(t, "/data/devices_backup_20260823_103000.db", name)
}

func TestEventsDelivered(t *testing.T) {
	ctx := context.Background()
	cfg := types.NewConfig("test", filepath.Join(t.TempDir(), "test.db"))
	cfg.HealthCheckInterval = 0

	rec := &eventRecorder{}
	m, err := New(cfg, widgetRegistrar, nil, rec.sink())
	require.NoError(t, err)

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.BeginTransaction(ctx, nil))
	require.NoError(t, m.CommitTransaction(ctx, nil))
	require.NoError(t, m.HealthCheck(ctx))
	require.NoError(t, m.Close())

	// Close drains the dispatcher, so everything emitted has been delivered.
	kinds := rec.kinds()
	assert.Contains(t, kinds, types.EventInitialized)
	assert.Contains(t, kinds, types.EventTxBegin)
	assert.Contains(t, kinds, types.EventTxCommitted)
	assert.Contains(t, kinds, types.EventHealthChecked)
}

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed
}
