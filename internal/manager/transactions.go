package manager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/devstore/internal/pool"
	"github.com/mesh-intelligence/devstore/pkg/types"
)

// BeginTransaction starts a transaction. With a session it is delegated to
// the pool, which pins a connection to the session until commit or rollback.
// Without a session it runs on the primary connection; the manager allows
// only one primary transaction at a time.
func (m *Manager) BeginTransaction(ctx context.Context, s *pool.Session) error {
	m.mu.Lock()
	pl := m.pl
	primary := m.primary
	st := m.st
	m.mu.Unlock()

	if st != stateReady {
		return types.ErrNotOpen
	}

	if s != nil {
		if _, err := pl.BeginTx(ctx, s); err != nil {
			m.emit(types.EventTxBegin, false, err.Error())
			return err
		}
		m.emit(types.EventTxBegin, true, "")
		return nil
	}

	m.mu.Lock()
	if m.primaryTx {
		m.mu.Unlock()
		return fmt.Errorf("beginning transaction: %w", types.ErrAlreadyOpen)
	}
	m.primaryTx = true
	m.mu.Unlock()

	if _, err := primary.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		m.mu.Lock()
		m.primaryTx = false
		m.mu.Unlock()
		m.emit(types.EventTxBegin, false, err.Error())
		return fmt.Errorf("beginning transaction: %w", err)
	}
	m.emit(types.EventTxBegin, true, "")
	return nil
}

// CommitTransaction commits the session's transaction, or the primary
// connection's transaction when s is nil.
func (m *Manager) CommitTransaction(ctx context.Context, s *pool.Session) error {
	return m.finishTransaction(ctx, s, "COMMIT", types.EventTxCommitted)
}

// RollbackTransaction rolls back the session's transaction, or the primary
// connection's transaction when s is nil.
func (m *Manager) RollbackTransaction(ctx context.Context, s *pool.Session) error {
	return m.finishTransaction(ctx, s, "ROLLBACK", types.EventTxRolledBack)
}

func (m *Manager) finishTransaction(ctx context.Context, s *pool.Session, stmt string, kind types.EventKind) error {
	m.mu.Lock()
	pl := m.pl
	primary := m.primary
	st := m.st
	m.mu.Unlock()

	if st != stateReady {
		return types.ErrNotOpen
	}

	if s != nil {
		var err error
		if stmt == "COMMIT" {
			err = pl.Commit(ctx, s)
		} else {
			err = pl.Rollback(ctx, s)
		}
		m.emit(kind, err == nil, errMessage(err))
		return err
	}

	m.mu.Lock()
	if !m.primaryTx {
		m.mu.Unlock()
		return types.ErrNoTransaction
	}
	m.primaryTx = false
	m.mu.Unlock()

	if _, err := primary.ExecContext(ctx, stmt); err != nil {
		m.emit(kind, false, err.Error())
		return fmt.Errorf("%s: %w", stmt, err)
	}
	m.emit(kind, true, "")
	return nil
}

// ExecuteInTransaction runs fn inside a transaction: commit when fn returns
// nil, rollback when it returns an error or panics. A panic is rolled back
// and then rethrown. fn receives a querier bound to the transaction's
// connection, so every statement it runs joins the transaction.
func (m *Manager) ExecuteInTransaction(ctx context.Context, s *pool.Session, fn func(q Querier) error) (err error) {
	if err = m.BeginTransaction(ctx, s); err != nil {
		return err
	}

	done := false
	defer func() {
		if done {
			return
		}
		// fn panicked; roll back before the panic continues unwinding.
		if rbErr := m.RollbackTransaction(ctx, s); rbErr != nil {
			m.logger.Warn("rollback after panic failed", zap.Error(rbErr))
		}
	}()

	q, qErr := m.txQuerier(ctx, s)
	if qErr != nil {
		done = true
		if rbErr := m.RollbackTransaction(ctx, s); rbErr != nil {
			m.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return qErr
	}

	fnErr := fn(q)
	done = true

	if fnErr != nil {
		if rbErr := m.RollbackTransaction(ctx, s); rbErr != nil {
			m.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return fnErr
	}
	return m.CommitTransaction(ctx, s)
}

// txQuerier resolves the querier bound to the open transaction.
func (m *Manager) txQuerier(ctx context.Context, s *pool.Session) (Querier, error) {
	if s == nil {
		m.mu.Lock()
		primary := m.primary
		m.mu.Unlock()
		if primary == nil {
			return nil, types.ErrNotOpen
		}
		return primaryQuerier{sc: primary}, nil
	}

	m.mu.Lock()
	pl := m.pl
	m.mu.Unlock()
	if pl == nil {
		return nil, types.ErrNotOpen
	}
	// Inside a transaction the pool resolves every acquire to the pinned
	// connection, so this cannot grow the pool.
	return pl.BeginTx(ctx, s)
}
