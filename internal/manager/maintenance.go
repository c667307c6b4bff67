package manager

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/devstore/pkg/types"
)

// Optimize runs offline maintenance: WAL checkpoint, VACUUM, ANALYZE, and
// the engine's statement optimizer. Pooled idle connections are closed
// first; if any connection is still checked out the run is aborted before a
// single maintenance statement executes, because VACUUM needs the file to
// itself.
func (m *Manager) Optimize(ctx context.Context) error {
	m.mu.Lock()
	pl := m.pl
	primary := m.primary
	st := m.st
	m.mu.Unlock()

	if st != stateReady || primary == nil {
		return types.ErrNotOpen
	}

	if pl != nil {
		closed := pl.CloseIdle()
		if inUse := pl.InUse(); inUse > 0 {
			m.logger.Warn("optimize aborted, connections in use",
				zap.Int("in_use", inUse), zap.Int("idle_closed", closed))
			return fmt.Errorf("optimize: %w", types.ErrConnectionsInUse)
		}
		m.logger.Debug("closed idle connections before optimize", zap.Int("closed", closed))
	}

	stmts := []string{
		"PRAGMA wal_checkpoint(TRUNCATE)",
		"VACUUM",
		"ANALYZE",
		"PRAGMA optimize",
	}
	start := time.Now()
	for _, stmt := range stmts {
		if _, err := primary.ExecContext(ctx, stmt); err != nil {
			m.RecordQuery(false, time.Since(start))
			m.logger.Error("optimize statement failed", zap.String("statement", stmt), zap.Error(err))
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	m.RecordQuery(true, time.Since(start))
	m.logger.Info("database optimized", zap.Duration("took", time.Since(start)))
	return nil
}

// Backup writes an online snapshot of the database to destPath using VACUUM
// INTO. The snapshot is transactionally consistent and does not block
// concurrent readers. An existing file at destPath is an error; the engine
// refuses to vacuum into one.
func (m *Manager) Backup(ctx context.Context, destPath string) error {
	m.mu.Lock()
	primary := m.primary
	st := m.st
	m.mu.Unlock()

	if st != stateReady || primary == nil {
		return types.ErrNotOpen
	}
	if destPath == "" {
		return types.ErrPathEmpty
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	start := time.Now()
	stmt := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(destPath, "'", "''"))
	if _, err := primary.ExecContext(ctx, stmt); err != nil {
		m.RecordQuery(false, time.Since(start))
		m.logger.Error("backup failed", zap.String("dest", destPath), zap.Error(err))
		return fmt.Errorf("backing up to %s: %w", destPath, err)
	}
	m.RecordQuery(true, time.Since(start))
	m.logger.Info("database backed up",
		zap.String("dest", destPath), zap.Duration("took", time.Since(start)))
	return nil
}

// BackupName derives a timestamped backup file name next to the live
// database file: <stem>_backup_<timestamp><ext>.
func BackupName(dbPath string, at time.Time) string {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_backup_%s%s", stem, at.Format("20060102_150405"), ext))
}

// Restore replaces the live database file with the backup at srcPath. The
// manager is closed first so no handle is left on the old file, the WAL and
// shared-memory sidecars are removed, the backup is copied into place, and
// the manager is initialized again.
func (m *Manager) Restore(ctx context.Context, srcPath string) error {
	if srcPath == "" {
		return types.ErrPathEmpty
	}
	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("%w: %s", types.ErrBackupFileMissing, srcPath)
	}

	if err := m.Close(); err != nil {
		return fmt.Errorf("closing before restore: %w", err)
	}

	for _, sidecar := range []string{m.cfg.FilePath + "-wal", m.cfg.FilePath + "-shm"} {
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", sidecar, err)
		}
	}

	if err := copyFile(srcPath, m.cfg.FilePath); err != nil {
		return fmt.Errorf("restoring database file: %w", err)
	}
	m.logger.Info("database file restored", zap.String("src", srcPath))

	return m.Initialize(ctx)
}

// DatabaseSize returns the database file size in bytes, computed from the
// engine's page accounting so it reflects the live connection's view.
func (m *Manager) DatabaseSize(ctx context.Context) (int64, error) {
	m.mu.Lock()
	primary := m.primary
	st := m.st
	m.mu.Unlock()

	if st != stateReady || primary == nil {
		return 0, types.ErrNotOpen
	}

	var pageCount, pageSize int64
	if err := primary.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("reading page count: %w", err)
	}
	if err := primary.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("reading page size: %w", err)
	}
	return pageCount * pageSize, nil
}

// TableExists reports whether a table is present in the schema, independent
// of the registry.
func (m *Manager) TableExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	primary := m.primary
	st := m.st
	m.mu.Unlock()

	if st != stateReady || primary == nil {
		return false, types.ErrNotOpen
	}

	var found string
	err := primary.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return true, nil
}

// copyFile copies src to dst, truncating dst if it exists.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
