package devicedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/devstore/internal/manager"
	"github.com/mesh-intelligence/devstore/internal/pool"
	"github.com/mesh-intelligence/devstore/pkg/types"
)

const cameraStatusTableName = "camera_status"

const cameraStatusColumns = "id, camera_id, current_frame_rate, current_gain, current_exposure, auto_exposure, auto_gain, online, last_heartbeat, updated_at"

// CameraStatusTable is the handler for runtime state. One row per camera,
// rewritten on every heartbeat.
type CameraStatusTable struct {
	mgr    *manager.Manager
	logger *zap.Logger
}

// NewCameraStatusTable builds the handler against the manager.
func NewCameraStatusTable(mgr *manager.Manager, logger *zap.Logger) *CameraStatusTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CameraStatusTable{
		mgr:    mgr,
		logger: logger.With(zap.String("table", cameraStatusTableName)),
	}
}

func (t *CameraStatusTable) TableName() string          { return cameraStatusTableName }
func (t *CameraStatusTable) TableType() types.TableType { return types.TableCameraStatus }

// CreateTable creates the table with a cascading foreign key to the camera
// base record.
func (t *CameraStatusTable) CreateTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS camera_status (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id INTEGER NOT NULL UNIQUE REFERENCES camera_info(id) ON DELETE CASCADE,
			current_frame_rate REAL NOT NULL DEFAULT 0,
			current_gain REAL NOT NULL DEFAULT 0,
			current_exposure REAL NOT NULL DEFAULT 0,
			auto_exposure INTEGER NOT NULL DEFAULT 0,
			auto_gain INTEGER NOT NULL DEFAULT 0,
			online INTEGER NOT NULL DEFAULT 0,
			last_heartbeat DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_camera_status_camera ON camera_status(camera_id)`,
		`CREATE INDEX IF NOT EXISTS idx_camera_status_online ON camera_status(online)`,
	}
	for _, stmt := range stmts {
		if err := t.mgr.ExecWithStats(ctx, nil, stmt); err != nil {
			return fmt.Errorf("creating %s: %w", cameraStatusTableName, err)
		}
	}
	return nil
}

func (t *CameraStatusTable) DropTable(ctx context.Context) error {
	return t.mgr.ExecWithStats(ctx, nil, "DROP TABLE IF EXISTS camera_status")
}

func (t *CameraStatusTable) TruncateTable(ctx context.Context) error {
	return t.mgr.ExecWithStats(ctx, nil, "DELETE FROM camera_status")
}

func (t *CameraStatusTable) TableExists(ctx context.Context) (bool, error) {
	return t.mgr.TableExists(ctx, cameraStatusTableName)
}

func (t *CameraStatusTable) TotalCount(ctx context.Context) (int64, error) {
	var n int64
	err := t.query(ctx, nil, func(q manager.Querier) error {
		return q.QueryRow(ctx, "SELECT COUNT(*) FROM camera_status").Scan(&n)
	})
	return n, err
}

// Upsert writes the camera's runtime state, stamping the heartbeat if the
// caller left it zero.
func (t *CameraStatusTable) Upsert(ctx context.Context, s *pool.Session, st *types.CameraStatus) error {
	if err := st.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if st.LastHeartbeat.IsZero() {
		st.LastHeartbeat = now
	}
	return t.query(ctx, s, func(q manager.Querier) error {
		res, err := q.Exec(ctx,
			`INSERT INTO camera_status (camera_id, current_frame_rate, current_gain, current_exposure, auto_exposure, auto_gain, online, last_heartbeat, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(camera_id) DO UPDATE SET
			   current_frame_rate = excluded.current_frame_rate,
			   current_gain = excluded.current_gain,
			   current_exposure = excluded.current_exposure,
			   auto_exposure = excluded.auto_exposure,
			   auto_gain = excluded.auto_gain,
			   online = excluded.online,
			   last_heartbeat = excluded.last_heartbeat,
			   updated_at = excluded.updated_at`,
			st.CameraID, st.CurrentFrameRate, st.CurrentGain, st.CurrentExposure,
			st.AutoExposure, st.AutoGain, st.Online, st.LastHeartbeat, now)
		if err != nil {
			return fmt.Errorf("upserting status: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil && st.ID == 0 {
			st.ID = id
		}
		st.UpdatedAt = now
		return nil
	})
}

// GetByCameraID fetches the runtime state for one camera.
func (t *CameraStatusTable) GetByCameraID(ctx context.Context, s *pool.Session, cameraID int64) (types.CameraStatus, error) {
	var st types.CameraStatus
	err := t.query(ctx, s, func(q manager.Querier) error {
		row := q.QueryRow(ctx, "SELECT "+cameraStatusColumns+" FROM camera_status WHERE camera_id = ?", cameraID)
		err := row.Scan(&st.ID, &st.CameraID, &st.CurrentFrameRate, &st.CurrentGain,
			&st.CurrentExposure, &st.AutoExposure, &st.AutoGain, &st.Online,
			&st.LastHeartbeat, &st.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		return err
	})
	return st, err
}

// MarkStale flags cameras whose last heartbeat is older than the window as
// offline and returns how many rows changed.
func (t *CameraStatusTable) MarkStale(ctx context.Context, s *pool.Session, window time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-window)
	var changed int64
	err := t.query(ctx, s, func(q manager.Querier) error {
		res, err := q.Exec(ctx,
			"UPDATE camera_status SET online = 0, updated_at = ? WHERE online = 1 AND last_heartbeat < ?",
			time.Now().UTC(), cutoff)
		if err != nil {
			return err
		}
		changed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		t.logger.Info("marked stale cameras offline", zap.Int64("count", changed))
	}
	return changed, nil
}

// CountOnline returns the number of cameras currently flagged online.
func (t *CameraStatusTable) CountOnline(ctx context.Context, s *pool.Session) (int64, error) {
	var n int64
	err := t.query(ctx, s, func(q manager.Querier) error {
		return q.QueryRow(ctx, "SELECT COUNT(*) FROM camera_status WHERE online = 1").Scan(&n)
	})
	return n, err
}

func (t *CameraStatusTable) query(ctx context.Context, s *pool.Session, fn func(q manager.Querier) error) error {
	start := time.Now()
	err := t.mgr.WithConn(ctx, s, fn)
	t.mgr.RecordQuery(err == nil, time.Since(start))
	return err
}
