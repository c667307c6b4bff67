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

const cameraConfigTableName = "camera_config"

const cameraConfigColumns = "id, camera_id, resolution, frame_rate, exposure_range, gain_range, acquisition_strategy, supported_imaging_modes, created_at, updated_at"

// CameraConfigTable is the handler for per-camera acquisition parameters.
// Each camera has at most one config row; writes go through Upsert.
type CameraConfigTable struct {
	mgr    *manager.Manager
	logger *zap.Logger
}

// NewCameraConfigTable builds the handler against the manager.
func NewCameraConfigTable(mgr *manager.Manager, logger *zap.Logger) *CameraConfigTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CameraConfigTable{
		mgr:    mgr,
		logger: logger.With(zap.String("table", cameraConfigTableName)),
	}
}

func (t *CameraConfigTable) TableName() string          { return cameraConfigTableName }
func (t *CameraConfigTable) TableType() types.TableType { return types.TableCameraConfig }

// CreateTable creates the table with a cascading foreign key to the camera
// base record, so removing a camera removes its config.
func (t *CameraConfigTable) CreateTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS camera_config (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id INTEGER NOT NULL UNIQUE REFERENCES camera_info(id) ON DELETE CASCADE,
			resolution TEXT NOT NULL,
			frame_rate REAL NOT NULL DEFAULT 0,
			exposure_range TEXT NOT NULL DEFAULT '',
			gain_range TEXT NOT NULL DEFAULT '',
			acquisition_strategy TEXT NOT NULL DEFAULT '',
			supported_imaging_modes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_camera_config_camera ON camera_config(camera_id)`,
	}
	for _, stmt := range stmts {
		if err := t.mgr.ExecWithStats(ctx, nil, stmt); err != nil {
			return fmt.Errorf("creating %s: %w", cameraConfigTableName, err)
		}
	}
	return nil
}

func (t *CameraConfigTable) DropTable(ctx context.Context) error {
	return t.mgr.ExecWithStats(ctx, nil, "DROP TABLE IF EXISTS camera_config")
}

func (t *CameraConfigTable) TruncateTable(ctx context.Context) error {
	return t.mgr.ExecWithStats(ctx, nil, "DELETE FROM camera_config")
}

func (t *CameraConfigTable) TableExists(ctx context.Context) (bool, error) {
	return t.mgr.TableExists(ctx, cameraConfigTableName)
}

func (t *CameraConfigTable) TotalCount(ctx context.Context) (int64, error) {
	var n int64
	err := t.query(ctx, nil, func(q manager.Querier) error {
		return q.QueryRow(ctx, "SELECT COUNT(*) FROM camera_config").Scan(&n)
	})
	return n, err
}

// Upsert writes the camera's config, inserting it on first write and
// replacing it afterward. The camera id must reference an existing camera.
func (t *CameraConfigTable) Upsert(ctx context.Context, s *pool.Session, cfg *types.CameraConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	return t.query(ctx, s, func(q manager.Querier) error {
		res, err := q.Exec(ctx,
			`INSERT INTO camera_config (camera_id, resolution, frame_rate, exposure_range, gain_range, acquisition_strategy, supported_imaging_modes, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(camera_id) DO UPDATE SET
			   resolution = excluded.resolution,
			   frame_rate = excluded.frame_rate,
			   exposure_range = excluded.exposure_range,
			   gain_range = excluded.gain_range,
			   acquisition_strategy = excluded.acquisition_strategy,
			   supported_imaging_modes = excluded.supported_imaging_modes,
			   updated_at = excluded.updated_at`,
			cfg.CameraID, cfg.Resolution, cfg.FrameRate, cfg.ExposureRange,
			cfg.GainRange, cfg.AcquisitionStrategy, cfg.SupportedImagingModes, now, now)
		if err != nil {
			return fmt.Errorf("upserting config: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil && cfg.ID == 0 {
			cfg.ID = id
		}
		cfg.UpdatedAt = now
		return nil
	})
}

// GetByCameraID fetches the config for one camera.
func (t *CameraConfigTable) GetByCameraID(ctx context.Context, s *pool.Session, cameraID int64) (types.CameraConfig, error) {
	var cfg types.CameraConfig
	err := t.query(ctx, s, func(q manager.Querier) error {
		row := q.QueryRow(ctx, "SELECT "+cameraConfigColumns+" FROM camera_config WHERE camera_id = ?", cameraID)
		err := row.Scan(&cfg.ID, &cfg.CameraID, &cfg.Resolution, &cfg.FrameRate,
			&cfg.ExposureRange, &cfg.GainRange, &cfg.AcquisitionStrategy,
			&cfg.SupportedImagingModes, &cfg.CreatedAt, &cfg.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		return err
	})
	return cfg, err
}

// DeleteByCameraID removes the config for one camera. A camera with no
// config returns ErrNotFound.
func (t *CameraConfigTable) DeleteByCameraID(ctx context.Context, s *pool.Session, cameraID int64) error {
	return t.query(ctx, s, func(q manager.Querier) error {
		res, err := q.Exec(ctx, "DELETE FROM camera_config WHERE camera_id = ?", cameraID)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func (t *CameraConfigTable) query(ctx context.Context, s *pool.Session, fn func(q manager.Querier) error) error {
	start := time.Now()
	err := t.mgr.WithConn(ctx, s, fn)
	t.mgr.RecordQuery(err == nil, time.Since(start))
	return err
}
