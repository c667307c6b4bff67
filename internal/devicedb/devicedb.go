package devicedb

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/devstore/internal/manager"
	"github.com/mesh-intelligence/devstore/internal/pool"
	"github.com/mesh-intelligence/devstore/pkg/types"
)

// DeviceDB is the camera store facade: a manager plus its three table
// handlers, bound to one pool session for the owning worker. Concurrent
// workers each open their own session through Manager().Session().
type DeviceDB struct {
	mgr     *manager.Manager
	session *pool.Session
	logger  *zap.Logger

	info   *CameraInfoTable
	config *CameraConfigTable
	status *CameraStatusTable
}

// CameraRecord is a camera with its optional config and status rows.
type CameraRecord struct {
	Info   types.CameraInfo    `json:"info"`
	Config *types.CameraConfig `json:"config,omitempty"`
	Status *types.CameraStatus `json:"status,omitempty"`
}

// Statistics summarizes the store.
type Statistics struct {
	TotalCameras   int64            `json:"total_cameras"`
	OnlineCameras  int64            `json:"online_cameras"`
	ByManufacturer map[string]int64 `json:"by_manufacturer"`
	DatabaseBytes  int64            `json:"database_bytes"`
	Queries        types.Stats      `json:"queries"`
}

// Open builds the manager with the camera tables registered, initializes it,
// and binds a session for the facade's own calls.
func Open(ctx context.Context, cfg types.Config, logger *zap.Logger, sink types.EventSink) (*DeviceDB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &DeviceDB{logger: logger.With(zap.String("component", "devicedb"))}

	registrar := func(m *manager.Manager) ([]types.TableOps, error) {
		d.info = NewCameraInfoTable(m, logger)
		d.config = NewCameraConfigTable(m, logger)
		d.status = NewCameraStatusTable(m, logger)
		return []types.TableOps{d.info, d.config, d.status}, nil
	}

	mgr, err := manager.New(cfg, registrar, logger, sink)
	if err != nil {
		return nil, err
	}
	d.mgr = mgr

	if err := mgr.Initialize(ctx); err != nil {
		return nil, err
	}

	session, err := mgr.Session()
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}
	d.session = session
	return d, nil
}

// Close retires the facade's session and closes the manager.
func (d *DeviceDB) Close() error {
	if d.session != nil {
		d.session.Close()
		d.session = nil
	}
	return d.mgr.Close()
}

// Manager exposes the underlying manager for maintenance and sessions.
func (d *DeviceDB) Manager() *manager.Manager { return d.mgr }

// Info exposes the base-record handler for callers running their own
// sessions.
func (d *DeviceDB) Info() *CameraInfoTable { return d.info }

// Config exposes the acquisition-config handler.
func (d *DeviceDB) Config() *CameraConfigTable { return d.config }

// Status exposes the runtime-status handler.
func (d *DeviceDB) Status() *CameraStatusTable { return d.status }

// AddCamera stores a camera and, when cfg is non-nil, its acquisition config
// in one transaction.
func (d *DeviceDB) AddCamera(ctx context.Context, cam *types.CameraInfo, cfg *types.CameraConfig) error {
	if cfg == nil {
		_, err := d.info.Insert(ctx, d.session, cam)
		return err
	}
	if err := cam.Validate(); err != nil {
		return err
	}
	return d.mgr.ExecuteInTransaction(ctx, d.session, func(q manager.Querier) error {
		if err := d.info.insertTx(ctx, q, cam); err != nil {
			return err
		}
		cfg.CameraID = cam.ID
		// The config write runs on the same session, so it joins the pinned
		// transaction connection.
		return d.config.Upsert(ctx, d.session, cfg)
	})
}

// UpdateCamera rewrites the camera base record.
func (d *DeviceDB) UpdateCamera(ctx context.Context, cam types.CameraInfo) error {
	return d.info.Update(ctx, d.session, cam)
}

// RemoveCamera deletes a camera; its config and status rows cascade away.
func (d *DeviceDB) RemoveCamera(ctx context.Context, id int64) error {
	return d.info.Delete(ctx, d.session, id)
}

// GetCamera returns a camera with whatever config and status rows exist.
func (d *DeviceDB) GetCamera(ctx context.Context, id int64) (CameraRecord, error) {
	cam, err := d.info.GetByID(ctx, d.session, id)
	if err != nil {
		return CameraRecord{}, err
	}
	rec := CameraRecord{Info: cam}

	cfg, err := d.config.GetByCameraID(ctx, d.session, id)
	switch {
	case err == nil:
		rec.Config = &cfg
	case !errors.Is(err, types.ErrNotFound):
		return CameraRecord{}, err
	}

	st, err := d.status.GetByCameraID(ctx, d.session, id)
	switch {
	case err == nil:
		rec.Status = &st
	case !errors.Is(err, types.ErrNotFound):
		return CameraRecord{}, err
	}
	return rec, nil
}

// GetCameraBySerial resolves a camera by serial number.
func (d *DeviceDB) GetCameraBySerial(ctx context.Context, serial string) (CameraRecord, error) {
	cam, err := d.info.GetBySerial(ctx, d.session, serial)
	if err != nil {
		return CameraRecord{}, err
	}
	return d.GetCamera(ctx, cam.ID)
}

// ListCameras returns one page of camera base records.
func (d *DeviceDB) ListCameras(ctx context.Context, page types.PageParams) (types.PageResult[types.CameraInfo], error) {
	return d.info.ListPaged(ctx, d.session, page)
}

// AllCameras returns every camera base record, unpaged, ordered by id.
func (d *DeviceDB) AllCameras(ctx context.Context) ([]types.CameraInfo, error) {
	return d.info.List(ctx, d.session)
}

// SearchCameras finds cameras by name, serial number, or manufacturer.
func (d *DeviceDB) SearchCameras(ctx context.Context, term string) ([]types.CameraInfo, error) {
	return d.info.Search(ctx, d.session, term)
}

// ImportCameras loads a batch of camera records atomically.
func (d *DeviceDB) ImportCameras(ctx context.Context, cams []types.CameraInfo) error {
	return d.info.BatchImport(ctx, d.session, cams)
}

// UpdateCameraConfig writes the camera's acquisition config.
func (d *DeviceDB) UpdateCameraConfig(ctx context.Context, cfg *types.CameraConfig) error {
	return d.config.Upsert(ctx, d.session, cfg)
}

// Heartbeat records the camera's current runtime state.
func (d *DeviceDB) Heartbeat(ctx context.Context, st *types.CameraStatus) error {
	return d.status.Upsert(ctx, d.session, st)
}

// Statistics aggregates counts and sizes for the whole store.
func (d *DeviceDB) Statistics(ctx context.Context) (Statistics, error) {
	total, err := d.info.TotalCount(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("counting cameras: %w", err)
	}
	online, err := d.status.CountOnline(ctx, d.session)
	if err != nil {
		return Statistics{}, fmt.Errorf("counting online cameras: %w", err)
	}
	byMfr, err := d.info.CountByManufacturer(ctx, d.session)
	if err != nil {
		return Statistics{}, fmt.Errorf("counting manufacturers: %w", err)
	}
	size, err := d.mgr.DatabaseSize(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		TotalCameras:   total,
		OnlineCameras:  online,
		ByManufacturer: byMfr,
		DatabaseBytes:  size,
		Queries:        d.mgr.Statistics(),
	}, nil
}
