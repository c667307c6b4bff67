package devicedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/devstore/internal/manager"
	"github.com/mesh-intelligence/devstore/internal/pool"
	"github.com/mesh-intelligence/devstore/pkg/types"
)

const cameraInfoTableName = "camera_info"

// cameraInfoColumns is the select list shared by every read query; scan
// order must match scanCameraInfo.
const cameraInfoColumns = "id, name, version, connection_type, serial_number, manufacturer, created_at, updated_at"

// CameraInfoTable is the handler for the camera base records.
type CameraInfoTable struct {
	mgr    *manager.Manager
	logger *zap.Logger
}

// NewCameraInfoTable builds the handler against the manager.
func NewCameraInfoTable(mgr *manager.Manager, logger *zap.Logger) *CameraInfoTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CameraInfoTable{
		mgr:    mgr,
		logger: logger.With(zap.String("table", cameraInfoTableName)),
	}
}

// TableName implements types.TableOps.
func (t *CameraInfoTable) TableName() string { return cameraInfoTableName }

// TableType implements types.TableOps.
func (t *CameraInfoTable) TableType() types.TableType { return types.TableCameraInfo }

// CreateTable creates the table and its indexes. The serial number carries a
// unique index; a duplicate insert surfaces as ErrDuplicate.
func (t *CameraInfoTable) CreateTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS camera_info (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			connection_type TEXT NOT NULL DEFAULT '',
			serial_number TEXT NOT NULL,
			manufacturer TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_camera_info_serial ON camera_info(serial_number)`,
		`CREATE INDEX IF NOT EXISTS idx_camera_info_manufacturer ON camera_info(manufacturer)`,
		`CREATE INDEX IF NOT EXISTS idx_camera_info_name ON camera_info(name)`,
	}
	for _, stmt := range stmts {
		if err := t.mgr.ExecWithStats(ctx, nil, stmt); err != nil {
			return fmt.Errorf("creating %s: %w", cameraInfoTableName, err)
		}
	}
	return nil
}

// DropTable implements types.TableOps.
func (t *CameraInfoTable) DropTable(ctx context.Context) error {
	return t.mgr.ExecWithStats(ctx, nil, "DROP TABLE IF EXISTS camera_info")
}

// TruncateTable implements types.TableOps.
func (t *CameraInfoTable) TruncateTable(ctx context.Context) error {
	return t.mgr.ExecWithStats(ctx, nil, "DELETE FROM camera_info")
}

// TableExists implements types.TableOps.
func (t *CameraInfoTable) TableExists(ctx context.Context) (bool, error) {
	return t.mgr.TableExists(ctx, cameraInfoTableName)
}

// TotalCount implements types.TableOps.
func (t *CameraInfoTable) TotalCount(ctx context.Context) (int64, error) {
	var n int64
	err := t.query(ctx, nil, func(q manager.Querier) error {
		return q.QueryRow(ctx, "SELECT COUNT(*) FROM camera_info").Scan(&n)
	})
	return n, err
}

// Insert stores a new camera and returns its assigned id. A serial number
// already present returns ErrDuplicate.
func (t *CameraInfoTable) Insert(ctx context.Context, s *pool.Session, cam *types.CameraInfo) (int64, error) {
	if err := cam.Validate(); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	cam.CreatedAt = now
	cam.UpdatedAt = now

	var id int64
	err := t.query(ctx, s, func(q manager.Querier) error {
		res, err := q.Exec(ctx,
			`INSERT INTO camera_info (name, version, connection_type, serial_number, manufacturer, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cam.Name, cam.Version, cam.ConnectionType, cam.SerialNumber, cam.Manufacturer, now, now)
		if err != nil {
			return mapConstraint(err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("inserting camera: %w", err)
	}
	cam.ID = id
	t.logger.Debug("camera inserted", zap.Int64("id", id), zap.String("serial", cam.SerialNumber))
	return id, nil
}

// insertTx is the transactional form used by batch import; it runs on the
// caller's querier so the insert joins an open transaction.
func (t *CameraInfoTable) insertTx(ctx context.Context, q manager.Querier, cam *types.CameraInfo) error {
	if err := cam.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := q.Exec(ctx,
		`INSERT INTO camera_info (name, version, connection_type, serial_number, manufacturer, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cam.Name, cam.Version, cam.ConnectionType, cam.SerialNumber, cam.Manufacturer, now, now)
	if err != nil {
		return mapConstraint(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	cam.ID = id
	cam.CreatedAt = now
	cam.UpdatedAt = now
	return nil
}

// Update rewrites a camera record. Updating a missing id returns
// ErrNotFound.
func (t *CameraInfoTable) Update(ctx context.Context, s *pool.Session, cam types.CameraInfo) error {
	if err := cam.Validate(); err != nil {
		return err
	}
	if cam.ID <= 0 {
		return types.ErrInvalidData
	}
	return t.query(ctx, s, func(q manager.Querier) error {
		res, err := q.Exec(ctx,
			`UPDATE camera_info SET name = ?, version = ?, connection_type = ?, serial_number = ?, manufacturer = ?, updated_at = ?
			 WHERE id = ?`,
			cam.Name, cam.Version, cam.ConnectionType, cam.SerialNumber, cam.Manufacturer, time.Now().UTC(), cam.ID)
		if err != nil {
			return mapConstraint(err)
		}
		return requireRow(res)
	})
}

// Delete removes a camera by id. Deleting a missing id returns ErrNotFound.
func (t *CameraInfoTable) Delete(ctx context.Context, s *pool.Session, id int64) error {
	return t.query(ctx, s, func(q manager.Querier) error {
		res, err := q.Exec(ctx, "DELETE FROM camera_info WHERE id = ?", id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// GetByID fetches one camera by id.
func (t *CameraInfoTable) GetByID(ctx context.Context, s *pool.Session, id int64) (types.CameraInfo, error) {
	var cam types.CameraInfo
	err := t.query(ctx, s, func(q manager.Querier) error {
		row := q.QueryRow(ctx, "SELECT "+cameraInfoColumns+" FROM camera_info WHERE id = ?", id)
		return scanCameraInfo(row, &cam)
	})
	return cam, err
}

// GetBySerial fetches one camera by its unique serial number.
func (t *CameraInfoTable) GetBySerial(ctx context.Context, s *pool.Session, serial string) (types.CameraInfo, error) {
	var cam types.CameraInfo
	err := t.query(ctx, s, func(q manager.Querier) error {
		row := q.QueryRow(ctx, "SELECT "+cameraInfoColumns+" FROM camera_info WHERE serial_number = ?", serial)
		return scanCameraInfo(row, &cam)
	})
	return cam, err
}

// List returns every camera ordered by id.
func (t *CameraInfoTable) List(ctx context.Context, s *pool.Session) ([]types.CameraInfo, error) {
	var cams []types.CameraInfo
	err := t.query(ctx, s, func(q manager.Querier) error {
		rows, err := q.Query(ctx, "SELECT "+cameraInfoColumns+" FROM camera_info ORDER BY id")
		if err != nil {
			return err
		}
		defer rows.Close()
		cams, err = collectCameraInfos(rows)
		return err
	})
	return cams, err
}

// ListPaged returns one page of cameras plus the total count. The order-by
// column is validated against the table's columns; anything else falls back
// to id.
func (t *CameraInfoTable) ListPaged(ctx context.Context, s *pool.Session, page types.PageParams) (types.PageResult[types.CameraInfo], error) {
	if page.PageSize <= 0 {
		page.PageSize = 50
	}
	if page.PageIndex < 1 {
		page.PageIndex = 1
	}
	orderBy := page.OrderBy
	switch orderBy {
	case "name", "serial_number", "manufacturer", "created_at", "updated_at":
	default:
		orderBy = "id"
	}
	dir := "DESC"
	if page.Ascending {
		dir = "ASC"
	}

	result := types.PageResult[types.CameraInfo]{Page: page.PageIndex, PageSize: page.PageSize}
	err := t.query(ctx, s, func(q manager.Querier) error {
		var total int
		if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM camera_info").Scan(&total); err != nil {
			return err
		}
		result.TotalCount = total
		result.TotalPages = (total + page.PageSize - 1) / page.PageSize

		rows, err := q.Query(ctx,
			fmt.Sprintf("SELECT %s FROM camera_info ORDER BY %s %s LIMIT ? OFFSET ?", cameraInfoColumns, orderBy, dir),
			page.PageSize, page.Offset())
		if err != nil {
			return err
		}
		defer rows.Close()
		result.Items, err = collectCameraInfos(rows)
		return err
	})
	return result, err
}

// Search returns cameras whose name, serial number, or manufacturer contains
// the term, case-insensitively.
func (t *CameraInfoTable) Search(ctx context.Context, s *pool.Session, term string) ([]types.CameraInfo, error) {
	pattern := "%" + escapeLike(term) + "%"
	var cams []types.CameraInfo
	err := t.query(ctx, s, func(q manager.Querier) error {
		rows, err := q.Query(ctx,
			`SELECT `+cameraInfoColumns+` FROM camera_info
			 WHERE name LIKE ? ESCAPE '\' OR serial_number LIKE ? ESCAPE '\' OR manufacturer LIKE ? ESCAPE '\'
			 ORDER BY name`,
			pattern, pattern, pattern)
		if err != nil {
			return err
		}
		defer rows.Close()
		cams, err = collectCameraInfos(rows)
		return err
	})
	return cams, err
}

// CountByManufacturer returns the number of cameras per manufacturer.
func (t *CameraInfoTable) CountByManufacturer(ctx context.Context, s *pool.Session) (map[string]int64, error) {
	counts := make(map[string]int64)
	err := t.query(ctx, s, func(q manager.Querier) error {
		rows, err := q.Query(ctx,
			"SELECT manufacturer, COUNT(*) FROM camera_info GROUP BY manufacturer")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m string
			var n int64
			if err := rows.Scan(&m, &n); err != nil {
				return err
			}
			counts[m] = n
		}
		return rows.Err()
	})
	return counts, err
}

// BatchImport inserts cameras atomically: either every record lands or none
// does. The first failing record aborts and rolls back the whole batch.
func (t *CameraInfoTable) BatchImport(ctx context.Context, s *pool.Session, cams []types.CameraInfo) error {
	if len(cams) == 0 {
		return nil
	}
	start := time.Now()
	err := t.mgr.ExecuteInTransaction(ctx, s, func(q manager.Querier) error {
		for i := range cams {
			if err := t.insertTx(ctx, q, &cams[i]); err != nil {
				return fmt.Errorf("record %d (%s): %w", i, cams[i].SerialNumber, err)
			}
		}
		return nil
	})
	t.mgr.RecordQuery(err == nil, time.Since(start))
	if err != nil {
		t.logger.Warn("batch import rolled back", zap.Int("records", len(cams)), zap.Error(err))
		return fmt.Errorf("importing cameras: %w", err)
	}
	t.logger.Info("batch import committed", zap.Int("records", len(cams)))
	return nil
}

// query runs fn through the manager's connection routing and folds the
// timing into the statistics.
func (t *CameraInfoTable) query(ctx context.Context, s *pool.Session, fn func(q manager.Querier) error) error {
	start := time.Now()
	err := t.mgr.WithConn(ctx, s, fn)
	t.mgr.RecordQuery(err == nil, time.Since(start))
	return err
}

func scanCameraInfo(row *sql.Row, cam *types.CameraInfo) error {
	err := row.Scan(&cam.ID, &cam.Name, &cam.Version, &cam.ConnectionType,
		&cam.SerialNumber, &cam.Manufacturer, &cam.CreatedAt, &cam.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	return err
}

func collectCameraInfos(rows *sql.Rows) ([]types.CameraInfo, error) {
	var cams []types.CameraInfo
	for rows.Next() {
		var cam types.CameraInfo
		if err := rows.Scan(&cam.ID, &cam.Name, &cam.Version, &cam.ConnectionType,
			&cam.SerialNumber, &cam.Manufacturer, &cam.CreatedAt, &cam.UpdatedAt); err != nil {
			return nil, err
		}
		cams = append(cams, cam)
	}
	return cams, rows.Err()
}

// requireRow maps a zero-row write to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// mapConstraint maps an engine uniqueness violation to ErrDuplicate.
func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", types.ErrDuplicate, err)
	}
	return err
}

// escapeLike escapes LIKE wildcards in a user-supplied search term.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}
