package types

import "context"

// TableType identifies a registered table within one logical database.
type TableType string

// Device database tables.
const (
	TableCameraInfo   TableType = "camera_info"
	TableCameraConfig TableType = "camera_config"
	TableCameraStatus TableType = "camera_status"
)

// TableOps is the contract every table handler implements. The manager calls
// these during initialize, close, and maintenance; a failure in one handler
// is counted and logged but does not abort the batch.
type TableOps interface {
	// CreateTable creates the table and its indexes if absent.
	CreateTable(ctx context.Context) error

	// DropTable removes the table.
	DropTable(ctx context.Context) error

	// TruncateTable deletes all rows but keeps the schema.
	TruncateTable(ctx context.Context) error

	// TableExists reports whether the table is present in the store.
	TableExists(ctx context.Context) (bool, error)

	// TotalCount returns the number of rows.
	TotalCount(ctx context.Context) (int64, error)

	// TableName returns the SQL table name.
	TableName() string

	// TableType returns the registry key for this handler.
	TableType() TableType
}
