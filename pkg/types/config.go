package types

import (
	"time"

	"github.com/google/uuid"
)

// Config describes one logical database instance. It is a plain value,
// immutable once handed to a manager; Validate is called before any
// connection is opened.
type Config struct {
	// Name is the logical database name (e.g. "device").
	Name string `json:"name" yaml:"name"`

	// FilePath is the filesystem path of the SQLite store. The parent
	// directory is created on initialize if it does not exist.
	FilePath string `json:"file_path" yaml:"file_path"`

	// ConnectionName uniquely identifies this instance's connections.
	// NewConfig fills it with a UUID-suffixed name.
	ConnectionName string `json:"connection_name" yaml:"connection_name"`

	// MaxConnections bounds the pool's total open connections [1,100].
	MaxConnections int `json:"max_connections" yaml:"max_connections"`

	// BusyTimeout is how long an engine call waits on a lock held by
	// another writer before failing.
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// EnableWAL turns on write-ahead journaling, allowing concurrent
	// readers during a writer transaction.
	EnableWAL bool `json:"enable_wal" yaml:"enable_wal"`

	// EnableForeignKeys turns on foreign key enforcement.
	EnableForeignKeys bool `json:"enable_foreign_keys" yaml:"enable_foreign_keys"`

	// InitStatements are run on the primary connection during initialize,
	// after pragmas and before table creation.
	InitStatements []string `json:"init_statements" yaml:"init_statements"`

	// HealthCheckInterval is the period of the automatic health check.
	// Zero disables the periodic check.
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`

	// CacheSizePages sets the page cache size applied at initialize.
	CacheSizePages int `json:"cache_size_pages" yaml:"cache_size_pages"`
}

// Defaults applied by NewConfig.
const (
	DefaultMaxConnections      = 10
	DefaultBusyTimeout         = 5 * time.Second
	DefaultHealthCheckInterval = 5 * time.Minute
	DefaultCacheSizePages      = 10000
)

// NewConfig returns a Config for the given logical name and file path with
// the standard defaults and a unique connection name.
func NewConfig(name, filePath string) Config {
	return Config{
		Name:                name,
		FilePath:            filePath,
		ConnectionName:      name + "_" + uuid.NewString(),
		MaxConnections:      DefaultMaxConnections,
		BusyTimeout:         DefaultBusyTimeout,
		EnableWAL:           true,
		EnableForeignKeys:   true,
		HealthCheckInterval: DefaultHealthCheckInterval,
		CacheSizePages:      DefaultCacheSizePages,
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.Name == "" {
		return ErrNameEmpty
	}
	if c.FilePath == "" {
		return ErrPathEmpty
	}
	if c.MaxConnections < 1 || c.MaxConnections > 100 {
		return ErrMaxConnectionsRange
	}
	if c.BusyTimeout < time.Second {
		return ErrBusyTimeoutTooShort
	}
	return nil
}
