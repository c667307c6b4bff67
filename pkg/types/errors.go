package types

import "errors"

// Config validation errors.
var (
	ErrNameEmpty           = errors.New("database name must not be empty")
	ErrPathEmpty           = errors.New("database file path must not be empty")
	ErrMaxConnectionsRange = errors.New("max connections must be between 1 and 100")
	ErrBusyTimeoutTooShort = errors.New("busy timeout must be at least 1000ms")
)

// Pool errors.
var (
	ErrPoolExhausted = errors.New("connection pool exhausted")
	ErrPoolClosed    = errors.New("connection pool is closed")
	ErrSessionClosed = errors.New("pool session is closed")
	ErrNoTransaction = errors.New("no active transaction for this session")
)

// Manager lifecycle errors.
var (
	ErrNotOpen            = errors.New("database is not open")
	ErrAlreadyOpen        = errors.New("database is already open")
	ErrConnectionsInUse   = errors.New("connections are still in use")
	ErrBackupFileMissing  = errors.New("backup file does not exist")
	ErrTableNotRegistered = errors.New("table is not registered")
)

// Table operation errors.
var (
	ErrNotFound    = errors.New("record not found")
	ErrInvalidData = errors.New("invalid record data")
	ErrDuplicate   = errors.New("record already exists")
)
