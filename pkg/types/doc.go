// Package types defines the database Config, the TableOps contract, rolling
// statistics, lifecycle events, device entities, and the standard errors
// shared by the devstore storage layer.
package types
