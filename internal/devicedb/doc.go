// Package devicedb implements the camera device store on top of the database
// manager: one table handler per table (base info, acquisition config,
// runtime status) and a DeviceDB facade that binds them together with a pool
// session for the calling worker.
package devicedb
