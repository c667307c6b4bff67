// Package pool hands out dedicated SQLite connections such that no
// connection is ever used by two sessions at once, while bounding total open
// connections and supporting one pinned transaction per session.
//
// SQLite connection handles must not be shared across concurrent users, so
// idle connections are bucketed per session rather than in one global queue:
// a connection acquired through session A is only ever reissued to session A.
// A session is the explicit stand-in for a worker's thread identity; its
// token is monotonically unique and never reused, so a retired worker can
// never inherit another worker's pool state. Connections left idle by a
// closed session are closed during reaping, not leaked.
package pool
