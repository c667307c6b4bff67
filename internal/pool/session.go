package pool

import "sync/atomic"

// Session is a pool membership token held by one worker. All acquire,
// release, and transaction calls go through the session that owns them; the
// pool never hands one worker's connection to another.
//
// A Session is not safe for concurrent use by multiple goroutines — it
// models a single thread of execution, exactly one transaction at a time.
type Session struct {
	id     uint64
	pool   *Pool
	closed atomic.Bool
}

// ID returns the session's unique token. Tokens are allocated from a
// monotonic counter and never reused.
func (s *Session) ID() uint64 {
	return s.id
}

// Close retires the session. Idle connections it owns are closed during the
// pool's next reap pass (triggered immediately here); an open transaction is
// rolled back. Close is idempotent.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.pool.reap()
}

// Closed reports whether the session has been retired.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
