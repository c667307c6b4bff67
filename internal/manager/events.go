package manager

import (
	"time"

	"github.com/mesh-intelligence/devstore/pkg/types"
)

// eventBuffer bounds the dispatch queue. Events past the buffer are dropped;
// notification must never block database work.
const eventBuffer = 64

// startEventDispatch launches the dispatcher goroutine that forwards queued
// events to the sink. With no sink configured nothing is started and emit is
// a no-op.
func (m *Manager) startEventDispatch() {
	m.evMu.Lock()
	defer m.evMu.Unlock()

	if m.sink == nil || m.events != nil {
		return
	}
	m.events = make(chan types.Event, eventBuffer)
	m.eventsDone = make(chan struct{})

	events, done := m.events, m.eventsDone
	go func() {
		defer close(done)
		for ev := range events {
			m.sink(ev)
		}
	}()
}

// stopEventDispatch drains and stops the dispatcher. Taking the write lock
// waits out any in-flight emit, so the channel is never closed under a send.
func (m *Manager) stopEventDispatch() {
	m.evMu.Lock()
	events, done := m.events, m.eventsDone
	m.events = nil
	m.eventsDone = nil
	m.evMu.Unlock()

	if events == nil {
		return
	}
	close(events)
	<-done
}

// emit queues an event for the sink, dropping it if the queue is full.
func (m *Manager) emit(kind types.EventKind, success bool, message string) {
	m.evMu.RLock()
	defer m.evMu.RUnlock()

	if m.events == nil {
		return
	}
	ev := types.Event{
		Kind:     kind,
		Database: m.cfg.Name,
		Success:  success,
		Message:  message,
		At:       time.Now(),
	}
	select {
	case m.events <- ev:
	default:
	}
}
