package engine

import "time"

// Status is the process-wide observable sync state. It is a read-only
// projection for subscribers: only the engine mutates it, and every change
// is broadcast to all subscribers.
type Status struct {
	IsOnline           bool       `json:"is_online"`
	IsSyncing          bool       `json:"is_syncing"`
	PendingActionCount int        `json:"pending_action_count"`
	LastSyncedAt       *time.Time `json:"last_synced_at,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
}

// Status returns a snapshot of the current sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Subscribe registers a status listener. The returned channel receives a
// snapshot on every status change; slow consumers miss intermediate updates
// rather than blocking the engine. The cancel function releases the
// subscription.
func (e *Engine) Subscribe() (<-chan Status, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++

	ch := make(chan Status, 8)
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
}

// broadcastLocked fans the current status out to every subscriber.
// Callers must hold e.mu.
func (e *Engine) broadcastLocked() {
	for _, ch := range e.subs {
		select {
		case ch <- e.status:
		default:
			// Subscriber is behind; it will catch up on the next change.
		}
	}
}
