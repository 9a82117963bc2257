// Package engine implements the sync orchestrator: the push/pull cycle that
// reconciles the local store with the remote row API.
//
// One engine instance owns the process-wide sync status and the retry
// backoff timer. Exactly one cycle may be in flight at a time; triggers that
// fire while a cycle is running are dropped, not queued — the next periodic,
// wake, or reconnect trigger retries naturally.
//
// A cycle drains the durable action queue in enqueue order first (push),
// then — only if every action succeeded — fetches remote rows changed since
// the last successful cursor and merges them into the store (pull). Local
// writes are optimistic and never rolled back on remote rejection; the retry
// ceiling and the failure callback are the only mechanisms surfacing
// unreconciled state.
package engine
