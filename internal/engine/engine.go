package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/offlinehq/driftsync/internal/record"
	"github.com/offlinehq/driftsync/internal/remote"
	"github.com/offlinehq/driftsync/internal/store"
)

// RemoteAPI is the row-level remote interface the engine pushes to and pulls
// from. *remote.Client implements it; tests substitute a fake.
type RemoteAPI interface {
	Select(ctx context.Context, table string, q remote.Query) ([]map[string]any, error)
	Insert(ctx context.Context, table string, row map[string]any) (map[string]any, error)
	Update(ctx context.Context, table, pk, id string, row map[string]any) (map[string]any, error)
	Upsert(ctx context.Context, table string, conflictKey []string, row map[string]any) (map[string]any, error)
	Delete(ctx context.Context, table, pk, id string) error
}

// FailureFunc observes a failed push attempt. The failure monitor registers
// itself here; the engine never depends on it directly.
type FailureFunc func(table, op string, err error, retryCount int)

// Config holds engine tuning knobs.
type Config struct {
	// BackoffBase is the first automatic-retry delay; each subsequent
	// retry doubles it (5s, 10s, 20s by default).
	BackoffBase time.Duration

	// BackoffSteps caps how many automatic retries are scheduled before
	// giving up and leaving recovery to the periodic/reconnect triggers.
	BackoffSteps int

	// MaxRetries is the per-action retry ceiling.
	MaxRetries int

	// OnFailure is invoked for every failed push attempt. Nil disables.
	OnFailure FailureFunc

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BackoffBase:  5 * time.Second,
		BackoffSteps: 3,
		MaxRetries:   record.MaxRetries,
		Logger:       log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine reconciles the local store with the remote system.
type Engine struct {
	store  *store.Store
	api    RemoteAPI
	config *Config

	mu      sync.Mutex
	status  Status
	subs    map[int]chan Status
	nextSub int
	closed  bool

	// Retry backoff state; at most one timer outstanding.
	backoffAttempts int
	backoffTimer    *time.Timer

	// Day-summary remote representation, selected once per cycle.
	summaryRep summaryRep
}

// New creates an engine. The initial status is recovered from the store's
// persisted settings and queue depth.
func New(st *store.Store, api RemoteAPI, config *Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if api == nil {
		return nil, fmt.Errorf("remote api cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	e := &Engine{
		store:  st,
		api:    api,
		config: config,
		subs:   make(map[int]chan Status),
	}

	ctx := context.Background()
	pending, err := st.CountPendingActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue depth: %w", err)
	}
	e.status.PendingActionCount = pending

	if cursor, err := st.GetSetting(ctx, store.SettingLastSync); err == nil && cursor != "" {
		if t, err := time.Parse(time.RFC3339, cursor); err == nil {
			e.status.LastSyncedAt = &t
		}
	}

	return e, nil
}

// Close releases the engine: cancels any pending backoff retry and drops all
// subscribers. Further SyncAll calls are no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.stopBackoffLocked()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

// SetOnline records a connectivity transition. Going offline cancels any
// scheduled backoff retry without attempting network calls.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.IsOnline == online {
		return
	}
	e.status.IsOnline = online
	if !online {
		e.stopBackoffLocked()
		e.backoffAttempts = 0
	}
	e.broadcastLocked()
}

// Online reports the current connectivity flag.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.IsOnline
}

// SetActiveUser binds pull queries to a single owner. An empty id unbinds,
// making pull a no-op.
func (e *Engine) SetActiveUser(ctx context.Context, id string) error {
	if id == "" {
		return e.store.DeleteSetting(ctx, store.SettingActiveUser)
	}
	return e.store.SetSetting(ctx, store.SettingActiveUser, id)
}

// ResetBackoff clears the automatic-retry state. The network monitor calls
// this on reconnect so the forced sync starts from a clean schedule.
func (e *Engine) ResetBackoff() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopBackoffLocked()
	e.backoffAttempts = 0
}

// SyncAll runs one push/pull cycle.
//
// The call is a no-op when offline and not forced, or when a cycle is
// already in flight — isSyncing is a non-reentrant guard, and a concurrent
// trigger returns immediately without remote I/O.
func (e *Engine) SyncAll(ctx context.Context, force bool) error {
	e.mu.Lock()
	if e.closed || e.status.IsSyncing || (!e.status.IsOnline && !force) {
		e.mu.Unlock()
		return nil
	}
	e.status.IsSyncing = true
	e.broadcastLocked()
	e.mu.Unlock()

	err := e.runCycle(ctx)

	pending, countErr := e.store.CountPendingActions(ctx)

	e.mu.Lock()
	e.status.IsSyncing = false
	if countErr == nil {
		e.status.PendingActionCount = pending
	}
	if err != nil {
		e.status.LastError = err.Error()
		if remote.IsTransient(err) {
			// No connectivity: the monitor re-triggers on reconnect, so no
			// backoff timer is scheduled.
			e.status.IsOnline = false
			e.stopBackoffLocked()
			e.backoffAttempts = 0
		} else {
			e.scheduleBackoffLocked()
		}
	} else {
		e.status.LastError = ""
		now := time.Now().UTC()
		e.status.LastSyncedAt = &now
		e.stopBackoffLocked()
		e.backoffAttempts = 0
	}
	e.broadcastLocked()
	e.mu.Unlock()

	return err
}

// runCycle performs the push phase and, if it fully succeeded, the pull
// phase.
func (e *Engine) runCycle(ctx context.Context) error {
	if err := e.loadSummaryRep(ctx); err != nil {
		return err
	}

	if err := e.pushAll(ctx); err != nil {
		return err
	}
	return e.pull(ctx)
}

// pushAll drains the action queue in enqueue order. Every action is
// attempted before the batch fails as a whole — a single bad action must not
// shadow the rest.
func (e *Engine) pushAll(ctx context.Context) error {
	actions, err := e.store.ListPendingActions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending actions: %w", err)
	}
	if len(actions) == 0 {
		return nil
	}

	e.config.Logger.Printf("Pushing %d pending actions", len(actions))

	var errs []error
	for _, action := range actions {
		dispatchErr := e.dispatch(ctx, action)
		if dispatchErr == nil {
			if err := e.store.RemoveAction(ctx, action.ID); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		if remote.IsTransient(dispatchErr) {
			// Connectivity is gone: stop the batch without consuming
			// retries; remaining actions stay queued untouched.
			errs = append(errs, dispatchErr)
			break
		}

		e.config.Logger.Printf("Push failed for action %s (%s %s): %v",
			action.ID, action.Op, action.Table, dispatchErr)

		retries := action.RetryCount + 1
		if e.config.OnFailure != nil {
			e.config.OnFailure(action.Table.String(), string(action.Op), dispatchErr, retries)
		}

		if retries >= e.config.MaxRetries {
			// Ceiling reached: drop the action so a permanently-failing
			// record can't block the queue, and leave the error on the
			// record itself.
			e.config.Logger.Printf("Dropping action %s after %d attempts", action.ID, retries)
			if err := e.store.RemoveAction(ctx, action.ID); err != nil {
				errs = append(errs, err)
			}
			e.markActionError(ctx, action)
		} else if err := e.store.BumpRetry(ctx, action.ID, dispatchErr.Error()); err != nil {
			errs = append(errs, err)
		}

		errs = append(errs, fmt.Errorf("%s %s: %w", action.Op, action.Table, dispatchErr))
	}

	return errors.Join(errs...)
}

// dispatch executes one action against the remote table named by its sync
// config.
func (e *Engine) dispatch(ctx context.Context, action *record.Action) error {
	cfg := action.Table.Config()

	row, err := action.Row()
	if err != nil {
		return err
	}

	switch action.Op {
	case record.OpCreate, record.OpUpsert:
		if action.Table == record.TableDaySummaries {
			return e.pushDaySummary(ctx, cfg, row)
		}
		written, err := e.api.Upsert(ctx, cfg.RemoteName, cfg.UpsertKey(), row)
		if err != nil {
			return err
		}
		return e.mergePushed(ctx, action.Table, cfg, row, written)

	case record.OpUpdate:
		id, _ := row[cfg.PrimaryKey].(string)
		if id == "" {
			return fmt.Errorf("update action %s has no primary key", action.ID)
		}
		written, err := e.api.Update(ctx, cfg.RemoteName, cfg.PrimaryKey, id, row)
		if remote.IsNotFound(err) {
			// The row was deleted remotely and is being recreated locally.
			written, err = e.api.Insert(ctx, cfg.RemoteName, row)
		}
		if err != nil {
			return err
		}
		return e.mergePushed(ctx, action.Table, cfg, row, written)

	case record.OpDelete:
		id, _ := row[cfg.PrimaryKey].(string)
		if id == "" {
			return fmt.Errorf("delete action %s has no primary key", action.ID)
		}
		// The client treats an absent target as success (idempotent delete).
		return e.api.Delete(ctx, cfg.RemoteName, cfg.PrimaryKey, id)

	default:
		return fmt.Errorf("unsupported action op %q", action.Op)
	}
}

// mergePushed writes the remote-returned row back into the store and clears
// its sync flag. When a conflict-key upsert merged into a row with a
// different primary key, the stale local row is removed so one remote row
// maps to one local row.
func (e *Engine) mergePushed(ctx context.Context, table record.Table, cfg record.TableSyncConfig, pushed, written map[string]any) error {
	rec, err := record.FromPayload(cfg, written)
	if err != nil {
		return fmt.Errorf("remote returned unusable row: %w", err)
	}

	if err := e.store.Merge(ctx, table, rec); err != nil {
		return err
	}

	if pushedID, _ := pushed[cfg.PrimaryKey].(string); pushedID != "" && pushedID != rec.ID {
		if err := e.store.DeleteRecord(ctx, table, pushedID, false); err != nil {
			return err
		}
	}
	return nil
}

// markActionError flags the underlying record as errored, if it still
// exists. Best effort only.
func (e *Engine) markActionError(ctx context.Context, action *record.Action) {
	row, err := action.Row()
	if err != nil {
		return
	}
	cfg := action.Table.Config()
	if id, _ := row[cfg.PrimaryKey].(string); id != "" {
		if err := e.store.MarkSyncError(ctx, action.Table, id); err != nil {
			e.config.Logger.Printf("Warning: failed to flag record %s/%s: %v", action.Table, id, err)
		}
	}
}

// pull fetches remote rows changed since the last successful cursor and
// merges them into the store. Pull is a no-op with no bound owner. A missing
// optional relation is skipped softly; any other failure aborts the pull but
// leaves already-pushed actions committed.
func (e *Engine) pull(ctx context.Context) error {
	owner, err := e.store.GetSetting(ctx, store.SettingActiveUser)
	if err != nil {
		return err
	}
	if owner == "" {
		e.config.Logger.Printf("Pull skipped: no active user bound")
		return nil
	}

	var cursor time.Time
	if raw, err := e.store.GetSetting(ctx, store.SettingLastSync); err != nil {
		return err
	} else if raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			cursor = t
		}
	}

	// The next cursor is captured before any query so rows written during
	// the pull land inside the next window instead of being lost.
	pullStart := time.Now().UTC()

	for _, table := range record.Tables() {
		if table == record.TableDaySummaries {
			if err := e.pullDaySummaries(ctx, owner, cursor); err != nil {
				return err
			}
			continue
		}

		cfg := table.Config()
		rows, err := e.api.Select(ctx, cfg.RemoteName, remote.Query{
			OwnerKey:     cfg.OwnerKey,
			Owner:        owner,
			Filters:      cfg.StaticFilters,
			UpdatedSince: cursor,
		})
		if remote.IsMissingRelation(err) {
			e.config.Logger.Printf("Pull: relation %s missing, skipping", cfg.RemoteName)
			continue
		}
		if err != nil {
			return fmt.Errorf("pull %s: %w", table, err)
		}

		for _, row := range rows {
			rec, err := record.FromPayload(cfg, row)
			if err != nil {
				return fmt.Errorf("pull %s: %w", table, err)
			}
			if err := e.store.Merge(ctx, table, rec); err != nil {
				return fmt.Errorf("pull %s: %w", table, err)
			}
		}
	}

	// Zero rows still advance the cursor: the window was inspected.
	if err := e.store.SetSetting(ctx, store.SettingLastSync, pullStart.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to persist sync cursor: %w", err)
	}
	return nil
}

// scheduleBackoffLocked arms the automatic-retry timer after a failed cycle.
// At most one timer may be outstanding; past BackoffSteps the periodic and
// reconnect triggers take over. Callers must hold e.mu.
func (e *Engine) scheduleBackoffLocked() {
	if e.backoffTimer != nil {
		return
	}
	if e.backoffAttempts >= e.config.BackoffSteps {
		return
	}

	delay := e.config.BackoffBase << e.backoffAttempts
	e.backoffAttempts++
	e.config.Logger.Printf("Scheduling sync retry in %v (attempt %d)", delay, e.backoffAttempts)

	e.backoffTimer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		e.backoffTimer = nil
		online := e.status.IsOnline
		closed := e.closed
		e.mu.Unlock()

		if closed || !online {
			return
		}
		_ = e.SyncAll(context.Background(), false)
	})
}

// stopBackoffLocked cancels an outstanding retry timer. Callers must hold
// e.mu.
func (e *Engine) stopBackoffLocked() {
	if e.backoffTimer != nil {
		e.backoffTimer.Stop()
		e.backoffTimer = nil
	}
}
