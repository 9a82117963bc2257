package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/offlinehq/driftsync/internal/record"
)

// EnqueueAction appends a sync action to the durable queue. Used by
// collaborators for mutations Put/DeleteRecord can't express (custom ops);
// the common paths enqueue inside their own transaction.
func (st *Store) EnqueueAction(ctx context.Context, action *record.Action) error {
	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := enqueueActionTx(ctx, tx, action); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return nil
}

// enqueueActionTx inserts an action inside an open transaction.
func enqueueActionTx(ctx context.Context, tx *sql.Tx, action *record.Action) error {
	if err := action.Validate(); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	query := `
	INSERT INTO offline_actions (id, op, tbl, payload, enqueued_at, retry_count, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := tx.ExecContext(ctx, query,
		action.ID,
		string(action.Op),
		action.Table.String(),
		string(action.Payload),
		action.EnqueuedAt.UTC().Format(time.RFC3339),
		action.RetryCount,
		action.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue action %s: %w", action.ID, err)
	}
	return nil
}

// ListPendingActions returns every queued action in enqueue (FIFO) order.
func (st *Store) ListPendingActions(ctx context.Context) ([]*record.Action, error) {
	query := `
	SELECT id, op, tbl, payload, enqueued_at, retry_count, last_error
	FROM offline_actions
	ORDER BY seq ASC`

	rows, err := st.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending actions: %w", err)
	}
	defer rows.Close()

	var actions []*record.Action
	for rows.Next() {
		var a record.Action
		var op, tbl, enqueuedAt string
		var payload, lastError sql.NullString

		if err := rows.Scan(&a.ID, &op, &tbl, &payload, &enqueuedAt, &a.RetryCount, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}

		a.Op = record.Op(op)
		table, err := record.ParseTable(tbl)
		if err != nil {
			return nil, fmt.Errorf("queued action %s: %w", a.ID, err)
		}
		a.Table = table
		if payload.Valid {
			a.Payload = []byte(payload.String)
		}
		if t, err := time.Parse(time.RFC3339, enqueuedAt); err == nil {
			a.EnqueuedAt = t
		}
		a.LastError = lastError.String

		actions = append(actions, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return actions, nil
}

// RemoveAction deletes an action from the queue. Removing an action that is
// already gone is a no-op.
func (st *Store) RemoveAction(ctx context.Context, id string) error {
	if _, err := st.conn.ExecContext(ctx, "DELETE FROM offline_actions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove action %s: %w", id, err)
	}
	return nil
}

// BumpRetry increments an action's retry count and records the error that
// caused the attempt to fail.
func (st *Store) BumpRetry(ctx context.Context, id, errMsg string) error {
	query := `UPDATE offline_actions SET retry_count = retry_count + 1, last_error = ? WHERE id = ?`
	if _, err := st.conn.ExecContext(ctx, query, errMsg, id); err != nil {
		return fmt.Errorf("failed to bump retry for action %s: %w", id, err)
	}
	return nil
}

// CountPendingActions returns the queue depth.
func (st *Store) CountPendingActions(ctx context.Context) (int, error) {
	var count int
	if err := st.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM offline_actions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending actions: %w", err)
	}
	return count, nil
}
