package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/offlinehq/driftsync/internal/record"
)

// Put upserts a record by primary key, stamps updated_at, and sets the sync
// metadata. When markForSync is true the record is flagged pending and a
// corresponding upsert action (with sync metadata stripped) is enqueued in
// the same transaction — either both writes land or neither does.
func (st *Store) Put(ctx context.Context, table record.Table, rec *record.Record, markForSync bool) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	if markForSync {
		rec.NeedsSync = true
		rec.SyncStatus = record.StatePending
	} else {
		rec.NeedsSync = false
		rec.SyncStatus = record.StateSynced
	}

	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertRecordTx(ctx, tx, table, rec); err != nil {
		return err
	}

	if markForSync {
		action, err := record.NewAction(record.OpUpsert, table, rec.Payload(table.Config()))
		if err != nil {
			return fmt.Errorf("failed to build sync action: %w", err)
		}
		if err := enqueueActionTx(ctx, tx, action); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit put: %w", err)
	}
	return nil
}

// Merge writes a remote-authoritative record into the store without marking
// it for sync. Used by the pull phase and by push-response merges.
func (st *Store) Merge(ctx context.Context, table record.Table, rec *record.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	rec.NeedsSync = false
	rec.SyncStatus = record.StateSynced
	now := time.Now().UTC()
	rec.LastSyncedAt = &now

	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertRecordTx(ctx, tx, table, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge: %w", err)
	}
	return nil
}

// upsertRecordTx writes a record row inside an open transaction.
func upsertRecordTx(ctx context.Context, tx *sql.Tx, table record.Table, rec *record.Record) error {
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal record fields: %w", err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, owner, date, updated_at, payload, needs_sync, sync_status, last_synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner = excluded.owner,
		date = excluded.date,
		updated_at = excluded.updated_at,
		payload = excluded.payload,
		needs_sync = excluded.needs_sync,
		sync_status = excluded.sync_status,
		last_synced_at = excluded.last_synced_at
	`, recordsTable(table))

	_, err = tx.ExecContext(ctx, query,
		rec.ID,
		rec.Owner,
		rec.Date,
		rec.UpdatedAt.UTC().Format(time.RFC3339),
		string(payload),
		boolToInt(rec.NeedsSync),
		string(rec.SyncStatus),
		timeToNullString(rec.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s/%s: %w", table, rec.ID, err)
	}
	return nil
}

// Get retrieves a single record by primary key.
// Returns sql.ErrNoRows if the record is not found.
func (st *Store) Get(ctx context.Context, table record.Table, id string) (*record.Record, error) {
	query := fmt.Sprintf(selectColumns+" FROM %s WHERE id = ?", recordsTable(table))
	row := st.conn.QueryRowContext(ctx, query, id)
	return scanRecord(row)
}

// GetAll returns every record in a table. Read paths never mutate sync
// metadata.
func (st *Store) GetAll(ctx context.Context, table record.Table) ([]*record.Record, error) {
	query := fmt.Sprintf(selectColumns+" FROM %s ORDER BY updated_at ASC", recordsTable(table))
	return st.queryRecords(ctx, query)
}

// GetByOwner returns records scoped to a single owner.
func (st *Store) GetByOwner(ctx context.Context, table record.Table, owner string) ([]*record.Record, error) {
	query := fmt.Sprintf(selectColumns+" FROM %s WHERE owner = ? ORDER BY updated_at ASC", recordsTable(table))
	return st.queryRecords(ctx, query, owner)
}

// GetByDate returns records for an owner on a given date (YYYY-MM-DD).
func (st *Store) GetByDate(ctx context.Context, table record.Table, owner, date string) ([]*record.Record, error) {
	query := fmt.Sprintf(selectColumns+" FROM %s WHERE owner = ? AND date = ? ORDER BY updated_at ASC", recordsTable(table))
	return st.queryRecords(ctx, query, owner, date)
}

// GetPendingSync returns records flagged needs_sync, oldest first.
func (st *Store) GetPendingSync(ctx context.Context, table record.Table) ([]*record.Record, error) {
	query := fmt.Sprintf(selectColumns+" FROM %s WHERE needs_sync = 1 ORDER BY updated_at ASC", recordsTable(table))
	return st.queryRecords(ctx, query)
}

// MarkSynced clears the needs_sync flag, sets the status to synced, and
// stamps last_synced_at. Missing records are a no-op.
func (st *Store) MarkSynced(ctx context.Context, table record.Table, id string) error {
	query := fmt.Sprintf(`
	UPDATE %s SET needs_sync = 0, sync_status = ?, last_synced_at = ?
	WHERE id = ?`, recordsTable(table))

	_, err := st.conn.ExecContext(ctx, query,
		string(record.StateSynced),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s synced: %w", table, id, err)
	}
	return nil
}

// MarkSyncError records a failed push attempt on the record itself so read
// paths can surface it.
func (st *Store) MarkSyncError(ctx context.Context, table record.Table, id string) error {
	query := fmt.Sprintf("UPDATE %s SET sync_status = ? WHERE id = ?", recordsTable(table))
	if _, err := st.conn.ExecContext(ctx, query, string(record.StateError), id); err != nil {
		return fmt.Errorf("failed to mark %s/%s errored: %w", table, id, err)
	}
	return nil
}

// DeleteRecord removes a record locally. When markForSync is true a delete
// action carrying the primary key is enqueued in the same transaction.
func (st *Store) DeleteRecord(ctx context.Context, table record.Table, id string, markForSync bool) error {
	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", recordsTable(table))
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", table, id, err)
	}

	if markForSync {
		cfg := table.Config()
		action, err := record.NewAction(record.OpDelete, table, map[string]any{cfg.PrimaryKey: id})
		if err != nil {
			return fmt.Errorf("failed to build delete action: %w", err)
		}
		if err := enqueueActionTx(ctx, tx, action); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// CountRecords returns the number of rows in a record table.
func (st *Store) CountRecords(ctx context.Context, table record.Table) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", recordsTable(table))
	if err := st.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

const selectColumns = "SELECT id, owner, date, updated_at, payload, needs_sync, sync_status, last_synced_at"

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (st *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*record.Record, error) {
	rows, err := st.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var recs []*record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return recs, nil
}

func scanRecord(row rowScanner) (*record.Record, error) {
	var rec record.Record
	var owner, date sql.NullString
	var updatedAt, payload string
	var needsSync int
	var syncStatus string
	var lastSyncedAt sql.NullString

	err := row.Scan(&rec.ID, &owner, &date, &updatedAt, &payload, &needsSync, &syncStatus, &lastSyncedAt)
	if err != nil {
		return nil, err
	}

	rec.Owner = owner.String
	rec.Date = date.String

	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = t
	}

	if payload != "" && payload != "null" {
		if err := json.Unmarshal([]byte(payload), &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record fields: %w", err)
		}
	} else {
		rec.Fields = map[string]any{}
	}

	rec.NeedsSync = needsSync != 0
	rec.SyncStatus = record.SyncState(syncStatus)
	rec.LastSyncedAt = nullStringToTime(lastSyncedAt)

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
