package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/offlinehq/driftsync/internal/record"
)

// setupStore opens a store backed by a temporary database.
func setupStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "drift.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// testRecord builds a habit entry owned by user-1.
func testRecord(id string) *record.Record {
	return &record.Record{
		ID:        id,
		Owner:     "user-1",
		Date:      "2026-08-30",
		UpdatedAt: time.Now().UTC(),
		Fields:    map[string]any{"habit_id": "h-1", "count": float64(2)},
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	version, err := st.Version(ctx)
	if err != nil {
		t.Fatalf("Version() failed: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("version = %d, want %d", version, SchemaVersion)
	}

	tables := []string{"records_habits", "records_habit_entries", "records_day_summaries", "records_routines", "offline_actions", "settings"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := st.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drift.db")

	st, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if err := st.Put(context.Background(), record.TableHabits, testRecord("h-1"), false); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Reopening runs migrate against an already-current store; existing data
	// must survive.
	st2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer st2.Close()

	count, err := st2.CountRecords(context.Background(), record.TableHabits)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d after re-migrate, want 1", count)
	}
}

func TestPutMarkForSyncEnqueuesAtomically(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	rec := testRecord("e-1")
	if err := st.Put(ctx, record.TableHabitEntries, rec, true); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := st.Get(ctx, record.TableHabitEntries, "e-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.NeedsSync {
		t.Error("needs_sync = false, want true")
	}
	if got.SyncStatus != record.StatePending {
		t.Errorf("sync_status = %q, want %q", got.SyncStatus, record.StatePending)
	}

	actions, err := st.ListPendingActions(ctx)
	if err != nil {
		t.Fatalf("ListPendingActions() failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("queue depth = %d, want 1", len(actions))
	}
	if actions[0].Op != record.OpUpsert {
		t.Errorf("op = %q, want %q", actions[0].Op, record.OpUpsert)
	}

	// The queued payload must not carry sync metadata.
	row, err := actions[0].Row()
	if err != nil {
		t.Fatalf("Row() failed: %v", err)
	}
	for _, forbidden := range []string{"needs_sync", "sync_status", "last_synced_at"} {
		if _, ok := row[forbidden]; ok {
			t.Errorf("queued payload contains %q", forbidden)
		}
	}
}

func TestPutWithoutMarkForSync(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, record.TableHabits, testRecord("h-1"), false); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	count, err := st.CountPendingActions(ctx)
	if err != nil {
		t.Fatalf("CountPendingActions() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("queue depth = %d, want 0", count)
	}

	got, err := st.Get(ctx, record.TableHabits, "h-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.NeedsSync {
		t.Error("needs_sync = true, want false")
	}
}

func TestMarkSynced(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, record.TableHabitEntries, testRecord("e-1"), true); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if err := st.MarkSynced(ctx, record.TableHabitEntries, "e-1"); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	got, err := st.Get(ctx, record.TableHabitEntries, "e-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.NeedsSync {
		t.Error("needs_sync = true after MarkSynced")
	}
	if got.SyncStatus != record.StateSynced {
		t.Errorf("sync_status = %q, want %q", got.SyncStatus, record.StateSynced)
	}
	if got.LastSyncedAt == nil {
		t.Error("last_synced_at not stamped")
	}
}

func TestGetByOwnerAndDate(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	recs := []*record.Record{
		{ID: "e-1", Owner: "user-1", Date: "2026-08-29", UpdatedAt: time.Now(), Fields: map[string]any{}},
		{ID: "e-2", Owner: "user-1", Date: "2026-08-30", UpdatedAt: time.Now(), Fields: map[string]any{}},
		{ID: "e-3", Owner: "user-2", Date: "2026-08-30", UpdatedAt: time.Now(), Fields: map[string]any{}},
	}
	for _, rec := range recs {
		if err := st.Put(ctx, record.TableHabitEntries, rec, false); err != nil {
			t.Fatalf("Put(%s) failed: %v", rec.ID, err)
		}
	}

	byOwner, err := st.GetByOwner(ctx, record.TableHabitEntries, "user-1")
	if err != nil {
		t.Fatalf("GetByOwner() failed: %v", err)
	}
	if len(byOwner) != 2 {
		t.Errorf("GetByOwner() returned %d records, want 2", len(byOwner))
	}

	byDate, err := st.GetByDate(ctx, record.TableHabitEntries, "user-1", "2026-08-30")
	if err != nil {
		t.Fatalf("GetByDate() failed: %v", err)
	}
	if len(byDate) != 1 || byDate[0].ID != "e-2" {
		t.Errorf("GetByDate() = %v, want [e-2]", byDate)
	}
}

func TestDeleteRecordEnqueuesDelete(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, record.TableHabits, testRecord("h-1"), false); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if err := st.DeleteRecord(ctx, record.TableHabits, "h-1", true); err != nil {
		t.Fatalf("DeleteRecord() failed: %v", err)
	}

	if _, err := st.Get(ctx, record.TableHabits, "h-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Get() error = %v, want sql.ErrNoRows", err)
	}

	actions, err := st.ListPendingActions(ctx)
	if err != nil {
		t.Fatalf("ListPendingActions() failed: %v", err)
	}
	if len(actions) != 1 || actions[0].Op != record.OpDelete {
		t.Fatalf("queue = %v, want one delete action", actions)
	}
	row, err := actions[0].Row()
	if err != nil {
		t.Fatalf("Row() failed: %v", err)
	}
	if row["id"] != "h-1" {
		t.Errorf("delete payload id = %v, want h-1", row["id"])
	}
}

func TestSettings(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	// Missing key reads as empty, not an error.
	value, err := st.GetSetting(ctx, SettingLastSync)
	if err != nil {
		t.Fatalf("GetSetting() failed: %v", err)
	}
	if value != "" {
		t.Errorf("missing setting = %q, want empty", value)
	}

	if err := st.SetSetting(ctx, SettingLastSync, "2026-08-30T10:00:00Z"); err != nil {
		t.Fatalf("SetSetting() failed: %v", err)
	}
	if err := st.SetSetting(ctx, SettingLastSync, "2026-08-30T11:00:00Z"); err != nil {
		t.Fatalf("SetSetting() overwrite failed: %v", err)
	}

	value, err = st.GetSetting(ctx, SettingLastSync)
	if err != nil {
		t.Fatalf("GetSetting() failed: %v", err)
	}
	if value != "2026-08-30T11:00:00Z" {
		t.Errorf("setting = %q, want overwritten value", value)
	}
}

func TestClearAll(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, record.TableHabits, testRecord("h-1"), true); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := st.SetSetting(ctx, SettingActiveUser, "user-1"); err != nil {
		t.Fatalf("SetSetting() failed: %v", err)
	}

	if err := st.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() failed: %v", err)
	}

	count, err := st.CountRecords(ctx, record.TableHabits)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("records after clear = %d, want 0", count)
	}

	pending, err := st.CountPendingActions(ctx)
	if err != nil {
		t.Fatalf("CountPendingActions() failed: %v", err)
	}
	if pending != 0 {
		t.Errorf("actions after clear = %d, want 0", pending)
	}

	user, err := st.GetSetting(ctx, SettingActiveUser)
	if err != nil {
		t.Fatalf("GetSetting() failed: %v", err)
	}
	if user != "" {
		t.Errorf("settings after clear = %q, want empty", user)
	}
}
