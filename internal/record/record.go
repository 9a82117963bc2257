package record

import (
	"fmt"
	"time"
)

// SyncState describes where a record sits in its reconciliation lifecycle.
type SyncState string

const (
	// StatePending means the record has a local change not yet pushed.
	StatePending SyncState = "pending"
	// StateSyncing means a push attempt for the record is in flight.
	StateSyncing SyncState = "syncing"
	// StateSynced means local and remote agree as of LastSyncedAt.
	StateSynced SyncState = "synced"
	// StateError means the last push attempt for the record failed.
	StateError SyncState = "error"
)

// Record is the envelope for any row synchronized by the engine.
//
// Domain fields live in Fields; ID, Owner, Date and UpdatedAt are the
// envelope columns every syncable table shares. The sync metadata fields
// (NeedsSync, SyncStatus, LastSyncedAt) are local bookkeeping only and are
// never transmitted — Payload strips them.
type Record struct {
	ID        string         `json:"id"`
	Owner     string         `json:"user_id,omitempty"`
	Date      string         `json:"date,omitempty"` // YYYY-MM-DD for date-keyed tables
	UpdatedAt time.Time      `json:"updated_at"`
	Fields    map[string]any `json:"fields,omitempty"`

	// Sync metadata (engine-owned, never sent to the remote system).
	NeedsSync    bool       `json:"-"`
	SyncStatus   SyncState  `json:"-"`
	LastSyncedAt *time.Time `json:"-"`
}

// Validate checks the envelope fields.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Payload returns the flat row sent to the remote system: envelope columns
// merged with the domain fields, sync metadata stripped.
func (r *Record) Payload(cfg TableSyncConfig) map[string]any {
	row := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		row[k] = v
	}
	row[cfg.PrimaryKey] = r.ID
	if r.Owner != "" {
		row[cfg.OwnerKey] = r.Owner
	}
	if r.Date != "" {
		row["date"] = r.Date
	}
	row["updated_at"] = r.UpdatedAt.UTC().Format(time.RFC3339)
	return row
}

// FromPayload builds a Record from a remote row. Envelope columns are lifted
// out of the row; everything else stays in Fields. Rows coming back from the
// remote are authoritative, so the record is marked synced.
func FromPayload(cfg TableSyncConfig, row map[string]any) (*Record, error) {
	rec := &Record{
		Fields:     make(map[string]any),
		NeedsSync:  false,
		SyncStatus: StateSynced,
	}

	for k, v := range row {
		switch k {
		case cfg.PrimaryKey:
			rec.ID, _ = v.(string)
		case cfg.OwnerKey:
			rec.Owner, _ = v.(string)
		case "date":
			rec.Date, _ = v.(string)
		case "updated_at":
			s, _ := v.(string)
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("invalid updated_at %q: %w", s, err)
			}
			rec.UpdatedAt = t
		default:
			rec.Fields[k] = v
		}
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remote row: %w", err)
	}
	return rec, nil
}
