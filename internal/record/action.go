package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Op is the kind of remote mutation a sync action carries.
type Op string

const (
	// OpCreate inserts a new remote row (dispatched as an upsert so that
	// replays and conflict-key collisions merge instead of duplicating).
	OpCreate Op = "create"
	// OpUpdate updates an existing remote row by primary key.
	OpUpdate Op = "update"
	// OpDelete removes a remote row by primary key.
	OpDelete Op = "delete"
	// OpUpsert inserts-or-merges a remote row by the table's conflict key.
	OpUpsert Op = "upsert"
)

// Valid reports whether the op is one of the four supported mutations.
func (op Op) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpUpsert:
		return true
	}
	return false
}

// MaxRetries is the retry ceiling for a sync action. An action that fails
// this many times is dropped from the queue and surfaced as a failure rather
// than retried forever.
const MaxRetries = 3

// Action is a durable, ordered mutation intent destined for the remote
// system. Actions are the only channel through which local mutations reach
// the remote store — the engine never infers intent from store diffs.
type Action struct {
	ID         string          `json:"id"`
	Op         Op              `json:"op"`
	Table      Table           `json:"table"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// NewAction builds an action for a record mutation. The payload is the
// record's remote row (sync metadata already stripped by Payload).
func NewAction(op Op, table Table, row map[string]any) (*Action, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("invalid action op %q", op)
	}

	var payload json.RawMessage
	if row != nil {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal action payload: %w", err)
		}
		payload = data
	}

	return &Action{
		ID:         uuid.NewString(),
		Op:         op,
		Table:      table,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Row decodes the action payload back into a remote row.
func (a *Action) Row() (map[string]any, error) {
	if len(a.Payload) == 0 {
		return nil, fmt.Errorf("action %s has no payload", a.ID)
	}
	var row map[string]any
	if err := json.Unmarshal(a.Payload, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action payload: %w", err)
	}
	return row, nil
}

// Validate checks the action fields.
func (a *Action) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !a.Op.Valid() {
		return fmt.Errorf("invalid op %q", a.Op)
	}
	if len(a.Payload) == 0 {
		// Delete actions still carry {pk: id} so the target survives a
		// process restart along with the rest of the queue row.
		return fmt.Errorf("op %s requires a payload", a.Op)
	}
	if a.EnqueuedAt.IsZero() {
		return fmt.Errorf("enqueued_at is required")
	}
	return nil
}
