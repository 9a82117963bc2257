package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Setting keys used by the engine.
const (
	// SettingLastSync is the incremental pull cursor (RFC3339).
	SettingLastSync = "lastSync"
	// SettingActiveUser is the owner id pull queries are scoped to.
	SettingActiveUser = "activeUser"
	// SettingSummaryRep remembers which day-summary remote representation
	// was last usable ("aggregate" or "legacy").
	SettingSummaryRep = "summaryRep"
)

// GetSetting reads a settings value. Returns ("", nil) for a missing key.
func (st *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := st.conn.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting writes a settings value, replacing any existing one.
func (st *Store) SetSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	if _, err := st.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// Settings returns every stored key/value pair.
func (st *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := st.conn.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// DeleteSetting removes a settings key. Missing keys are a no-op.
func (st *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := st.conn.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}
