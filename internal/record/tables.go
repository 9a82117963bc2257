package record

import "fmt"

// Table identifies a syncable local table. The set is closed: dispatch is an
// exhaustive switch, and unknown names fail fast instead of falling through
// to a default mapping.
type Table int

const (
	// TableHabits holds habit definitions.
	TableHabits Table = iota
	// TableHabitEntries holds per-day habit completion rows.
	TableHabitEntries
	// TableDaySummaries holds the denormalized per-day aggregate. It has a
	// legacy per-metric remote representation used when the aggregate
	// relation is absent (see LegacyRemoteName).
	TableDaySummaries
	// TableRoutines holds scheduled routine definitions.
	TableRoutines
)

// Tables returns all syncable tables in pull order.
func Tables() []Table {
	return []Table{TableHabits, TableHabitEntries, TableDaySummaries, TableRoutines}
}

// String returns the local table name.
func (t Table) String() string {
	switch t {
	case TableHabits:
		return "habits"
	case TableHabitEntries:
		return "habit_entries"
	case TableDaySummaries:
		return "day_summaries"
	case TableRoutines:
		return "routines"
	default:
		return fmt.Sprintf("table(%d)", int(t))
	}
}

// ParseTable maps a local table name back to its Table value.
func ParseTable(name string) (Table, error) {
	switch name {
	case "habits":
		return TableHabits, nil
	case "habit_entries":
		return TableHabitEntries, nil
	case "day_summaries":
		return TableDaySummaries, nil
	case "routines":
		return TableRoutines, nil
	default:
		return 0, fmt.Errorf("unknown table %q", name)
	}
}

// TableSyncConfig maps a local table to its remote representation.
type TableSyncConfig struct {
	// LocalName is the table name used by the local store.
	LocalName string

	// RemoteName is the relation name on the remote system.
	RemoteName string

	// LegacyRemoteName is a secondary remote representation to fall back to
	// when RemoteName does not exist on the deployment (schema drift).
	// Empty for tables with a single representation.
	LegacyRemoteName string

	// PrimaryKey is the primary-key column, stable across local and remote.
	PrimaryKey string

	// OwnerKey is the column scoping rows to a single user.
	OwnerKey string

	// ConflictKey is the column set the remote uses to resolve upsert
	// conflicts. Empty means the primary key. Tables whose real uniqueness
	// constraint is a business composite (one row per owner per day) set
	// this so repeated writes merge instead of duplicating rows.
	ConflictKey []string

	// StaticFilters are fixed equality predicates applied to every remote
	// query on this table, e.g. a discriminator column.
	StaticFilters map[string]string
}

// Config returns the sync mapping for the table. The switch is exhaustive
// over the closed Table set; values outside it panic, which indicates a
// programming error rather than bad input.
func (t Table) Config() TableSyncConfig {
	switch t {
	case TableHabits:
		return TableSyncConfig{
			LocalName:  "habits",
			RemoteName: "habits",
			PrimaryKey: "id",
			OwnerKey:   "user_id",
		}
	case TableHabitEntries:
		return TableSyncConfig{
			LocalName:   "habit_entries",
			RemoteName:  "habit_entries",
			PrimaryKey:  "id",
			OwnerKey:    "user_id",
			ConflictKey: []string{"user_id", "habit_id", "date"},
		}
	case TableDaySummaries:
		return TableSyncConfig{
			LocalName:        "day_summaries",
			RemoteName:       "day_summaries",
			LegacyRemoteName: "summary_metrics",
			PrimaryKey:       "id",
			OwnerKey:         "user_id",
			ConflictKey:      []string{"user_id", "date"},
		}
	case TableRoutines:
		return TableSyncConfig{
			LocalName:     "routines",
			RemoteName:    "routines",
			PrimaryKey:    "id",
			OwnerKey:      "user_id",
			StaticFilters: map[string]string{"archived": "false"},
		}
	default:
		panic(fmt.Sprintf("no sync config for %s", t))
	}
}

// UpsertKey returns the conflict key, defaulting to the primary key.
func (c TableSyncConfig) UpsertKey() []string {
	if len(c.ConflictKey) > 0 {
		return c.ConflictKey
	}
	return []string{c.PrimaryKey}
}
