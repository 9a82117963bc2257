package record

import (
	"testing"
)

func TestParseTable(t *testing.T) {
	for _, table := range Tables() {
		got, err := ParseTable(table.String())
		if err != nil {
			t.Errorf("ParseTable(%q) failed: %v", table.String(), err)
		}
		if got != table {
			t.Errorf("ParseTable(%q) = %v, want %v", table.String(), got, table)
		}
	}
}

func TestParseTableUnknown(t *testing.T) {
	// Unknown tables must fail fast, not default silently.
	if _, err := ParseTable("water_intake"); err == nil {
		t.Error("ParseTable(unknown) succeeded, want error")
	}
	if _, err := ParseTable(""); err == nil {
		t.Error("ParseTable(empty) succeeded, want error")
	}
}

func TestConfigExhaustive(t *testing.T) {
	for _, table := range Tables() {
		cfg := table.Config()
		if cfg.LocalName != table.String() {
			t.Errorf("%s: LocalName = %q, want %q", table, cfg.LocalName, table.String())
		}
		if cfg.RemoteName == "" {
			t.Errorf("%s: RemoteName is empty", table)
		}
		if cfg.PrimaryKey == "" {
			t.Errorf("%s: PrimaryKey is empty", table)
		}
		if cfg.OwnerKey == "" {
			t.Errorf("%s: OwnerKey is empty", table)
		}
	}
}

func TestUpsertKey(t *testing.T) {
	tests := []struct {
		table Table
		want  []string
	}{
		{TableHabits, []string{"id"}},
		{TableHabitEntries, []string{"user_id", "habit_id", "date"}},
		{TableDaySummaries, []string{"user_id", "date"}},
		{TableRoutines, []string{"id"}},
	}

	for _, tt := range tests {
		t.Run(tt.table.String(), func(t *testing.T) {
			got := tt.table.Config().UpsertKey()
			if len(got) != len(tt.want) {
				t.Fatalf("UpsertKey() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("UpsertKey()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDaySummariesFallbackRepresentation(t *testing.T) {
	cfg := TableDaySummaries.Config()
	if cfg.LegacyRemoteName == "" {
		t.Fatal("day_summaries must declare a legacy remote representation")
	}
	if cfg.LegacyRemoteName == cfg.RemoteName {
		t.Error("legacy representation must differ from the preferred one")
	}
}
