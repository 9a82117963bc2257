package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestClient spins up a stub remote and returns a client pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-key", srv.Client())
}

func TestSelectQueryParams(t *testing.T) {
	var gotQuery map[string][]string
	var gotAuth string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "h-1"}})
	})

	cursor := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rows, err := client.Select(context.Background(), "routines", Query{
		OwnerKey:     "user_id",
		Owner:        "user-1",
		Filters:      map[string]string{"archived": "false"},
		UpdatedSince: cursor,
	})
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}

	if got := gotQuery["user_id"]; len(got) != 1 || got[0] != "eq.user-1" {
		t.Errorf("user_id filter = %v, want [eq.user-1]", got)
	}
	if got := gotQuery["archived"]; len(got) != 1 || got[0] != "eq.false" {
		t.Errorf("archived filter = %v, want [eq.false]", got)
	}
	if got := gotQuery["updated_at"]; len(got) != 1 || got[0] != "gte.2026-08-30T10:00:00Z" {
		t.Errorf("updated_at filter = %v, want [gte.2026-08-30T10:00:00Z]", got)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q, want bearer token", gotAuth)
	}
}

func TestSelectOmitsCursorOnFirstSync(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("updated_at") {
			t.Error("first-sync select must not send an updated_at filter")
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})

	if _, err := client.Select(context.Background(), "habits", Query{}); err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
}

func TestUpsertConflictKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("on_conflict"); got != "user_id,habit_id,date" {
			t.Errorf("on_conflict = %q, want composite key", got)
		}
		prefer := r.Header.Get("Prefer")
		if prefer != "resolution=merge-duplicates,return=representation" {
			t.Errorf("prefer = %q", prefer)
		}

		var row map[string]any
		_ = json.NewDecoder(r.Body).Decode(&row)
		row["server_stamp"] = "yes"
		_ = json.NewEncoder(w).Encode([]map[string]any{row})
	})

	row, err := client.Upsert(context.Background(), "habit_entries",
		[]string{"user_id", "habit_id", "date"},
		map[string]any{"id": "e-1", "user_id": "user-1"})
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if row["server_stamp"] != "yes" {
		t.Error("Upsert() did not return the written representation")
	}
}

func TestUpdateNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		// No matching rows: empty representation.
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})

	_, err := client.Update(context.Background(), "habits", "id", "h-gone", map[string]any{"id": "h-gone"})
	if !IsNotFound(err) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteAbsentRowIsSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	if err := client.Delete(context.Background(), "habits", "id", "h-gone"); err != nil {
		t.Errorf("Delete() of absent row = %v, want nil", err)
	}
}

func TestMissingRelationClassification(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"42P01","message":"relation \"day_summaries\" does not exist"}`))
	})

	_, err := client.Select(context.Background(), "day_summaries", Query{})
	if !IsMissingRelation(err) {
		t.Errorf("Select() error = %v, want ErrMissingRelation", err)
	}
	if IsNotFound(err) {
		t.Error("missing relation must not classify as not-found")
	}
}

func TestStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duplicate key value violates unique constraint", http.StatusConflict)
	})

	_, err := client.Insert(context.Background(), "habits", map[string]any{"id": "h-1"})
	if err == nil {
		t.Fatal("Insert() succeeded, want error")
	}
	if IsNotFound(err) || IsMissingRelation(err) || IsTransient(err) {
		t.Errorf("constraint violation misclassified: %v", err)
	}
}

func TestTransientError(t *testing.T) {
	// Point at a closed server so the transport fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := New(srv.URL, "", nil)
	srv.Close()

	_, err := client.Select(context.Background(), "habits", Query{})
	if err == nil {
		t.Fatal("Select() against closed server succeeded")
	}
	if !IsTransient(err) {
		t.Errorf("transport failure not classified transient: %v", err)
	}
}
