package stream

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/offlinehq/driftsync/internal/engine"
)

// fakeSource is a hand-driven StatusSource.
type fakeSource struct {
	mu      sync.Mutex
	status  engine.Status
	updates chan engine.Status
}

func newFakeSource() *fakeSource {
	return &fakeSource{updates: make(chan engine.Status, 8)}
}

func (f *fakeSource) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSource) Subscribe() (<-chan engine.Status, func()) {
	return f.updates, func() {}
}

func (f *fakeSource) push(status engine.Status) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
	f.updates <- status
}

// setupServer starts a server on a random port.
func setupServer(t *testing.T) (*Server, *fakeSource) {
	t.Helper()

	source := newFakeSource()
	server, err := NewServer(source, &Config{
		Port:   0,
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	return server, source
}

func TestStatusEndpointReturnsSnapshot(t *testing.T) {
	server, source := setupServer(t)
	source.mu.Lock()
	source.status = engine.Status{IsOnline: true, PendingActionCount: 4}
	source.mu.Unlock()

	resp, err := http.Get("http://" + server.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	var status engine.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !status.IsOnline || status.PendingActionCount != 4 {
		t.Errorf("status = %+v, want online with 4 pending", status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := setupServer(t)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

func TestWebSocketReceivesSnapshotThenUpdates(t *testing.T) {
	server, source := setupServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// First frame is the current snapshot.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read snapshot failed: %v", err)
	}
	var snapshot engine.Status
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot failed: %v", err)
	}
	if snapshot.IsOnline {
		t.Errorf("initial snapshot online = true, want false")
	}

	// A status change is relayed to the client.
	source.push(engine.Status{IsOnline: true, IsSyncing: true})

	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read update failed: %v", err)
	}
	var update engine.Status
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("unmarshal update failed: %v", err)
	}
	if !update.IsOnline || !update.IsSyncing {
		t.Errorf("update = %+v, want online and syncing", update)
	}
}

func TestClientCountTracksConnections(t *testing.T) {
	server, _ := setupServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want 1", server.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	deadline = time.Now().Add(2 * time.Second)
	for server.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d after close, want 0", server.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
