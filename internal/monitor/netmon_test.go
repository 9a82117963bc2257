package monitor

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeEngine records the calls the monitor makes.
type fakeEngine struct {
	mu           sync.Mutex
	online       bool
	syncCalls    []bool // force flag per call
	backoffReset int
}

func (f *fakeEngine) SyncAll(ctx context.Context, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls = append(f.syncCalls, force)
	return nil
}

func (f *fakeEngine) SetOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = online
}

func (f *fakeEngine) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeEngine) ResetBackoff() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backoffReset++
}

func (f *fakeEngine) snapshot() (online bool, syncCalls []bool, resets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online, append([]bool(nil), f.syncCalls...), f.backoffReset
}

func quietConfig() *Config {
	config := DefaultConfig()
	config.Logger = log.New(io.Discard, "", 0)
	return config
}

func TestCheckNowReconnectForcesSync(t *testing.T) {
	engine := &fakeEngine{}
	config := quietConfig()
	config.Probe = func(ctx context.Context) bool { return true }

	m, err := New(engine, "", "", config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	m.CheckNow(context.Background())

	online, syncCalls, resets := engine.snapshot()
	if !online {
		t.Error("engine not marked online after reconnect")
	}
	if resets != 1 {
		t.Errorf("backoff resets = %d, want 1", resets)
	}
	if len(syncCalls) != 1 || !syncCalls[0] {
		t.Errorf("sync calls = %v, want one forced call", syncCalls)
	}
}

func TestCheckNowOfflineFlipsStatusOnly(t *testing.T) {
	engine := &fakeEngine{online: true}
	config := quietConfig()
	config.Probe = func(ctx context.Context) bool { return false }

	m, err := New(engine, "", "", config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	m.CheckNow(context.Background())

	online, syncCalls, resets := engine.snapshot()
	if online {
		t.Error("engine still online after failed probe")
	}
	if len(syncCalls) != 0 {
		t.Errorf("sync calls = %v while going offline, want none", syncCalls)
	}
	if resets != 0 {
		t.Errorf("backoff resets = %d while going offline, want 0", resets)
	}
}

func TestCheckNowSteadyStateIsQuiet(t *testing.T) {
	engine := &fakeEngine{online: true}
	config := quietConfig()
	config.Probe = func(ctx context.Context) bool { return true }

	m, err := New(engine, "", "", config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	m.CheckNow(context.Background())
	m.CheckNow(context.Background())

	_, syncCalls, _ := engine.snapshot()
	if len(syncCalls) != 0 {
		t.Errorf("sync calls = %v in steady online state, want none", syncCalls)
	}
}

func TestPeriodicSyncOnlyWhileOnline(t *testing.T) {
	engine := &fakeEngine{online: true}
	config := quietConfig()
	config.Probe = func(ctx context.Context) bool { return true }
	config.ProbeInterval = time.Hour // keep the probe loop out of the way
	config.SyncInterval = 20 * time.Millisecond

	m, err := New(engine, "", "", config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, syncCalls, _ := engine.snapshot()
		if len(syncCalls) > 0 {
			for _, forced := range syncCalls {
				if forced {
					t.Error("periodic sync was forced")
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no periodic sync triggered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWakeFileTriggersDebouncedSync(t *testing.T) {
	engine := &fakeEngine{online: true}
	config := quietConfig()
	config.Probe = func(ctx context.Context) bool { return true }
	config.ProbeInterval = time.Hour
	config.SyncInterval = time.Hour
	config.DebounceInterval = 20 * time.Millisecond

	wakeFile := filepath.Join(t.TempDir(), "wake")
	m, err := New(engine, "", wakeFile, config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer m.Stop()

	// Rapid touches collapse into one trigger.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(wakeFile, []byte("x"), 0o644); err != nil {
			t.Fatalf("touch failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, syncCalls, _ := engine.snapshot()
		if len(syncCalls) > 0 {
			if len(syncCalls) > 1 {
				t.Errorf("sync calls = %d, want 1 (debounced)", len(syncCalls))
			}
			if syncCalls[0] {
				t.Error("wake sync was forced")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("wake touch never triggered a sync")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartRejectsDoubleStart(t *testing.T) {
	engine := &fakeEngine{}
	config := quietConfig()
	config.Probe = func(ctx context.Context) bool { return false }
	config.ProbeInterval = time.Hour
	config.SyncInterval = time.Hour

	m, err := New(engine, "", "", config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer m.Stop()

	if err := m.Start(); err == nil {
		t.Error("second Start() succeeded, want error")
	}
}

func TestNewRequiresProbeOrHealthURL(t *testing.T) {
	if _, err := New(&fakeEngine{}, "", "", quietConfig()); err == nil {
		t.Error("New() without probe or health URL succeeded")
	}
	if _, err := New(nil, "http://localhost/health", "", quietConfig()); err == nil {
		t.Error("New() with nil engine succeeded")
	}
}
