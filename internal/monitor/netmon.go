// Package monitor provides the network/lifecycle monitor and the failure
// monitor that surround the sync engine.
//
// The network monitor owns every trigger that can start a sync cycle:
// connectivity transitions, the periodic timer, and wake-file touches from UI
// collaborators. All of them funnel into the engine's guarded SyncAll entry
// point, which drops overlapping triggers itself.
package monitor

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SyncEngine is the engine surface the monitor drives.
type SyncEngine interface {
	SyncAll(ctx context.Context, force bool) error
	SetOnline(online bool)
	Online() bool
	ResetBackoff()
}

// ProbeFunc reports whether the remote system is currently reachable.
type ProbeFunc func(ctx context.Context) bool

// Config holds configuration for the network monitor.
type Config struct {
	// ProbeInterval is how often connectivity is checked.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single connectivity probe.
	ProbeTimeout time.Duration

	// SyncInterval is how often a non-forced sync is triggered while online.
	SyncInterval time.Duration

	// DebounceInterval is how long to wait after a wake-file touch before
	// triggering a sync. This batches rapid touches together.
	DebounceInterval time.Duration

	// Probe overrides the default HTTP HEAD probe. Nil uses the health URL.
	Probe ProbeFunc

	// HTTPClient for the default probe. Nil uses a client bounded by
	// ProbeTimeout.
	HTTPClient *http.Client

	// Logger for monitor activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:    30 * time.Second,
		ProbeTimeout:     5 * time.Second,
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[netmon] ", log.LstdFlags),
	}
}

// NetMonitor watches connectivity and lifecycle signals and triggers sync
// cycles on the engine.
type NetMonitor struct {
	engine    SyncEngine
	healthURL string
	wakeFile  string
	config    *Config

	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	running   bool
	wakeTimer *time.Timer
}

// New creates a network monitor. healthURL is probed for connectivity;
// wakeFile, when non-empty, is watched for foreground/visibility touches.
// Use Start() to begin monitoring.
func New(engine SyncEngine, healthURL, wakeFile string, config *Config) (*NetMonitor, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	if config.Probe == nil && healthURL == "" {
		return nil, fmt.Errorf("healthURL cannot be empty without a custom probe")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &NetMonitor{
		engine:    engine,
		healthURL: healthURL,
		wakeFile:  wakeFile,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins monitoring. An initial probe runs immediately so the engine's
// online flag settles before the first periodic sync. Start does not block;
// use Stop to shut down.
func (m *NetMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}

	if m.wakeFile != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		// Watch the parent directory so the wake file may not exist yet.
		dir := filepath.Dir(m.wakeFile)
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		m.watcher = watcher

		m.wg.Add(1)
		go m.watchWakeFile()
	}

	m.running = true

	m.wg.Add(2)
	go m.probeLoop()
	go m.periodicSyncLoop()

	return nil
}

// Stop shuts the monitor down and waits for its goroutines to exit.
func (m *NetMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	if m.wakeTimer != nil {
		m.wakeTimer.Stop()
		m.wakeTimer = nil
	}
	watcher := m.watcher
	m.mu.Unlock()

	m.cancel()
	if watcher != nil {
		watcher.Close()
	}
	m.wg.Wait()
}

// CheckNow runs one connectivity probe and applies the transition. Used at
// startup and by tests; the probe loop calls it on every tick.
func (m *NetMonitor) CheckNow(ctx context.Context) {
	reachable := m.probe(ctx)
	wasOnline := m.engine.Online()

	switch {
	case reachable && !wasOnline:
		// Reconnect: flush the queue immediately with a clean backoff slate.
		m.config.Logger.Printf("Connectivity restored")
		m.engine.SetOnline(true)
		m.engine.ResetBackoff()
		if err := m.engine.SyncAll(ctx, true); err != nil {
			m.config.Logger.Printf("Reconnect sync failed: %v", err)
		}
	case !reachable && wasOnline:
		// Going offline flips the flag only; no network calls.
		m.config.Logger.Printf("Connectivity lost")
		m.engine.SetOnline(false)
	}
}

func (m *NetMonitor) probe(ctx context.Context) bool {
	if m.config.Probe != nil {
		return m.config.Probe(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.healthURL, nil)
	if err != nil {
		return false
	}

	client := m.config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: m.config.ProbeTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Any response means the network path is up, even an unhealthy one.
	return true
}

// probeLoop checks connectivity on a fixed interval.
func (m *NetMonitor) probeLoop() {
	defer m.wg.Done()

	m.CheckNow(m.ctx)

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(m.ctx)
		}
	}
}

// periodicSyncLoop triggers a non-forced sync while online so pulls happen
// even when nothing local changed.
func (m *NetMonitor) periodicSyncLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.engine.Online() {
				continue
			}
			if err := m.engine.SyncAll(m.ctx, false); err != nil {
				m.config.Logger.Printf("Periodic sync failed: %v", err)
			}
		}
	}
}

// watchWakeFile turns touches of the wake file into debounced sync triggers.
// UI collaborators touch the file when the app returns to the foreground.
func (m *NetMonitor) watchWakeFile() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Name != m.wakeFile {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod) == 0 {
				continue
			}
			m.config.Logger.Printf("Wake signal: %s", event.Op)
			m.queueWakeSync()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueWakeSync arms the debounce timer, replacing any pending one.
func (m *NetMonitor) queueWakeSync() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.wakeTimer != nil {
		m.wakeTimer.Stop()
	}
	m.wakeTimer = time.AfterFunc(m.config.DebounceInterval, func() {
		if !m.engine.Online() {
			return
		}
		if err := m.engine.SyncAll(m.ctx, false); err != nil {
			m.config.Logger.Printf("Wake sync failed: %v", err)
		}
	})
}
