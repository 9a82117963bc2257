package monitor

import (
	"log"
	"os"
	"sync"
	"time"
)

// AlertFunc receives the escalation when failures cluster. The default logs.
type AlertFunc func(count int, window time.Duration)

// FailureConfig holds tuning knobs for the failure monitor.
type FailureConfig struct {
	// Window is the sliding interval failures are counted over.
	Window time.Duration

	// Threshold is how many failures inside the window raise the alert.
	Threshold int

	// Cooldown suppresses repeat alerts after one fires.
	Cooldown time.Duration

	// Alert is invoked when the threshold is crossed. Nil logs instead.
	Alert AlertFunc

	// Logger for monitor activity.
	Logger *log.Logger
}

// DefaultFailureConfig returns sensible defaults.
func DefaultFailureConfig() *FailureConfig {
	return &FailureConfig{
		Window:    60 * time.Second,
		Threshold: 3,
		Cooldown:  5 * time.Minute,
		Logger:    log.New(os.Stderr, "[failmon] ", log.LstdFlags),
	}
}

// failure is one recorded push failure.
type failure struct {
	table string
	op    string
	at    time.Time
}

// FailureMonitor observes push failures and escalates when they cluster.
// It is a pure observer: it never touches the queue or the engine, only
// counts and alerts.
type FailureMonitor struct {
	config *FailureConfig

	mu        sync.Mutex
	failures  []failure
	lastAlert time.Time

	now func() time.Time // test hook
}

// NewFailureMonitor creates a failure monitor. Register its RecordFailure
// method as the engine's OnFailure callback.
func NewFailureMonitor(config *FailureConfig) *FailureMonitor {
	if config == nil {
		config = DefaultFailureConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[failmon] ", log.LstdFlags)
	}
	return &FailureMonitor{
		config: config,
		now:    time.Now,
	}
}

// RecordFailure appends one failed push attempt to the sliding window and
// raises the alert when the threshold is crossed. Safe for concurrent use.
func (f *FailureMonitor) RecordFailure(table, op string, err error, retryCount int) {
	f.mu.Lock()

	now := f.now()
	f.pruneLocked(now)
	f.failures = append(f.failures, failure{table: table, op: op, at: now})

	f.config.Logger.Printf("Sync failure: %s %s (attempt %d): %v", op, table, retryCount, err)

	count := len(f.failures)
	shouldAlert := count >= f.config.Threshold &&
		now.Sub(f.lastAlert) >= f.config.Cooldown
	if shouldAlert {
		f.lastAlert = now
	}

	alert := f.config.Alert
	window := f.config.Window
	logger := f.config.Logger
	f.mu.Unlock()

	// Alert outside the lock so a slow handler can't stall RecordFailure
	// callers.
	if shouldAlert {
		if alert != nil {
			alert(count, window)
		} else {
			logger.Printf("Alert: %d sync failures in the last %v", count, window)
		}
	}
}

// GetStats returns failure counts by table inside the current window.
func (f *FailureMonitor) GetStats() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pruneLocked(f.now())

	stats := make(map[string]int)
	for _, fail := range f.failures {
		stats[fail.table]++
	}
	return stats
}

// Reset clears the window and the alert cooldown.
func (f *FailureMonitor) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = nil
	f.lastAlert = time.Time{}
}

// pruneLocked drops failures older than the window. Callers must hold f.mu.
func (f *FailureMonitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-f.config.Window)
	kept := f.failures[:0]
	for _, fail := range f.failures {
		if fail.at.After(cutoff) {
			kept = append(kept, fail)
		}
	}
	f.failures = kept
}
