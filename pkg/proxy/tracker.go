package proxy

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Source supplies the list to push. *store.Store satisfies it.
type Source interface {
	Export() []string
}

// Status describes the most recent push.
type Status struct {
	Mode                Mode      `json:"mode"`
	At                  time.Time `json:"at,omitzero"`
	OK                  bool      `json:"ok"`
	Error               string    `json:"error,omitempty"`
	Entries             int       `json:"entries"`
	Attempts            int       `json:"attempts"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
}

// Tracker serialises pushes through a Syncer, remembers the last outcome and
// retries failed pushes in the background.
type Tracker struct {
	syncer        Syncer
	retryInterval time.Duration
	metrics       *Metrics
	log           *slog.Logger

	pushMu sync.Mutex

	mu      sync.RWMutex
	status  Status
	pending bool
}

// NewTracker wraps syncer. A retryInterval of zero disables retries.
func NewTracker(syncer Syncer, retryInterval time.Duration, metrics *Metrics, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		syncer:        syncer,
		retryInterval: retryInterval,
		metrics:       metrics,
		log:           log,
		status:        Status{Mode: syncer.Mode()},
	}
}

// Mode returns the mode of the wrapped Syncer.
func (t *Tracker) Mode() Mode {
	return t.syncer.Mode()
}

// Push takes a snapshot of src and pushes it. The snapshot is taken while
// holding the push lock so that the proxy always ends up with the newest list.
// Failures are logged and recorded; the error is returned for callers that
// want it.
func (t *Tracker) Push(ctx context.Context, src Source) error {
	t.pushMu.Lock()
	defer t.pushMu.Unlock()

	urls := src.Export()
	start := time.Now()
	err := t.syncer.Sync(ctx, urls)
	took := time.Since(start)
	t.metrics.observe(t.syncer.Mode(), took, err)

	t.mu.Lock()
	t.status.At = start
	t.status.Entries = len(urls)
	t.status.Attempts++
	if err != nil {
		t.status.OK = false
		t.status.Error = err.Error()
		t.status.ConsecutiveFailures++
		t.pending = true
	} else {
		t.status.OK = true
		t.status.Error = ""
		t.status.ConsecutiveFailures = 0
		t.status.LastSuccess = start
		t.pending = false
	}
	failures := t.status.ConsecutiveFailures
	t.mu.Unlock()

	if err != nil {
		t.log.Error("proxy sync failed", "mode", t.syncer.Mode(), "entries", len(urls),
			"failures", failures, "error", err)
		return err
	}
	t.log.Debug("proxy sync done", "mode", t.syncer.Mode(), "entries", len(urls), "took", took)
	return nil
}

// Status returns the outcome of the last push.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Pending reports whether the last push failed and is owed again.
func (t *Tracker) Pending() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pending
}

// Start retries failed pushes every retry interval until ctx is done.
func (t *Tracker) Start(ctx context.Context, src Source) {
	if t.retryInterval <= 0 {
		return
	}
	ticker := time.NewTicker(t.retryInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !t.Pending() {
					continue
				}
				t.log.Info("retrying proxy sync", "mode", t.syncer.Mode())
				_ = t.Push(ctx, src)
			}
		}
	}()
}
