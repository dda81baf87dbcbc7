// Package notify decides when a block-list mutation owes the proxy a sync
// and triggers it.
package notify

import (
	"context"
	"log/slog"

	"contentfilter/pkg/proxy"
)

// Change is one list mutation. An edit sets Added and Removed; a bulk import
// sets Imported.
type Change struct {
	Added    string
	Removed  string
	Imported int
}

// Empty reports whether the change altered nothing.
func (c Change) Empty() bool {
	return c.Added == "" && c.Removed == "" && c.Imported == 0
}

// Pusher pushes a snapshot of src to the proxy. *proxy.Tracker satisfies it.
type Pusher interface {
	Push(ctx context.Context, src proxy.Source) error
	Mode() proxy.Mode
}

// Notifier runs a full resync after every change that reached storage.
type Notifier struct {
	pusher Pusher
	source proxy.Source
	log    *slog.Logger
}

// New creates a Notifier pushing snapshots of source through pusher.
func New(pusher Pusher, source proxy.Source, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{pusher: pusher, source: source, log: log}
}

// OnChange is called after a mutation has been persisted. Both legs of an edit
// are covered by a single full resync. Sync failures are logged by the pusher
// and never returned.
func (n *Notifier) OnChange(ctx context.Context, change Change) {
	if change.Empty() {
		return
	}
	n.log.Debug("block-list changed", "added", change.Added, "removed", change.Removed, "imported", change.Imported)
	n.sync(ctx, "change")
}

// Resync pushes the whole list regardless of what changed.
func (n *Notifier) Resync(ctx context.Context, reason string) error {
	if n.pusher.Mode() == proxy.ModeDisabled {
		n.log.Debug("proxy sync disabled, skipping resync", "reason", reason)
		return nil
	}
	n.log.Info("resyncing proxy", "reason", reason, "mode", n.pusher.Mode())
	return n.pusher.Push(ctx, n.source)
}

func (n *Notifier) sync(ctx context.Context, reason string) {
	if n.pusher.Mode() == proxy.ModeDisabled {
		return
	}
	if err := n.pusher.Push(ctx, n.source); err != nil {
		n.log.Warn("block-list saved but proxy is out of date", "reason", reason, "error", err)
	}
}
