// Package blocklist is the mutation entry point used by the admin API and the
// CLI: it validates input, updates the store and notifies the proxy side.
package blocklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"contentfilter/pkg/notify"
	"contentfilter/pkg/proxy"
	"contentfilter/pkg/store"
	"contentfilter/pkg/urlcheck"
)

var (
	// ErrNotList is returned when an import document is not a JSON array.
	ErrNotList = errors.New("import document is not a list")
	// ErrMalformed is returned when an import document is not valid JSON.
	ErrMalformed = errors.New("import document is not valid JSON")
)

// ChangeNotifier is told about every persisted mutation.
type ChangeNotifier interface {
	OnChange(ctx context.Context, change notify.Change)
	Resync(ctx context.Context, reason string) error
}

// StatusReporter exposes the outcome of the last proxy sync.
type StatusReporter interface {
	Status() proxy.Status
}

// Service applies block-list mutations. Proxy failures never fail a mutation.
type Service struct {
	store    *store.Store
	notifier ChangeNotifier
	status   StatusReporter
	log      *slog.Logger
}

// NewService wires the service and registers the entries gauge with reg
// (skipped when reg is nil).
func NewService(s *store.Store, notifier ChangeNotifier, status StatusReporter, reg prometheus.Registerer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if reg != nil {
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "contentfilter",
			Subsystem: "blocklist",
			Name:      "entries",
			Help:      "Number of URLs in the block-list.",
		}, func() float64 { return float64(s.Len()) })
	}
	return &Service{store: s, notifier: notifier, status: status, log: log}
}

// Add blocks url. It reports false when url was already blocked.
func (s *Service) Add(ctx context.Context, url string) (bool, error) {
	_, added, err := s.store.Add(url)
	if err != nil {
		return false, err
	}
	if !added {
		return false, nil
	}
	s.log.Info("url added to block-list", "url", url)
	s.notifier.OnChange(ctx, notify.Change{Added: url})
	return true, nil
}

// Edit replaces oldURL with newURL in place.
func (s *Service) Edit(ctx context.Context, oldURL, newURL string) error {
	if _, err := s.store.Replace(oldURL, newURL); err != nil {
		return err
	}
	s.log.Info("block-list url updated", "old", oldURL, "new", newURL)
	s.notifier.OnChange(ctx, notify.Change{Added: newURL, Removed: oldURL})
	return nil
}

// Remove unblocks url. It reports false when url was not blocked.
func (s *Service) Remove(ctx context.Context, url string) (bool, error) {
	_, removed, err := s.store.Remove(url)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	s.log.Info("url removed from block-list", "url", url)
	s.notifier.OnChange(ctx, notify.Change{Removed: url})
	return true, nil
}

// Import adds every valid, new URL of urls and returns how many were added.
func (s *Service) Import(ctx context.Context, urls []string) (int, error) {
	n, err := s.store.BulkImport(urls)
	if err != nil {
		return 0, err
	}
	s.log.Info("imported urls into block-list", "candidates", len(urls), "imported", n)
	if n > 0 {
		s.notifier.OnChange(ctx, notify.Change{Imported: n})
	}
	return n, nil
}

// ImportJSON imports a JSON array. Elements that are not strings are skipped
// like invalid URLs.
func (s *Service) ImportJSON(ctx context.Context, data []byte) (int, error) {
	urls, err := DecodeList(data)
	if err != nil {
		return 0, err
	}
	return s.Import(ctx, urls)
}

// Export returns the block-list in order.
func (s *Service) Export() []string {
	return s.store.Export()
}

// ExportJSON returns the block-list as an indented JSON array.
func (s *Service) ExportJSON() ([]byte, error) {
	return store.EncodeIndented(s.store.Export())
}

// Status returns the outcome of the last proxy sync.
func (s *Service) Status() proxy.Status {
	return s.status.Status()
}

// Resync pushes the whole list to the proxy and returns the sync error, if any.
func (s *Service) Resync(ctx context.Context, reason string) error {
	return s.notifier.Resync(ctx, reason)
}

// Startup brings the proxy in line with the stored list. A failure is only
// logged; the retry loop or the next mutation catches up.
func (s *Service) Startup(ctx context.Context) {
	if err := s.notifier.Resync(ctx, "startup"); err != nil {
		s.log.Warn("initial proxy sync failed", "error", err)
	}
}

// Reload re-reads the storage file and resyncs when it changed.
func (s *Service) Reload(ctx context.Context) error {
	changed, err := s.store.Reload()
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.notifier.Resync(ctx, "reload")
}

// DecodeList parses a JSON import document, keeping only string elements.
func DecodeList(data []byte) ([]string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %s", ErrNotList, typeErr.Value)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: null", ErrNotList)
	}
	urls := make([]string, 0, len(raw))
	for _, elem := range raw {
		var url string
		if err := json.Unmarshal(elem, &url); err != nil {
			continue
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// IsUserError reports whether err is a rejected operation rather than a fault.
func IsUserError(err error) bool {
	return errors.Is(err, urlcheck.ErrInvalidURL) ||
		errors.Is(err, store.ErrDuplicate) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, ErrNotList) ||
		errors.Is(err, ErrMalformed)
}
