// Package store keeps the block-list: an ordered set of URL strings that is
// rewritten in full to a JSON file on every mutation.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/google/renameio/v2"

	"contentfilter/pkg/urlcheck"
)

var (
	// ErrNotFound is returned when a replaced entry is not in the list.
	ErrNotFound = errors.New("url not in list")
	// ErrDuplicate is returned when a replacement is already in the list.
	ErrDuplicate = errors.New("url already in list")
)

// CorruptError is returned when the storage file exists but does not hold a
// JSON list of strings.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt block-list %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// Store owns the block-list. All mutators persist before they return.
type Store struct {
	path    string
	log     *slog.Logger
	mu      sync.Mutex
	entries []string
}

// Open loads the list stored at path. A missing file yields an empty list.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	entries, err := readFile(path)
	if errors.Is(err, os.ErrNotExist) {
		entries, err = []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	entries = dropInvalid(entries, path, log)
	log.Info("loaded block-list", "path", path, "entries", len(entries))
	return &Store{path: path, log: log, entries: entries}, nil
}

// Path returns the storage file location.
func (s *Store) Path() string {
	return s.path
}

// Export returns a copy of the list in insertion order.
func (s *Store) Export() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Add appends url unless it is already present.
func (s *Store) Add(url string) ([]string, bool, error) {
	if err := urlcheck.Check(url); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.entries, url) {
		return slices.Clone(s.entries), false, nil
	}
	next := append(slices.Clone(s.entries), url)
	if err := s.commit(next); err != nil {
		return nil, false, err
	}
	return slices.Clone(next), true, nil
}

// Replace substitutes newURL for oldURL at the same position.
func (s *Store) Replace(oldURL, newURL string) ([]string, error) {
	if err := urlcheck.Check(newURL); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.entries, newURL) {
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, newURL)
	}
	idx := slices.Index(s.entries, oldURL)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, oldURL)
	}
	next := slices.Clone(s.entries)
	next[idx] = newURL
	if err := s.commit(next); err != nil {
		return nil, err
	}
	return slices.Clone(next), nil
}

// Remove deletes url. Removing an absent url is a no-op.
func (s *Store) Remove(url string) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.Index(s.entries, url)
	if idx < 0 {
		return slices.Clone(s.entries), false, nil
	}
	next := slices.Delete(slices.Clone(s.entries), idx, idx+1)
	if err := s.commit(next); err != nil {
		return nil, false, err
	}
	return slices.Clone(next), true, nil
}

// BulkImport adds every valid candidate not already present and persists
// once. It returns the number of entries added.
func (s *Store) BulkImport(urls []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.entries)
	seen := make(map[string]struct{}, len(next)+len(urls))
	for _, entry := range next {
		seen[entry] = struct{}{}
	}

	added := 0
	for _, candidate := range urls {
		if _, ok := seen[candidate]; ok {
			continue
		}
		if !urlcheck.Valid(candidate) {
			s.log.Debug("skipping invalid import entry", "url", candidate)
			continue
		}
		seen[candidate] = struct{}{}
		next = append(next, candidate)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := s.commit(next); err != nil {
		return 0, err
	}
	return added, nil
}

// Clear empties the list.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit([]string{})
}

// Reload re-reads the storage file. It reports whether the list changed. When
// the file is missing or corrupt the in-memory list is kept.
func (s *Store) Reload() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := readFile(s.path)
	if err != nil {
		return false, err
	}
	entries = dropInvalid(entries, s.path, s.log)
	if slices.Equal(entries, s.entries) {
		return false, nil
	}
	s.entries = entries
	s.log.Info("reloaded block-list", "path", s.path, "entries", len(entries))
	return true, nil
}

// commit persists next and only then makes it the current list. Callers hold mu.
func (s *Store) commit(next []string) error {
	data, err := encode(next)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("persist block-list: %w", err)
	}
	s.entries = next
	return nil
}

func encode(entries []string) ([]byte, error) {
	if entries == nil {
		entries = []string{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode block-list: %w", err)
	}
	return data, nil
}

// EncodeIndented renders a list the way exports present it.
func EncodeIndented(entries []string) ([]byte, error) {
	if entries == nil {
		entries = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("encode block-list: %w", err)
	}
	return buf.Bytes(), nil
}

func readFile(path string) ([]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is provided via config.
	if err != nil {
		return nil, fmt.Errorf("read block-list: %w", err)
	}
	return decode(path, data)
}

func decode(path string, data []byte) ([]string, error) {
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	if entries == nil {
		return nil, &CorruptError{Path: path, Err: errors.New("document is not a list")}
	}
	return dedupe(entries), nil
}

// dedupe keeps the first occurrence of every entry so a hand-edited file
// cannot break the uniqueness of the list.
func dedupe(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, entry := range entries {
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// dropInvalid removes entries that are not absolute URLs. Such entries can only
// come from a hand-edited file and would turn into catch-all proxy rules.
func dropInvalid(entries []string, path string, log *slog.Logger) []string {
	return slices.DeleteFunc(entries, func(entry string) bool {
		if urlcheck.Valid(entry) {
			return false
		}
		log.Warn("ignoring invalid block-list entry", "path", path, "url", entry)
		return true
	})
}
