// Package testutil provides a fake Caddy admin API for deterministic proxy
// sync tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Request is one call received by the stub.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// CaddyStub emulates the parts of the Caddy admin API used for block-list
// sync: route lookup by @id, route install and match replacement.
type CaddyStub struct {
	URL    string
	server *httptest.Server

	mu       sync.Mutex
	routes   map[string]json.RawMessage
	matches  map[string]json.RawMessage
	requests []Request
	status   int
	delay    time.Duration
}

// StartCaddyStub starts the stub on a random local port.
func StartCaddyStub(t *testing.T) *CaddyStub {
	t.Helper()

	stub := &CaddyStub{
		routes:  make(map[string]json.RawMessage),
		matches: make(map[string]json.RawMessage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /id/{id}", stub.getRoute)
	mux.HandleFunc("PUT /config/apps/http/servers/{server}/routes/0", stub.putRoute)
	mux.HandleFunc("PATCH /id/{id}/match/", stub.patchMatch)

	stub.server = httptest.NewServer(stub.record(mux))
	stub.URL = stub.server.URL
	t.Cleanup(stub.Close)
	return stub
}

// Close stops the stub. Later requests fail to connect.
func (s *CaddyStub) Close() {
	s.server.Close()
}

// FailWith makes every following request answer with status. Zero restores
// normal behaviour.
func (s *CaddyStub) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Delay holds every following request for d before answering.
func (s *CaddyStub) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Forget drops all installed routes, as a restarted proxy would.
func (s *CaddyStub) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = make(map[string]json.RawMessage)
	s.matches = make(map[string]json.RawMessage)
}

// InstallRoute pre-installs a route with the given id.
func (s *CaddyStub) InstallRoute(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[id] = json.RawMessage(`{"@id":"` + id + `"}`)
}

// Route returns the installed route body for id.
func (s *CaddyStub) Route(id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	route, ok := s.routes[id]
	return route, ok
}

// Match returns the last match list patched into route id.
func (s *CaddyStub) Match(id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[id]
	return match, ok
}

// Requests returns every request received so far.
func (s *CaddyStub) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests returns how many requests used method.
func (s *CaddyStub) CountRequests(method string) int {
	count := 0
	for _, req := range s.Requests() {
		if req.Method == method {
			count++
		}
	}
	return count
}

func (s *CaddyStub) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()

		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body})
		status, delay := s.status, s.delay
		s.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (s *CaddyStub) getRoute(w http.ResponseWriter, r *http.Request) {
	route, ok := s.Route(r.PathValue("id"))
	if !ok {
		http.Error(w, `{"error":"unknown object ID"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(route)
}

func (s *CaddyStub) putRoute(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var route struct {
		ID    string          `json:"@id"`
		Match json.RawMessage `json:"match"`
	}
	if err := json.Unmarshal(body, &route); err != nil || route.ID == "" {
		http.Error(w, `{"error":"invalid route"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.routes[route.ID] = body
	s.matches[route.ID] = route.Match
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *CaddyStub) patchMatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, _ := io.ReadAll(r.Body)
	if !json.Valid(body) {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[id]; !ok {
		http.Error(w, `{"error":"unknown object ID"}`, http.StatusNotFound)
		return
	}
	s.matches[id] = body
	w.WriteHeader(http.StatusOK)
}
