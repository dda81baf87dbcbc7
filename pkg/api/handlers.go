package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"contentfilter/pkg/blocklist"
	"contentfilter/pkg/proxy"
	"contentfilter/pkg/store"
	"contentfilter/pkg/urlcheck"
)

// Entry is one block-list URL with its path-safe identifier.
type Entry struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type listResponse struct {
	URLs  []Entry `json:"urls"`
	Count int     `json:"count"`
}

type urlRequest struct {
	URL string `json:"url"`
}

type addResponse struct {
	Entry
	Added bool `json:"added"`
}

type removeResponse struct {
	Entry
	Removed bool `json:"removed"`
}

type importResponse struct {
	Imported int `json:"imported"`
	Count    int `json:"count"`
}

type statusResponse struct {
	Entries int          `json:"entries"`
	Sync    proxy.Status `json:"sync"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// EncodeID returns the identifier used for url in request paths: the hex
// encoding of its UTF-8 bytes.
func EncodeID(url string) string {
	return hex.EncodeToString([]byte(url))
}

// DecodeID reverses EncodeID.
func DecodeID(id string) (string, error) {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("invalid url id: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", errors.New("invalid url id: not UTF-8")
	}
	return string(raw), nil
}

func newEntry(url string) Entry {
	return Entry{ID: EncodeID(url), URL: url}
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) logout(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, authRealm))
	writeError(w, http.StatusUnauthorized, "logged out")
}

func (a *API) listURLs(w http.ResponseWriter, _ *http.Request) {
	urls := a.svc.Export()
	entries := make([]Entry, 0, len(urls))
	for _, url := range urls {
		entries = append(entries, newEntry(url))
	}
	writeJSON(w, http.StatusOK, listResponse{URLs: entries, Count: len(entries)})
}

func (a *API) addURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decodeBody(w, r, &req) {
		return
	}
	added, err := a.svc.Add(r.Context(), req.URL)
	if err != nil {
		a.fail(w, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, addResponse{Entry: newEntry(req.URL), Added: added})
}

func (a *API) editURL(w http.ResponseWriter, r *http.Request) {
	oldURL, err := DecodeID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req urlRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.svc.Edit(r.Context(), oldURL, req.URL); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntry(req.URL))
}

func (a *API) removeURL(w http.ResponseWriter, r *http.Request) {
	url, err := DecodeID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := a.svc.Remove(r.Context(), url)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removeResponse{Entry: newEntry(url), Removed: removed})
}

func (a *API) exportList(w http.ResponseWriter, _ *http.Request) {
	data, err := a.svc.ExportJSON()
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		a.log.Debug("failed to write export", "error", err)
	}
}

func (a *API) importList(w http.ResponseWriter, r *http.Request) {
	data, err := readImport(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unable to import this file: %v", err))
		return
	}
	n, err := a.svc.ImportJSON(r.Context(), data)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{Imported: n, Count: len(a.svc.Export())})
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Entries: len(a.svc.Export()), Sync: a.svc.Status()})
}

func (a *API) resync(w http.ResponseWriter, r *http.Request) {
	err := a.svc.Resync(r.Context(), "manual")
	resp := statusResponse{Entries: len(a.svc.Export()), Sync: a.svc.Status()}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail maps service errors to responses. Anything that is not a rejected
// operation is a storage fault.
func (a *API) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, urlcheck.ErrInvalidURL):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, blocklist.ErrNotList), errors.Is(err, blocklist.ErrMalformed):
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unable to import this file: %v", err))
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		a.log.Error("block-list operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save the block-list")
	}
}

func readImport(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	return io.ReadAll(file)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
