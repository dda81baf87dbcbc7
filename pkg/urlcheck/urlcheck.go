// Package urlcheck validates block-list candidates and splits them into the
// parts the reverse proxy matches on.
package urlcheck

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidURL is matched by every ValidationError.
var ErrInvalidURL = errors.New("invalid url")

// ValidationError reports a candidate that is not an absolute URL.
type ValidationError struct {
	URL string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidURL, e.URL)
}

// Is lets errors.Is(err, ErrInvalidURL) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidURL
}

// Components are the proxy-relevant parts of a block-list entry. Hostname has
// no port since the proxy host matcher ignores it.
type Components struct {
	Scheme   string
	Hostname string
	Path     string
}

// Valid reports whether candidate parses as a URL with both a scheme and a
// network location. Unparseable input is simply invalid.
func Valid(candidate string) bool {
	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// Check returns a ValidationError when candidate is not Valid.
func Check(candidate string) error {
	if !Valid(candidate) {
		return &ValidationError{URL: candidate}
	}
	return nil
}

// Decompose splits a valid URL. Callers validate first; for invalid input the
// result is whatever survives parsing.
func Decompose(raw string) Components {
	u, err := url.Parse(raw)
	if err != nil {
		return Components{}
	}
	return Components{
		Scheme:   strings.ToLower(u.Scheme),
		Hostname: normalizeName(u.Hostname()),
		Path:     u.Path,
	}
}

// normalizeName lowercases a host name and converts an internationalised name
// to its ASCII form.
func normalizeName(name string) string {
	if ascii, err := idna.ToASCII(name); err == nil {
		name = ascii
	}
	return strings.ToLower(name)
}
