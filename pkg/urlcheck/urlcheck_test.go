package urlcheck

import (
	"errors"
	"testing"
)

func TestValid(t *testing.T) {
	testCases := []struct {
		input string
		want  bool
	}{
		{"http://a.test/x", true},
		{"https://example.com", true},
		{"http://example.com:8080/path?q=1", true},
		{"ftp://files.example.com/pub", true},
		{"not-a-url", false},
		{"", false},
		{"/only/a/path", false},
		{"example.com/path", false},
		{"http://", false},
		{"://missing-scheme", false},
		{"http://[::1", false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := Valid(tc.input); got != tc.want {
				t.Errorf("Valid(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	if err := Check("http://a.test/x"); err != nil {
		t.Fatalf("Check returned error for valid url: %v", err)
	}
	err := Check("bad")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.URL != "bad" {
		t.Errorf("expected ValidationError for %q, got %v", "bad", err)
	}
}

func TestDecompose(t *testing.T) {
	testCases := []struct {
		input string
		want  Components
	}{
		{"http://a.test/x", Components{Scheme: "http", Hostname: "a.test", Path: "/x"}},
		{"HTTPS://Example.COM/Some/Path", Components{Scheme: "https", Hostname: "example.com", Path: "/Some/Path"}},
		{"http://example.com:8080/p?q=1#frag", Components{Scheme: "http", Hostname: "example.com", Path: "/p"}},
		{"http://example.com", Components{Scheme: "http", Hostname: "example.com", Path: ""}},
		{"http://bücher.example/", Components{Scheme: "http", Hostname: "xn--bcher-kva.example", Path: "/"}},
		{"http://[::1]:8080/x", Components{Scheme: "http", Hostname: "::1", Path: "/x"}},
		{"http://a.test/with%20space", Components{Scheme: "http", Hostname: "a.test", Path: "/with space"}},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := Decompose(tc.input); got != tc.want {
				t.Errorf("Decompose(%q) = %+v, want %+v", tc.input, got, tc.want)
			}
		})
	}
}
