package proxy

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed assets/blocked.html
var defaultBlockedPage string

// LoadBlockedPage returns the page served for blocked requests: the file at
// path when set, the built-in page otherwise.
func LoadBlockedPage(path string) (string, error) {
	if path == "" {
		return defaultBlockedPage, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is provided via config.
	if err != nil {
		return "", fmt.Errorf("read blocked page: %w", err)
	}
	return string(data), nil
}
