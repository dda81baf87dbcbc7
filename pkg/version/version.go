// Package version exposes build-time version metadata.
package version

// ContentFilterVersion is the semantic version string embedded at build time.
var ContentFilterVersion = "0.0.0-src"

// Set version at compile time with
// go build -ldflags "-X contentfilter/pkg/version.ContentFilterVersion=1.0.0" -o contentfilter
