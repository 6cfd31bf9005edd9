package backend

import (
	"net/url"
	"strings"
)

// NormalizeArtURL applies common normalization to an album art URL advertised by a player:
// trims whitespace, turns bare absolute paths into file:// URLs, and lower-cases the scheme.
// Empty input (no art) stays empty.
func NormalizeArtURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if strings.HasPrefix(rawURL, "/") {
		return (&url.URL{Scheme: "file", Path: rawURL}).String()
	}
	if idx := strings.Index(rawURL, "://"); idx > 0 {
		rawURL = strings.ToLower(rawURL[:idx]) + rawURL[idx:]
	}
	return rawURL
}
