// Package urlutil parses referrer and landing-page URLs for event
// enrichment. Parse failures are non-fatal: callers get empty strings back
// rather than an error.
package urlutil

import "net/url"

// Split parses raw into (domain, path). An unparseable or empty raw string
// yields ("", "").
func Split(raw string) (domain, path string) {
	if raw == "" {
		return "", ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	return u.Hostname(), u.Path
}

// LandingPath returns just the path component of a landing page URL,
// falling back to the raw string if it doesn't parse or has no path.
func LandingPath(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}
