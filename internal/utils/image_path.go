package utils

import (
	"regexp"
	"strings"
)

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// DefaultStripPrefixes are filesystem roots the detector writes frames under.
var DefaultStripPrefixes = []string{"/app"}

func IsAbsoluteURL(raw string) bool {
	return schemeRe.MatchString(raw) || strings.HasPrefix(raw, "data:")
}

// ResolveImagePath rewrites a server-relative frame path into a public URL under apiBase.
// Absolute URLs are returned unchanged, empty input yields an empty result.
func ResolveImagePath(apiBase, rawPath string, stripPrefixes ...string) string {
	path := strings.TrimSpace(rawPath)
	if path == "" {
		return ""
	}
	if IsAbsoluteURL(path) {
		return path
	}
	if stripPrefixes == nil {
		stripPrefixes = DefaultStripPrefixes
	}

	path = strings.ReplaceAll(path, "\\", "/")
	path = "/" + strings.TrimLeft(path, "/")
	for _, prefix := range stripPrefixes {
		prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
		if prefix == "/" {
			continue
		}
		if path == prefix {
			path = "/"
			break
		}
		if strings.HasPrefix(path, prefix+"/") {
			path = path[len(prefix):]
			break
		}
	}
	if path == "/" {
		return ""
	}

	return strings.TrimRight(strings.TrimSpace(apiBase), "/") + path
}

var frameClockRe = regexp.MustCompile(`(?i)_(\d{6})(?:_|\.jpe?g)`)

// FrameClock extracts HH:MM:SS from frame names like Channel1_20240601_101530.jpg.
func FrameClock(path string) string {
	m := frameClockRe.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	s := m[1]
	return s[0:2] + ":" + s[2:4] + ":" + s[4:6]
}
