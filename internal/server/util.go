package server

import (
	"path/filepath"
	"strings"
)

// sanitizeBase normalizes a base path to "" or "/x/y" with no trailing slash.
func sanitizeBase(base string) string {
	b := strings.TrimSpace(base)
	if b == "" || b == "/" {
		return ""
	}
	if !strings.HasPrefix(b, "/") {
		b = "/" + b
	}
	return strings.TrimRight(b, "/")
}

// isSafeName allows [A-Za-z0-9._-] and rejects traversal or separators.
func isSafeName(name string) bool {
	if name == "" || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// isSafeAbsPath accepts the empty path or an absolute, traversal-free path.
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	return !strings.Contains(p, "..")
}
