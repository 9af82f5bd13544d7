package tiptree

import "strings"

// SplitPath breaks a slash-delimited path into its segments. Empty
// segments are dropped, so leading, trailing and repeated slashes don't
// matter, and both "" and "/" are the root (no segments).
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// JoinPath is the inverse of SplitPath, always giving a leading slash.
func JoinPath(segments []string) string {
	return "/" + strings.Join(segments, "/")
}
