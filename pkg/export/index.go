package export

import (
	"path"
	"strings"
	"unicode/utf16"
)

// NormalizePath cleans an export path: "." and ".." elements are resolved,
// redundant separators are removed and the result is always absolute.
func NormalizePath(p string) string {
	return path.Clean("/" + p)
}

// Segments splits a path into its non-empty elements after normalization.
func Segments(p string) []string {
	var out []string
	for _, s := range strings.Split(NormalizePath(p), "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Index computes the export index of a path.
//
// The index is embedded in every object handle and must therefore be stable
// across processes and releases:
//
//	idx = 1
//	for each segment s: idx = 31*idx + hash32(s)
//
// computed with 32-bit wraparound.
func Index(p string) int32 {
	idx := int32(1)
	for _, s := range Segments(p) {
		idx = 31*idx + hash32(s)
	}
	return idx
}

// hash32 is the classic polynomial string hash
// s[0]*31^(n-1) + s[1]*31^(n-2) + ... + s[n-1] over UTF-16 code units.
func hash32(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}
