package util

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxDisplayNameRunes = 255
	maxExtensionRunes   = 16
)

// DisplayFileName reduces an untrusted client file name to a single path
// element that is safe to store and echo back. It is never used as a storage key.
func DisplayFileName(name string) string {
	s := strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "upload"
	}
	if utf8.RuneCountInString(s) > maxDisplayNameRunes {
		// Downstream services key off the extension, so the cut comes out of the stem.
		ext := path.Ext(s)
		if utf8.RuneCountInString(ext) > maxExtensionRunes {
			ext = ""
		}
		stem := strings.TrimSuffix(s, ext)
		s = Truncate(stem, maxDisplayNameRunes-utf8.RuneCountInString(ext)) + ext
	}
	return s
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
