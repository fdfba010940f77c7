package util

import (
	"strings"
	"unicode/utf8"
)

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// TruncateRunes shortens s to at most n runes and appends suffix when
// something was cut off.
func TruncateRunes(s string, n int, suffix string) string {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + suffix
}

// SafeFilename replaces path separators and other characters that are
// awkward in file names or object keys.
func SafeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return strings.TrimSpace(replacer.Replace(name))
}
