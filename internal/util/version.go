package util

import (
	"strings"
)

// CompareVersions orders two dotted version strings.
//
// A leading "v" is stripped, the rest is split on ".", and each component is
// read as its leading decimal digits (a component without any counts as 0).
// Components are compared as digit strings, so they may be arbitrarily long.
// Missing trailing components are treated as 0, so "1.2" equals "1.2.0".
//
// Parameters:
//   - a: First version.
//   - b: Second version.
//
// Returns:
//   - int: 1 if a is newer, -1 if b is newer, 0 if they are equal.
func CompareVersions(a, b string) int {
	left := versionParts(a)
	right := versionParts(b)

	length := max(len(left), len(right))

	for i := range length {
		var l, r string
		if i < len(left) {
			l = left[i]
		}

		if i < len(right) {
			r = right[i]
		}

		if order := compareDigits(l, r); order != 0 {
			return order
		}
	}

	return 0
}

// versionParts splits a version into its numeric components, each without
// leading zeros. A zero component is the empty string.
func versionParts(version string) []string {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")

	fields := strings.Split(version, ".")
	parts := make([]string, 0, len(fields))

	for _, field := range fields {
		parts = append(parts, strings.TrimLeft(leadingDigits(field), "0"))
	}

	return parts
}

// leadingDigits returns the decimal digits at the start of s.
func leadingDigits(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		return s
	}

	return s[:end]
}

// compareDigits orders two digit strings without leading zeros.
func compareDigits(l, r string) int {
	switch {
	case len(l) > len(r):
		return 1
	case len(l) < len(r):
		return -1
	}

	return strings.Compare(l, r)
}
