// Package util provides small helpers shared by Pi Manager packages.
package util

import (
	"strconv"
	"strings"
	"time"
)

// shortRevisionLength is the number of characters kept by ShortRevision.
const shortRevisionLength = 7

// durationUnits lists the units used by FormatDuration, largest first.
var durationUnits = []struct {
	size     time.Duration
	singular string
	plural   string
}{
	{24 * time.Hour, "day", "days"},
	{time.Hour, "hour", "hours"},
	{time.Minute, "minute", "minutes"},
	{time.Second, "second", "seconds"},
}

// ShortRevision abbreviates a revision identifier to its first seven characters.
func ShortRevision(revision string) string {
	if len(revision) <= shortRevisionLength {
		return revision
	}

	return revision[:shortRevisionLength]
}

// FormatDuration renders a duration as "1 day, 2 hours, 3 minutes, 4 seconds".
//
// Zero units are left out and sub-second remainders are dropped, so any
// duration below one second renders as "0 seconds".
//
// Parameters:
//   - duration: Duration to render, negative values are treated as zero.
//
// Returns:
//   - string: Human-readable duration.
func FormatDuration(duration time.Duration) string {
	remaining := max(duration, 0)
	parts := make([]string, 0, len(durationUnits))

	for _, unit := range durationUnits {
		count := int64(remaining / unit.size)
		remaining -= time.Duration(count) * unit.size

		parts = append(parts, pluralize(count, unit.singular, unit.plural))
	}

	joined := strings.Join(FilterEmpty(parts), ", ")
	if joined == "" {
		return "0 seconds"
	}

	return joined
}

// pluralize renders count with the matching unit label, or "" for zero.
func pluralize(count int64, singular, plural string) string {
	switch count {
	case 0:
		return ""
	case 1:
		return "1 " + singular
	default:
		return strconv.FormatInt(count, 10) + " " + plural
	}
}

// FilterEmpty removes empty strings from a slice.
func FilterEmpty(parts []string) []string {
	var filtered []string

	for _, part := range parts {
		if part != "" {
			filtered = append(filtered, part)
		}
	}

	return filtered
}
