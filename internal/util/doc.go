// Package util provides small helpers shared by Pi Manager packages.
// It includes dotted version comparison, revision abbreviation and human-readable durations.
//
// Key components:
//   - CompareVersions: Orders dotted numeric version strings.
//   - ShortRevision: Abbreviates a revision identifier.
//   - FormatDuration: Renders a duration as "1 day, 2 hours, 3 minutes".
//
// Usage example:
//
//	if util.CompareVersions(latest, current) > 0 {
//	    logrus.Info("Newer version published")
//	}
package util
