package timeparser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AgeBoundary selects how a measurement sitting exactly on the minimum age
// cutoff is treated.
type AgeBoundary string

const (
	// AgeBoundaryInclusive accepts a measurement whose age equals the minimum.
	AgeBoundaryInclusive AgeBoundary = "inclusive"
	// AgeBoundaryStrict requires the age to exceed the minimum.
	AgeBoundaryStrict AgeBoundary = "strict"
)

// ParseAgeBoundary maps a config value to an AgeBoundary.
func ParseAgeBoundary(s string) (AgeBoundary, error) {
	switch AgeBoundary(strings.ToLower(strings.TrimSpace(s))) {
	case AgeBoundaryInclusive, "":
		return AgeBoundaryInclusive, nil
	case AgeBoundaryStrict:
		return AgeBoundaryStrict, nil
	default:
		return "", fmt.Errorf("unknown age boundary %q (want inclusive or strict)", s)
	}
}

// ParseMeterTimestamp attempts to parse a measurement timestamp with multiple formats
func ParseMeterTimestamp(dateStr string) (time.Time, error) {
	dateStr = strings.Trim(strings.TrimSpace(dateStr), `"`)

	// Unix seconds, as served by the measurement API
	if seconds, err := strconv.ParseInt(dateStr, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}

	formats := []string{
		time.RFC3339,          // Standard RFC3339
		time.RFC3339Nano,      // RFC3339 with fractional seconds
		"2006-01-02T15:04:05", // ISO without zone, read as UTC
		"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// IsOldEnough checks whether a reading that ended at readingEnd has aged at
// least minAge relative to now under the given boundary rule.
func IsOldEnough(readingEnd, now time.Time, minAge time.Duration, boundary AgeBoundary) bool {
	age := now.Sub(readingEnd)
	if boundary == AgeBoundaryStrict {
		return age > minAge
	}
	return age >= minAge
}
