// Package biztime provides time utilities for presence tracking.
// All storage and transport use UTC; liveness math operates at seconds
// resolution, matching the heartbeat wire format.
package biztime

import (
	"fmt"
	"time"
)

// NowUTC returns current time in UTC.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// NowUnix returns the current UTC time truncated to whole seconds.
// Liveness comparisons use this so the relational and key-value backends
// (which store unix seconds) agree on what "now" means.
func NowUnix() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// FromUnix converts unix seconds to a UTC time.
func FromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// FromUnixMilli converts epoch milliseconds (the client activity timestamp
// format) to a UTC time.
func FromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FormatMetadataTime formats a UTC time for storage in metadata using RFC3339 format.
func FormatMetadataTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseMetadataTime parses a timestamp from metadata string (RFC3339 format).
func ParseMetadataTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid metadata timestamp format %q: %w", s, err)
	}
	return t, nil
}
