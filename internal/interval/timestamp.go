// Package interval holds the time primitives shared by the synchronization
// engine and the issuance saga: a second-resolution Timestamp, the half-open
// Interval and the always-merged MissingSet.
package interval

import "time"

// Timestamp is a point in time as whole seconds since the unix epoch.
type Timestamp int64

const (
	secondsPerHour = int64(time.Hour / time.Second)
	secondsPerDay  = 24 * secondsPerHour
)

// FromTime truncates t to whole seconds.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.Unix())
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// Time converts the timestamp to a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0).UTC()
}

// Seconds returns the raw unix seconds.
func (t Timestamp) Seconds() int64 {
	return int64(t)
}

// Add shifts the timestamp by d, truncated to whole seconds.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d/time.Second)
}

// Sub returns the duration t-u.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t-u) * time.Second
}

// RoundToLatestHour rounds down to the start of the hour.
func (t Timestamp) RoundToLatestHour() Timestamp {
	return Timestamp(floorDiv(int64(t), secondsPerHour) * secondsPerHour)
}

// RoundToNextHour rounds up to the next hour boundary. A timestamp already on
// a boundary is returned unchanged.
func (t Timestamp) RoundToNextHour() Timestamp {
	latest := t.RoundToLatestHour()
	if latest == t {
		return t
	}
	return latest + Timestamp(secondsPerHour)
}

// RoundToLatestMidnight rounds down to 00:00 UTC of the same day.
func (t Timestamp) RoundToLatestMidnight() Timestamp {
	return Timestamp(floorDiv(int64(t), secondsPerDay) * secondsPerDay)
}

func (t Timestamp) String() string {
	return t.Time().Format(time.RFC3339)
}

// Min returns the earlier of a and b.
func Min(a, b Timestamp) Timestamp {
	if a < b {
		return a
	}
	return b
}

// Max returns the later of a and b.
func Max(a, b Timestamp) Timestamp {
	if a > b {
		return a
	}
	return b
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
