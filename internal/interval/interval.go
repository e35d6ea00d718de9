package interval

import (
	"errors"
	"fmt"
)

// ErrInvalidInterval is returned when From is not strictly before To.
var ErrInvalidInterval = errors.New("interval: from must be before to")

// Interval is the half-open range [From, To).
type Interval struct {
	From Timestamp `json:"from"`
	To   Timestamp `json:"to"`
}

// New builds an interval and rejects empty or inverted ranges.
func New(from, to Timestamp) (Interval, error) {
	if from >= to {
		return Interval{}, fmt.Errorf("%w: [%d, %d)", ErrInvalidInterval, from, to)
	}
	return Interval{From: from, To: to}, nil
}

// IsEmpty reports whether the interval covers no time.
func (i Interval) IsEmpty() bool {
	return i.From >= i.To
}

// Overlaps reports whether i and o share at least one instant.
func (i Interval) Overlaps(o Interval) bool {
	return i.From < o.To && o.From < i.To
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return i.From <= o.From && o.To <= i.To
}

// ContainsTimestamp reports whether t lies inside i.
func (i Interval) ContainsTimestamp(t Timestamp) bool {
	return i.From <= t && t < i.To
}

// FindFirstContaining returns the first member of set that fully contains i.
func (i Interval) FindFirstContaining(set []Interval) (Interval, bool) {
	for _, candidate := range set {
		if candidate.Contains(i) {
			return candidate, true
		}
	}
	return Interval{}, false
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.From, i.To)
}
