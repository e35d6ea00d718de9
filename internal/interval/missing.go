package interval

import (
	"fmt"
	"sort"
)

// MissingSet is an ordered list of non-empty intervals where no two entries
// overlap or touch. Every constructor and operation returns a merged set.
type MissingSet []Interval

// Normalize sorts the intervals, drops empty entries and merges entries that
// overlap or share a boundary.
func Normalize(intervals []Interval) MissingSet {
	sorted := make([]Interval, 0, len(intervals))
	for _, i := range intervals {
		if !i.IsEmpty() {
			sorted = append(sorted, i)
		}
	}
	if len(sorted) == 0 {
		return MissingSet{}
	}

	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].From == sorted[b].From {
			return sorted[a].To < sorted[b].To
		}
		return sorted[a].From < sorted[b].From
	})

	merged := MissingSet{sorted[0]}
	for _, next := range sorted[1:] {
		last := &merged[len(merged)-1]
		if next.From <= last.To {
			last.To = Max(last.To, next.To)
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// Union merges two sets.
func (m MissingSet) Union(other []Interval) MissingSet {
	all := make([]Interval, 0, len(m)+len(other))
	all = append(all, m...)
	all = append(all, other...)
	return Normalize(all)
}

// Subtract removes every instant covered by covered from the set. Partial
// coverage leaves the uncovered remainder behind at full second resolution.
func (m MissingSet) Subtract(covered []Interval) MissingSet {
	cover := Normalize(covered)
	result := make([]Interval, 0, len(m))

	for _, hole := range m {
		cursor := hole.From
		for _, c := range cover {
			if c.To <= cursor {
				continue
			}
			if c.From >= hole.To {
				break
			}
			if c.From > cursor {
				result = append(result, Interval{From: cursor, To: c.From})
			}
			cursor = Max(cursor, c.To)
			if cursor >= hole.To {
				break
			}
		}
		if cursor < hole.To {
			result = append(result, Interval{From: cursor, To: hole.To})
		}
	}
	return Normalize(result)
}

// Earliest returns the From of the first entry.
func (m MissingSet) Earliest() (Timestamp, bool) {
	if len(m) == 0 {
		return 0, false
	}
	return m[0].From, true
}

// Validate checks the ordering and merge invariant.
func (m MissingSet) Validate() error {
	for idx, i := range m {
		if i.IsEmpty() {
			return fmt.Errorf("missing interval %d is empty: %s", idx, i)
		}
		if idx > 0 && m[idx-1].To >= i.From {
			return fmt.Errorf("missing intervals %d and %d overlap or touch: %s, %s", idx-1, idx, m[idx-1], i)
		}
	}
	return nil
}
