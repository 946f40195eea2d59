package resilience

import "time"

// prune drops timestamps at or before cutoff. ts is ordered oldest first, so
// the retained suffix is re-sliced in place.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	n := copy(ts, ts[i:])
	return ts[:n]
}
