package matching

import "time"

// IsCompatibleTime reports whether a meeting of duration, plus padding for
// wrap-up, fits before either participant's availability ends. now must be
// the single reference time of the decision pass.
func IsCompatibleTime(duration, padding time.Duration, now, endA, endB time.Time) bool {
	earliest := endA
	if endB.Before(earliest) {
		earliest = endB
	}
	return now.Add(duration + padding).Before(earliest)
}

// IsCompatibleDuration reports whether two requested durations differ by at
// most tolerance and returns the effective meeting length, the shorter of
// the two. A zero tolerance requires the durations to be equal.
func IsCompatibleDuration(a, b, tolerance time.Duration) (time.Duration, bool) {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return 0, false
	}
	return min(a, b), true
}
