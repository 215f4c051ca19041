package matching

// DefaultMinSameFields is how many identical attributes make a pair similar.
const DefaultMinSameFields = 1

// CountSameFields counts the comparable attributes (role, product area) that
// are identical between a and b. Comparison is exact and case-sensitive.
func CountSameFields(a, b Participant) int {
	n := 0
	if a.Role == b.Role {
		n++
	}
	if a.ProductArea == b.ProductArea {
		n++
	}
	return n
}

// IsSatisfied reports whether a pair sharing same attributes satisfies the
// effective preference pref, given the similarity threshold.
func IsSatisfied(pref Preference, same, threshold int) bool {
	switch pref {
	case PreferenceAny:
		return true
	case PreferenceSimilar:
		return same >= threshold
	case PreferenceDifferent:
		return same < threshold
	}
	return false
}
