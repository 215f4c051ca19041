package matching

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPreference is returned for a matching preference tag that is not
// one of similar, different or any.
var ErrInvalidPreference = errors.New("invalid preference")

// Preference is a participant's declared wish about who they meet.
type Preference string

const (
	PreferenceSimilar   Preference = "similar"
	PreferenceDifferent Preference = "different"
	PreferenceAny       Preference = "any"
)

// ParsePreference converts a client supplied tag into a Preference.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParsePreference(s string) (Preference, error) {
	p := Preference(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("matching: %w %q", ErrInvalidPreference, s)
	}
	return p, nil
}

// Valid reports whether p is a known preference.
func (p Preference) Valid() bool {
	switch p {
	case PreferenceSimilar, PreferenceDifferent, PreferenceAny:
		return true
	}
	return false
}

func (p Preference) String() string { return string(p) }

// CombinePreferences resolves two declared preferences into the effective
// preference for the pair. Any is absorbing: it yields the other side's
// value. Similar and different cannot be combined; ok is false for that pair
// and for any unknown value.
func CombinePreferences(a, b Preference) (p Preference, ok bool) {
	if !a.Valid() || !b.Valid() {
		return "", false
	}
	switch {
	case a == PreferenceAny:
		return b, true
	case b == PreferenceAny:
		return a, true
	case a == b:
		return a, true
	}
	return "", false
}
