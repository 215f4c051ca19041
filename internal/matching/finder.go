package matching

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultPadding is the buffer added to the meeting length when checking
// that both participants are free long enough.
const DefaultPadding = 10 * time.Minute

// Rules are the tunable constants of a decision pass.
type Rules struct {
	Padding           time.Duration
	DurationTolerance time.Duration // 0 requires equal durations
	MinSameFields     int
}

// DefaultRules returns the rules the service runs with unless configured.
func DefaultRules() Rules {
	return Rules{
		Padding:       DefaultPadding,
		MinSameFields: DefaultMinSameFields,
	}
}

// Finder runs the first-fit decision procedure.
type Finder struct {
	rules Rules
	newID func() string
}

// FinderOption customises a Finder.
type FinderOption func(*Finder)

// WithIDGenerator replaces the match ID generator. Tests use it to make
// results fully reproducible.
func WithIDGenerator(fn func() string) FinderOption {
	return func(f *Finder) { f.newID = fn }
}

// NewFinder creates a Finder for the given rules.
func NewFinder(rules Rules, opts ...FinderOption) *Finder {
	f := &Finder{rules: rules, newID: uuid.NewString}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Rules returns the rules the finder was built with.
func (f *Finder) Rules() Rules { return f.rules }

// FindMatch walks candidates in the order given and returns a Match with the
// first one that passes every gate: duration, time window, preference
// compatibility and preference satisfaction. It returns nil, nil when no
// candidate qualifies. Candidates sharing p's username or already matched are
// skipped.
//
// An unknown preference on p or on a candidate is an input error and stops
// the pass with ErrInvalidPreference.
func (f *Finder) FindMatch(p Participant, candidates []Participant, now time.Time) (*Match, error) {
	if !p.Preference.Valid() {
		return nil, fmt.Errorf("matching: participant %s: %w %q", p.Username, ErrInvalidPreference, p.Preference)
	}

	for _, c := range candidates {
		if c.Username == p.Username || c.Status == StatusMatched {
			continue
		}
		if !c.Preference.Valid() {
			return nil, fmt.Errorf("matching: candidate %s: %w %q", c.Username, ErrInvalidPreference, c.Preference)
		}

		duration, ok := IsCompatibleDuration(p.Duration, c.Duration, f.rules.DurationTolerance)
		if !ok {
			continue
		}
		if !IsCompatibleTime(duration, f.rules.Padding, now, p.AvailableUntil, c.AvailableUntil) {
			continue
		}
		pref, ok := CombinePreferences(p.Preference, c.Preference)
		if !ok {
			continue
		}
		same := CountSameFields(p, c)
		if !IsSatisfied(pref, same, f.rules.MinSameFields) {
			continue
		}

		return &Match{
			ID:             f.newID(),
			FirstUsername:  p.Username,
			SecondUsername: c.Username,
			Duration:       duration,
			Preference:     pref,
			SameFields:     same,
			CreatedAt:      now,
		}, nil
	}
	return nil, nil
}
