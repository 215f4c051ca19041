// Package matching decides whether a newly arrived participant can be paired
// with someone from a snapshot of the waiting pool, and on what terms.
//
// Everything in this package is a pure function of its inputs: no I/O, no
// locks, no wall-clock reads. Callers hand in the reference time for a pass
// and own all persistence and concurrency control.
package matching

import "time"

// Status tracks where a participant is in its lifecycle.
type Status string

const (
	StatusUnmatched Status = "unmatched"
	StatusMatched   Status = "matched"
)

// Participant is a person currently waiting for a coffee chat.
type Participant struct {
	Username       string
	Duration       time.Duration // requested meeting length
	AvailableUntil time.Time     // when the participant's free time ends
	Role           string
	ProductArea    string
	Interests      []string // carried for display, not scored
	Preference     Preference
	MatchID        string
	Status         Status
	JoinedAt       time.Time
}

// Match is the immutable result of a successful pairing.
type Match struct {
	ID             string        `json:"id"`
	FirstUsername  string        `json:"first_username"`  // the new arrival
	SecondUsername string        `json:"second_username"` // the pool candidate
	Duration       time.Duration `json:"duration"`
	Preference     Preference    `json:"preference"` // effective preference of the pair
	SameFields     int           `json:"same_fields"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Partner returns the other side of the match for username, or "" if
// username is not part of it.
func (m *Match) Partner(username string) string {
	switch username {
	case m.FirstUsername:
		return m.SecondUsername
	case m.SecondUsername:
		return m.FirstUsername
	}
	return ""
}

// Involves reports whether username is one of the two matched participants.
func (m *Match) Involves(username string) bool {
	return username == m.FirstUsername || username == m.SecondUsername
}
