// Package pool holds the participants currently waiting for a coffee chat
// and implements the claim protocol that keeps two concurrent decisions from
// pairing the same person twice.
package pool

import (
	"context"
	"time"

	"github.com/adlib/coffee-chat/internal/matching"
)

// Pool is the candidate store consulted by the matchmaker.
//
// Candidates are always returned in arrival order, oldest first. Since the
// decision procedure is first-fit, that order is what makes matching FIFO
// fair.
type Pool interface {
	// Candidates returns unmatched participants whose duration is within
	// tolerance of duration.
	Candidates(ctx context.Context, duration, tolerance time.Duration) ([]matching.Participant, error)

	// Add stores p, replacing any entry with the same username. Matched
	// participants are stored for lookup but never offered as candidates.
	Add(ctx context.Context, p matching.Participant) error

	// Remove withdraws username. Removing an unknown username is not an error.
	Remove(ctx context.Context, username string) error

	// Withdraw removes username unless it is matched. It returns false, and
	// leaves the entry untouched, when the participant has been claimed.
	Withdraw(ctx context.Context, username string) (bool, error)

	// Get returns the stored participant, or nil if there is none.
	Get(ctx context.Context, username string) (*matching.Participant, error)

	// Claim atomically marks an unmatched username as matched under matchID
	// and takes it out of the candidate set. It returns false when the entry
	// is gone or was already claimed by someone else.
	Claim(ctx context.Context, username, matchID string) (bool, error)

	// Release undoes a Claim made under matchID, putting the participant
	// back into the candidate set.
	Release(ctx context.Context, username, matchID string) error

	// Expire drops every entry whose availability ended at or before now and
	// returns the removed usernames.
	Expire(ctx context.Context, now time.Time) ([]string, error)

	// Size returns the number of participants waiting for a match.
	Size(ctx context.Context) (int64, error)
}
