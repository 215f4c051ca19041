// Package store persists agreed matches and the profiles of users who asked
// for their preferences to be remembered.
package store

import (
	"context"
	"slices"
	"time"

	"github.com/adlib/coffee-chat/internal/matching"
)

// User is a saved profile. It is written when a participant joins with
// savePreference set, and used to prefill later requests.
type User struct {
	Username    string              `json:"username"`
	Role        string              `json:"role"`
	ProductArea string              `json:"productArea"`
	Interests   []string            `json:"interests"`
	Preference  matching.Preference `json:"matchPreference"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// MatchStore records every pairing the matchmaker commits to.
type MatchStore interface {
	Create(ctx context.Context, m *matching.Match) error
	// Get returns nil, nil when no match has the given ID.
	Get(ctx context.Context, id string) (*matching.Match, error)
}

// UserStore keeps saved user profiles.
type UserStore interface {
	// Save inserts or replaces the profile for u.Username.
	Save(ctx context.Context, u *User) error
	// Get returns nil, nil for an unknown username.
	Get(ctx context.Context, username string) (*User, error)
}

func cloneUser(u *User) *User {
	c := *u
	c.Interests = slices.Clone(u.Interests)
	return &c
}
