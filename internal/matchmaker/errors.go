package matchmaker

import "errors"

var (
	// ErrInvalidRequest is returned when a join request fails validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound is returned when the participant or match does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClaimConflict is returned when every attempt to claim a partner lost
	// to a concurrent join.
	ErrClaimConflict = errors.New("claim conflict")
)
