package budget

import "errors"

var (
	ErrUnauthenticated       = errors.New("sign in to vote")
	ErrInvalidVotes          = errors.New("votes must be between 0 and 10")
	ErrInvalidFeature        = errors.New("feature id is required")
	ErrFeatureNotFound       = errors.New("feature request not found")
	ErrInsufficientVotes     = errors.New("not enough votes remaining")
	ErrNoPendingProposal     = errors.New("no pending withdrawal")
	ErrUnknownCandidate      = errors.New("selected feature is not one of your votes")
	ErrInsufficientSelection = errors.New("selected votes do not cover the votes needed")
	ErrIncrementDisabled     = errors.New("no votes remaining")
	ErrDecrementDisabled     = errors.New("no votes to remove")
	ErrLockTimeout           = errors.New("another vote change is in progress")

	// ErrBackend wraps every storage failure; the operation was not applied.
	ErrBackend = errors.New("vote backend request failed")
)
