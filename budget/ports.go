package budget

import (
	"context"
	"time"

	"VoteBoard/model"
)

// Backend is the authoritative store of votes.
type Backend interface {
	GetFeatureRequest(ctx context.Context, featureID string) (model.FeatureRequest, error)
	GetVote(ctx context.Context, featureID, userID string) (model.Vote, bool, error)
	// SaveVote creates or updates the (featureID, userID) row to votes (1..TotalVotes).
	SaveVote(ctx context.Context, featureID, userID string, votes int) error
	DeleteVote(ctx context.Context, featureID, userID string) error
	// ReallocateVotes removes the user's rows on withdrawIDs and sets featureID
	// to votes (1..TotalVotes), all in one transaction.
	ReallocateVotes(ctx context.Context, userID string, withdrawIDs []string, featureID string, votes int) error
	// ListUserVotes returns the user's votes ordered by votes_allocated descending.
	ListUserVotes(ctx context.Context, userID string) ([]model.VoteCandidate, error)
	GetUserVotesUsed(ctx context.Context, userID string) (int, error)
}

// PendingProposal is an allocation waiting for the user to free up votes.
type PendingProposal struct {
	UserID       string                `json:"user_id"`
	FeatureID    string                `json:"feature_id"`
	DesiredVotes int                   `json:"desired_votes"`
	VotesNeeded  int                   `json:"votes_needed"`
	Candidates   []model.VoteCandidate `json:"candidates"`
	CreatedAt    time.Time             `json:"created_at"`
}

type PendingStore interface {
	GetPending(ctx context.Context, userID string) (PendingProposal, bool, error)
	PutPending(ctx context.Context, p PendingProposal, ttl time.Duration) error
	DeletePending(ctx context.Context, userID string) error
}

// Locker serializes vote mutations of one user.
type Locker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

type EventType string

const (
	EventAllocated EventType = "vote.allocated"
	EventWithdrawn EventType = "vote.withdrawn"
)

// VoteEvent describes a settled vote mutation.
type VoteEvent struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"user_id"`
	FeatureIDs []string  `json:"feature_ids"`
	Votes      int       `json:"votes"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e VoteEvent) error
}
