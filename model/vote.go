package model

import "time"

// TotalVotes is the fixed vote budget of every user.
const TotalVotes = 10

// Vote is how many of a user's budget units are committed to one feature.
// A row exists only while VotesAllocated is in 1..TotalVotes.
type Vote struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	FeatureID      string    `gorm:"size:36;not null;uniqueIndex:idx_feature_votes_feature_user" json:"feature_id"`
	UserID         string    `gorm:"size:64;not null;uniqueIndex:idx_feature_votes_feature_user;index" json:"user_id"`
	VotesAllocated int       `gorm:"not null;check:votes_allocated >= 1 AND votes_allocated <= 10" json:"votes_allocated"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Vote) TableName() string { return "feature_votes" }

// VoteCandidate is a user's vote joined with its feature, as offered for withdrawal.
type VoteCandidate struct {
	FeatureID      string `json:"feature_id"`
	Title          string `json:"title"`
	Module         string `json:"module"`
	VotesAllocated int    `json:"votes_allocated"`
}
