package model

import (
	"strings"
	"time"
)

// FeatureStatus is the lifecycle state of a feature request.
type FeatureStatus string

const (
	StatusOpen       FeatureStatus = "open"
	StatusInProgress FeatureStatus = "in_progress"
	StatusCompleted  FeatureStatus = "completed"
	StatusRejected   FeatureStatus = "rejected"
	StatusOnHold     FeatureStatus = "on_hold"
)

// Modules a feature request can be tagged with.
var Modules = []string{"crm", "invoicing", "bookings", "subscriptions", "feature_requests", "settings", "general"}

func (s FeatureStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusRejected, StatusOnHold:
		return true
	}
	return false
}

// ValidModule reports whether m is one of Modules.
func ValidModule(m string) bool {
	m = strings.TrimSpace(m)
	for _, known := range Modules {
		if known == m {
			return true
		}
	}
	return false
}

// FeatureRequest is a suggestion users spend votes on.
// VoteCount is maintained by the store from feature_votes and never written by clients.
type FeatureRequest struct {
	ID          string        `gorm:"primaryKey;size:36" json:"id"`
	Title       string        `gorm:"size:200;not null" json:"title"`
	Description string        `gorm:"type:text;not null" json:"description"`
	Module      string        `gorm:"size:32;not null;index" json:"module"`
	Status      FeatureStatus `gorm:"size:16;not null;default:open;index" json:"status"`
	VoteCount   int           `gorm:"not null;default:0" json:"vote_count"`
	CreatedBy   string        `gorm:"size:64;index" json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (FeatureRequest) TableName() string { return "feature_requests" }

// FeatureFilter narrows ListFeatureRequests. Zero values mean no filter.
type FeatureFilter struct {
	Status FeatureStatus
	Module string
	Sort   FeatureSort
}

type FeatureSort string

const (
	SortMostVoted FeatureSort = "votes"
	SortNewest    FeatureSort = "newest"
)
