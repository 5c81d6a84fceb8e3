package model

import "time"

type Comment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	FeatureID string    `gorm:"size:36;not null;index" json:"feature_id"`
	UserID    string    `gorm:"size:64;not null" json:"user_id"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (Comment) TableName() string { return "feature_comments" }
