// Package domain contains persistence models for raw card usage records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord stores one card usage. Only Amount and Active change after
// creation.
type UsageRecord struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Path       string       `gorm:"type:varchar(191);uniqueIndex;not null" json:"path"`
	Amount     int64        `gorm:"not null" json:"amount"`
	OccurredAt time.Time    `gorm:"not null;index" json:"occurred_at"`
	Merchant   string       `gorm:"type:text" json:"merchant,omitempty"`
	Note       string       `gorm:"type:text" json:"note,omitempty"`
	Active     bool         `gorm:"not null" json:"active"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
