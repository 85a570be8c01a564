package models

import (
	"time"
)

// DefaultMilestoneSize is how many completed deliveries earn one badge.
const DefaultMilestoneSize = 5

// ReputationBadgeCounter: how many badges the issuer has minted for a driver.
// Invariant: BadgesMinted converges on DeliveryCount / milestone size.
type ReputationBadgeCounter struct {
	Driver       string     `gorm:"primaryKey;type:varchar(42)" json:"driver"`
	BadgesMinted uint64     `gorm:"not null;default:0" json:"badges_minted"`
	LastMintedAt *time.Time `json:"last_minted_at,omitempty"`

	Timestamps
}

// ReputationBadge: a minted non-fungible badge token (one row per mint)
type ReputationBadge struct {
	TokenID     uint64    `gorm:"primaryKey;autoIncrement" json:"token_id"`
	Owner       string    `gorm:"type:varchar(42);index;not null" json:"owner"`
	Milestone   uint64    `gorm:"not null" json:"milestone"` // 1 = first badge, 2 = second...
	Name        string    `gorm:"not null" json:"name"`      // "Courier Milestone #1"
	Tier        string    `gorm:"type:varchar(16);not null" json:"tier"`
	MetadataURL string    `gorm:"type:text" json:"metadata_url,omitempty"` // R2 URL of the token metadata JSON
	MintedAt    time.Time `gorm:"not null" json:"minted_at"`
}

// BadgeTiers names badge tiers by milestone, last entry repeats.
var BadgeTiers = []string{
	"bronze",
	"silver",
	"gold",
	"platinum",
	"diamond",
}

func BadgeTier(milestone uint64) string {
	if milestone == 0 {
		return BadgeTiers[0]
	}
	i := milestone - 1
	if i >= uint64(len(BadgeTiers)) {
		i = uint64(len(BadgeTiers) - 1)
	}
	return BadgeTiers[i]
}
