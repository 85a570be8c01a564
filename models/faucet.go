package models

import (
	"time"
)

// FaucetStateID is the primary key of the singleton FaucetState row.
const FaucetStateID = 1

// FaucetClaimRecord is keyed by account: last successful claim + audit totals.
type FaucetClaimRecord struct {
	Account      string    `gorm:"primaryKey;type:varchar(42)" json:"account"`
	LastClaimAt  time.Time `gorm:"not null" json:"last_claim_at"`
	TotalClaimed Amount    `gorm:"not null" json:"total_claimed"`
	ClaimCount   uint64    `gorm:"not null;default:0" json:"claim_count"`

	Timestamps
}

// FaucetState holds the process-wide dispensed total (single row).
type FaucetState struct {
	ID             uint   `gorm:"primaryKey" json:"-"`
	TotalDispensed Amount `gorm:"not null" json:"total_dispensed"`

	Timestamps
}
