package models

import (
	"time"
)

const (
	// BaselineRating is the rating every driver starts with.
	BaselineRating uint8 = 100
	MinRating      uint8 = 0
	MaxRating      uint8 = 100
)

// Driver tracks registration, availability and cumulative stats for one account.
// Rows are never deleted; Registered only ever goes false → true.
type Driver struct {
	Account string `gorm:"primaryKey;type:varchar(42)" json:"account"`

	Registered bool `gorm:"not null;default:false" json:"registered"`
	Available  bool `gorm:"not null;default:false;index" json:"available"`

	// Stats
	DeliveryCount uint64 `gorm:"not null;default:0" json:"delivery_count"`
	Rating        uint8  `gorm:"not null" json:"rating"`

	RegisteredAt time.Time `gorm:"not null" json:"registered_at"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
