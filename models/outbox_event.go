package models

import (
	"time"
)

// OutboxEvent is one domain event, written in the same transaction as the
// state change it describes. DispatchedAt is set once the relay published it.
type OutboxEvent struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"id"` // cursor for readers
	UID          string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"uid"`
	Type         string     `gorm:"type:varchar(32);index;not null" json:"type"`
	RequestID    *uint64    `gorm:"index" json:"request_id,omitempty"`
	Account      string     `gorm:"type:varchar(42);index" json:"account,omitempty"`
	Counterparty string     `gorm:"type:varchar(42);index" json:"counterparty,omitempty"` // other party of the request, if any
	Payload      string     `gorm:"type:text;not null" json:"payload"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	DispatchedAt *time.Time `gorm:"index" json:"dispatched_at,omitempty"`
}

// Involves reports whether account is the event's actor or its counterparty.
func (e *OutboxEvent) Involves(account string) bool {
	return account != "" && (e.Account == account || e.Counterparty == account)
}
