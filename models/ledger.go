// models/ledger.go
package models

import (
	"time"
)

// LedgerBalance is the reference token ledger's balance row for one account.
// Table name: ledger_balances
type LedgerBalance struct {
	Account string `gorm:"primaryKey;type:varchar(42)" json:"account"`
	Balance Amount `gorm:"not null" json:"balance"`

	Timestamps
}

// LedgerAllowance is how much Spender may pull from Owner via transferFrom.
type LedgerAllowance struct {
	Owner   string `gorm:"primaryKey;type:varchar(42)" json:"owner"`
	Spender string `gorm:"primaryKey;type:varchar(42)" json:"spender"`
	Amount  Amount `gorm:"not null" json:"amount"`

	Timestamps
}

// LedgerTransfer is the ledger's own event log: one row per successful
// transfer, transferFrom or mint (From is empty for mints).
type LedgerTransfer struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	From      string    `gorm:"column:from_account;type:varchar(42);index" json:"from,omitempty"`
	To        string    `gorm:"column:to_account;type:varchar(42);not null;index" json:"to"`
	Spender   string    `gorm:"type:varchar(42)" json:"spender,omitempty"`
	Amount    Amount    `gorm:"not null" json:"amount"`
	Memo      string    `gorm:"type:varchar(64)" json:"memo,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}
