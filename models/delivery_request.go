package models

import (
	"time"

	"gorm.io/gorm"
)

// RequestStatus is a projection of the request flags; the flags stay the source of truth.
type RequestStatus string

const (
	RequestStatusOpen      RequestStatus = "open"
	RequestStatusAssigned  RequestStatus = "assigned"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// DeliveryRequest is one escrowed delivery job.
type DeliveryRequest struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Requester string `gorm:"type:varchar(42);not null;index" json:"requester"`

	Description     string `gorm:"type:text" json:"description"`
	PickupLocation  string `gorm:"type:text" json:"pickup_location"`
	DropoffLocation string `gorm:"type:text" json:"dropoff_location"`

	// 💰 Escrow
	Amount   Amount `gorm:"not null" json:"amount"`
	Escrowed Amount `gorm:"not null" json:"escrowed"` // held in custody for this request; zero once terminal

	// 🚚 Assignment (write-once)
	AssignedDriver *string    `gorm:"type:varchar(42);index" json:"assigned_driver,omitempty"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`

	// ✅ Dual confirmation (one-way flags)
	RequesterConfirmed bool `gorm:"not null;default:false" json:"requester_confirmed"`
	DriverConfirmed    bool `gorm:"not null;default:false" json:"driver_confirmed"`

	// Terminal flags, mutually exclusive
	Completed   bool       `gorm:"not null;default:false;index" json:"completed"`
	Cancelled   bool       `gorm:"not null;default:false;index" json:"cancelled"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Timestamps

	Status RequestStatus `gorm:"-" json:"status"`
}

// DeriveStatus computes the canonical status from the flags.
func (r *DeliveryRequest) DeriveStatus() RequestStatus {
	switch {
	case r.Completed:
		return RequestStatusCompleted
	case r.Cancelled:
		return RequestStatusCancelled
	case r.AssignedDriver != nil:
		return RequestStatusAssigned
	default:
		return RequestStatusOpen
	}
}

// IsActive is true for requests that are neither completed nor cancelled.
func (r *DeliveryRequest) IsActive() bool {
	return !r.Completed && !r.Cancelled
}

func (r *DeliveryRequest) IsAssigned() bool {
	return r.AssignedDriver != nil
}

// BothConfirmed reports whether requester and driver have both attested delivery.
func (r *DeliveryRequest) BothConfirmed() bool {
	return r.RequesterConfirmed && r.DriverConfirmed
}

// AfterFind fills the derived status on every load.
func (r *DeliveryRequest) AfterFind(tx *gorm.DB) error {
	r.Status = r.DeriveStatus()
	return nil
}

func (r *DeliveryRequest) AfterSave(tx *gorm.DB) error {
	r.Status = r.DeriveStatus()
	return nil
}
