package services

import (
	"context"
	"errors"
	"fmt"

	"delivery-escrow-system/models"
	"delivery-escrow-system/utils"

	"gorm.io/gorm"
)

// DriverDirectory is what the delivery registry needs from the driver registry.
type DriverDirectory interface {
	IsDriverRegistered(ctx context.Context, account string) (bool, error)
	IsDriverAvailable(ctx context.Context, account string) (bool, error)
	RecordCompletedDelivery(ctx context.Context, caller, account string) (uint64, error)
}

// MilestoneRecorder is the badge hook run after each settlement.
type MilestoneRecorder interface {
	RecordDeliveryAndMaybeMint(ctx context.Context, driver string) (bool, error)
}

// RequestDetails is the free-text part of a request.
type RequestDetails struct {
	Description     string `json:"description"`
	PickupLocation  string `json:"pickup_location"`
	DropoffLocation string `json:"dropoff_location"`
}

type ConfirmationStatus struct {
	RequesterConfirmed bool `json:"requester_confirmed"`
	DriverConfirmed    bool `json:"driver_confirmed"`
}

// EscrowReport compares what requests say is held against what custody holds.
type EscrowReport struct {
	ActiveRequests int           `json:"active_requests"`
	Held           models.Amount `json:"held"`
	CustodyBalance models.Amount `json:"custody_balance"`
	Shortfall      models.Amount `json:"shortfall"`
	Balanced       bool          `json:"balanced"`
}

// DeliveryRegistry owns delivery requests and moves escrow through the ledger.
type DeliveryRegistry struct {
	store   *Store
	ledger  TokenLedger
	drivers DriverDirectory
	badges  MilestoneRecorder // optional
	escrow  string            // custody account; also the caller for RecordCompletedDelivery
}

func NewDeliveryRegistry(store *Store, ledger TokenLedger, drivers DriverDirectory, badges MilestoneRecorder, escrow string) *DeliveryRegistry {
	return &DeliveryRegistry{
		store:   store,
		ledger:  ledger,
		drivers: drivers,
		badges:  badges,
		escrow:  models.MustAccount(escrow),
	}
}

func (r *DeliveryRegistry) EscrowAccount() string { return r.escrow }

func (r *DeliveryRegistry) load(db *gorm.DB, id uint64) (*models.DeliveryRequest, error) {
	var req models.DeliveryRequest
	err := db.Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// CreateRequest stores a new open request and pulls amount from requester into escrow.
// The requester must have approved the escrow account beforehand.
func (r *DeliveryRegistry) CreateRequest(ctx context.Context, requester string, details RequestDetails, amount models.Amount) (*models.DeliveryRequest, error) {
	requester, err := models.ParseAccount(requester)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	var req models.DeliveryRequest
	err = r.store.Atomically(ctx, func(ctx context.Context) error {
		req = models.DeliveryRequest{
			Requester:       requester,
			Description:     details.Description,
			PickupLocation:  details.PickupLocation,
			DropoffLocation: details.DropoffLocation,
			Amount:          amount,
			Escrowed:        amount,
		}
		if err := r.store.conn(ctx).Create(&req).Error; err != nil {
			return err
		}
		if err := r.ledger.TransferFrom(ctx, r.escrow, requester, r.escrow, amount); err != nil {
			return err
		}
		return r.store.emit(ctx, EventRequestCreated, &req.ID, requester, RequestCreatedEvent{
			RequestID: req.ID,
			Requester: requester,
			Amount:    amount,
		})
	})
	if err != nil {
		return nil, err
	}

	utils.Log.Infof("📦 request %d created by %s for %s", req.ID, requester, amount)
	return &req, nil
}

// checkMutable enforces requester-only edits of open, unassigned requests.
func checkMutable(req *models.DeliveryRequest, caller string) error {
	if caller != req.Requester {
		return fmt.Errorf("%w: %s is not the requester of %d", ErrNotAuthorized, caller, req.ID)
	}
	if !req.IsActive() {
		return fmt.Errorf("%w: %d is %s", ErrRequestClosed, req.ID, req.DeriveStatus())
	}
	if req.IsAssigned() {
		return fmt.Errorf("%w: %d", ErrAlreadyAssigned, req.ID)
	}
	return nil
}

// UpdateRequest edits an open request and rebalances escrow to the new amount.
func (r *DeliveryRegistry) UpdateRequest(ctx context.Context, id uint64, caller string, details RequestDetails, amount models.Amount) (*models.DeliveryRequest, error) {
	caller, err := models.ParseAccount(caller)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	var req *models.DeliveryRequest
	err = r.store.Atomically(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		req, err = r.load(forUpdate(db), id)
		if err != nil {
			return err
		}
		if err := checkMutable(req, caller); err != nil {
			return err
		}

		previous := req.Amount
		switch amount.Cmp(previous) {
		case 1:
			diff, _ := amount.Sub(previous)
			if err := r.ledger.TransferFrom(ctx, r.escrow, req.Requester, r.escrow, diff); err != nil {
				return fmt.Errorf("%w: %w", ErrEscrowRebalanceFailed, err)
			}
		case -1:
			diff, _ := previous.Sub(amount)
			if err := r.ledger.Transfer(ctx, r.escrow, req.Requester, diff); err != nil {
				return fmt.Errorf("%w: %w", ErrEscrowRebalanceFailed, err)
			}
		}

		req.Description = details.Description
		req.PickupLocation = details.PickupLocation
		req.DropoffLocation = details.DropoffLocation
		req.Amount = amount
		req.Escrowed = amount
		if err := db.Save(req).Error; err != nil {
			return err
		}
		return r.store.emit(ctx, EventRequestUpdated, &req.ID, caller, RequestUpdatedEvent{
			RequestID:      req.ID,
			Amount:         amount,
			PreviousAmount: previous,
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// CancelRequest refunds the full escrow and closes the request.
func (r *DeliveryRegistry) CancelRequest(ctx context.Context, id uint64, caller string) (*models.DeliveryRequest, error) {
	caller, err := models.ParseAccount(caller)
	if err != nil {
		return nil, err
	}

	var req *models.DeliveryRequest
	err = r.store.Atomically(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		req, err = r.load(forUpdate(db), id)
		if err != nil {
			return err
		}
		if err := checkMutable(req, caller); err != nil {
			return err
		}

		refund := req.Escrowed
		if err := r.ledger.Transfer(ctx, r.escrow, req.Requester, refund); err != nil {
			return fmt.Errorf("failed to refund escrow for %d: %w", req.ID, err)
		}

		now := r.store.Now()
		req.Cancelled = true
		req.CancelledAt = &now
		req.Escrowed = models.Amount{}
		if err := db.Save(req).Error; err != nil {
			return err
		}
		return r.store.emit(ctx, EventRequestCancelled, &req.ID, caller, RequestCancelledEvent{
			RequestID: req.ID,
			Requester: req.Requester,
			Refunded:  refund,
		})
	})
	if err != nil {
		return nil, err
	}

	utils.Log.Infof("🚫 request %d cancelled, refunded %s", req.ID, req.Amount)
	return req, nil
}

// AcceptRequest assigns driver to an open request. Eligibility is checked first.
func (r *DeliveryRegistry) AcceptRequest(ctx context.Context, id uint64, driver string) (*models.DeliveryRequest, error) {
	driver, err := models.ParseAccount(driver)
	if err != nil {
		return nil, err
	}

	var req *models.DeliveryRequest
	err = r.store.Atomically(ctx, func(ctx context.Context) error {
		registered, err := r.drivers.IsDriverRegistered(ctx, driver)
		if err != nil {
			return err
		}
		available, err := r.drivers.IsDriverAvailable(ctx, driver)
		if err != nil {
			return err
		}
		if !registered || !available {
			return fmt.Errorf("%w: %s", ErrDriverNotEligible, driver)
		}

		db := r.store.conn(ctx)
		req, err = r.load(forUpdate(db), id)
		if err != nil {
			return err
		}
		if !req.IsActive() || req.IsAssigned() {
			return fmt.Errorf("%w: %d is %s", ErrRequestUnavailable, req.ID, req.DeriveStatus())
		}

		now := r.store.Now()
		req.AssignedDriver = &driver
		req.AcceptedAt = &now
		if err := db.Save(req).Error; err != nil {
			return err
		}
		return r.store.emitBetween(ctx, EventRequestAccepted, &req.ID, driver, req.Requester, RequestAcceptedEvent{
			RequestID: req.ID,
			Driver:    driver,
		})
	})
	if err != nil {
		return nil, err
	}

	utils.Log.Infof("🚚 request %d accepted by %s", req.ID, driver)
	return req, nil
}

type confirmer int

const (
	asRequester confirmer = iota
	asDriver
)

// ConfirmDeliveryAsUser records the requester's confirmation; settles when both have confirmed.
func (r *DeliveryRegistry) ConfirmDeliveryAsUser(ctx context.Context, id uint64, caller string) (*models.DeliveryRequest, error) {
	return r.confirm(ctx, id, caller, asRequester)
}

// ConfirmDeliveryAsDriver records the assigned driver's confirmation; settles when both have confirmed.
func (r *DeliveryRegistry) ConfirmDeliveryAsDriver(ctx context.Context, id uint64, caller string) (*models.DeliveryRequest, error) {
	return r.confirm(ctx, id, caller, asDriver)
}

// confirm commits the flag first, then settles in a separate step under the
// same sequencer hold. A failed settlement keeps the flags; a retry settles.
func (r *DeliveryRegistry) confirm(ctx context.Context, id uint64, caller string, who confirmer) (*models.DeliveryRequest, error) {
	caller, err := models.ParseAccount(caller)
	if err != nil {
		return nil, err
	}

	var req *models.DeliveryRequest
	err = r.store.Serialize(ctx, func(ctx context.Context) error {
		settle := false
		err := r.store.Atomically(ctx, func(ctx context.Context) error {
			db := r.store.conn(ctx)
			req, err = r.load(forUpdate(db), id)
			if err != nil {
				return err
			}

			switch who {
			case asRequester:
				if caller != req.Requester {
					return fmt.Errorf("%w: %s is not the requester of %d", ErrNotAuthorized, caller, req.ID)
				}
			case asDriver:
				if !req.IsAssigned() || caller != *req.AssignedDriver {
					return fmt.Errorf("%w: %s is not the driver of %d", ErrNotAuthorized, caller, req.ID)
				}
			}
			if req.Cancelled {
				return fmt.Errorf("%w: %d is cancelled", ErrRequestClosed, req.ID)
			}
			if req.Completed {
				return nil
			}
			if !req.IsAssigned() {
				return fmt.Errorf("%w: %d has no driver yet", ErrRequestUnavailable, req.ID)
			}

			flag := &req.RequesterConfirmed
			if who == asDriver {
				flag = &req.DriverConfirmed
			}
			if !*flag {
				*flag = true
				if err := db.Save(req).Error; err != nil {
					return err
				}
				other := *req.AssignedDriver
				if who == asDriver {
					other = req.Requester
				}
				if err := r.store.emitBetween(ctx, EventDeliveryConfirmed, &req.ID, caller, other, DeliveryConfirmedEvent{
					RequestID:     req.ID,
					Confirmer:     caller,
					BothConfirmed: req.BothConfirmed(),
				}); err != nil {
					return err
				}
			}
			settle = req.BothConfirmed()
			return nil
		})
		if err != nil || !settle {
			return err
		}

		req, err = r.settle(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// settle releases escrow to the driver exactly once.
func (r *DeliveryRegistry) settle(ctx context.Context, id uint64) (*models.DeliveryRequest, error) {
	var req *models.DeliveryRequest
	err := r.store.Atomically(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		var err error
		req, err = r.load(forUpdate(db), id)
		if err != nil {
			return err
		}
		if req.Completed || !req.BothConfirmed() {
			return nil
		}

		driver := *req.AssignedDriver
		payout := req.Escrowed
		now := r.store.Now()
		req.Completed = true
		req.CompletedAt = &now
		req.Escrowed = models.Amount{}
		if err := db.Save(req).Error; err != nil {
			return err
		}

		if err := r.ledger.Transfer(ctx, r.escrow, driver, payout); err != nil {
			return fmt.Errorf("%w: payout for %d: %w", ErrSettlementFailed, req.ID, err)
		}
		if _, err := r.drivers.RecordCompletedDelivery(ctx, r.escrow, driver); err != nil {
			return fmt.Errorf("%w: recording delivery for %d: %w", ErrSettlementFailed, req.ID, err)
		}
		if err := r.store.emitBetween(ctx, EventDeliveryCompleted, &req.ID, driver, req.Requester, DeliveryCompletedEvent{
			RequestID: req.ID,
			Driver:    driver,
			Amount:    payout,
		}); err != nil {
			return err
		}

		// The badge counter moves with the delivery count or not at all.
		if r.badges != nil {
			if _, err := r.badges.RecordDeliveryAndMaybeMint(ctx, driver); err != nil {
				return fmt.Errorf("%w: badge check for %d: %w", ErrSettlementFailed, req.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		// settlement rolled back; reload so the caller sees the committed flags
		if fresh, loadErr := r.load(r.store.conn(ctx), id); loadErr == nil {
			req = fresh
		}
		utils.Log.Errorf("❌ settlement of request %d failed: %v", id, err)
		return req, err
	}

	utils.Log.Infof("✅ request %d settled: %s released to %s", req.ID, req.Amount, *req.AssignedDriver)
	return req, nil
}

// --- Read accessors ---

func (r *DeliveryRegistry) GetRequest(ctx context.Context, id uint64) (*models.DeliveryRequest, error) {
	return r.load(r.store.conn(ctx), id)
}

// GetActiveRequests returns ids of requests neither completed nor cancelled, in creation order.
func (r *DeliveryRegistry) GetActiveRequests(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := r.store.conn(ctx).
		Model(&models.DeliveryRequest{}).
		Where("completed = ? AND cancelled = ?", false, false).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// GetAssignedDriver returns "" when no driver has accepted yet.
func (r *DeliveryRegistry) GetAssignedDriver(ctx context.Context, id uint64) (string, error) {
	req, err := r.GetRequest(ctx, id)
	if err != nil {
		return "", err
	}
	if req.AssignedDriver == nil {
		return "", nil
	}
	return *req.AssignedDriver, nil
}

func (r *DeliveryRegistry) GetConfirmationStatus(ctx context.Context, id uint64) (ConfirmationStatus, error) {
	req, err := r.GetRequest(ctx, id)
	if err != nil {
		return ConfirmationStatus{}, err
	}
	return ConfirmationStatus{
		RequesterConfirmed: req.RequesterConfirmed,
		DriverConfirmed:    req.DriverConfirmed,
	}, nil
}

// RequestCount is the highest id issued so far.
func (r *DeliveryRegistry) RequestCount(ctx context.Context) (uint64, error) {
	var max uint64
	err := r.store.conn(ctx).
		Model(&models.DeliveryRequest{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&max).Error
	return max, err
}

func (r *DeliveryRegistry) GetRequestsByRequester(ctx context.Context, requester string) ([]models.DeliveryRequest, error) {
	requester, err := models.ParseAccount(requester)
	if err != nil {
		return nil, err
	}
	var reqs []models.DeliveryRequest
	err = r.store.conn(ctx).Where("requester = ?", requester).Order("id ASC").Find(&reqs).Error
	return reqs, err
}

func (r *DeliveryRegistry) GetRequestsByDriver(ctx context.Context, driver string) ([]models.DeliveryRequest, error) {
	driver, err := models.ParseAccount(driver)
	if err != nil {
		return nil, err
	}
	var reqs []models.DeliveryRequest
	err = r.store.conn(ctx).Where("assigned_driver = ?", driver).Order("id ASC").Find(&reqs).Error
	return reqs, err
}

// EscrowReport sums per-request escrow and compares it with the custody balance.
func (r *DeliveryRegistry) EscrowReport(ctx context.Context) (EscrowReport, error) {
	var report EscrowReport
	err := r.store.Serialize(ctx, func(ctx context.Context) error {
		var held []models.Amount
		if err := r.store.conn(ctx).
			Model(&models.DeliveryRequest{}).
			Where("completed = ? AND cancelled = ?", false, false).
			Pluck("escrowed", &held).Error; err != nil {
			return err
		}
		total, err := sumAmounts(held)
		if err != nil {
			return err
		}
		balance, err := r.ledger.BalanceOf(ctx, r.escrow)
		if err != nil {
			return err
		}

		report.ActiveRequests = len(held)
		report.Held = total
		report.CustodyBalance = balance
		if short, ok := total.Sub(balance); ok && !short.IsZero() {
			report.Shortfall = short
		}
		report.Balanced = report.Shortfall.IsZero()
		return nil
	})
	return report, err
}
