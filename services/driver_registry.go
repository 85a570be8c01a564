package services

import (
	"context"
	"errors"
	"fmt"

	"delivery-escrow-system/models"
	"delivery-escrow-system/utils"

	"gorm.io/gorm"
)

// DriverRegistry owns driver registration, availability and stats.
type DriverRegistry struct {
	store    *Store
	recorder string // only this account may record completed deliveries (escrow)
	operator string // only this account may overwrite ratings
}

func NewDriverRegistry(store *Store, recorder, operator string) *DriverRegistry {
	return &DriverRegistry{
		store:    store,
		recorder: models.MustAccount(recorder),
		operator: models.MustAccount(operator),
	}
}

func (r *DriverRegistry) find(db *gorm.DB, account string) (*models.Driver, error) {
	var d models.Driver
	err := db.Where("account = ?", account).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !d.Registered) {
		return nil, fmt.Errorf("%w: %s", ErrDriverNotRegistered, account)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RegisterDriver creates the driver unavailable, with zero deliveries and the baseline rating.
func (r *DriverRegistry) RegisterDriver(ctx context.Context, account string) (*models.Driver, error) {
	account, err := models.ParseAccount(account)
	if err != nil {
		return nil, err
	}

	var driver models.Driver
	err = r.store.Atomically(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		var count int64
		if err := db.Model(&models.Driver{}).
			Where("account = ? AND registered = ?", account, true).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, account)
		}

		driver = models.Driver{
			Account:       account,
			Registered:    true,
			Available:     false,
			DeliveryCount: 0,
			Rating:        models.BaselineRating,
			RegisteredAt:  r.store.Now(),
		}
		if err := upsert(db, &driver); err != nil {
			return err
		}
		return r.store.emit(ctx, EventDriverRegistered, nil, account, DriverRegisteredEvent{Driver: account})
	})
	if err != nil {
		return nil, err
	}
	utils.Log.Infof("🚚 driver registered: %s", account)
	return &driver, nil
}

// SetDriverAvailability is a no-op (no event) when the value does not change.
func (r *DriverRegistry) SetDriverAvailability(ctx context.Context, account string, available bool) error {
	account, err := models.ParseAccount(account)
	if err != nil {
		return err
	}
	return r.store.Atomically(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		d, err := r.find(forUpdate(db), account)
		if err != nil {
			return err
		}
		if d.Available == available {
			return nil
		}
		if err := db.Model(d).Update("available", available).Error; err != nil {
			return err
		}
		return r.store.emit(ctx, EventDriverStatusChange, nil, account, DriverStatusChangedEvent{
			Driver:    account,
			Available: available,
		})
	})
}

// RecordCompletedDelivery bumps the driver's delivery count and returns the new value.
func (r *DriverRegistry) RecordCompletedDelivery(ctx context.Context, caller, account string) (uint64, error) {
	if !sameAccount(caller, r.recorder) {
		return 0, fmt.Errorf("%w: %s cannot record deliveries", ErrNotAuthorized, caller)
	}
	account, err := models.ParseAccount(account)
	if err != nil {
		return 0, err
	}

	var count uint64
	err = r.store.Atomically(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		d, err := r.find(forUpdate(db), account)
		if err != nil {
			return err
		}
		d.DeliveryCount++
		if err := db.Model(d).Update("delivery_count", d.DeliveryCount).Error; err != nil {
			return err
		}
		count = d.DeliveryCount
		return r.store.emit(ctx, EventDriverStatsUpdated, nil, account, DriverStatsUpdatedEvent{
			Driver:     account,
			Deliveries: d.DeliveryCount,
			Rating:     d.Rating,
		})
	})
	return count, err
}

// UpdateDriverStats overwrites the rating; operator only.
func (r *DriverRegistry) UpdateDriverStats(ctx context.Context, caller, account string, rating int) error {
	if !sameAccount(caller, r.operator) {
		return fmt.Errorf("%w: %s is not the operator", ErrNotAuthorized, caller)
	}
	if rating < int(models.MinRating) || rating > int(models.MaxRating) {
		return fmt.Errorf("%w: %d", ErrRatingOutOfRange, rating)
	}
	account, err := models.ParseAccount(account)
	if err != nil {
		return err
	}
	return r.store.Atomically(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		d, err := r.find(forUpdate(db), account)
		if err != nil {
			return err
		}
		d.Rating = uint8(rating)
		if err := db.Model(d).Update("rating", d.Rating).Error; err != nil {
			return err
		}
		return r.store.emit(ctx, EventDriverStatsUpdated, nil, account, DriverStatsUpdatedEvent{
			Driver:     account,
			Deliveries: d.DeliveryCount,
			Rating:     d.Rating,
		})
	})
}

// GetAvailableDrivers lists registered, available drivers in registration order.
func (r *DriverRegistry) GetAvailableDrivers(ctx context.Context) ([]string, error) {
	var accounts []string
	err := r.store.conn(ctx).
		Model(&models.Driver{}).
		Where("registered = ? AND available = ?", true, true).
		Order("registered_at ASC, account ASC").
		Pluck("account", &accounts).Error
	return accounts, err
}

func (r *DriverRegistry) GetAllDrivers(ctx context.Context) ([]string, error) {
	var accounts []string
	err := r.store.conn(ctx).
		Model(&models.Driver{}).
		Where("registered = ?", true).
		Order("registered_at ASC, account ASC").
		Pluck("account", &accounts).Error
	return accounts, err
}

func (r *DriverRegistry) GetDriverCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.store.conn(ctx).Model(&models.Driver{}).Where("registered = ?", true).Count(&count).Error
	return count, err
}

func (r *DriverRegistry) GetDriver(ctx context.Context, account string) (*models.Driver, error) {
	account, err := models.ParseAccount(account)
	if err != nil {
		return nil, err
	}
	return r.find(r.store.conn(ctx), account)
}

func (r *DriverRegistry) IsDriverRegistered(ctx context.Context, account string) (bool, error) {
	_, err := r.GetDriver(ctx, account)
	if errors.Is(err, ErrDriverNotRegistered) {
		return false, nil
	}
	return err == nil, err
}

func (r *DriverRegistry) IsDriverAvailable(ctx context.Context, account string) (bool, error) {
	d, err := r.GetDriver(ctx, account)
	if errors.Is(err, ErrDriverNotRegistered) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return d.Available, nil
}

// GetDriverStats returns (deliveries, rating).
func (r *DriverRegistry) GetDriverStats(ctx context.Context, account string) (uint64, uint8, error) {
	d, err := r.GetDriver(ctx, account)
	if err != nil {
		return 0, 0, err
	}
	return d.DeliveryCount, d.Rating, nil
}

// DriversWithDeliveries lists registered drivers with at least min completed deliveries.
func (r *DriverRegistry) DriversWithDeliveries(ctx context.Context, min uint64) ([]string, error) {
	var accounts []string
	err := r.store.conn(ctx).
		Model(&models.Driver{}).
		Where("registered = ? AND delivery_count >= ?", true, min).
		Order("account ASC").
		Pluck("account", &accounts).Error
	return accounts, err
}

func sameAccount(a, b string) bool {
	pa, err := models.ParseAccount(a)
	if err != nil {
		return false
	}
	return pa == b
}
