package services

import (
	"context"
	"errors"
	"fmt"

	"delivery-escrow-system/models"
	"delivery-escrow-system/utils"

	"gorm.io/gorm"
)

// BadgeMinter mints one new, distinguishable badge token to driver.
// milestone is the 1-based index of the badge being minted for that driver.
type BadgeMinter interface {
	MintBadge(ctx context.Context, driver string, milestone uint64) (tokenID uint64, err error)
}

// DeliveryStats is the slice of the driver registry the issuer reads.
type DeliveryStats interface {
	GetDriverStats(ctx context.Context, account string) (deliveries uint64, rating uint8, err error)
	DriversWithDeliveries(ctx context.Context, min uint64) ([]string, error)
}

// BadgeIssuer keeps each driver's minted badge count converging on
// floor(deliveries / milestone size), one mint per call.
type BadgeIssuer struct {
	store         *Store
	drivers       DeliveryStats
	minter        BadgeMinter
	milestoneSize uint64
}

func NewBadgeIssuer(store *Store, drivers DeliveryStats, minter BadgeMinter, milestoneSize uint64) *BadgeIssuer {
	if milestoneSize == 0 {
		milestoneSize = models.DefaultMilestoneSize
	}
	return &BadgeIssuer{
		store:         store,
		drivers:       drivers,
		minter:        minter,
		milestoneSize: milestoneSize,
	}
}

func (b *BadgeIssuer) MilestoneSize() uint64 { return b.milestoneSize }

func (b *BadgeIssuer) loadCounter(db *gorm.DB, driver string) (models.ReputationBadgeCounter, error) {
	var c models.ReputationBadgeCounter
	err := db.Where("driver = ?", driver).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ReputationBadgeCounter{Driver: driver}, nil
	}
	return c, err
}

// RecordDeliveryAndMaybeMint mints at most one badge when the driver's counter
// lags its milestones. A failed mint leaves the counter untouched.
func (b *BadgeIssuer) RecordDeliveryAndMaybeMint(ctx context.Context, driver string) (bool, error) {
	driver, err := models.ParseAccount(driver)
	if err != nil {
		return false, err
	}

	minted := false
	err = b.store.Atomically(ctx, func(ctx context.Context) error {
		deliveries, _, err := b.drivers.GetDriverStats(ctx, driver)
		if err != nil {
			return err
		}
		expected := deliveries / b.milestoneSize

		db := b.store.conn(ctx)
		counter, err := b.loadCounter(forUpdate(db), driver)
		if err != nil {
			return err
		}
		if expected <= counter.BadgesMinted {
			return nil
		}

		tokenID, err := b.minter.MintBadge(ctx, driver, counter.BadgesMinted+1)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMintFailed, err)
		}

		now := b.store.Now()
		counter.BadgesMinted++
		counter.LastMintedAt = &now
		if err := upsert(db, &counter); err != nil {
			return err
		}
		minted = true

		return b.store.emit(ctx, EventBadgeMinted, nil, driver, BadgeMintedEvent{
			Driver:   driver,
			NewCount: counter.BadgesMinted,
			TokenID:  tokenID,
		})
	})
	if err != nil {
		return false, err
	}
	if minted {
		utils.Log.Infof("🎖️ badge minted for %s", driver)
	}
	return minted, nil
}

func (b *BadgeIssuer) BadgeCount(ctx context.Context, driver string) (uint64, error) {
	driver, err := models.ParseAccount(driver)
	if err != nil {
		return 0, err
	}
	c, err := b.loadCounter(b.store.conn(ctx), driver)
	return c.BadgesMinted, err
}

// NextBadgeIn is the number of deliveries left until the next milestone.
func (b *BadgeIssuer) NextBadgeIn(ctx context.Context, driver string) (uint64, error) {
	deliveries, _, err := b.drivers.GetDriverStats(ctx, driver)
	if err != nil {
		return 0, err
	}
	return b.milestoneSize - deliveries%b.milestoneSize, nil
}

// SyncLaggingBadges calls the issuer once for every driver whose counter lags.
// Failures are logged and retried on the next sweep. Returns the number minted.
func (b *BadgeIssuer) SyncLaggingBadges(ctx context.Context) (int, error) {
	candidates, err := b.drivers.DriversWithDeliveries(ctx, b.milestoneSize)
	if err != nil {
		return 0, err
	}

	minted := 0
	for _, driver := range candidates {
		if ctx.Err() != nil {
			return minted, ctx.Err()
		}
		ok, err := b.RecordDeliveryAndMaybeMint(ctx, driver)
		if err != nil {
			utils.Log.Warnf("⚠️ badge sync failed for %s: %v", driver, err)
			continue
		}
		if ok {
			minted++
		}
	}
	return minted, nil
}
