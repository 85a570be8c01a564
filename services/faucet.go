package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delivery-escrow-system/models"
	"delivery-escrow-system/utils"

	"gorm.io/gorm"
)

// FaucetConfig is fixed at construction.
type FaucetConfig struct {
	Custody  string // account the faucet pays out from
	Amount   models.Amount
	Cooldown time.Duration
	TotalCap models.Amount
}

func DefaultFaucetConfig(custody string) FaucetConfig {
	return FaucetConfig{
		Custody:  custody,
		Amount:   models.Tokens(100),
		Cooldown: 24 * time.Hour,
		TotalCap: models.Tokens(1_000_000),
	}
}

// FaucetInfo is the per-account view used by wallets to enable/disable the claim button.
type FaucetInfo struct {
	LastClaimAt           *time.Time `json:"last_claim_at,omitempty"`
	CanClaimNow           bool       `json:"can_claim_now"`
	SecondsUntilNextClaim uint64     `json:"seconds_until_next_claim"`
}

type FaucetStats struct {
	Amount          models.Amount `json:"amount"`
	CooldownSeconds uint64        `json:"cooldown_seconds"`
	TotalCap        models.Amount `json:"total_cap"`
	TotalDispensed  models.Amount `json:"total_dispensed"`
	Remaining       models.Amount `json:"remaining"`
	CapReached      bool          `json:"cap_reached"`
	CustodyBalance  models.Amount `json:"custody_balance"`
}

// Faucet rate-limits test-token dispensing per account under a global cap.
type Faucet struct {
	store  *Store
	ledger TokenLedger
	cfg    FaucetConfig
}

func NewFaucet(store *Store, ledger TokenLedger, cfg FaucetConfig) *Faucet {
	cfg.Custody = models.MustAccount(cfg.Custody)
	return &Faucet{store: store, ledger: ledger, cfg: cfg}
}

func (f *Faucet) Config() FaucetConfig { return f.cfg }

func (f *Faucet) loadRecord(db *gorm.DB, account string) (*models.FaucetClaimRecord, error) {
	var rec models.FaucetClaimRecord
	err := db.Where("account = ?", account).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (f *Faucet) loadState(db *gorm.DB) (models.FaucetState, error) {
	var st models.FaucetState
	err := db.Where("id = ?", models.FaucetStateID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FaucetState{ID: models.FaucetStateID}, nil
	}
	return st, err
}

// remaining is how long account still has to wait; zero when it may claim.
func (f *Faucet) remaining(rec *models.FaucetClaimRecord, now time.Time) time.Duration {
	if rec == nil {
		return 0
	}
	left := f.cfg.Cooldown - now.Sub(rec.LastClaimAt)
	if left < 0 {
		return 0
	}
	return left
}

func (f *Faucet) wouldExceedCap(dispensed models.Amount) bool {
	next, ok := dispensed.Add(f.cfg.Amount)
	return !ok || next.Cmp(f.cfg.TotalCap) > 0
}

// Claim dispenses the configured amount to account. Cooldown is checked before the cap.
func (f *Faucet) Claim(ctx context.Context, account string) (models.Amount, error) {
	account, err := models.ParseAccount(account)
	if err != nil {
		return models.Amount{}, err
	}

	err = f.store.Atomically(ctx, func(ctx context.Context) error {
		db := f.store.conn(ctx)
		now := f.store.Now()

		rec, err := f.loadRecord(forUpdate(db), account)
		if err != nil {
			return err
		}
		if left := f.remaining(rec, now); left > 0 {
			return &CooldownError{Remaining: left}
		}

		state, err := f.loadState(forUpdate(db))
		if err != nil {
			return err
		}
		if f.wouldExceedCap(state.TotalDispensed) {
			return fmt.Errorf("%w: %s of %s dispensed", ErrCapReached, state.TotalDispensed, f.cfg.TotalCap)
		}

		if err := f.ledger.Transfer(ctx, f.cfg.Custody, account, f.cfg.Amount); err != nil {
			return err
		}

		if rec == nil {
			rec = &models.FaucetClaimRecord{Account: account}
		}
		rec.LastClaimAt = now
		rec.ClaimCount++
		rec.TotalClaimed, _ = rec.TotalClaimed.Add(f.cfg.Amount)
		if err := upsert(db, rec); err != nil {
			return err
		}

		state.TotalDispensed, _ = state.TotalDispensed.Add(f.cfg.Amount)
		if err := upsert(db, &state); err != nil {
			return err
		}

		return f.store.emit(ctx, EventFaucetClaimed, nil, account, FaucetClaimedEvent{
			Account: account,
			Amount:  f.cfg.Amount,
		})
	})
	if err != nil {
		return models.Amount{}, err
	}

	utils.Log.Infof("🚰 faucet claim: %s tokens to %s", f.cfg.Amount, account)
	return f.cfg.Amount, nil
}

// GetFaucetInfo reports CanClaimNow=false when either the cooldown or the cap blocks a claim.
func (f *Faucet) GetFaucetInfo(ctx context.Context, account string) (FaucetInfo, error) {
	account, err := models.ParseAccount(account)
	if err != nil {
		return FaucetInfo{}, err
	}
	db := f.store.conn(ctx)
	rec, err := f.loadRecord(db, account)
	if err != nil {
		return FaucetInfo{}, err
	}
	state, err := f.loadState(db)
	if err != nil {
		return FaucetInfo{}, err
	}

	info := FaucetInfo{
		SecondsUntilNextClaim: ceilSeconds(f.remaining(rec, f.store.Now())),
	}
	if rec != nil {
		last := rec.LastClaimAt
		info.LastClaimAt = &last
	}
	info.CanClaimNow = info.SecondsUntilNextClaim == 0 && !f.wouldExceedCap(state.TotalDispensed)
	return info, nil
}

// LastClaim returns nil when the account never claimed.
func (f *Faucet) LastClaim(ctx context.Context, account string) (*time.Time, error) {
	info, err := f.GetFaucetInfo(ctx, account)
	if err != nil {
		return nil, err
	}
	return info.LastClaimAt, nil
}

func (f *Faucet) GetStats(ctx context.Context) (FaucetStats, error) {
	state, err := f.loadState(f.store.conn(ctx))
	if err != nil {
		return FaucetStats{}, err
	}
	balance, err := f.ledger.BalanceOf(ctx, f.cfg.Custody)
	if err != nil {
		return FaucetStats{}, err
	}
	remaining, ok := f.cfg.TotalCap.Sub(state.TotalDispensed)
	if !ok {
		remaining = models.Amount{}
	}
	return FaucetStats{
		Amount:          f.cfg.Amount,
		CooldownSeconds: ceilSeconds(f.cfg.Cooldown),
		TotalCap:        f.cfg.TotalCap,
		TotalDispensed:  state.TotalDispensed,
		Remaining:       remaining,
		CapReached:      f.wouldExceedCap(state.TotalDispensed),
		CustodyBalance:  balance,
	}, nil
}

// FundFaucet mints the cap into custody when custody is empty. Returns whether it minted.
func (f *Faucet) FundFaucet(ctx context.Context) (bool, error) {
	minted := false
	err := f.store.Atomically(ctx, func(ctx context.Context) error {
		balance, err := f.ledger.BalanceOf(ctx, f.cfg.Custody)
		if err != nil {
			return err
		}
		if !balance.IsZero() {
			return nil
		}
		if err := f.ledger.Mint(ctx, f.cfg.Custody, f.cfg.TotalCap); err != nil {
			return fmt.Errorf("failed to fund faucet: %w", err)
		}
		minted = true
		return nil
	})
	if err == nil && minted {
		utils.Log.Infof("💧 faucet custody %s funded with %s", f.cfg.Custody, f.cfg.TotalCap)
	}
	return minted, err
}
