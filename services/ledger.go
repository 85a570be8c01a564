package services

import (
	"context"
	"errors"
	"fmt"

	"delivery-escrow-system/models"

	"gorm.io/gorm"
)

// TokenLedger is the fungible settlement token as the marketplace sees it.
// Implementations must join the transaction carried by ctx when there is one.
type TokenLedger interface {
	Transfer(ctx context.Context, from, to string, amount models.Amount) error
	TransferFrom(ctx context.Context, spender, owner, to string, amount models.Amount) error
	BalanceOf(ctx context.Context, account string) (models.Amount, error)
	Mint(ctx context.Context, to string, amount models.Amount) error
}

// LedgerService is a database-backed TokenLedger for local and test setups.
type LedgerService struct {
	store *Store
}

func NewLedgerService(store *Store) *LedgerService {
	return &LedgerService{store: store}
}

var _ TokenLedger = (*LedgerService)(nil)

func (l *LedgerService) loadBalance(db *gorm.DB, account string) (models.LedgerBalance, error) {
	var bal models.LedgerBalance
	err := forUpdate(db).Where("account = ?", account).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.LedgerBalance{Account: account}, nil
	}
	return bal, err
}

func (l *LedgerService) loadAllowance(db *gorm.DB, owner, spender string) (models.LedgerAllowance, error) {
	var al models.LedgerAllowance
	err := forUpdate(db).Where("owner = ? AND spender = ?", owner, spender).First(&al).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.LedgerAllowance{Owner: owner, Spender: spender}, nil
	}
	return al, err
}

// move debits from and credits to; caller holds the transaction.
func (l *LedgerService) move(db *gorm.DB, from, to string, amount models.Amount) error {
	src, err := l.loadBalance(db, from)
	if err != nil {
		return err
	}
	left, ok := src.Balance.Sub(amount)
	if !ok {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from, src.Balance, amount)
	}
	src.Balance = left
	if err := upsert(db, &src); err != nil {
		return err
	}

	dst, err := l.loadBalance(db, to)
	if err != nil {
		return err
	}
	sum, ok := dst.Balance.Add(amount)
	if !ok {
		return fmt.Errorf("balance overflow for %s", to)
	}
	dst.Balance = sum
	return upsert(db, &dst)
}

func (l *LedgerService) record(ctx context.Context, from, to, spender string, amount models.Amount, memo string) error {
	return l.store.conn(ctx).Create(&models.LedgerTransfer{
		From:      from,
		To:        to,
		Spender:   spender,
		Amount:    amount,
		Memo:      memo,
		CreatedAt: l.store.Now(),
	}).Error
}

func (l *LedgerService) Transfer(ctx context.Context, from, to string, amount models.Amount) error {
	from, to, err := parsePair(from, to)
	if err != nil {
		return err
	}
	return l.store.Atomically(ctx, func(ctx context.Context) error {
		if err := l.move(l.store.conn(ctx), from, to, amount); err != nil {
			return err
		}
		return l.record(ctx, from, to, "", amount, "transfer")
	})
}

// TransferFrom checks the allowance before the balance.
func (l *LedgerService) TransferFrom(ctx context.Context, spender, owner, to string, amount models.Amount) error {
	spender, err := models.ParseAccount(spender)
	if err != nil {
		return err
	}
	owner, to, err = parsePair(owner, to)
	if err != nil {
		return err
	}
	return l.store.Atomically(ctx, func(ctx context.Context) error {
		db := l.store.conn(ctx)
		al, err := l.loadAllowance(db, owner, spender)
		if err != nil {
			return err
		}
		left, ok := al.Amount.Sub(amount)
		if !ok {
			return fmt.Errorf("%w: %s may spend %s of %s, needs %s", ErrInsufficientAllowance, spender, al.Amount, owner, amount)
		}
		if err := l.move(db, owner, to, amount); err != nil {
			return err
		}
		al.Amount = left
		if err := upsert(db, &al); err != nil {
			return err
		}
		return l.record(ctx, owner, to, spender, amount, "transferFrom")
	})
}

// Approve sets (not adds to) the spender's allowance.
func (l *LedgerService) Approve(ctx context.Context, owner, spender string, amount models.Amount) error {
	owner, spender, err := parsePair(owner, spender)
	if err != nil {
		return err
	}
	return l.store.Atomically(ctx, func(ctx context.Context) error {
		return upsert(l.store.conn(ctx), &models.LedgerAllowance{Owner: owner, Spender: spender, Amount: amount})
	})
}

func (l *LedgerService) Allowance(ctx context.Context, owner, spender string) (models.Amount, error) {
	owner, spender, err := parsePair(owner, spender)
	if err != nil {
		return models.Amount{}, err
	}
	var al models.LedgerAllowance
	err = l.store.conn(ctx).Where("owner = ? AND spender = ?", owner, spender).First(&al).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Amount{}, nil
	}
	return al.Amount, err
}

func (l *LedgerService) BalanceOf(ctx context.Context, account string) (models.Amount, error) {
	account, err := models.ParseAccount(account)
	if err != nil {
		return models.Amount{}, err
	}
	var bal models.LedgerBalance
	err = l.store.conn(ctx).Where("account = ?", account).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Amount{}, nil
	}
	return bal.Balance, err
}

func (l *LedgerService) Mint(ctx context.Context, to string, amount models.Amount) error {
	to, err := models.ParseAccount(to)
	if err != nil {
		return err
	}
	return l.store.Atomically(ctx, func(ctx context.Context) error {
		db := l.store.conn(ctx)
		dst, err := l.loadBalance(db, to)
		if err != nil {
			return err
		}
		sum, ok := dst.Balance.Add(amount)
		if !ok {
			return fmt.Errorf("balance overflow for %s", to)
		}
		dst.Balance = sum
		if err := upsert(db, &dst); err != nil {
			return err
		}
		return l.record(ctx, "", to, "", amount, "mint")
	})
}

// TotalSupply sums every balance; amounts are strings in the database so the sum happens here.
func (l *LedgerService) TotalSupply(ctx context.Context) (models.Amount, error) {
	var balances []models.Amount
	if err := l.store.conn(ctx).Model(&models.LedgerBalance{}).Pluck("balance", &balances).Error; err != nil {
		return models.Amount{}, err
	}
	return sumAmounts(balances)
}

// History returns the newest transfers touching account.
func (l *LedgerService) History(ctx context.Context, account string, limit int) ([]models.LedgerTransfer, error) {
	account, err := models.ParseAccount(account)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxEventPage {
		limit = 50
	}
	var transfers []models.LedgerTransfer
	err = l.store.conn(ctx).
		Where("from_account = ? OR to_account = ?", account, account).
		Order("id DESC").
		Limit(limit).
		Find(&transfers).Error
	return transfers, err
}

func parsePair(a, b string) (string, string, error) {
	pa, err := models.ParseAccount(a)
	if err != nil {
		return "", "", err
	}
	pb, err := models.ParseAccount(b)
	if err != nil {
		return "", "", err
	}
	return pa, pb, nil
}

func sumAmounts(values []models.Amount) (models.Amount, error) {
	var total models.Amount
	for _, v := range values {
		next, ok := total.Add(v)
		if !ok {
			return models.Amount{}, errors.New("amount sum overflow")
		}
		total = next
	}
	return total, nil
}
