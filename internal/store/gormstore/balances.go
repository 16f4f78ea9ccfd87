package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Balances is the balance provider: a running balance per user plus an
// append-only entry log keyed by (user, reference).
type Balances struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// Balances returns the balance provider sharing the store's database and clock.
func (store *Store) Balances() *Balances {
	return &Balances{db: store.db, nowFn: store.nowFn}
}

// AdjustBalance applies a signed adjustment. Deductions that would make the
// balance negative fail with market.ErrInsufficientFunds and change nothing.
func (balances *Balances) AdjustBalance(ctx context.Context, adjustment market.BalanceAdjustment) (market.BalanceReceipt, error) {
	if adjustment.UserID.IsZero() {
		return market.BalanceReceipt{}, fmt.Errorf("%w: empty value", market.ErrInvalidUserID)
	}
	if adjustment.Amount == 0 {
		return market.BalanceReceipt{}, fmt.Errorf("%w: zero adjustment", market.ErrInvalidAmount)
	}
	reference := strings.TrimSpace(adjustment.Reference)
	if reference == "" {
		reference = uuid.NewString()
	}

	var receipt market.BalanceReceipt
	err := balances.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		now := balances.nowFn().UTC()
		userID := adjustment.UserID.String()
		err := transaction.
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
			Create(&BalanceAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}).Error
		if err != nil {
			return wrapStoreError(errorSubjectBalance, errorCodeCreate, err)
		}
		var account BalanceAccount
		err = transaction.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Take(&account).Error
		if err != nil {
			return wrapStoreError(errorSubjectBalance, errorCodeLock, err)
		}

		next := account.Balance + adjustment.Amount
		if next < 0 {
			return wrapStoreError(errorSubjectBalance, errorCodeInsufficient,
				fmt.Errorf("%w: balance %d, adjustment %d", market.ErrInsufficientFunds, account.Balance, adjustment.Amount))
		}

		entry := BalanceEntry{
			UserID:      userID,
			Amount:      adjustment.Amount,
			Description: adjustment.Description,
			Reference:   reference,
			CreatedAt:   now,
		}
		err = transaction.Create(&entry).Error
		if isUniqueConflict(err, constraintBalanceReference) {
			return wrapStoreError(errorSubjectBalance, errorCodeDuplicate, market.ErrDuplicateRef)
		}
		if err != nil {
			return wrapStoreError(errorSubjectBalance, errorCodeCreate, err)
		}

		err = transaction.
			Model(&BalanceAccount{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{"balance": next, "updated_at": now}).Error
		if err != nil {
			return wrapStoreError(errorSubjectBalance, errorCodeUpdate, err)
		}

		receipt = market.BalanceReceipt{NewBalance: next}
		if adjustment.Amount < 0 {
			receipt.Charged = market.AmountMinor(-adjustment.Amount)
		}
		return nil
	})
	if err != nil {
		return market.BalanceReceipt{}, err
	}
	return receipt, nil
}

// TopUp credits a user's balance.
func (balances *Balances) TopUp(ctx context.Context, userID market.UserID, amount market.AmountMinor, reference string) (market.BalanceReceipt, error) {
	if amount <= 0 {
		return market.BalanceReceipt{}, fmt.Errorf("%w: must be greater than zero", market.ErrInvalidAmount)
	}
	return balances.AdjustBalance(ctx, market.BalanceAdjustment{
		UserID:      userID,
		Amount:      amount.Int64(),
		Description: "top-up",
		Reference:   reference,
	})
}

// Balance returns the user's current balance; unknown users have zero.
func (balances *Balances) Balance(ctx context.Context, userID market.UserID) (int64, error) {
	var account BalanceAccount
	err := balances.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return account.Balance, nil
}

// Entries returns the user's most recent balance entries newest-first.
func (balances *Balances) Entries(ctx context.Context, userID market.UserID, limit int) ([]market.BalanceLine, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []BalanceEntry
	err := balances.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeList, err)
	}
	lines := make([]market.BalanceLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, market.BalanceLine{
			Amount:      row.Amount,
			Description: row.Description,
			Reference:   row.Reference,
			CreatedAt:   row.CreatedAt,
		})
	}
	return lines, nil
}
