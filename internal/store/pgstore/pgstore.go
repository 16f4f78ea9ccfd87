// Package pgstore is a pgx balance provider for Postgres deployments. It
// shares the balance_accounts and balance_entries tables with gormstore and
// holds a row lock on the account for the whole adjustment.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintBalanceReference = "uniq_balance_user_reference"
	pgUniqueViolationCode      = "23505"
	defaultListLimit           = 50
	errorOperationStore        = "store"
	errorSubjectBalance        = "balance"
	errorSubjectEntry          = "entry"
	errorSubjectTransaction    = "transaction"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsufficient      = "insufficient_funds"
	errorCodeList              = "list"
	errorCodeLock              = "lock"
	errorCodeUpdate            = "update"

	sqlEnsureAccount = `
		insert into balance_accounts(user_id, balance, created_at, updated_at)
		values ($1, 0, $2, $2)
		on conflict (user_id) do nothing
	`

	sqlLockAccount = `
		select balance from balance_accounts where user_id = $1 for update
	`

	sqlInsertEntry = `
		insert into balance_entries(entry_id, user_id, amount, description, reference, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`

	sqlUpdateBalance = `
		update balance_accounts set balance = $2, updated_at = $3 where user_id = $1
	`

	sqlSelectBalance = `
		select balance from balance_accounts where user_id = $1
	`

	sqlListEntries = `
		select amount, description, reference, created_at
		from balance_entries
		where user_id = $1
		order by created_at desc
		limit $2
	`
)

// Store adjusts balances through a pgx pool.
type Store struct {
	pool  *pgxpool.Pool
	nowFn func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the entry timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(store *Store) {
		if now != nil {
			store.nowFn = now
		}
	}
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool, options ...Option) *Store {
	store := &Store{pool: pool, nowFn: time.Now}
	for _, option := range options {
		option(store)
	}
	return store
}

// Open connects a pool to the Postgres database at dsn.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return pool, nil
}

func (store *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// AdjustBalance applies a signed adjustment. A deduction below zero fails with
// market.ErrInsufficientFunds and a reused reference with market.ErrDuplicateRef.
func (store *Store) AdjustBalance(ctx context.Context, adjustment market.BalanceAdjustment) (market.BalanceReceipt, error) {
	reference, err := validateAdjustment(adjustment)
	if err != nil {
		return market.BalanceReceipt{}, err
	}

	var receipt market.BalanceReceipt
	err = store.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := store.nowFn().UTC()
		userID := adjustment.UserID.String()
		if _, err := tx.Exec(ctx, sqlEnsureAccount, userID, now); err != nil {
			return wrapStoreError(errorSubjectBalance, errorCodeCreate, err)
		}
		var balance int64
		if err := tx.QueryRow(ctx, sqlLockAccount, userID).Scan(&balance); err != nil {
			return wrapStoreError(errorSubjectBalance, errorCodeLock, err)
		}

		next := balance + adjustment.Amount
		if next < 0 {
			return wrapStoreError(errorSubjectBalance, errorCodeInsufficient,
				fmt.Errorf("%w: balance %d, adjustment %d", market.ErrInsufficientFunds, balance, adjustment.Amount))
		}

		_, err := tx.Exec(ctx, sqlInsertEntry, uuid.NewString(), userID, adjustment.Amount, adjustment.Description, reference, now)
		if isReferenceConflict(err) {
			return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, market.ErrDuplicateRef)
		}
		if err != nil {
			return wrapStoreError(errorSubjectEntry, errorCodeCreate, err)
		}
		if _, err := tx.Exec(ctx, sqlUpdateBalance, userID, next, now); err != nil {
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
func (store *Store) TopUp(ctx context.Context, userID market.UserID, amount market.AmountMinor, reference string) (market.BalanceReceipt, error) {
	if amount <= 0 {
		return market.BalanceReceipt{}, fmt.Errorf("%w: must be greater than zero", market.ErrInvalidAmount)
	}
	return store.AdjustBalance(ctx, market.BalanceAdjustment{
		UserID:      userID,
		Amount:      amount.Int64(),
		Description: "top-up",
		Reference:   reference,
	})
}

// Balance returns the user's balance; unknown users have zero.
func (store *Store) Balance(ctx context.Context, userID market.UserID) (int64, error) {
	var balance int64
	err := store.pool.QueryRow(ctx, sqlSelectBalance, userID.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return balance, nil
}

// Entries returns the user's most recent entries newest-first.
func (store *Store) Entries(ctx context.Context, userID market.UserID, limit int) ([]market.BalanceLine, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := store.pool.Query(ctx, sqlListEntries, userID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()

	lines := make([]market.BalanceLine, 0, limit)
	for rows.Next() {
		var line market.BalanceLine
		if err := rows.Scan(&line.Amount, &line.Description, &line.Reference, &line.CreatedAt); err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return lines, nil
}

func validateAdjustment(adjustment market.BalanceAdjustment) (string, error) {
	if adjustment.UserID.IsZero() {
		return "", fmt.Errorf("%w: empty value", market.ErrInvalidUserID)
	}
	if adjustment.Amount == 0 {
		return "", fmt.Errorf("%w: zero adjustment", market.ErrInvalidAmount)
	}
	reference := strings.TrimSpace(adjustment.Reference)
	if reference == "" {
		reference = uuid.NewString()
	}
	return reference, nil
}

func isReferenceConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintBalanceReference
}

func wrapStoreError(subject string, code string, err error) error {
	return market.WrapError(errorOperationStore, subject, code, err)
}
