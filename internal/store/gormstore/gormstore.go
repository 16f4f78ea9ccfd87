package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sqliteUniqueColumns names the column sqlite reports for each unique index;
// sqlite error messages carry columns, not index names.
var sqliteUniqueColumns = map[string]string{
	constraintClaimReference:   "claims.reference",
	constraintBalanceReference: "balance_entries.reference",
}

const (
	constraintClaimReference   = "uniq_claims_reference"
	constraintBalanceReference = "uniq_balance_user_reference"
	defaultMetadataJSON        = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteUniqueCode           = 2067
	sqlitePrimaryKeyCode       = 1555
	errorOperationStore        = "store"
	errorSubjectListing        = "listing"
	errorSubjectBid            = "bid"
	errorSubjectClaim          = "claim"
	errorSubjectRule           = "availability_rule"
	errorSubjectBalance        = "balance"
	errorSubjectOrphan         = "orphaned_charge"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLock              = "lock"
	errorCodeRejected          = "rejected"
	errorCodeUpdate            = "update"
	errorCodeUpdateStatus      = "update_status"
	errorCodeCapacity          = "capacity"
	errorCodeInsufficient      = "insufficient"
	dateKeyLayout              = "2006-01-02"
	slotKeyLayout              = "2006-01-02T15:04"
	defaultListLimit           = 50
	bidTimeStep                = time.Microsecond
)

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the marina time zone used for slot dates.
func WithLocation(location *time.Location) Option {
	return func(store *Store) {
		if location != nil {
			store.location = location
		}
	}
}

// WithClock overrides the store clock.
func WithClock(now func() time.Time) Option {
	return func(store *Store) {
		if now != nil {
			store.nowFn = now
		}
	}
}

// Store is the authoritative listing, bid, slot and claim store on GORM.
type Store struct {
	db       *gorm.DB
	location *time.Location
	nowFn    func() time.Time
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB, options ...Option) *Store {
	store := &Store{db: db, location: time.UTC, nowFn: time.Now}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

// Migrate creates or updates every table the store uses.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Ping checks that the database answers.
func (store *Store) Ping(ctx context.Context) error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Location returns the time zone slot dates are keyed in.
func (store *Store) Location() *time.Location {
	return store.location
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, transactionStore *Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, location: store.location, nowFn: store.nowFn})
	})
}

// GetListing returns the current listing snapshot.
func (store *Store) GetListing(ctx context.Context, listingID market.ListingID) (market.Listing, error) {
	var row Listing
	err := store.db.WithContext(ctx).Where("listing_id = ?", listingID.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return market.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, fmt.Errorf("%w: %s", market.ErrUnknownListing, listingID))
		}
		return market.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, err)
	}
	listing, err := mapListing(row)
	if err != nil {
		return market.Listing{}, wrapStoreError(errorSubjectListing, errorCodeInvalid, err)
	}
	return listing, nil
}

// ListListings returns listings ordered by title, optionally filtered by status.
func (store *Store) ListListings(ctx context.Context, statuses ...market.ListingStatus) ([]market.Listing, error) {
	query := store.db.WithContext(ctx).Order("title ASC").Order("listing_id ASC")
	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, status := range statuses {
			values = append(values, status.String())
		}
		query = query.Where("status IN ?", values)
	}
	var rows []Listing
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, err)
	}
	listings := make([]market.Listing, 0, len(rows))
	for _, row := range rows {
		listing, err := mapListing(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectListing, errorCodeInvalid, err)
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// UpsertListing creates a listing or replaces its editable fields.
func (store *Store) UpsertListing(ctx context.Context, listing market.Listing) error {
	now := store.nowFn().UTC()
	row := Listing{
		ListingID:   listing.ID.String(),
		Kind:        string(listing.Kind),
		Title:       listing.Title,
		AskingPrice: listing.AskingPrice.Int64(),
		CurrentBid:  listing.CurrentBid.Int64(),
		Status:      listing.Status.String(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "listing_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "title", "asking_price", "status", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectListing, errorCodeCreate, err)
	}
	return nil
}

// SubmitBid re-evaluates the bid against the locked listing row and records it.
// The listing update is conditional on the current bid it was evaluated
// against, so a concurrent winner turns this write into ErrBelowCurrent.
// The bid is stamped by the store clock, never by submission.CreatedAt.
func (store *Store) SubmitBid(ctx context.Context, submission market.BidSubmission) (market.Bid, error) {
	var accepted market.Bid
	err := store.WithTx(ctx, func(ctx context.Context, transactionStore *Store) error {
		listing, err := transactionStore.lockListing(ctx, submission.ListingID)
		if err != nil {
			return err
		}
		evaluation := market.EvaluateBid(listing, submission.Amount)
		if !evaluation.Accepted {
			ruleError, _ := market.ErrorForReason(evaluation.Reason)
			return wrapStoreError(errorSubjectBid, errorCodeRejected, ruleError)
		}

		createdAt, err := transactionStore.nextBidTime(ctx, listing.ID)
		if err != nil {
			return err
		}
		nextStatus := listing.Status
		if nextStatus == market.ListingStatusForSale {
			nextStatus = market.ListingStatusForBid
		}
		result := transactionStore.db.WithContext(ctx).
			Model(&Listing{}).
			Where("listing_id = ? AND current_bid = ? AND status = ?", listing.ID.String(), listing.CurrentBid.Int64(), listing.Status.String()).
			Updates(map[string]any{
				"current_bid": submission.Amount.Int64(),
				"status":      nextStatus.String(),
				"updated_at":  createdAt,
			})
		if result.Error != nil {
			return wrapStoreError(errorSubjectListing, errorCodeUpdate, result.Error)
		}
		if result.RowsAffected == 0 {
			return wrapStoreError(errorSubjectBid, errorCodeRejected, market.ErrBelowCurrent)
		}

		err = transactionStore.db.WithContext(ctx).
			Model(&Bid{}).
			Where("listing_id = ? AND status = ?", listing.ID.String(), market.BidStatusActive.String()).
			Update("status", market.BidStatusSuperseded.String()).Error
		if err != nil {
			return wrapStoreError(errorSubjectBid, errorCodeUpdateStatus, err)
		}

		row := Bid{
			ListingID: listing.ID.String(),
			BidderID:  submission.BidderID.String(),
			Amount:    submission.Amount.Int64(),
			Status:    market.BidStatusActive.String(),
			CreatedAt: createdAt,
		}
		if err := transactionStore.db.WithContext(ctx).Create(&row).Error; err != nil {
			return wrapStoreError(errorSubjectBid, errorCodeCreate, err)
		}
		accepted, err = mapBid(row)
		if err != nil {
			return wrapStoreError(errorSubjectBid, errorCodeInvalid, err)
		}
		return nil
	})
	if err != nil {
		return market.Bid{}, err
	}
	return accepted, nil
}

// nextBidTime returns the store clock reading, moved past the listing's latest
// bid so history order follows acceptance order.
func (store *Store) nextBidTime(ctx context.Context, listingID market.ListingID) (time.Time, error) {
	now := store.nowFn().UTC()
	var latest Bid
	err := store.db.WithContext(ctx).
		Select("created_at").
		Where("listing_id = ?", listingID.String()).
		Order("created_at DESC").
		Limit(1).
		Find(&latest).Error
	if err != nil {
		return time.Time{}, wrapStoreError(errorSubjectBid, errorCodeGet, err)
	}
	if !latest.CreatedAt.IsZero() && !now.After(latest.CreatedAt) {
		now = latest.CreatedAt.UTC().Add(bidTimeStep)
	}
	return now, nil
}

// GetBidHistory returns the listing's bids newest-first.
func (store *Store) GetBidHistory(ctx context.Context, listingID market.ListingID) ([]market.Bid, error) {
	var rows []Bid
	err := store.db.WithContext(ctx).
		Where("listing_id = ?", listingID.String()).
		Order("created_at DESC").
		Order("amount DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBid, errorCodeList, err)
	}
	bids := make([]market.Bid, 0, len(rows))
	for _, row := range rows {
		bid, err := mapBid(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBid, errorCodeInvalid, err)
		}
		bids = append(bids, bid)
	}
	return bids, nil
}

// CloseListing marks the listing sold.
func (store *Store) CloseListing(ctx context.Context, listingID market.ListingID) (market.Listing, error) {
	err := store.db.WithContext(ctx).
		Model(&Listing{}).
		Where("listing_id = ? AND status <> ?", listingID.String(), market.ListingStatusSold.String()).
		Updates(map[string]any{
			"status":     market.ListingStatusSold.String(),
			"updated_at": store.nowFn().UTC(),
		}).Error
	if err != nil {
		return market.Listing{}, wrapStoreError(errorSubjectListing, errorCodeUpdateStatus, err)
	}
	return store.GetListing(ctx, listingID)
}

func (store *Store) lockListing(ctx context.Context, listingID market.ListingID) (market.Listing, error) {
	var row Listing
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("listing_id = ?", listingID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return market.Listing{}, wrapStoreError(errorSubjectListing, errorCodeLock, fmt.Errorf("%w: %s", market.ErrUnknownListing, listingID))
		}
		return market.Listing{}, wrapStoreError(errorSubjectListing, errorCodeLock, err)
	}
	listing, err := mapListing(row)
	if err != nil {
		return market.Listing{}, wrapStoreError(errorSubjectListing, errorCodeInvalid, err)
	}
	return listing, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return market.WrapError(errorOperationStore, subject, code, err)
}

func mapListing(row Listing) (market.Listing, error) {
	listingID, err := market.NewListingID(row.ListingID)
	if err != nil {
		return market.Listing{}, err
	}
	status, err := market.ParseListingStatus(row.Status)
	if err != nil {
		return market.Listing{}, err
	}
	return market.Listing{
		ID:          listingID,
		Kind:        market.ListingKind(row.Kind),
		Title:       row.Title,
		AskingPrice: market.AmountMinor(row.AskingPrice),
		CurrentBid:  market.AmountMinor(row.CurrentBid),
		Status:      status,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func mapBid(row Bid) (market.Bid, error) {
	bidID, err := market.NewBidID(row.BidID)
	if err != nil {
		return market.Bid{}, err
	}
	listingID, err := market.NewListingID(row.ListingID)
	if err != nil {
		return market.Bid{}, err
	}
	bidderID, err := market.NewUserID(row.BidderID)
	if err != nil {
		return market.Bid{}, err
	}
	amount, err := market.NewAmountMinor(row.Amount)
	if err != nil {
		return market.Bid{}, err
	}
	status, err := market.ParseBidStatus(row.Status)
	if err != nil {
		return market.Bid{}, err
	}
	return market.Bid{
		ID:        bidID,
		ListingID: listingID,
		BidderID:  bidderID,
		Amount:    amount,
		Status:    status,
		CreatedAt: row.CreatedAt,
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueConflict(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code != sqliteUniqueCode && code != sqlitePrimaryKeyCode {
			return false
		}
		column, known := sqliteUniqueColumns[constraint]
		return !known || strings.Contains(sqliteErr.Error(), column)
	}
	return false
}
