package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Listing represents the listings table.
type Listing struct {
	ListingID   string    `gorm:"primaryKey"`
	Kind        string    `gorm:"not null"`
	Title       string    `gorm:"not null"`
	AskingPrice int64     `gorm:"not null"`
	CurrentBid  int64     `gorm:"not null;default:0"`
	Status      string    `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Listing) TableName() string { return "listings" }

// Bid mirrors the bids table.
type Bid struct {
	BidID     string    `gorm:"type:uuid;primaryKey"`
	ListingID string    `gorm:"not null;index:idx_bids_listing_created,priority:1"`
	BidderID  string    `gorm:"not null"`
	Amount    int64     `gorm:"not null"`
	Status    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_bids_listing_created,priority:2"`
}

func (Bid) TableName() string { return "bids" }

func (bid *Bid) BeforeCreate(tx *gorm.DB) error {
	if bid.BidID == "" {
		bid.BidID = uuid.NewString()
	}
	return nil
}

// Claim mirrors the claims table. SlotDate and SlotKey are derived from
// SlotStart in the store's location so capacity can be summed per slot.
type Claim struct {
	ClaimID       string         `gorm:"type:uuid;primaryKey"`
	ListingID     string         `gorm:"not null;index:idx_claims_listing_slot,priority:1"`
	UserID        string         `gorm:"not null;index"`
	Units         int            `gorm:"not null"`
	SlotStart     *time.Time     `gorm:""`
	SlotDate      string         `gorm:"not null;default:'';index:idx_claims_listing_slot,priority:2"`
	SlotKey       string         `gorm:"not null;default:'';index:idx_claims_listing_slot,priority:3"`
	AmountCharged int64          `gorm:"not null"`
	Status        string         `gorm:"not null"`
	Reference     string         `gorm:"not null;uniqueIndex:uniq_claims_reference"`
	Payload       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

func (Claim) TableName() string { return "claims" }

func (claim *Claim) BeforeCreate(tx *gorm.DB) error {
	if claim.ClaimID == "" {
		claim.ClaimID = uuid.NewString()
	}
	return nil
}

// AvailabilityRule mirrors the availability_rules table. Weekday is ISO 1..7.
type AvailabilityRule struct {
	RuleID        uint   `gorm:"primaryKey;autoIncrement"`
	ListingID     string `gorm:"not null;index"`
	Weekday       int    `gorm:"not null"`
	StartMinute   int    `gorm:"not null"`
	EndMinute     int    `gorm:"not null"`
	SlotMinutes   int    `gorm:"not null;default:0"`
	BufferMinutes int    `gorm:"not null;default:0"`
	Capacity      int    `gorm:"not null"`
}

func (AvailabilityRule) TableName() string { return "availability_rules" }

// Blackout closes a listing for a whole date.
type Blackout struct {
	ListingID    string `gorm:"primaryKey"`
	BlackoutDate string `gorm:"primaryKey"`
	Note         string `gorm:"not null;default:''"`
}

func (Blackout) TableName() string { return "blackouts" }

// BalanceAccount holds the running balance for a user.
type BalanceAccount struct {
	UserID    string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (BalanceAccount) TableName() string { return "balance_accounts" }

// BalanceEntry mirrors the append-only balance_entries table.
type BalanceEntry struct {
	EntryID     string    `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"not null;index:idx_balance_user_created,priority:1;uniqueIndex:uniq_balance_user_reference,priority:1"`
	Amount      int64     `gorm:"not null"`
	Description string    `gorm:"not null;default:''"`
	Reference   string    `gorm:"not null;uniqueIndex:uniq_balance_user_reference,priority:2"`
	CreatedAt   time.Time `gorm:"not null;index:idx_balance_user_created,priority:2"`
}

func (BalanceEntry) TableName() string { return "balance_entries" }

func (entry *BalanceEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// OrphanedCharge records a deduction without a claim for support review.
type OrphanedCharge struct {
	OrphanID   string         `gorm:"type:uuid;primaryKey"`
	ListingID  string         `gorm:"not null;index"`
	UserID     string         `gorm:"not null;index"`
	Units      int            `gorm:"not null"`
	SlotStart  *time.Time     `gorm:""`
	Charged    int64          `gorm:"not null"`
	NewBalance int64          `gorm:"not null"`
	Reference  string         `gorm:"not null;index"`
	Cause      string         `gorm:"not null;default:''"`
	Details    datatypes.JSON `gorm:"type:jsonb;not null"`
	Resolved   bool           `gorm:"not null;default:false"`
	OccurredAt time.Time      `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null"`
}

func (OrphanedCharge) TableName() string { return "orphaned_charges" }

func (orphan *OrphanedCharge) BeforeCreate(tx *gorm.DB) error {
	if orphan.OrphanID == "" {
		orphan.OrphanID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{
		&Listing{},
		&Bid{},
		&Claim{},
		&AvailabilityRule{},
		&Blackout{},
		&BalanceAccount{},
		&BalanceEntry{},
		&OrphanedCharge{},
	}
}
