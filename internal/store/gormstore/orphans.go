package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/berth/pkg/market"
)

type orphanDetails struct {
	ListingID  string `json:"listing_id"`
	UserID     string `json:"user_id"`
	Units      int    `json:"units"`
	SlotStart  string `json:"slot_start,omitempty"`
	Charged    string `json:"charged"`
	NewBalance int64  `json:"new_balance_minor"`
	Reference  string `json:"reference"`
	Cause      string `json:"cause,omitempty"`
}

// ReportOrphanedCharge persists the orphan for support staff.
func (store *Store) ReportOrphanedCharge(ctx context.Context, orphan market.OrphanedCharge) error {
	cause := ""
	if orphan.Cause != nil {
		cause = orphan.Cause.Error()
	}
	details := orphanDetails{
		ListingID:  orphan.ListingID.String(),
		UserID:     orphan.UserID.String(),
		Units:      orphan.Units,
		Charged:    orphan.Charged.String(),
		NewBalance: orphan.NewBalance,
		Reference:  orphan.Reference,
		Cause:      cause,
	}
	var slotStart *time.Time
	if !orphan.SlotStart.IsZero() {
		value := orphan.SlotStart.UTC()
		slotStart = &value
		details.SlotStart = value.Format(time.RFC3339)
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return wrapStoreError(errorSubjectOrphan, errorCodeInvalid, err)
	}
	occurredAt := orphan.OccurredAt.UTC()
	if orphan.OccurredAt.IsZero() {
		occurredAt = store.nowFn().UTC()
	}
	row := OrphanedCharge{
		ListingID:  orphan.ListingID.String(),
		UserID:     orphan.UserID.String(),
		Units:      orphan.Units,
		SlotStart:  slotStart,
		Charged:    orphan.Charged.Int64(),
		NewBalance: orphan.NewBalance,
		Reference:  orphan.Reference,
		Cause:      cause,
		Details:    datatypesJSON(string(encoded)),
		OccurredAt: occurredAt,
		CreatedAt:  store.nowFn().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectOrphan, errorCodeCreate, err)
	}
	return nil
}

// ListOrphanedCharges returns unresolved orphans oldest-first.
func (store *Store) ListOrphanedCharges(ctx context.Context, limit int) ([]market.OrphanedCharge, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []OrphanedCharge
	err := store.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("occurred_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrphan, errorCodeList, err)
	}
	orphans := make([]market.OrphanedCharge, 0, len(rows))
	for _, row := range rows {
		listingID, err := market.NewListingID(row.ListingID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrphan, errorCodeInvalid, err)
		}
		userID, err := market.NewUserID(row.UserID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrphan, errorCodeInvalid, err)
		}
		orphan := market.OrphanedCharge{
			ListingID:  listingID,
			UserID:     userID,
			Units:      row.Units,
			Charged:    market.AmountMinor(row.Charged),
			NewBalance: row.NewBalance,
			Reference:  row.Reference,
			OccurredAt: row.OccurredAt,
		}
		if row.SlotStart != nil {
			orphan.SlotStart = row.SlotStart.In(store.location)
		}
		if row.Cause != "" {
			orphan.Cause = errors.New(row.Cause)
		}
		orphans = append(orphans, orphan)
	}
	return orphans, nil
}
