package gormstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/google/uuid"
)

var activeClaimStatuses = []string{market.ClaimStatusPending.String(), market.ClaimStatusConfirmed.String()}

// GetAvailabilityRules returns the listing's weekly rules.
func (store *Store) GetAvailabilityRules(ctx context.Context, listingID market.ListingID) ([]market.AvailabilityRule, error) {
	var rows []AvailabilityRule
	err := store.db.WithContext(ctx).
		Where("listing_id = ?", listingID.String()).
		Order("weekday ASC").
		Order("start_minute ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRule, errorCodeList, err)
	}
	rules := make([]market.AvailabilityRule, 0, len(rows))
	for _, row := range rows {
		weekday, err := market.WeekdayFromISO(row.Weekday)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRule, errorCodeInvalid, err)
		}
		rule := market.AvailabilityRule{
			Day:        weekday,
			Start:      market.ClockTime(row.StartMinute),
			End:        market.ClockTime(row.EndMinute),
			SlotLength: time.Duration(row.SlotMinutes) * time.Minute,
			Buffer:     time.Duration(row.BufferMinutes) * time.Minute,
			Capacity:   row.Capacity,
		}
		if err := rule.Validate(); err != nil {
			return nil, wrapStoreError(errorSubjectRule, errorCodeInvalid, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ReplaceAvailabilityRules swaps the listing's rules in one transaction.
func (store *Store) ReplaceAvailabilityRules(ctx context.Context, listingID market.ListingID, rules []market.AvailabilityRule) error {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	return store.WithTx(ctx, func(ctx context.Context, transactionStore *Store) error {
		err := transactionStore.db.WithContext(ctx).
			Where("listing_id = ?", listingID.String()).
			Delete(&AvailabilityRule{}).Error
		if err != nil {
			return wrapStoreError(errorSubjectRule, errorCodeUpdate, err)
		}
		if len(rules) == 0 {
			return nil
		}
		rows := make([]AvailabilityRule, 0, len(rules))
		for _, rule := range rules {
			rows = append(rows, AvailabilityRule{
				ListingID:     listingID.String(),
				Weekday:       int(rule.Day),
				StartMinute:   rule.Start.Minutes(),
				EndMinute:     rule.End.Minutes(),
				SlotMinutes:   int(rule.SlotLength / time.Minute),
				BufferMinutes: int(rule.Buffer / time.Minute),
				Capacity:      rule.Capacity,
			})
		}
		if err := transactionStore.db.WithContext(ctx).Create(&rows).Error; err != nil {
			return wrapStoreError(errorSubjectRule, errorCodeCreate, err)
		}
		return nil
	})
}

// AddBlackout closes the listing for the date.
func (store *Store) AddBlackout(ctx context.Context, listingID market.ListingID, date time.Time, note string) error {
	row := Blackout{ListingID: listingID.String(), BlackoutDate: store.dateKey(date), Note: strings.TrimSpace(note)}
	if err := store.db.WithContext(ctx).Save(&row).Error; err != nil {
		return wrapStoreError(errorSubjectRule, errorCodeCreate, err)
	}
	return nil
}

// GetAvailableDates returns the dates of the month, from today on, that are
// offered by a rule, not blacked out, and still have capacity in some slot.
func (store *Store) GetAvailableDates(ctx context.Context, listingID market.ListingID, month time.Month, year int) ([]time.Time, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, store.location)
	daysInMonth := first.AddDate(0, 1, -1).Day()
	rules, err := store.GetAvailabilityRules(ctx, listingID)
	if err != nil {
		return nil, err
	}
	days, err := market.ExpandDays(rules, first, daysInMonth)
	if err != nil {
		return nil, wrapStoreError(errorSubjectRule, errorCodeInvalid, err)
	}
	fromKey, toKey := store.dateKey(first), store.dateKey(first.AddDate(0, 0, daysInMonth-1))
	blackouts, err := store.blackoutDates(ctx, listingID, fromKey, toKey)
	if err != nil {
		return nil, err
	}
	booked, err := store.bookedUnits(ctx, listingID, fromKey, toKey)
	if err != nil {
		return nil, err
	}

	now := store.nowFn().In(store.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, store.location)
	var dates []time.Time
	for _, day := range days {
		if !day.Available || day.Date.Before(today) || blackouts[store.dateKey(day.Date)] {
			continue
		}
		for _, candidate := range store.slotCandidates(day, booked) {
			if candidate.Remaining > 0 {
				dates = append(dates, day.Date)
				break
			}
		}
	}
	return dates, nil
}

// GetAvailableSlots returns every slot the rules offer on date with its
// remaining capacity. A blacked-out date has no slots.
func (store *Store) GetAvailableSlots(ctx context.Context, listingID market.ListingID, date time.Time) ([]market.SlotCandidate, error) {
	rules, err := store.GetAvailabilityRules(ctx, listingID)
	if err != nil {
		return nil, err
	}
	days, err := market.ExpandDays(rules, date.In(store.location), 1)
	if err != nil {
		return nil, wrapStoreError(errorSubjectRule, errorCodeInvalid, err)
	}
	day := days[0]
	key := store.dateKey(day.Date)
	blackouts, err := store.blackoutDates(ctx, listingID, key, key)
	if err != nil {
		return nil, err
	}
	if blackouts[key] {
		return nil, nil
	}
	booked, err := store.bookedUnits(ctx, listingID, key, key)
	if err != nil {
		return nil, err
	}
	return store.slotCandidates(day, booked), nil
}

// CreateClaim records a confirmed claim. Slot claims are capacity-checked
// while the listing row is locked, so concurrent claims for the last units of
// a slot cannot both succeed.
func (store *Store) CreateClaim(ctx context.Context, request market.ClaimRequest) (market.Claim, error) {
	if request.Units <= 0 {
		return market.Claim{}, fmt.Errorf("%w: %d", market.ErrInvalidUnits, request.Units)
	}
	reference := strings.TrimSpace(request.Reference)
	if reference == "" {
		reference = uuid.NewString()
	}

	var created market.Claim
	err := store.WithTx(ctx, func(ctx context.Context, transactionStore *Store) error {
		listing, err := transactionStore.lockListing(ctx, request.ListingID)
		if err != nil {
			return err
		}
		if !listing.Status.IsOpen() {
			return wrapStoreError(errorSubjectClaim, errorCodeRejected, market.ErrStatusClosed)
		}
		if !listing.Reservable() {
			return wrapStoreError(errorSubjectClaim, errorCodeRejected,
				fmt.Errorf("%w: %s listing %s is %s", market.ErrNotReservable, listing.Kind, listing.ID, listing.Status))
		}

		now := transactionStore.nowFn().UTC()
		row := Claim{
			ListingID:     listing.ID.String(),
			UserID:        request.UserID.String(),
			Units:         request.Units,
			AmountCharged: request.AmountCharged.Int64(),
			Status:        market.ClaimStatusPending.String(),
			Reference:     reference,
			Payload:       datatypesJSON(request.Payload.String()),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if !request.SlotStart.IsZero() {
			if err := transactionStore.checkSlotCapacity(ctx, listing.ID, request.SlotStart, request.Units); err != nil {
				return err
			}
			slotStart := request.SlotStart.UTC()
			row.SlotStart = &slotStart
			row.SlotDate = transactionStore.dateKey(request.SlotStart)
			row.SlotKey = transactionStore.slotKey(request.SlotStart)
		}

		err = transactionStore.db.WithContext(ctx).Create(&row).Error
		if isUniqueConflict(err, constraintClaimReference) {
			return wrapStoreError(errorSubjectClaim, errorCodeDuplicate, market.ErrDuplicateRef)
		}
		if err != nil {
			return wrapStoreError(errorSubjectClaim, errorCodeCreate, err)
		}

		result := transactionStore.db.WithContext(ctx).
			Model(&Claim{}).
			Where("claim_id = ? AND status = ?", row.ClaimID, market.ClaimStatusPending.String()).
			Updates(map[string]any{"status": market.ClaimStatusConfirmed.String(), "updated_at": now})
		if result.Error != nil {
			return wrapStoreError(errorSubjectClaim, errorCodeUpdateStatus, result.Error)
		}
		if result.RowsAffected == 0 {
			return wrapStoreError(errorSubjectClaim, errorCodeUpdateStatus, fmt.Errorf("claim %s left pending", row.ClaimID))
		}
		row.Status = market.ClaimStatusConfirmed.String()

		created, err = transactionStore.mapClaim(row)
		if err != nil {
			return wrapStoreError(errorSubjectClaim, errorCodeInvalid, err)
		}
		return nil
	})
	if err != nil {
		return market.Claim{}, err
	}
	return created, nil
}

// ListClaims returns a user's claims newest-first.
func (store *Store) ListClaims(ctx context.Context, userID market.UserID, limit int) ([]market.Claim, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []Claim
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectClaim, errorCodeList, err)
	}
	claims := make([]market.Claim, 0, len(rows))
	for _, row := range rows {
		claim, err := store.mapClaim(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectClaim, errorCodeInvalid, err)
		}
		claims = append(claims, claim)
	}
	return claims, nil
}

func (store *Store) checkSlotCapacity(ctx context.Context, listingID market.ListingID, slotStart time.Time, units int) error {
	localStart := slotStart.In(store.location)
	if !localStart.After(store.nowFn()) {
		return wrapStoreError(errorSubjectClaim, errorCodeRejected, market.ErrSlotElapsed)
	}
	rules, err := store.GetAvailabilityRules(ctx, listingID)
	if err != nil {
		return err
	}
	rule, offered := market.RuleForSlot(rules, market.WeekdayOf(localStart), market.ClockTimeOf(localStart))
	if !offered {
		return wrapStoreError(errorSubjectClaim, errorCodeCapacity, fmt.Errorf("%w: no slot at %s", market.ErrCapacityExhausted, localStart.Format(slotKeyLayout)))
	}
	key := store.dateKey(localStart)
	blackouts, err := store.blackoutDates(ctx, listingID, key, key)
	if err != nil {
		return err
	}
	if blackouts[key] {
		return wrapStoreError(errorSubjectClaim, errorCodeCapacity, fmt.Errorf("%w: %s is blacked out", market.ErrCapacityExhausted, key))
	}
	booked, err := store.bookedUnits(ctx, listingID, key, key)
	if err != nil {
		return err
	}
	if booked[store.slotKey(localStart)]+units > rule.Capacity {
		return wrapStoreError(errorSubjectClaim, errorCodeCapacity, market.ErrCapacityExhausted)
	}
	return nil
}

func (store *Store) slotCandidates(day market.CalendarDay, booked map[string]int) []market.SlotCandidate {
	seen := make(map[market.ClockTime]bool)
	var candidates []market.SlotCandidate
	for _, rule := range day.Windows {
		for _, start := range market.GenerateSlots(rule) {
			if seen[start] {
				continue
			}
			seen[start] = true
			remaining := rule.Capacity - booked[store.slotKey(start.On(day.Date))]
			candidates = append(candidates, market.SlotCandidate{Start: start, Remaining: max(remaining, 0)})
		}
	}
	slices.SortFunc(candidates, func(left, right market.SlotCandidate) int {
		return int(left.Start) - int(right.Start)
	})
	return candidates
}

type slotUsage struct {
	SlotKey string
	Units   int
}

func (store *Store) bookedUnits(ctx context.Context, listingID market.ListingID, fromKey string, toKey string) (map[string]int, error) {
	var usage []slotUsage
	err := store.db.WithContext(ctx).
		Model(&Claim{}).
		Select("slot_key, coalesce(sum(units),0) as units").
		Where("listing_id = ? AND slot_key <> '' AND slot_date >= ? AND slot_date <= ?", listingID.String(), fromKey, toKey).
		Where("status IN ?", activeClaimStatuses).
		Group("slot_key").
		Scan(&usage).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectClaim, errorCodeList, err)
	}
	booked := make(map[string]int, len(usage))
	for _, row := range usage {
		booked[row.SlotKey] = row.Units
	}
	return booked, nil
}

func (store *Store) blackoutDates(ctx context.Context, listingID market.ListingID, fromKey string, toKey string) (map[string]bool, error) {
	var rows []Blackout
	err := store.db.WithContext(ctx).
		Where("listing_id = ? AND blackout_date >= ? AND blackout_date <= ?", listingID.String(), fromKey, toKey).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRule, errorCodeList, err)
	}
	blackouts := make(map[string]bool, len(rows))
	for _, row := range rows {
		blackouts[row.BlackoutDate] = true
	}
	return blackouts, nil
}

func (store *Store) dateKey(instant time.Time) string {
	return instant.In(store.location).Format(dateKeyLayout)
}

func (store *Store) slotKey(instant time.Time) string {
	return instant.In(store.location).Format(slotKeyLayout)
}

func (store *Store) mapClaim(row Claim) (market.Claim, error) {
	claimID, err := market.NewClaimID(row.ClaimID)
	if err != nil {
		return market.Claim{}, err
	}
	listingID, err := market.NewListingID(row.ListingID)
	if err != nil {
		return market.Claim{}, err
	}
	userID, err := market.NewUserID(row.UserID)
	if err != nil {
		return market.Claim{}, err
	}
	status, err := market.ParseClaimStatus(row.Status)
	if err != nil {
		return market.Claim{}, err
	}
	payload, err := market.NewMetadataJSON(string(row.Payload))
	if err != nil {
		return market.Claim{}, err
	}
	claim := market.Claim{
		ID:            claimID,
		ListingID:     listingID,
		UserID:        userID,
		Units:         row.Units,
		AmountCharged: market.AmountMinor(row.AmountCharged),
		Status:        status,
		Reference:     row.Reference,
		Payload:       payload,
		CreatedAt:     row.CreatedAt,
	}
	if row.SlotStart != nil {
		claim.SlotStart = row.SlotStart.In(store.location)
	}
	return claim, nil
}
