package market

import (
	"context"
	"fmt"
	"time"
)

// SlotSource returns fresh slot capacity for a listing on a date.
type SlotSource interface {
	GetAvailableSlots(ctx context.Context, listingID ListingID, date time.Time) ([]SlotCandidate, error)
}

// AvailabilitySource is the availability collaborator.
type AvailabilitySource interface {
	SlotSource
	GetAvailabilityRules(ctx context.Context, listingID ListingID) ([]AvailabilityRule, error)
	GetAvailableDates(ctx context.Context, listingID ListingID, month time.Month, year int) ([]time.Time, error)
}

// Availability combines rule expansion with provider data.
type Availability struct {
	source   AvailabilitySource
	nowFn    func() time.Time
	location *time.Location
}

// NewAvailability wires an Availability service. Dates are interpreted in location.
func NewAvailability(source AvailabilitySource, now func() time.Time, location *time.Location) (*Availability, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: availability source dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if location == nil {
		location = time.UTC
	}
	return &Availability{source: source, nowFn: now, location: location}, nil
}

// Location returns the time zone calendar dates are interpreted in.
func (availability *Availability) Location() *time.Location {
	return availability.location
}

// Calendar expands the listing's rules over the horizon and lets the
// provider's available dates override the rule-derived defaults.
func (availability *Availability) Calendar(ctx context.Context, listingID ListingID, from time.Time, horizonDays int) ([]CalendarDay, error) {
	if listingID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidListingID)
	}
	rules, err := availability.source.GetAvailabilityRules(ctx, listingID)
	if err != nil {
		return nil, err
	}
	days, err := ExpandDays(rules, from.In(availability.location), horizonDays)
	if err != nil {
		return nil, err
	}

	var providerDates []time.Time
	for _, month := range monthsCovered(days) {
		dates, err := availability.source.GetAvailableDates(ctx, listingID, month.Month(), month.Year())
		if err != nil {
			return nil, err
		}
		providerDates = append(providerDates, dates...)
	}
	return OverrideAvailability(days, providerDates), nil
}

// DaySlots reads fresh slot capacity for one date and labels it for a party
// of requestedUnits.
func (availability *Availability) DaySlots(ctx context.Context, listingID ListingID, date time.Time, requestedUnits int) (CalendarDay, error) {
	if listingID.IsZero() {
		return CalendarDay{}, fmt.Errorf("%w: empty value", ErrInvalidListingID)
	}
	if requestedUnits <= 0 {
		return CalendarDay{}, fmt.Errorf("%w: %d", ErrInvalidUnits, requestedUnits)
	}
	rules, err := availability.source.GetAvailabilityRules(ctx, listingID)
	if err != nil {
		return CalendarDay{}, err
	}
	days, err := ExpandDays(rules, date.In(availability.location), 1)
	if err != nil {
		return CalendarDay{}, err
	}
	day := days[0]
	candidates, err := availability.source.GetAvailableSlots(ctx, listingID, day.Date)
	if err != nil {
		return CalendarDay{}, err
	}
	slots := FilterSlots(day, candidates, requestedUnits, availability.nowFn().In(availability.location))
	return ApplySlots(day, slots), nil
}

func monthsCovered(days []CalendarDay) []time.Time {
	var months []time.Time
	for _, day := range days {
		first := time.Date(day.Date.Year(), day.Date.Month(), 1, 0, 0, 0, 0, day.Date.Location())
		if len(months) == 0 || !months[len(months)-1].Equal(first) {
			months = append(months, first)
		}
	}
	return months
}
