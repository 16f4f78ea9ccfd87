package market

import "time"

// SlotCandidate is a slot as reported by the availability provider.
type SlotCandidate struct {
	Start     ClockTime
	Remaining int
}

// SlotBlock explains why a slot cannot be selected.
type SlotBlock string

const (
	SlotBlockNone     SlotBlock = ""
	SlotBlockCapacity SlotBlock = "capacity"
	SlotBlockElapsed  SlotBlock = "elapsed"
)

// Slot is a labelled time slot of a calendar day.
type Slot struct {
	Start             ClockTime
	RemainingCapacity int
	Selectable        bool
	Block             SlotBlock
}

// StartOn returns the slot's start instant on the given date.
func (slot Slot) StartOn(date time.Time) time.Time {
	return slot.Start.On(date)
}

// FilterSlots labels candidate slots of a day for a party of requestedUnits.
// A slot is unselectable when its remaining capacity is below the request, or
// when the day is today and the slot starts at or before now.
func FilterSlots(day CalendarDay, candidates []SlotCandidate, requestedUnits int, now time.Time) []Slot {
	today := SameDate(day.Date, now)
	slots := make([]Slot, 0, len(candidates))
	for _, candidate := range candidates {
		remaining := candidate.Remaining
		if remaining < 0 {
			remaining = 0
		}
		slot := Slot{Start: candidate.Start, RemainingCapacity: remaining, Selectable: true}
		switch {
		case today && !candidate.Start.On(day.Date).After(now):
			slot.Selectable = false
			slot.Block = SlotBlockElapsed
		case remaining < requestedUnits:
			slot.Selectable = false
			slot.Block = SlotBlockCapacity
		}
		slots = append(slots, slot)
	}
	return slots
}

// ApplySlots attaches provider slots to a day. Provider data wins over the
// rule-derived default: a day with no reported slots is unavailable.
func ApplySlots(day CalendarDay, slots []Slot) CalendarDay {
	day.Slots = slots
	if len(slots) == 0 {
		day.Available = false
	}
	return day
}

// HasSelectableSlot reports whether any slot of the day can be booked.
func (day CalendarDay) HasSelectableSlot() bool {
	for _, slot := range day.Slots {
		if slot.Selectable {
			return true
		}
	}
	return false
}

// OverrideAvailability restricts rule-derived availability to the dates the
// provider reports as available.
func OverrideAvailability(days []CalendarDay, providerDates []time.Time) []CalendarDay {
	overridden := make([]CalendarDay, 0, len(days))
	for _, day := range days {
		if day.Available {
			day.Available = containsDate(providerDates, day.Date)
		}
		overridden = append(overridden, day)
	}
	return overridden
}

// FindSlot returns the labelled slot starting at start.
func FindSlot(slots []Slot, start ClockTime) (Slot, bool) {
	for _, slot := range slots {
		if slot.Start == start {
			return slot, true
		}
	}
	return Slot{}, false
}

func containsDate(dates []time.Time, target time.Time) bool {
	for _, date := range dates {
		if SameDate(target, date) {
			return true
		}
	}
	return false
}
