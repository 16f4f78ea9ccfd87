package market

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"
)

// Weekday is an ISO-8601 day of week: Monday=1 through Sunday=7.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// WeekdayFromISO validates an ISO day number (1..7, Sunday=7).
func WeekdayFromISO(raw int) (Weekday, error) {
	if raw < int(Monday) || raw > int(Sunday) {
		return 0, fmt.Errorf("%w: iso day %d outside 1..7", ErrInvalidWeekday, raw)
	}
	return Weekday(raw), nil
}

// WeekdayFromSundayZero converts the 0..6 (Sunday=0) convention.
func WeekdayFromSundayZero(raw int) (Weekday, error) {
	if raw < 0 || raw > 6 {
		return 0, fmt.Errorf("%w: day %d outside 0..6", ErrInvalidWeekday, raw)
	}
	if raw == 0 {
		return Sunday, nil
	}
	return Weekday(raw), nil
}

// WeekdayOf returns the ISO weekday of a date in its own location.
func WeekdayOf(date time.Time) Weekday {
	day := date.Weekday()
	if day == time.Sunday {
		return Sunday
	}
	return Weekday(day)
}

// SundayZero returns the 0..6 (Sunday=0) representation.
func (day Weekday) SundayZero() int {
	if day == Sunday {
		return 0
	}
	return int(day)
}

// Valid reports whether the weekday is in 1..7.
func (day Weekday) Valid() bool {
	return day >= Monday && day <= Sunday
}

// String returns the English day name.
func (day Weekday) String() string {
	if !day.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(day))
	}
	return time.Weekday(day.SundayZero()).String()
}

// ClockTime is a wall-clock time of day in minutes after midnight.
type ClockTime int

const minutesPerDay = 24 * 60

// NewClockTime builds a clock time from hours and minutes.
func NewClockTime(hour int, minute int) (ClockTime, error) {
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("%w: %02d:%02d", ErrInvalidClockTime, hour, minute)
	}
	return ClockTime(hour*60 + minute), nil
}

// ParseClockTime parses "HH:MM" (24:00 allowed as end of day).
func ParseClockTime(raw string) (ClockTime, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := time.Parse("15:04", trimmed)
	if err != nil {
		if trimmed == "24:00" {
			return ClockTime(minutesPerDay), nil
		}
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, raw)
	}
	return NewClockTime(parsed.Hour(), parsed.Minute())
}

// Minutes returns minutes after midnight.
func (clock ClockTime) Minutes() int {
	return int(clock)
}

// String formats the time as "HH:MM".
func (clock ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(clock)/60, int(clock)%60)
}

// On returns the instant of this clock time on the given date.
func (clock ClockTime) On(date time.Time) time.Time {
	year, month, day := date.Date()
	return time.Date(year, month, day, int(clock)/60, int(clock)%60, 0, 0, date.Location())
}

// ClockTimeOf returns the wall-clock time of an instant in its own location.
func ClockTimeOf(instant time.Time) ClockTime {
	return ClockTime(instant.Hour()*60 + instant.Minute())
}

// AvailabilityRule is a recurring weekly availability window.
type AvailabilityRule struct {
	Day   Weekday
	Start ClockTime
	End   ClockTime
	// SlotLength splits the window into bookable slots; zero means one slot per window.
	SlotLength time.Duration
	// Buffer is the enforced gap between consecutive slots.
	Buffer time.Duration
	// Capacity is the number of units each slot can hold.
	Capacity int
}

// Validate checks the rule's internal consistency.
func (rule AvailabilityRule) Validate() error {
	if !rule.Day.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidRule, ErrInvalidWeekday)
	}
	if rule.Start < 0 || rule.End > minutesPerDay || rule.Start >= rule.End {
		return fmt.Errorf("%w: window %s-%s", ErrInvalidRule, rule.Start, rule.End)
	}
	if rule.SlotLength < 0 || rule.Buffer < 0 {
		return fmt.Errorf("%w: negative slot length or buffer", ErrInvalidRule)
	}
	if rule.SlotLength > 0 && rule.SlotLength%time.Minute != 0 {
		return fmt.Errorf("%w: slot length must be whole minutes", ErrInvalidRule)
	}
	if rule.Buffer%time.Minute != 0 {
		return fmt.Errorf("%w: buffer must be whole minutes", ErrInvalidRule)
	}
	if rule.Capacity < 0 {
		return fmt.Errorf("%w: negative capacity", ErrInvalidRule)
	}
	return nil
}

// CalendarDay is a derived view of one date.
type CalendarDay struct {
	Date      time.Time
	Weekday   Weekday
	Available bool
	Windows   []AvailabilityRule
	Slots     []Slot
}

// Expand yields one CalendarDay per date in [from, from+horizonDays).
// The sequence is lazy, finite and can be ranged over any number of times.
func Expand(rules []AvailabilityRule, from time.Time, horizonDays int) (iter.Seq[CalendarDay], error) {
	if horizonDays <= 0 || horizonDays > MaxHorizonDays {
		return nil, fmt.Errorf("%w: %d days outside 1..%d", ErrInvalidHorizon, horizonDays, MaxHorizonDays)
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}
	ruleSnapshot := slices.Clone(rules)
	start := startOfDay(from)
	return func(yield func(CalendarDay) bool) {
		for offset := 0; offset < horizonDays; offset++ {
			date := start.AddDate(0, 0, offset)
			if !yield(expandDay(ruleSnapshot, date)) {
				return
			}
		}
	}, nil
}

// ExpandDays collects Expand into a slice.
func ExpandDays(rules []AvailabilityRule, from time.Time, horizonDays int) ([]CalendarDay, error) {
	sequence, err := Expand(rules, from, horizonDays)
	if err != nil {
		return nil, err
	}
	return slices.Collect(sequence), nil
}

func expandDay(rules []AvailabilityRule, date time.Time) CalendarDay {
	weekday := WeekdayOf(date)
	day := CalendarDay{Date: date, Weekday: weekday}
	for _, rule := range rules {
		if rule.Day == weekday {
			day.Windows = append(day.Windows, rule)
		}
	}
	day.Available = len(day.Windows) > 0
	return day
}

// GenerateSlots returns the start times of the slots a rule offers. Each slot
// lasts SlotLength and consecutive slots are separated by Buffer; a slot is
// only offered when it ends within the window.
func GenerateSlots(rule AvailabilityRule) []ClockTime {
	if rule.Validate() != nil {
		return nil
	}
	length := ClockTime(rule.SlotLength / time.Minute)
	if length == 0 {
		length = rule.End - rule.Start
	}
	step := length + ClockTime(rule.Buffer/time.Minute)
	starts := make([]ClockTime, 0, int(rule.End-rule.Start)/int(step)+1)
	for start := rule.Start; start+length <= rule.End; start += step {
		starts = append(starts, start)
	}
	return starts
}

// RuleForSlot returns the rule among the given ones that offers a slot at start.
func RuleForSlot(rules []AvailabilityRule, day Weekday, start ClockTime) (AvailabilityRule, bool) {
	for _, rule := range rules {
		if rule.Day != day {
			continue
		}
		if slices.Contains(GenerateSlots(rule), start) {
			return rule, true
		}
	}
	return AvailabilityRule{}, false
}

func startOfDay(instant time.Time) time.Time {
	year, month, day := instant.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, instant.Location())
}

// SameDate reports whether two instants fall on the same calendar date in the
// location of the first.
func SameDate(left time.Time, right time.Time) bool {
	leftYear, leftMonth, leftDay := left.Date()
	rightYear, rightMonth, rightDay := right.In(left.Location()).Date()
	return leftYear == rightYear && leftMonth == rightMonth && leftDay == rightDay
}
