package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frequency enumerates supported recurrence cadences.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

const (
	MinInterval = 1
	MaxInterval = 100

	MinOccurrences = 1
	MaxOccurrences = 1000
)

var ErrUnsupportedFrequency = errors.New("unsupported_frequency")

// ParseFrequency normalizes a raw cadence string.
func ParseFrequency(raw string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(raw))) {
	case FrequencyWeekly:
		return FrequencyWeekly, nil
	case FrequencyMonthly:
		return FrequencyMonthly, nil
	case FrequencyQuarterly:
		return FrequencyQuarterly, nil
	case FrequencyYearly:
		return FrequencyYearly, nil
	default:
		return "", ErrUnsupportedFrequency
	}
}

// Config describes the recurrence plan attached to a template invoice.
// NextGenerationDate is the cursor for the next child to produce.
type Config struct {
	Frequency          Frequency  `json:"frequency"`
	Interval           int        `json:"interval"`
	StartDate          time.Time  `json:"start_date"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	MaxOccurrences     *int       `json:"max_occurrences,omitempty"`
	NextGenerationDate *time.Time `json:"next_generation_date,omitempty"`
	IsActive           bool       `json:"is_active"`
}

// NextDate advances a date by one recurrence step. Month and year steps
// clamp to the last day of the target month instead of normalizing, so
// Jan 31 plus one month is Feb 28 (or 29), not March 2.
func NextDate(from time.Time, freq Frequency, interval int) (time.Time, error) {
	if interval < MinInterval {
		interval = MinInterval
	}
	switch freq {
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7*interval), nil
	case FrequencyMonthly:
		return addMonthsClamped(from, interval), nil
	case FrequencyQuarterly:
		return addMonthsClamped(from, 3*interval), nil
	case FrequencyYearly:
		return addMonthsClamped(from, 12*interval), nil
	default:
		return time.Time{}, ErrUnsupportedFrequency
	}
}

func addMonthsClamped(from time.Time, months int) time.Time {
	year, month, day := from.Date()
	hour, minute, sec := from.Clock()

	target := time.Date(year, month+time.Month(months), 1, hour, minute, sec, from.Nanosecond(), from.Location())
	if last := daysInMonth(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, minute, sec, from.Nanosecond(), from.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Cursor returns the effective next generation date, falling back to the
// start date when the cursor has never been advanced.
func (c Config) Cursor() time.Time {
	if c.NextGenerationDate != nil {
		return *c.NextGenerationDate
	}
	return c.StartDate
}

// ShouldGenerate reports whether the plan is due at the given instant.
func (c Config) ShouldGenerate(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	cursor := c.Cursor()
	if cursor.IsZero() {
		return false
	}
	if now.Before(cursor) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	return true
}

// HasReachedMaxOccurrences reports whether generatedCount children exhaust
// the plan. An unset cap never exhausts.
func (c Config) HasReachedMaxOccurrences(generatedCount int) bool {
	if c.MaxOccurrences == nil {
		return false
	}
	return generatedCount >= *c.MaxOccurrences
}

// AfterGeneration returns a copy with the cursor advanced by one step.
// Every other field is left untouched; this is the only mutation path for
// the cursor.
func (c Config) AfterGeneration() (Config, error) {
	next, err := NextDate(c.Cursor(), c.Frequency, c.Interval)
	if err != nil {
		return c, err
	}
	out := c
	out.NextGenerationDate = &next
	return out, nil
}

// FutureDates previews upcoming generation dates starting at the cursor.
// priorCount is how many children already exist; it reduces the remaining
// occurrence allowance. At most maxDates entries are returned.
func FutureDates(c Config, maxDates, priorCount int) ([]time.Time, error) {
	if maxDates <= 0 {
		return nil, nil
	}
	if _, err := ParseFrequency(string(c.Frequency)); err != nil {
		return nil, err
	}

	remaining := maxDates
	if c.MaxOccurrences != nil {
		allowance := *c.MaxOccurrences - priorCount
		if allowance <= 0 {
			return nil, nil
		}
		if allowance < remaining {
			remaining = allowance
		}
	}

	dates := make([]time.Time, 0, remaining)
	cursor := c.Cursor()
	for len(dates) < remaining {
		if c.EndDate != nil && cursor.After(*c.EndDate) {
			break
		}
		dates = append(dates, cursor)
		next, err := NextDate(cursor, c.Frequency, c.Interval)
		if err != nil {
			return nil, err
		}
		cursor = next
	}
	return dates, nil
}

// Validate checks the plan and returns every violation found.
func Validate(c Config) []string {
	var violations []string

	if _, err := ParseFrequency(string(c.Frequency)); err != nil {
		violations = append(violations, fmt.Sprintf("frequency must be one of weekly, monthly, quarterly, yearly; got %q", c.Frequency))
	}
	if c.Interval < MinInterval || c.Interval > MaxInterval {
		violations = append(violations, fmt.Sprintf("interval must be between %d and %d; got %d", MinInterval, MaxInterval, c.Interval))
	}
	if c.StartDate.IsZero() {
		violations = append(violations, "start_date is required")
	}
	if c.EndDate == nil && c.MaxOccurrences == nil {
		violations = append(violations, "either end_date or max_occurrences must be set")
	}
	if c.EndDate != nil && !c.StartDate.IsZero() && !c.EndDate.After(c.StartDate) {
		violations = append(violations, "end_date must be after start_date")
	}
	if c.NextGenerationDate != nil && !c.StartDate.IsZero() && c.NextGenerationDate.Before(c.StartDate) {
		violations = append(violations, "next_generation_date must not be before start_date")
	}
	if c.MaxOccurrences != nil && (*c.MaxOccurrences < MinOccurrences || *c.MaxOccurrences > MaxOccurrences) {
		violations = append(violations, fmt.Sprintf("max_occurrences must be between %d and %d; got %d", MinOccurrences, MaxOccurrences, *c.MaxOccurrences))
	}

	return violations
}
