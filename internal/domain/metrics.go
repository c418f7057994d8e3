package domain

import (
	"fmt"
	"time"
)

const (
	HourKeyLayout = "2006-01-02T15"
	DayKeyLayout  = "2006-01-02"
)

// Scope selects the rollup granularity.
type Scope string

const (
	ScopeHour Scope = "hour"
	ScopeDay  Scope = "day"
)

// MetricsHourly is the derived sum of a user's ledger amounts for one UTC hour.
type MetricsHourly struct {
	UserID       string    `db:"user_id" json:"user_id"`
	HourUTC      time.Time `db:"hour_utc" json:"hour_utc"`
	PointsEarned int64     `db:"points_earned" json:"points_earned"`
	EventCount   int64     `db:"event_count" json:"event_count"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// MetricsDaily is the derived sum of a user's ledger amounts for one UTC day.
type MetricsDaily struct {
	UserID       string    `db:"user_id" json:"user_id"`
	DayUTC       time.Time `db:"day_utc" json:"day_utc"`
	PointsEarned int64     `db:"points_earned" json:"points_earned"`
	EventCount   int64     `db:"event_count" json:"event_count"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Window returns the half-open UTC interval [start, end) of the bucket containing t.
func (s Scope) Window(t time.Time) (time.Time, time.Time, error) {
	t = t.UTC()
	switch s {
	case ScopeHour:
		start := t.Truncate(time.Hour)
		return start, start.Add(time.Hour), nil
	case ScopeDay:
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown scope %q", s)
}

// Key formats the bucket start as a bucket key.
func (s Scope) Key(start time.Time) string {
	if s == ScopeDay {
		return start.UTC().Format(DayKeyLayout)
	}
	return start.UTC().Format(HourKeyLayout)
}

// ParseKey parses a bucket key into the bucket start.
func (s Scope) ParseKey(key string) (time.Time, error) {
	switch s {
	case ScopeHour:
		return time.ParseInLocation(HourKeyLayout, key, time.UTC)
	case ScopeDay:
		return time.ParseInLocation(DayKeyLayout, key, time.UTC)
	}
	return time.Time{}, fmt.Errorf("unknown scope %q", s)
}

// Previous returns the start of the last complete bucket before now.
func (s Scope) Previous(now time.Time) (time.Time, error) {
	start, _, err := s.Window(now)
	if err != nil {
		return time.Time{}, err
	}
	if s == ScopeDay {
		return start.AddDate(0, 0, -1), nil
	}
	return start.Add(-time.Hour), nil
}
