package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 1s
}

// Date is a calendar day without a zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate accepts YYYY-MM-DD, optionally followed by a time part
// ("2024-05-01 10:00:00", "2024-05-01T10:00:00Z").
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) midnight() time.Time { return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.midnight().Format(dateLayout)
}

func (d Date) AddDays(n int) Date { return DateOf(d.midnight().AddDate(0, 0, n)) }

// DaysSince returns the number of whole days from o to d (negative if o is later).
func (d Date) DaysSince(o Date) int {
	return int(d.midnight().Sub(o.midnight()) / (24 * time.Hour))
}

// Cadence is the payment reminder period of a rental.
type Cadence string

const (
	Daily   Cadence = "daily"
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
)

func (c Cadence) Valid() bool { return c == Daily || c == Weekly || c == Monthly }

// PeriodDays is the billing period length. 0 for unknown cadences.
func (c Cadence) PeriodDays() int {
	switch c {
	case Daily:
		return 1
	case Weekly:
		return 7
	case Monthly:
		return 30
	default:
		return 0
	}
}

// RentalFallbackDays estimates the rental length for rentals without an explicit end date.
func (c Cadence) RentalFallbackDays() int {
	switch c {
	case Weekly:
		return 30
	case Monthly:
		return 90
	default:
		return 7
	}
}

// Subscription is an active rental's payment reminder schedule.
type Subscription struct {
	ID          int64
	RecipientID int64
	Cadence     Cadence
	TriggerTime string // HH:MM
	Anchor      Date   // rental start; zero if unknown
	LastFired   Date   // zero if never fired
	BaseRate    int64  // price per day

	CarName   string
	FirstName string
}

// Rental is an active rental as seen by the end-of-rental digest.
type Rental struct {
	ID          int64
	RecipientID int64
	CarName     string
	FirstName   string
	Username    string
	Cadence     Cadence
	Anchor      Date
	EndDate     Date // zero if not set
}

// EndsOn is the explicit end date, or anchor + RentalFallbackDays when none is set.
func (r Rental) EndsOn() Date {
	if !r.EndDate.IsZero() {
		return r.EndDate
	}
	if r.Anchor.IsZero() {
		return Date{}
	}
	return r.Anchor.AddDays(r.Cadence.RentalFallbackDays())
}

// Car is a fleet entry.
type Car struct {
	ID          int64
	Name        string
	Description string
	DailyPrice  int64
	Available   bool
}

type MaintenanceEntry struct {
	ID           int64
	CarID        int64
	CarName      string
	EntryType    string
	Description  string
	ReminderDate Date
}

// Recipient is a broadcast target.
type Recipient struct {
	ChatID    int64
	FirstName string
	Username  string
}

// BroadcastLog is an immutable record of one completed broadcast.
type BroadcastLog struct {
	ID          int64
	ActorID     int64
	ContentKind string
	Text        string
	Total       int
	Sent        int
	Failed      int
	Blocked     int
	CreatedAt   time.Time
}
