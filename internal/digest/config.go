package digest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	JobRentalsEnding  = "rentals_ending_tomorrow"
	JobMaintenanceDue = "maintenance_due_today"
	JobNewRental      = "new_rental"

	DefaultAt         = "10:00"
	defaultRunTimeout = 5 * time.Minute
)

type Config struct {
	Enabled bool
	// At is the daily fire time, HH:MM in Location.
	At       string
	Location *time.Location
	// AdminIDs restricts digests to stored administrators in this list. Empty means all.
	AdminIDs []int64
	// RunTimeout bounds one job run. 0 means 5m.
	RunTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.At) == "" {
		c.At = DefaultAt
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaultRunTimeout
	}
	return c
}

// ParseHHMM parses a 24h "HH:MM" wall-clock time.
func ParseHHMM(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(hs)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(ms)
	if err != nil || minute < 0 || minute > 59 || len(ms) != 2 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// cronSpec turns HH:MM into a daily 5-field cron spec.
func cronSpec(hour, minute int) string { return fmt.Sprintf("%d %d * * *", minute, hour) }
