package reminder

import "rentbot/internal/storage"

// Due reports whether sub should fire on today.
//
// Daily fires once per calendar day. Weekly and monthly fire on anchor+P,
// anchor+2P, ... and never twice within one period. A subscription without
// an anchor date, or with an unknown cadence, is never due.
func Due(sub storage.Subscription, today storage.Date) bool {
	if sub.Anchor.IsZero() {
		return false
	}
	switch sub.Cadence {
	case storage.Daily:
		return sub.LastFired != today
	case storage.Weekly, storage.Monthly:
		p := sub.Cadence.PeriodDays()
		since := today.DaysSince(sub.Anchor)
		if since < p {
			return false
		}
		if !sub.LastFired.IsZero() && today.DaysSince(sub.LastFired) < p {
			return false
		}
		return since%p == 0
	default:
		return false
	}
}

// Amount is the sum due for one period.
func Amount(sub storage.Subscription) int64 {
	p := sub.Cadence.PeriodDays()
	if p == 0 {
		p = 1
	}
	return sub.BaseRate * int64(p)
}

func periodLabel(c storage.Cadence) string {
	switch c {
	case storage.Weekly:
		return "Weekly payment (7 days)"
	case storage.Monthly:
		return "Monthly payment (30 days)"
	default:
		return "Daily payment"
	}
}
