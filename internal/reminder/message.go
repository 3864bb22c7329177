package reminder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"rentbot/internal/storage"
	"rentbot/pkg/tgui"
)

const defaultCarName = "Car"

// FormatReminder renders the payment reminder sent to the renter.
func FormatReminder(sub storage.Subscription, today storage.Date) string {
	car := strings.TrimSpace(sub.CarName)
	if car == "" {
		car = defaultCarName
	}
	days := 0
	if !sub.Anchor.IsZero() {
		days = today.DaysSince(sub.Anchor)
	}
	return tgui.New().
		Title("💳", "PAYMENT REMINDER").
		Blank().
		Rule().
		KV("🚗", "Car", car).
		KVH("💰", "Amount due", tgui.Code(fmt.Sprintf("%s ₽", humanize.Comma(Amount(sub))))).
		KV("📅", "Period", periodLabel(sub.Cadence)).
		KV("📆", "Days rented", strconv.Itoa(days)).
		Rule().
		Blank().
		HTML(tgui.I("💡 Please pay for your car rental.")).
		Blank().
		HTML(tgui.I("📞 Contact the manager to arrange payment.")).
		String()
}
