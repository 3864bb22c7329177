package digest

import (
	"fmt"
	"strings"

	"rentbot/internal/storage"
	"rentbot/pkg/tgui"
)

const unknownCar = "Unknown car"

func displayName(firstName string, id int64) string {
	if n := strings.TrimSpace(firstName); n != "" {
		return n
	}
	return fmt.Sprintf("ID: %d", id)
}

func carName(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return unknownCar
}

// FormatRentalsEnding renders one digest line per rental.
func FormatRentalsEnding(rentals []storage.Rental) string {
	b := tgui.New().Title("🔔", "Rentals ending tomorrow").Blank()
	for _, r := range rentals {
		who := tgui.Esc(displayName(r.FirstName, r.RecipientID))
		if u := strings.TrimPrefix(strings.TrimSpace(r.Username), "@"); u != "" {
			who = tgui.JoinH(" ", who, tgui.Esc("(@"+u+")"))
		}
		b.HTML(tgui.Raw(fmt.Sprintf("• %s rented by %s ends on %s.",
			tgui.B(carName(r.CarName)), who, tgui.Esc(r.EndsOn().String()))))
	}
	return b.String()
}

// FormatNewRental renders the new-rental notice. The start date is shown as DD.MM.YYYY.
func FormatNewRental(r storage.Rental) string {
	who := tgui.Esc(displayName(r.FirstName, r.RecipientID))
	if u := strings.TrimPrefix(strings.TrimSpace(r.Username), "@"); u != "" {
		who = tgui.JoinH(" ", who, tgui.Esc("(@"+u+")"))
	}
	since := "not specified"
	if !r.Anchor.IsZero() {
		since = fmt.Sprintf("%02d.%02d.%d", r.Anchor.Day, int(r.Anchor.Month), r.Anchor.Year)
	}
	return tgui.New().
		Title("🔔", "New rental!").
		Blank().
		HTML(tgui.Raw(fmt.Sprintf("User %s rented %s from %s.", who, tgui.B(carName(r.CarName)), tgui.Esc(since)))).
		String()
}

// FormatMaintenance renders the digest for the entries of one car.
func FormatMaintenance(car string, entries []storage.MaintenanceEntry) string {
	b := tgui.New().Title("🔔", "Car maintenance reminder").Blank().HTML(tgui.B(carName(car))).Blank()
	for _, e := range entries {
		kind := strings.TrimSpace(e.EntryType)
		if kind == "" {
			kind = "Maintenance"
		}
		b.Bullets(fmt.Sprintf("%s (type: %s)", strings.TrimSpace(e.Description), kind))
	}
	return b.String()
}

type carGroup struct {
	name    string
	entries []storage.MaintenanceEntry
}

// groupByCar keeps the order in which cars first appear.
func groupByCar(entries []storage.MaintenanceEntry) []carGroup {
	idx := map[int64]int{}
	var out []carGroup
	for _, e := range entries {
		i, ok := idx[e.CarID]
		if !ok {
			i = len(out)
			idx[e.CarID] = i
			out = append(out, carGroup{name: e.CarName})
		}
		out[i].entries = append(out[i].entries, e)
	}
	return out
}
