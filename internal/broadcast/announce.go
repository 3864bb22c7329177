package broadcast

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"rentbot/internal/storage"
	kit "rentbot/internal/transport"
	"rentbot/pkg/tgui"
)

// CarAnnouncement builds the "new car in the fleet" broadcast, with buttons
// for the car card, the catalog and the booking manager.
func CarAnnouncement(car storage.Car, managerUsername string, actorID int64) Job {
	desc := strings.TrimSpace(car.Description)
	if desc == "" {
		desc = "No description"
	}
	text := tgui.New().
		Title("🚗", "NEW CAR IN THE FLEET!").
		Blank().
		Rule().
		HTML(tgui.Raw("🔥 " + tgui.B(car.Name).String())).
		Rule().
		Blank().
		HTML(tgui.B("📝 Description:")).
		HTML(tgui.I(desc)).
		Blank().
		HTML(tgui.Raw(fmt.Sprintf("💰 %s %s %s", tgui.B("Daily price:"),
			tgui.Code(humanize.Comma(car.DailyPrice)+" ₽"), tgui.I("per day")))).
		Blank().
		HTML(tgui.B("✨ Available for booking now!")).
		String()

	var kb kit.Keyboard
	if car.ID > 0 {
		kb = append(kb, []kit.Button{{Text: "🚗 Car details", Data: fmt.Sprintf("car_details:%d", car.ID)}})
	}
	row := []kit.Button{{Text: "📋 Catalog", Data: "show_catalog_from_notification"}}
	if u := strings.TrimPrefix(strings.TrimSpace(managerUsername), "@"); u != "" {
		row = append(row, kit.Button{Text: "📞 Contact manager", URL: "https://t.me/" + u})
	}
	kb = append(kb, row)

	return Job{Content: kit.Text(text), Keyboard: kb, ActorID: actorID}
}

// Announce broadcasts the new-car announcement for car to every recipient.
func (d *Dispatcher) Announce(ctx context.Context, car storage.Car, actorID int64) (Stats, error) {
	if !car.Available {
		return Stats{}, fmt.Errorf("car %d is not available for booking", car.ID)
	}
	return d.Broadcast(ctx, CarAnnouncement(car, d.config().ManagerUsername, actorID))
}
