package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "rentbot/pkg/logx"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "rentbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustCar(t *testing.T, st *SQLite, name string, price int64) int64 {
	t.Helper()
	id, err := st.AddCar(context.Background(), Car{Name: name, DailyPrice: price})
	if err != nil {
		t.Fatalf("AddCar: %v", err)
	}
	return id
}

func mustRental(t *testing.T, st *SQLite, r NewRental) int64 {
	t.Helper()
	id, err := st.AddRental(context.Background(), r)
	if err != nil {
		t.Fatalf("AddRental: %v", err)
	}
	return id
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "x", "rentbot.db")
	for i := 0; i < 2; i++ {
		st, err := Open(Config{Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if err := st.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
		_ = st.Close()
	}
}

func TestFindSubscriptionsByTriggerTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	car := mustCar(t, st, "Kia Rio", 2500)
	if err := st.UpsertUser(ctx, Recipient{ChatID: 100, FirstName: "Ann"}); err != nil {
		t.Fatal(err)
	}
	start := Date{2024, time.March, 1}
	last := Date{2024, time.March, 8}

	want := mustRental(t, st, NewRental{RecipientID: 100, CarID: car, Start: start, DailyPrice: 2500, TriggerTime: "09:00", Cadence: Weekly, LastFired: last})
	mustRental(t, st, NewRental{RecipientID: 100, CarID: car, Start: start, DailyPrice: 2500, TriggerTime: "10:00", Cadence: Daily})
	mustRental(t, st, NewRental{RecipientID: 100, CarID: car, Start: start, DailyPrice: 2500, TriggerTime: "09:00", Cadence: Daily, Inactive: true})

	subs, err := st.FindSubscriptionsByTriggerTime(ctx, "09:00")
	if err != nil {
		t.Fatalf("FindSubscriptionsByTriggerTime: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(subs))
	}
	s := subs[0]
	if s.ID != want || s.RecipientID != 100 || s.Cadence != Weekly || s.BaseRate != 2500 {
		t.Fatalf("subscription = %+v", s)
	}
	if s.Anchor != start || s.LastFired != last {
		t.Fatalf("dates = %v / %v, want %v / %v", s.Anchor, s.LastFired, start, last)
	}
	if s.CarName != "Kia Rio" || s.FirstName != "Ann" {
		t.Fatalf("display fields = %q %q", s.CarName, s.FirstName)
	}
}

func TestMarkFired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	car := mustCar(t, st, "Lada", 1000)
	id := mustRental(t, st, NewRental{RecipientID: 1, CarID: car, Start: Date{2024, time.March, 1}, DailyPrice: 1000, TriggerTime: "12:00", Cadence: Daily})

	day := Date{2024, time.March, 5}
	if err := st.MarkFired(ctx, id, day); err != nil {
		t.Fatalf("MarkFired: %v", err)
	}
	subs, err := st.FindSubscriptionsByTriggerTime(ctx, "12:00")
	if err != nil || len(subs) != 1 {
		t.Fatalf("find: %v, %d", err, len(subs))
	}
	if subs[0].LastFired != day {
		t.Fatalf("LastFired = %v, want %v", subs[0].LastFired, day)
	}
	if err := st.MarkFired(ctx, 9999, day); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkFired(missing) = %v, want ErrNotFound", err)
	}
}

func TestFindRentalsEndingOn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	car := mustCar(t, st, "Skoda", 3000)
	tomorrow := Date{2024, time.June, 10}

	explicit := mustRental(t, st, NewRental{RecipientID: 1, CarID: car, Start: Date{2024, time.June, 1}, End: tomorrow, DailyPrice: 1, TriggerTime: "12:00", Cadence: Monthly})
	weekly := mustRental(t, st, NewRental{RecipientID: 2, CarID: car, Start: tomorrow.AddDays(-30), DailyPrice: 1, TriggerTime: "12:00", Cadence: Weekly})
	daily := mustRental(t, st, NewRental{RecipientID: 3, CarID: car, Start: tomorrow.AddDays(-7), DailyPrice: 1, TriggerTime: "12:00", Cadence: Daily})
	// explicit end date wins over the fallback estimate
	mustRental(t, st, NewRental{RecipientID: 4, CarID: car, Start: tomorrow.AddDays(-7), End: tomorrow.AddDays(3), DailyPrice: 1, TriggerTime: "12:00", Cadence: Daily})
	// inactive
	mustRental(t, st, NewRental{RecipientID: 5, CarID: car, End: tomorrow, DailyPrice: 1, TriggerTime: "12:00", Cadence: Daily, Inactive: true})
	// no dates at all
	mustRental(t, st, NewRental{RecipientID: 6, CarID: car, DailyPrice: 1, TriggerTime: "12:00", Cadence: Daily})

	got, err := st.FindRentalsEndingOn(ctx, tomorrow)
	if err != nil {
		t.Fatalf("FindRentalsEndingOn: %v", err)
	}
	ids := map[int64]bool{}
	for _, r := range got {
		ids[r.ID] = true
		if r.EndsOn() != tomorrow {
			t.Fatalf("rental %d EndsOn = %v, want %v", r.ID, r.EndsOn(), tomorrow)
		}
	}
	if len(got) != 3 || !ids[explicit] || !ids[weekly] || !ids[daily] {
		t.Fatalf("rentals = %+v", got)
	}
}

func TestFindMaintenanceDueOn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	a := mustCar(t, st, "Audi", 1)
	b := mustCar(t, st, "BMW", 1)
	today := Date{2024, time.July, 1}
	for _, e := range []struct {
		car  int64
		desc string
		day  Date
	}{
		{a, "oil", today},
		{b, "tires", today},
		{a, "brakes", today.AddDays(1)},
		{b, "wash", Date{}},
	} {
		if _, err := st.AddMaintenance(ctx, e.car, "service", e.desc, e.day); err != nil {
			t.Fatal(err)
		}
	}
	got, err := st.FindMaintenanceDueOn(ctx, today)
	if err != nil {
		t.Fatalf("FindMaintenanceDueOn: %v", err)
	}
	if len(got) != 2 || got[0].CarName != "Audi" || got[1].CarName != "BMW" {
		t.Fatalf("entries = %+v", got)
	}
}

func TestRecipientsPaging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	for i := int64(1); i <= 7; i++ {
		if err := st.UpsertUser(ctx, Recipient{ChatID: i * 10}); err != nil {
			t.Fatal(err)
		}
	}

	var sizes []int
	var all []int64
	for page, err := range st.Recipients(ctx, 3) {
		if err != nil {
			t.Fatalf("Recipients: %v", err)
		}
		sizes = append(sizes, len(page))
		for _, r := range page {
			all = append(all, r.ChatID)
		}
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Fatalf("page sizes = %v, want [3 3 1]", sizes)
	}
	for i, id := range all {
		if id != int64(i+1)*10 {
			t.Fatalf("order = %v", all)
		}
	}

	// Early break stops the iteration.
	pages := 0
	for range st.Recipients(ctx, 2) {
		pages++
		break
	}
	if pages != 1 {
		t.Fatalf("pages after break = %d", pages)
	}
}

func TestRecipientsEmpty(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	for range st.Recipients(context.Background(), 10) {
		t.Fatal("empty roster yielded a page")
	}
}

func TestBroadcastLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	base := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		err := st.AppendBroadcastLog(ctx, BroadcastLog{
			ActorID: 1, ContentKind: "text", Text: "hello",
			Total: 10, Sent: 8, Failed: 1, Blocked: 1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendBroadcastLog: %v", err)
		}
	}
	got, err := st.RecentBroadcastLogs(ctx, 5)
	if err != nil {
		t.Fatalf("RecentBroadcastLogs: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("logs = %d, want 5", len(got))
	}
	if !got[0].CreatedAt.Equal(base.Add(6 * time.Minute)) {
		t.Fatalf("newest = %v", got[0].CreatedAt)
	}
	if got[0].Sent+got[0].Failed+got[0].Blocked != got[0].Total {
		t.Fatalf("counts = %+v", got[0])
	}
}

func TestListAdministrators(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	for _, id := range []int64{30, 10, 20, 10} {
		if err := st.AddAdministrator(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	got, err := st.ListAdministrators(ctx)
	if err != nil {
		t.Fatalf("ListAdministrators: %v", err)
	}
	if len(got) != 3 || got[0] != 10 || got[2] != 30 {
		t.Fatalf("admins = %v", got)
	}
}

func TestRentalByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	car := mustCar(t, st, "Kia Rio", 2500)
	if err := st.UpsertUser(ctx, Recipient{ChatID: 100, FirstName: "Ann", Username: "ann"}); err != nil {
		t.Fatal(err)
	}
	start := Date{2024, time.March, 1}
	id := mustRental(t, st, NewRental{RecipientID: 100, CarID: car, Start: start, DailyPrice: 2500, TriggerTime: "09:00", Cadence: Weekly})

	got, err := st.RentalByID(ctx, id)
	if err != nil {
		t.Fatalf("RentalByID: %v", err)
	}
	if got.ID != id || got.CarName != "Kia Rio" || got.FirstName != "Ann" || got.Username != "ann" || got.Anchor != start || got.Cadence != Weekly {
		t.Fatalf("rental = %+v", got)
	}
	if _, err := st.RentalByID(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RentalByID(missing) = %v, want ErrNotFound", err)
	}
}

func TestCarByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	id, err := st.AddCar(ctx, Car{Name: "Kia K5", Description: "Sedan, automatic", DailyPrice: 3500})
	if err != nil {
		t.Fatalf("AddCar: %v", err)
	}
	got, err := st.CarByID(ctx, id)
	if err != nil {
		t.Fatalf("CarByID: %v", err)
	}
	if got.Name != "Kia K5" || got.Description != "Sedan, automatic" || got.DailyPrice != 3500 || !got.Available {
		t.Fatalf("car = %+v", got)
	}
	plain := mustCar(t, st, "Lada", 1000)
	if got, err := st.CarByID(ctx, plain); err != nil || got.Description != "" {
		t.Fatalf("CarByID(no description) = %+v, %v", got, err)
	}
	if _, err := st.CarByID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CarByID(missing) = %v, want ErrNotFound", err)
	}
}
