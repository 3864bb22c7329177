package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"rentbot/internal/storage"
	kit "rentbot/internal/transport"
	logx "rentbot/pkg/logx"
)

var anchor = storage.Date{Year: 2024, Month: time.January, Day: 1}

func TestDueWeekly(t *testing.T) {
	t.Parallel()
	tests := []struct {
		days int
		last int // days after anchor of the previous fire, -1 = never
		want bool
	}{
		{0, -1, false},
		{6, -1, false},
		{7, -1, true},
		{13, -1, false},
		{14, -1, true},
		{14, 0, true},
		{14, 7, true},
		{14, 10, false},
		{14, 14, false},
		{21, 14, true},
	}
	for _, tt := range tests {
		sub := storage.Subscription{Cadence: storage.Weekly, Anchor: anchor}
		if tt.last >= 0 {
			sub.LastFired = anchor.AddDays(tt.last)
		}
		if got := Due(sub, anchor.AddDays(tt.days)); got != tt.want {
			t.Fatalf("weekly day %d last %d: got %v, want %v", tt.days, tt.last, got, tt.want)
		}
	}
}

func TestDueMonthly(t *testing.T) {
	t.Parallel()
	tests := []struct {
		days int
		last int // -1 = never
		want bool
	}{
		{0, -1, false},
		{29, -1, false},
		{30, -1, true},
		{59, -1, false},
		{60, -1, true},
		{60, 30, true},
		{60, 45, false},
		{60, 60, false},
	}
	for _, tt := range tests {
		sub := storage.Subscription{Cadence: storage.Monthly, Anchor: anchor}
		if tt.last >= 0 {
			sub.LastFired = anchor.AddDays(tt.last)
		}
		if got := Due(sub, anchor.AddDays(tt.days)); got != tt.want {
			t.Fatalf("monthly day %d last %d: got %v, want %v", tt.days, tt.last, got, tt.want)
		}
	}
}

func TestDueDaily(t *testing.T) {
	t.Parallel()
	today := anchor.AddDays(3)
	tests := []struct {
		name string
		sub  storage.Subscription
		want bool
	}{
		{"never fired", storage.Subscription{Cadence: storage.Daily, Anchor: anchor}, true},
		{"fired yesterday", storage.Subscription{Cadence: storage.Daily, Anchor: anchor, LastFired: today.AddDays(-1)}, true},
		{"fired today", storage.Subscription{Cadence: storage.Daily, Anchor: anchor, LastFired: today}, false},
		{"no anchor", storage.Subscription{Cadence: storage.Daily}, false},
		{"unknown cadence", storage.Subscription{Cadence: "yearly", Anchor: anchor}, false},
	}
	for _, tt := range tests {
		if got := Due(tt.sub, today); got != tt.want {
			t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAmount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		c    storage.Cadence
		want int64
	}{
		{storage.Daily, 2500},
		{storage.Weekly, 17500},
		{storage.Monthly, 75000},
		{"odd", 2500},
	}
	for _, tt := range tests {
		if got := Amount(storage.Subscription{Cadence: tt.c, BaseRate: 2500}); got != tt.want {
			t.Fatalf("Amount(%s) = %d, want %d", tt.c, got, tt.want)
		}
	}
}

func TestFormatReminder(t *testing.T) {
	t.Parallel()
	sub := storage.Subscription{Cadence: storage.Weekly, Anchor: anchor, BaseRate: 2500, CarName: "Kia <Rio>"}
	got := FormatReminder(sub, anchor.AddDays(14))
	for _, want := range []string{"Kia &lt;Rio&gt;", "<code>17,500 ₽</code>", "Weekly payment (7 days)", "<b>Days rented:</b> 14"} {
		if !strings.Contains(got, want) {
			t.Fatalf("reminder missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(FormatReminder(storage.Subscription{Cadence: storage.Daily}, anchor), "<b>Car:</b> Car") {
		t.Fatal("empty car name not defaulted")
	}
}

type fakeStore struct {
	mu      sync.Mutex
	subs    []storage.Subscription
	queried []string
	fired   map[int64]storage.Date
	findErr error
}

func (f *fakeStore) FindSubscriptionsByTriggerTime(_ context.Context, hhmm string) ([]storage.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, hhmm)
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []storage.Subscription
	for _, s := range f.subs {
		if s.TriggerTime == hhmm {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkFired(_ context.Context, id int64, day storage.Date) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fired == nil {
		f.fired = map[int64]storage.Date{}
	}
	f.fired[id] = day
	for i := range f.subs {
		if f.subs[i].ID == id {
			f.subs[i].LastFired = day
		}
	}
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []int64
	errFn func(chatID int64) error
}

func (f *fakeSender) Send(_ context.Context, to kit.ChatTarget, c kit.Content, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errFn != nil {
		if err := f.errFn(to.ChatID); err != nil {
			return kit.MessageRef{}, err
		}
	}
	f.sent = append(f.sent, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func TestTickSendsDueAndMarksFired(t *testing.T) {
	t.Parallel()
	st := &fakeStore{subs: []storage.Subscription{
		{ID: 1, RecipientID: 10, Cadence: storage.Daily, TriggerTime: "09:00", Anchor: anchor},
		{ID: 2, RecipientID: 20, Cadence: storage.Weekly, TriggerTime: "09:00", Anchor: anchor},
		{ID: 3, RecipientID: 30, Cadence: storage.Daily, TriggerTime: "10:00", Anchor: anchor},
	}}
	snd := &fakeSender{}
	s := New(Config{Location: time.UTC}, st, snd, logx.Nop())
	now := time.Date(2024, time.January, 8, 9, 0, 30, 0, time.UTC)

	rep := s.Tick(context.Background(), now)
	if rep.At != "09:00" || rep.Candidates != 2 || rep.Due != 2 || rep.Sent != 2 {
		t.Fatalf("report = %+v", rep)
	}
	day := storage.DateOf(now)
	if st.fired[1] != day || st.fired[2] != day {
		t.Fatalf("fired = %v, want both on %v", st.fired, day)
	}
	if _, ok := st.fired[3]; ok {
		t.Fatal("subscription at another minute was fired")
	}

	// Same minute again: the daily marker prevents a duplicate,
	// the weekly one is inside its period.
	rep = s.Tick(context.Background(), now.Add(10*time.Second))
	if rep.Due != 0 || len(snd.sent) != 2 {
		t.Fatalf("second tick = %+v, sent %v", rep, snd.sent)
	}
}

func TestTickFailedSendIsRetriedNextTick(t *testing.T) {
	t.Parallel()
	st := &fakeStore{subs: []storage.Subscription{
		{ID: 1, RecipientID: 10, Cadence: storage.Daily, TriggerTime: "09:00", Anchor: anchor},
		{ID: 2, RecipientID: 20, Cadence: storage.Daily, TriggerTime: "09:00", Anchor: anchor},
	}}
	fail := true
	snd := &fakeSender{errFn: func(id int64) error {
		switch {
		case id == 10 && fail:
			return errors.New("telegram: internal error (500)")
		case id == 20:
			return kit.ErrUnreachable
		}
		return nil
	}}
	s := New(Config{Location: time.UTC}, st, snd, logx.Nop())
	now := time.Date(2024, time.January, 8, 9, 0, 0, 0, time.UTC)

	rep := s.Tick(context.Background(), now)
	if rep.Failed != 1 || rep.Blocked != 1 || rep.Sent != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(st.fired) != 0 {
		t.Fatalf("fired after failures: %v", st.fired)
	}

	fail = false
	rep = s.Tick(context.Background(), now.Add(20*time.Second))
	if rep.Sent != 1 || st.fired[1] != storage.DateOf(now) {
		t.Fatalf("retry report = %+v, fired %v", rep, st.fired)
	}
}

func TestTickUsesLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+3", 3*3600)
	st := &fakeStore{}
	s := New(Config{Location: loc}, st, &fakeSender{}, logx.Nop())
	rep := s.Tick(context.Background(), time.Date(2024, time.January, 1, 22, 15, 0, 0, time.UTC))
	if rep.At != "01:15" || rep.Day != (storage.Date{Year: 2024, Month: time.January, Day: 2}) {
		t.Fatalf("report = %+v", rep)
	}
}

func TestTickStoreError(t *testing.T) {
	t.Parallel()
	st := &fakeStore{findErr: errors.New("disk I/O error")}
	s := New(Config{Location: time.UTC}, st, &fakeSender{}, logx.Nop())
	rep := s.Tick(context.Background(), time.Now())
	if rep.Err == nil || rep.Due != 0 {
		t.Fatalf("report = %+v, want error", rep)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	ticked := make(chan struct{}, 1)
	clock := func() time.Time {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	}
	s := New(Config{Enabled: true, Interval: time.Hour, Location: time.UTC}, st, &fakeSender{}, logx.Nop(), WithClock(clock))
	s.Start(context.Background())
	s.Start(context.Background())

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not tick on start")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeStore{}, &fakeSender{}, logx.Nop())
	s.Start(context.Background())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNextTickAlignsToBoundary(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		now      time.Time
		interval time.Duration
		want     time.Time
	}{
		{base, time.Minute, base.Add(time.Minute + time.Second)},
		{base.Add(59*time.Second + 990*time.Millisecond), time.Minute, base.Add(time.Minute + time.Second)},
		{base.Add(time.Minute + 500*time.Millisecond), time.Minute, base.Add(2*time.Minute + time.Second)},
		{base.Add(7 * time.Minute), 5 * time.Minute, base.Add(10*time.Minute + time.Second)},
	}
	for _, tt := range tests {
		got := nextTick(tt.now, tt.interval)
		if !got.Equal(tt.want) {
			t.Fatalf("nextTick(%s, %v) = %s, want %s", tt.now.Format("15:04:05.000"), tt.interval, got.Format("15:04:05.000"), tt.want.Format("15:04:05.000"))
		}
		if local := got.Format("15:04"); local != tt.want.Format("15:04") {
			t.Fatalf("tick lands in %s", local)
		}
	}
}
