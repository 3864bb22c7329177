// Package reminder sends payment reminders to renters. A loop ticks once per
// interval, picks active rentals whose reminder time equals the current
// HH:MM and sends to those whose cadence is due today.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rentbot/internal/delivery"
	"rentbot/internal/observability/metrics"
	rtsup "rentbot/internal/runtime/supervisor"
	"rentbot/internal/storage"
	kit "rentbot/internal/transport"
	logx "rentbot/pkg/logx"
)

const (
	DefaultInterval    = time.Minute
	DefaultTickTimeout = 50 * time.Second
)

type Config struct {
	Enabled     bool
	Interval    time.Duration
	TickTimeout time.Duration
	// Location decides HH:MM and the calendar day. nil means time.Local.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = DefaultTickTimeout
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Store is the part of the recipient store the scheduler needs.
type Store interface {
	FindSubscriptionsByTriggerTime(ctx context.Context, hhmm string) ([]storage.Subscription, error)
	MarkFired(ctx context.Context, subscriptionID int64, day storage.Date) error
}

// TickReport summarizes one tick.
type TickReport struct {
	At         string
	Day        storage.Date
	Candidates int
	Due        int
	Sent       int
	Blocked    int
	Failed     int
	Err        error
}

type Option func(*Service)

// WithClock replaces time.Now for the loop.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	store   Store
	sender  kit.Sender
	log     logx.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu  sync.Mutex
	cfg Config
	sup *rtsup.Supervisor

	// ticks never overlap, including manual Tick calls
	tickMu sync.Mutex
}

func New(cfg Config, store Store, sender kit.Sender, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg.withDefaults(),
		store:  store,
		sender: sender,
		log:    log.With(logx.String("comp", "reminder")),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Enabled() bool { return s.config().Enabled }

// Apply swaps the config. A running loop picks up the new interval after its current wait.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Start launches the tick loop. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.Go0("reminder.loop", s.loop)
	s.log.Info("service started",
		logx.Duration("interval", s.cfg.Interval),
		logx.String("tz", s.cfg.Location.String()),
	)
}

// Stop cancels the loop and waits for an in-flight tick, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	start := time.Now()
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("stop timed out", logx.Err(err))
		return err
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return nil
}

// tickOffset keeps wakeups clear of the minute boundary so scheduling
// jitter never lands a tick in the previous HH:MM.
const tickOffset = time.Second

// nextTick is the first interval boundary after now, plus tickOffset.
func nextTick(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval + tickOffset)
}

func (s *Service) loop(ctx context.Context) {
	interval := s.config().Interval
	t := time.NewTimer(time.Hour)
	defer t.Stop()
	for {
		s.runTick(ctx)
		if iv := s.config().Interval; iv != interval {
			interval = iv
			s.log.Info("tick interval changed", logx.Duration("interval", iv))
		}
		now := s.now()
		t.Reset(nextTick(now, interval).Sub(now))
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// runTick detaches from loop cancellation so Stop lets the current tick finish.
func (s *Service) runTick(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.config().TickTimeout)
	defer cancel()
	start := time.Now()
	rep := s.Tick(ctx, s.now())
	fields := []logx.Field{
		logx.String("at", rep.At),
		logx.Int("candidates", rep.Candidates),
		logx.Int("due", rep.Due),
		logx.Int("sent", rep.Sent),
		logx.Int("blocked", rep.Blocked),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", time.Since(start)),
	}
	switch {
	case rep.Err != nil:
		s.log.Error("tick failed", append(fields, logx.Err(rep.Err))...)
	case rep.Due > 0:
		s.log.Info("tick done", fields...)
	default:
		s.log.Debug("tick done", fields...)
	}
}

// Tick runs one evaluation pass for the minute containing now.
func (s *Service) Tick(ctx context.Context, now time.Time) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.metrics.ReminderTick()

	local := now.In(s.config().Location)
	rep := TickReport{At: local.Format("15:04"), Day: storage.DateOf(local)}

	subs, err := s.store.FindSubscriptionsByTriggerTime(ctx, rep.At)
	if err != nil {
		rep.Err = fmt.Errorf("find subscriptions at %s: %w", rep.At, err)
		return rep
	}
	rep.Candidates = len(subs)

	for _, sub := range subs {
		if !Due(sub, rep.Day) {
			continue
		}
		if ctx.Err() != nil {
			s.log.Warn("tick deadline reached, leaving the rest for the next run", logx.Int64("rental_id", sub.ID))
			break
		}
		rep.Due++
		switch o := s.remind(ctx, sub, rep.Day); o.Status {
		case delivery.Sent:
			rep.Sent++
		case delivery.Blocked:
			rep.Blocked++
		default:
			rep.Failed++
		}
	}
	return rep
}

// remind sends one reminder and records the fire date on success only.
func (s *Service) remind(ctx context.Context, sub storage.Subscription, today storage.Date) (o delivery.Outcome) {
	log := s.log.With(
		logx.Int64("rental_id", sub.ID),
		logx.Int64("user_id", sub.RecipientID),
		logx.String("cadence", string(sub.Cadence)),
	)
	defer func() {
		if r := recover(); r != nil {
			o = delivery.Classify(sub.RecipientID, fmt.Errorf("panic: %v", r))
			log.Error("reminder panicked", logx.Any("panic", r))
		}
		s.metrics.Reminder(o.Status.String())
	}()

	_, err := s.sender.Send(ctx, kit.ChatTarget{ChatID: sub.RecipientID},
		kit.Text(FormatReminder(sub, today)),
		&kit.SendOptions{ParseMode: kit.ParseModeHTML})
	o = delivery.Classify(sub.RecipientID, err)

	switch o.Status {
	case delivery.Sent:
		if err := s.store.MarkFired(ctx, sub.ID, today); err != nil {
			log.Error("reminder sent but fire date not saved", logx.Err(err))
		} else {
			log.Info("reminder sent")
		}
	case delivery.Blocked:
		log.Warn("recipient blocked the bot, reminder not sent")
	default:
		log.Error("reminder send failed", logx.String("error", o.Error))
	}
	return o
}
