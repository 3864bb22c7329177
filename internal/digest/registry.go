// Package digest runs the daily administrator digests on a cron schedule
// (rentals ending tomorrow, car maintenance due today) and sends the
// immediate new-rental notice.
package digest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rentbot/internal/delivery"
	"rentbot/internal/observability/metrics"
	"rentbot/internal/storage"
	kit "rentbot/internal/transport"
	logx "rentbot/pkg/logx"
)

// Store is the part of the recipient store the digests read.
type Store interface {
	FindRentalsEndingOn(ctx context.Context, day storage.Date) ([]storage.Rental, error)
	FindMaintenanceDueOn(ctx context.Context, day storage.Date) ([]storage.MaintenanceEntry, error)
	ListAdministrators(ctx context.Context) ([]int64, error)
	RentalByID(ctx context.Context, id int64) (storage.Rental, error)
}

// RunReport summarizes one job run. Sent, Blocked and Failed count deliveries
// (digests × administrators).
type RunReport struct {
	Job     string
	Day     storage.Date
	Matches int
	Digests int
	Admins  int
	Sent    int
	Blocked int
	Failed  int
	Err     error
}

type Option func(*Registry)

func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

// WithClock replaces time.Now for scheduled runs.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

type Registry struct {
	store   Store
	sender  kit.Sender
	log     logx.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	parser  cron.Parser

	mu      sync.Mutex
	cfg     Config
	spec    string
	c       *cron.Cron
	baseCtx context.Context
	entries map[string]cron.EntryID
}

func New(cfg Config, store Store, sender kit.Sender, log logx.Logger, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		store:   store,
		sender:  sender,
		log:     log.With(logx.String("comp", "digest")),
		now:     time.Now,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		cfg:     cfg.withDefaults(),
		entries: map[string]cron.EntryID{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

func (r *Registry) Enabled() bool { return r.config().Enabled }

// specLocked resolves the configured time, falling back to DefaultAt.
func (r *Registry) specLocked() string {
	h, m, err := ParseHHMM(r.cfg.At)
	if err != nil {
		r.log.Warn("invalid digest time, using default", logx.String("at", r.cfg.At), logx.String("default", DefaultAt), logx.Err(err))
		h, m, _ = ParseHHMM(DefaultAt)
	}
	return cronSpec(h, m)
}

// Start registers both jobs and starts the cron loop. No-op when disabled or running.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseCtx = ctx
	if r.c != nil || !r.cfg.Enabled {
		return nil
	}
	return r.startLocked(r.specLocked())
}

func (r *Registry) startLocked(spec string) error {
	cl := cronLogger{log: r.log}
	c := cron.New(
		cron.WithParser(r.parser),
		cron.WithLocation(r.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	jobs := []struct {
		name string
		run  func(context.Context, time.Time) RunReport
	}{
		{JobRentalsEnding, r.RunRentalsEndingTomorrow},
		{JobMaintenanceDue, r.RunMaintenanceDueToday},
	}
	entries := map[string]cron.EntryID{}
	for _, j := range jobs {
		id, err := c.AddFunc(spec, r.scheduled(j.name, j.run))
		if err != nil {
			return fmt.Errorf("register %s (%q): %w", j.name, spec, err)
		}
		entries[j.name] = id
	}
	r.c, r.spec, r.entries = c, spec, entries
	c.Start()
	r.log.Info("service started", logx.String("spec", spec), logx.String("tz", r.cfg.Location.String()))
	return nil
}

func (r *Registry) scheduled(name string, run func(context.Context, time.Time) RunReport) func() {
	return func() {
		cfg := r.config()
		r.mu.Lock()
		base := r.baseCtx
		r.mu.Unlock()
		if base == nil {
			base = context.Background()
		}
		ctx, cancel := context.WithTimeout(base, cfg.RunTimeout)
		defer cancel()
		rep := run(ctx, r.now())
		if rep.Err != nil {
			r.log.Error("digest job failed", logx.String("job", name), logx.Err(rep.Err))
		}
	}
}

// Apply swaps the config and re-registers the jobs when the time, zone or enabled flag changed.
func (r *Registry) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	old := r.cfg
	r.cfg = cfg
	var (
		stale context.Context
		start bool
		spec  = r.specLocked()
	)
	switch {
	case r.c == nil:
		start = cfg.Enabled && r.baseCtx != nil
	case !cfg.Enabled:
		stale = r.detachLocked()
	case spec != r.spec || cfg.Location.String() != old.Location.String():
		stale = r.detachLocked()
		start = true
	}
	if start {
		if err := r.startLocked(spec); err != nil {
			r.log.Error("digest start failed", logx.Err(err))
		}
	}
	r.mu.Unlock()

	if stale != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
		defer cancel()
		r.waitStopped(ctx, stale)
	}
}

// Next returns the next scheduled fire time of job, zero when not scheduled.
func (r *Registry) Next(job string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entries[job]
	if r.c == nil || !ok {
		return time.Time{}
	}
	return r.c.Entry(id).Next
}

// Stop stops triggering and waits for running jobs, bounded by ctx.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	stopped := r.detachLocked()
	r.baseCtx = nil
	r.mu.Unlock()
	if stopped != nil {
		r.waitStopped(ctx, stopped)
	}
}

// detachLocked stops triggering and returns the context that is done once running jobs finish.
func (r *Registry) detachLocked() context.Context {
	c := r.c
	r.c = nil
	r.entries = map[string]cron.EntryID{}
	if c == nil {
		return nil
	}
	return c.Stop()
}

func (r *Registry) waitStopped(ctx context.Context, stopped context.Context) {
	start := time.Now()
	select {
	case <-stopped.Done():
		r.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		r.log.Warn("stop timed out waiting for running jobs", logx.Err(ctx.Err()))
	}
}

// RunAll runs both jobs now, in order.
func (r *Registry) RunAll(ctx context.Context) []RunReport {
	now := r.now()
	return []RunReport{
		r.RunRentalsEndingTomorrow(ctx, now),
		r.RunMaintenanceDueToday(ctx, now),
	}
}

// RunRentalsEndingTomorrow sends one digest listing every active rental that ends
// the day after now, to every administrator.
func (r *Registry) RunRentalsEndingTomorrow(ctx context.Context, now time.Time) RunReport {
	cfg := r.config()
	tomorrow := storage.DateOf(now.In(cfg.Location)).AddDays(1)
	rep := RunReport{Job: JobRentalsEnding, Day: tomorrow}

	rentals, err := r.store.FindRentalsEndingOn(ctx, tomorrow)
	if err != nil {
		rep.Err = fmt.Errorf("find rentals ending %s: %w", tomorrow, err)
		return rep
	}
	rep.Matches = len(rentals)
	if len(rentals) == 0 {
		r.log.Debug("no rentals end tomorrow", logx.String("day", tomorrow.String()))
		return rep
	}

	admins, err := r.admins(ctx, cfg)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Admins = len(admins)
	if len(admins) == 0 {
		r.log.Warn("no administrators to notify", logx.String("job", rep.Job))
		return rep
	}
	r.deliver(ctx, &rep, admins, FormatRentalsEnding(rentals))
	r.logReport(rep)
	return rep
}

// RunMaintenanceDueToday sends one digest per car with maintenance due today, to every administrator.
func (r *Registry) RunMaintenanceDueToday(ctx context.Context, now time.Time) RunReport {
	cfg := r.config()
	today := storage.DateOf(now.In(cfg.Location))
	rep := RunReport{Job: JobMaintenanceDue, Day: today}

	entries, err := r.store.FindMaintenanceDueOn(ctx, today)
	if err != nil {
		rep.Err = fmt.Errorf("find maintenance due %s: %w", today, err)
		return rep
	}
	rep.Matches = len(entries)
	if len(entries) == 0 {
		r.log.Debug("no maintenance due today", logx.String("day", today.String()))
		return rep
	}

	// one roster query for all cars
	admins, err := r.admins(ctx, cfg)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Admins = len(admins)
	if len(admins) == 0 {
		r.log.Warn("no administrators to notify", logx.String("job", rep.Job))
		return rep
	}
	for _, g := range groupByCar(entries) {
		r.deliver(ctx, &rep, admins, FormatMaintenance(g.name, g.entries))
	}
	r.logReport(rep)
	return rep
}

// NotifyNewRental tells every administrator right away that a rental started.
// It does not depend on the digest schedule being enabled.
func (r *Registry) NotifyNewRental(ctx context.Context, rentalID int64) RunReport {
	cfg := r.config()
	rep := RunReport{Job: JobNewRental}

	rental, err := r.store.RentalByID(ctx, rentalID)
	if err != nil {
		rep.Err = fmt.Errorf("load rental %d: %w", rentalID, err)
		return rep
	}
	rep.Matches = 1
	rep.Day = rental.Anchor

	admins, err := r.admins(ctx, cfg)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Admins = len(admins)
	if len(admins) == 0 {
		r.log.Warn("no administrators to notify", logx.String("job", rep.Job), logx.Int64("rental_id", rentalID))
		return rep
	}
	r.deliver(ctx, &rep, admins, FormatNewRental(rental))
	r.logReport(rep)
	return rep
}

// admins returns the stored administrators, narrowed to the configured allowlist if any.
func (r *Registry) admins(ctx context.Context, cfg Config) ([]int64, error) {
	stored, err := r.store.ListAdministrators(ctx)
	if err != nil {
		return nil, fmt.Errorf("list administrators: %w", err)
	}
	if len(cfg.AdminIDs) == 0 {
		return stored, nil
	}
	allowed := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		allowed[id] = struct{}{}
	}
	out := stored[:0:0]
	for _, id := range stored {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *Registry) deliver(ctx context.Context, rep *RunReport, admins []int64, text string) {
	rep.Digests++
	outs := delivery.Fanout(ctx, r.sender, admins, kit.Text(text), &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true})
	for _, o := range outs {
		r.metrics.Digest(rep.Job, o.Status.String())
		switch o.Status {
		case delivery.Sent:
			rep.Sent++
		case delivery.Blocked:
			rep.Blocked++
			r.log.Warn("administrator blocked the bot", logx.String("job", rep.Job), logx.Int64("admin_id", o.RecipientID))
		default:
			rep.Failed++
			r.log.Error("digest send failed", logx.String("job", rep.Job), logx.Int64("admin_id", o.RecipientID), logx.String("error", o.Error))
		}
	}
}

func (r *Registry) logReport(rep RunReport) {
	r.log.Info("digest sent",
		logx.String("job", rep.Job),
		logx.String("day", rep.Day.String()),
		logx.Int("matches", rep.Matches),
		logx.Int("digests", rep.Digests),
		logx.Int("admins", rep.Admins),
		logx.Int("sent", rep.Sent),
		logx.Int("blocked", rep.Blocked),
		logx.Int("failed", rep.Failed),
	)
}
