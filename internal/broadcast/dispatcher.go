// Package broadcast delivers one message to every known user, in sequential
// concurrent batches with pauses in between, or to a single admin as a preview.
package broadcast

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rentbot/internal/delivery"
	"rentbot/internal/observability/metrics"
	"rentbot/internal/storage"
	kit "rentbot/internal/transport"
	logx "rentbot/pkg/logx"
)

var (
	ErrBusy     = errors.New("a broadcast is already running")
	ErrEmptyJob = errors.New("broadcast has no content")
)

const (
	emptyMessage    = "Empty message"
	logWriteTimeout = 5 * time.Second
)

// Job is what to broadcast and who asked for it.
type Job struct {
	Content  kit.Content
	Keyboard kit.Keyboard
	ActorID  int64
}

type Store interface {
	Recipients(ctx context.Context, chunkSize int) iter.Seq2[[]storage.Recipient, error]
	AppendBroadcastLog(ctx context.Context, e storage.BroadcastLog) error
	RecentBroadcastLogs(ctx context.Context, limit int) ([]storage.BroadcastLog, error)
}

type PreviewResult struct {
	Success bool
	Error   string
}

// Stats is the result of a full broadcast. Sent+Failed+Blocked == Total;
// an interrupted run counts only the recipients it attempted.
type Stats struct {
	ID          string
	Kind        kit.Kind
	Total       int
	Sent        int
	Failed      int
	Blocked     int
	Batches     int
	Errors      []string
	Omitted     int
	Interrupted bool
	Started     time.Time
	Duration    time.Duration
}

type Option func(*Dispatcher)

// WithSleep replaces the pause between batches. It must return ctx.Err() when ctx ends first.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

type Dispatcher struct {
	store   Store
	sender  kit.Sender
	log     logx.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	cfg     Config
	running atomic.Bool
}

func New(cfg Config, store Store, sender kit.Sender, log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		store:  store,
		sender: sender,
		log:    log.With(logx.String("comp", "broadcast")),
		sleep:  sleepCtx,
		cfg:    cfg.withDefaults(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg.withDefaults()
	d.mu.Unlock()
}

func (d *Dispatcher) config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Running reports whether a full broadcast is in progress.
func (d *Dispatcher) Running() bool { return d.running.Load() }

// normalize fills in blank text and rejects media without a file.
func normalize(c kit.Content) (kit.Content, error) {
	switch v := c.(type) {
	case nil:
		return nil, ErrEmptyJob
	case kit.TextContent:
		if strings.TrimSpace(v.Text) == "" {
			return kit.Text(emptyMessage), nil
		}
		return v, nil
	default:
		if kit.IsEmpty(c) {
			return nil, ErrEmptyJob
		}
		return c, nil
	}
}

func sendOptions(job Job) *kit.SendOptions {
	return &kit.SendOptions{ParseMode: kit.ParseModeHTML, Keyboard: job.Keyboard}
}

// Preview sends the job to actorID only. Nothing is read from or written to the store.
func (d *Dispatcher) Preview(ctx context.Context, job Job, actorID int64) PreviewResult {
	c, err := normalize(job.Content)
	if err != nil {
		return PreviewResult{Error: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, d.config().SendTimeout)
	defer cancel()
	if _, err := d.sender.Send(ctx, kit.ChatTarget{ChatID: actorID}, c, sendOptions(job)); err != nil {
		d.log.Warn("preview failed", logx.Int64("actor_id", actorID), logx.Err(err))
		return PreviewResult{Error: delivery.Truncate(err.Error(), delivery.MaxErrorLen)}
	}
	return PreviewResult{Success: true}
}

// Broadcast sends the job to every recipient. Per-recipient failures are
// counted, never returned. If ctx ends mid-run the current batch completes,
// no further batch starts and the partial stats are logged and returned
// with Interrupted set.
func (d *Dispatcher) Broadcast(ctx context.Context, job Job) (Stats, error) {
	c, err := normalize(job.Content)
	if err != nil {
		return Stats{}, err
	}
	if !d.running.CompareAndSwap(false, true) {
		d.metrics.BroadcastRun("busy", 0)
		return Stats{}, ErrBusy
	}
	defer d.running.Store(false)

	cfg := d.config()
	st := Stats{ID: uuid.NewString(), Kind: c.Kind(), Started: time.Now()}
	log := d.log.With(
		logx.String("broadcast_id", st.ID),
		logx.Int64("actor_id", job.ActorID),
		logx.String("kind", string(st.Kind)),
	)
	log.Info("broadcast started", logx.Int("batch_size", cfg.BatchSize), logx.Int("chunk_size", cfg.ChunkSize))

	tally := delivery.NewTally(cfg.MaxErrorSamples)
	opt := sendOptions(job)
	// sends outlive ctx so a started batch always completes
	sendCtx := context.WithoutCancel(ctx)

	// batches span page boundaries, so N recipients take ceil(N/BatchSize) batches
	batch := make([]storage.Recipient, 0, cfg.BatchSize)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		if st.Batches > 0 {
			if err := d.sleep(ctx, cfg.pause(tally.Total())); err != nil {
				st.Interrupted = true
				return false
			}
		}
		if ctx.Err() != nil {
			st.Interrupted = true
			return false
		}
		st.Batches++
		tally.AddAll(d.sendBatch(sendCtx, cfg, batch, c, opt))
		batch = batch[:0]
		return true
	}

	canceled := false
pages:
	for page, err := range d.store.Recipients(ctx, cfg.ChunkSize) {
		if err != nil {
			// recipients already fetched are still sent below
			log.Error("recipient page failed, stopping", logx.Err(err))
			st.Interrupted = true
			break
		}
		for len(page) > 0 {
			n := min(cfg.BatchSize-len(batch), len(page))
			batch = append(batch, page[:n]...)
			page = page[n:]
			if len(batch) == cfg.BatchSize && !flush() {
				canceled = true
				break pages
			}
		}
	}
	if !canceled {
		flush()
	}

	st.Total = tally.Total()
	st.Sent, st.Failed, st.Blocked = tally.Sent, tally.Failed, tally.Blocked
	st.Errors, st.Omitted = tally.Errors, tally.Omitted()
	st.Duration = time.Since(st.Started)

	d.metrics.BroadcastDelivery(delivery.Sent.String(), st.Sent)
	d.metrics.BroadcastDelivery(delivery.Failed.String(), st.Failed)
	d.metrics.BroadcastDelivery(delivery.Blocked.String(), st.Blocked)
	result := "completed"
	if st.Interrupted {
		result = "interrupted"
	}
	d.metrics.BroadcastRun(result, st.Duration)

	if st.Total == 0 {
		log.Info("broadcast finished with no recipients", logx.Bool("interrupted", st.Interrupted))
		return st, nil
	}
	d.appendLog(sendCtx, log, cfg, job, c, st)

	log.Info("broadcast finished",
		logx.Int("total", st.Total),
		logx.Int("sent", st.Sent),
		logx.Int("failed", st.Failed),
		logx.Int("blocked", st.Blocked),
		logx.Int("batches", st.Batches),
		logx.Bool("interrupted", st.Interrupted),
		logx.Duration("took", st.Duration),
	)
	return st, nil
}

func (d *Dispatcher) sendBatch(ctx context.Context, cfg Config, batch []storage.Recipient, c kit.Content, opt *kit.SendOptions) []delivery.Outcome {
	ids := make([]int64, len(batch))
	for i, r := range batch {
		ids[i] = r.ChatID
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	return delivery.Fanout(ctx, d.sender, ids, c, opt)
}

// appendLog is best-effort: a failed write is logged and the stats stand.
func (d *Dispatcher) appendLog(ctx context.Context, log logx.Logger, cfg Config, job Job, c kit.Content, st Stats) {
	ctx, cancel := context.WithTimeout(ctx, logWriteTimeout)
	defer cancel()
	err := d.store.AppendBroadcastLog(ctx, storage.BroadcastLog{
		ActorID:     job.ActorID,
		ContentKind: string(c.Kind()),
		Text:        delivery.Truncate(c.Body(), cfg.TextLimit),
		Total:       st.Total,
		Sent:        st.Sent,
		Failed:      st.Failed,
		Blocked:     st.Blocked,
		CreatedAt:   st.Started,
	})
	if err != nil {
		log.Warn("broadcast log not saved", logx.Err(err))
	}
}

// History returns the most recent broadcast logs, newest first. limit <= 0 means HistoryLimit.
func (d *Dispatcher) History(ctx context.Context, limit int) ([]storage.BroadcastLog, error) {
	if limit <= 0 {
		limit = HistoryLimit
	}
	return d.store.RecentBroadcastLogs(ctx, limit)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
