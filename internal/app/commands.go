package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/semaphore"

	"rentbot/internal/broadcast"
	"rentbot/internal/digest"
	rtsup "rentbot/internal/runtime/supervisor"
	"rentbot/internal/storage"
	kit "rentbot/internal/transport"
	logx "rentbot/pkg/logx"
	"rentbot/pkg/tgui"
)

const (
	commandWorkers = 4
	commandTimeout = 30 * time.Second
)

type replier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type broadcaster interface {
	Preview(ctx context.Context, job broadcast.Job, actorID int64) broadcast.PreviewResult
	Broadcast(ctx context.Context, job broadcast.Job) (broadcast.Stats, error)
	Announce(ctx context.Context, car storage.Car, actorID int64) (broadcast.Stats, error)
	History(ctx context.Context, limit int) ([]storage.BroadcastLog, error)
}

type digestRunner interface {
	RunAll(ctx context.Context) []digest.RunReport
	NotifyNewRental(ctx context.Context, rentalID int64) digest.RunReport
}

type carLookup interface {
	CarByID(ctx context.Context, id int64) (storage.Car, error)
}

// request is one parsed owner command.
type request struct {
	Chat   kit.ChatTarget
	FromID int64
	Name   string
	// Body is the rest of the message after the command word, verbatim.
	Body string
}

type handler func(ctx context.Context, req request) error

// Commands routes the owner-only operator commands.
type Commands struct {
	log  logx.Logger
	out  replier
	bc   broadcaster
	dg   digestRunner
	cars carLookup
	sem  *semaphore.Weighted
	bgMu sync.Mutex
	bg   *rtsup.Supervisor

	mu     sync.RWMutex
	owners []int64

	routes map[string]handler
}

func NewCommands(log logx.Logger, out replier, bc broadcaster, dg digestRunner, cars carLookup, owners []int64) *Commands {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Commands{
		log:    log,
		out:    out,
		bc:     bc,
		dg:     dg,
		cars:   cars,
		sem:    semaphore.NewWeighted(commandWorkers),
		owners: append([]int64(nil), owners...),
	}
	m.routes = map[string]handler{
		"help":       m.help,
		"preview":    m.preview,
		"broadcast":  m.broadcast,
		"announce":   m.announce,
		"broadcasts": m.history,
		"digest":     m.digest,
		"newrental":  m.newRental,
	}
	return m
}

func (m *Commands) SetOwners(ids []int64) {
	m.mu.Lock()
	m.owners = append([]int64(nil), ids...)
	m.mu.Unlock()
}

func (m *Commands) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// parseCommand splits "/name@bot rest" into name and the untouched rest.
func parseCommand(text string) (name, body string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		word, rest = text[:i], text[i:]
	}
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", "", false
	}
	return strings.ToLower(word), strings.TrimSpace(rest), true
}

// DispatchLoop reads updates until ctx is done. Commands run on a bounded
// number of goroutines; a broadcast runs in the background and does not hold one.
func (m *Commands) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.bgMu.Lock()
	m.bg = sup
	m.bgMu.Unlock()
	m.log.Info("command dispatcher started", logx.Int("workers", commandWorkers))

	defer func() {
		sup.Cancel()
		// a running broadcast finishes its batch and writes its log
		wctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("command dispatcher stop", logx.Err(err))
		}
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(sup, up)
		}
	}
}

func (m *Commands) route(sup *rtsup.Supervisor, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	name, body, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	h, known := m.routes[name]
	if !known {
		return
	}
	if !m.isOwner(msg.FromID) {
		m.log.Debug("command from non-owner ignored", logx.String("cmd", name), logx.Int64("from_id", msg.FromID))
		return
	}
	req := request{
		Chat:   kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID: msg.FromID,
		Name:   name,
		Body:   body,
	}
	if !m.sem.TryAcquire(1) {
		m.reply(sup.Context(), req.Chat, tgui.New().Line("Busy, try again in a moment.").String())
		return
	}
	sup.Go0("command."+name, func(c context.Context) {
		defer m.sem.Release(1)
		m.run(c, h, req)
	})
}

func (m *Commands) run(ctx context.Context, h handler, req request) {
	log := m.log.With(logx.String("cmd", req.Name), logx.Int64("from_id", req.FromID), logx.Int64("chat_id", req.Chat.ChatID))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in command", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := h(ctx, req); err != nil {
		log.Warn("command failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		m.reply(ctx, req.Chat, tgui.New().Title("❌", "Error").Blank().Line(err.Error()).String())
		return
	}
	log.Debug("command done", logx.Duration("took", time.Since(start)))
}

func (m *Commands) reply(ctx context.Context, to kit.ChatTarget, html string) {
	if _, err := m.out.SendText(ctx, to, html, &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true}); err != nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (m *Commands) help(ctx context.Context, req request) error {
	m.reply(ctx, req.Chat, tgui.New().
		Title("🤖", "Operator commands").
		Blank().
		Bullets(
			"/preview <html> - send the message to yourself",
			"/broadcast <html> - send the message to every user",
			"/announce <car_id> - announce a new car to every user",
			"/broadcasts - last broadcasts",
			"/digest - run the admin digests now",
			"/newrental <rental_id> - notify admins about a started rental",
		).String())
	return nil
}

func (m *Commands) preview(ctx context.Context, req request) error {
	res := m.bc.Preview(ctx, broadcast.Job{Content: kit.Text(req.Body), ActorID: req.FromID}, req.FromID)
	m.reply(ctx, req.Chat, broadcast.FormatPreview(res))
	return nil
}

func (m *Commands) broadcast(ctx context.Context, req request) error {
	if strings.TrimSpace(req.Body) == "" {
		return fmt.Errorf("usage: /broadcast <message>")
	}
	job := broadcast.Job{Content: kit.Text(req.Body), ActorID: req.FromID}
	return m.background(ctx, req, "Broadcast started", func(c context.Context) (broadcast.Stats, error) {
		return m.bc.Broadcast(c, job)
	})
}

func (m *Commands) announce(ctx context.Context, req request) error {
	id, err := parseID(req.Body)
	if err != nil {
		return fmt.Errorf("usage: /announce <car_id>")
	}
	car, err := m.cars.CarByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load car %d: %w", id, err)
	}
	return m.background(ctx, req, "Announcing "+car.Name, func(c context.Context) (broadcast.Stats, error) {
		return m.bc.Announce(c, car, req.FromID)
	})
}

// background runs a full broadcast outside the command worker pool and
// reports the result to the operator when it finishes.
func (m *Commands) background(ctx context.Context, req request, title string, run func(context.Context) (broadcast.Stats, error)) error {
	m.bgMu.Lock()
	sup := m.bg
	m.bgMu.Unlock()
	if sup == nil {
		return fmt.Errorf("dispatcher is not running")
	}
	m.reply(ctx, req.Chat, tgui.New().Title("📤", title).String())
	sup.Go0("broadcast.run", func(c context.Context) {
		st, err := run(c)
		replyBroadcast(context.WithoutCancel(c), m.out, m.log, req.Chat, st, err)
	})
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// replyBroadcast tells the operator how a finished broadcast went.
func replyBroadcast(ctx context.Context, out replier, log logx.Logger, to kit.ChatTarget, st broadcast.Stats, err error) {
	text := broadcast.FormatStats(st)
	switch {
	case errors.Is(err, broadcast.ErrBusy):
		text = tgui.New().Title("⏳", "Another broadcast is already running").String()
	case err != nil:
		text = tgui.New().Title("❌", "Broadcast failed").Blank().Line(err.Error()).String()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, serr := out.SendText(ctx, to, text, &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true}); serr != nil {
		log.Warn("broadcast report not delivered", logx.Int64("chat_id", to.ChatID), logx.Err(serr))
	}
}

func (m *Commands) history(ctx context.Context, req request) error {
	logs, err := m.bc.History(ctx, broadcast.HistoryLimit)
	if err != nil {
		return fmt.Errorf("broadcast history: %w", err)
	}
	m.reply(ctx, req.Chat, broadcast.FormatHistory(logs))
	return nil
}

func (m *Commands) digest(ctx context.Context, req request) error {
	reps := m.dg.RunAll(ctx)
	m.reply(ctx, req.Chat, formatDigestRuns(reps))
	return nil
}

func (m *Commands) newRental(ctx context.Context, req request) error {
	id, err := parseID(req.Body)
	if err != nil {
		return fmt.Errorf("usage: /newrental <rental_id>")
	}
	rep := m.dg.NotifyNewRental(ctx, id)
	if rep.Err != nil {
		return rep.Err
	}
	m.reply(ctx, req.Chat, formatDigestRuns([]digest.RunReport{rep}))
	return nil
}

func formatDigestRuns(reps []digest.RunReport) string {
	b := tgui.New().Title("🗓", "Digests").Blank()
	for _, r := range reps {
		if r.Err != nil {
			b.KV("❌", r.Job, r.Err.Error())
			continue
		}
		b.KV("✅", r.Job, fmt.Sprintf("%d matches, %d digests, sent %d, blocked %d, failed %d",
			r.Matches, r.Digests, r.Sent, r.Blocked, r.Failed))
	}
	return b.String()
}
