// Package delivery classifies per-recipient send results and runs small
// concurrent fan-outs. It is shared by reminders, digests and broadcasts.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	kit "rentbot/internal/transport"
)

// MaxErrorLen bounds the error text kept on an Outcome.
const MaxErrorLen = 200

type Status int

const (
	Sent Status = iota
	Blocked
	Failed
)

func (s Status) String() string {
	switch s {
	case Sent:
		return "sent"
	case Blocked:
		return "blocked"
	default:
		return "failed"
	}
}

// Outcome is the result of one send to one recipient.
type Outcome struct {
	RecipientID int64
	Status      Status
	Error       string
}

// Classify turns a send error into an Outcome.
// Unreachable recipients count as Blocked; everything else non-nil is Failed.
func Classify(recipientID int64, err error) Outcome {
	if err == nil {
		return Outcome{RecipientID: recipientID, Status: Sent}
	}
	if errors.Is(err, kit.ErrUnreachable) || looksBlocked(err) {
		return Outcome{RecipientID: recipientID, Status: Blocked}
	}
	return Outcome{RecipientID: recipientID, Status: Failed, Error: Truncate(err.Error(), MaxErrorLen)}
}

func looksBlocked(err error) bool {
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "forbidden") || strings.Contains(low, "blocked")
}

// Truncate cuts s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	if n <= 3 {
		return string(rs[:n])
	}
	return string(rs[:n-3]) + "..."
}

// Fanout sends c to every target concurrently and returns outcomes in target order.
// A send error never cancels the other sends.
func Fanout(ctx context.Context, s kit.Sender, targets []int64, c kit.Content, opt *kit.SendOptions) []Outcome {
	out := make([]Outcome, len(targets))
	var g errgroup.Group
	for i, id := range targets {
		g.Go(func() error {
			out[i] = sendOne(ctx, s, id, c, opt)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func sendOne(ctx context.Context, s kit.Sender, id int64, c kit.Content, opt *kit.SendOptions) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = Classify(id, fmt.Errorf("panic: %v", r))
		}
	}()
	_, err := s.Send(ctx, kit.ChatTarget{ChatID: id}, c, opt)
	return Classify(id, err)
}
