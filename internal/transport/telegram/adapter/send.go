package adapter

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	kit "rentbot/internal/transport"
)

// Send delivers text or media. Long text is split; media captions are sent as is.
func (a *Adapter) Send(ctx context.Context, to kit.ChatTarget, c kit.Content, opt *kit.SendOptions) (kit.MessageRef, error) {
	switch v := c.(type) {
	case kit.TextContent:
		return a.SendText(ctx, to, v.Text, opt)
	case kit.MediaContent:
		what, err := mediaSendable(v)
		if err != nil {
			return kit.MessageRef{}, err
		}
		return a.sendOne(ctx, to, what, sendOptions(to, opt, true))
	default:
		return kit.MessageRef{}, fmt.Errorf("telegram: unsupported content %T", c)
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitText(text, textLimit, parseMode)

	var first kit.MessageRef
	for i, chunk := range chunks {
		// Keyboard goes on the first chunk only.
		ref, err := a.sendOne(ctx, to, chunk, sendOptions(to, opt, i == 0))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = ref
		}
	}
	return first, nil
}

func (a *Adapter) sendOne(ctx context.Context, to kit.ChatTarget, what any, so *tele.SendOptions) (kit.MessageRef, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, so)
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func mediaSendable(m kit.MediaContent) (tele.Sendable, error) {
	file := tele.File{FileID: m.FileID}
	switch m.MediaKind {
	case kit.KindPhoto:
		return &tele.Photo{File: file, Caption: m.Caption}, nil
	case kit.KindVideo:
		return &tele.Video{File: file, Caption: m.Caption}, nil
	case kit.KindDocument:
		return &tele.Document{File: file, Caption: m.Caption}, nil
	case kit.KindAnimation:
		return &tele.Animation{File: file, Caption: m.Caption}, nil
	default:
		return nil, fmt.Errorf("telegram: unsupported media kind %q", m.MediaKind)
	}
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	if withMarkup {
		so.ReplyMarkup = inlineMarkup(opt.Keyboard)
	}
	return so
}

func inlineMarkup(kb kit.Keyboard) *tele.ReplyMarkup {
	if kb.Empty() {
		return nil
	}
	rows := make([][]tele.InlineButton, 0, len(kb))
	for _, row := range kb {
		if len(row) == 0 {
			continue
		}
		btns := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tele.InlineButton{Text: b.Text, URL: b.URL, Data: b.Data})
		}
		rows = append(rows, btns)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
