package tgui

import (
	"strings"

	kit "rentbot/internal/transport"
)

// Rule is the separator line used in cards.
const Rule = "━━━━━━━━━━━━━━━━━━━━━━"

// Message is rendered text plus the options it must be sent with.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Builder assembles an HTML message line by line. Plain strings are escaped.
type Builder struct {
	lines    []string
	keyboard kit.Keyboard
}

func New() *Builder { return &Builder{} }

// Title adds "<emoji> <b>title</b>".
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = Esc(e).String() + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

func (b *Builder) Rule() *Builder {
	b.lines = append(b.lines, Rule)
	return b
}

// KV adds "<emoji> <b>key:</b> value" with value escaped.
func (b *Builder) KV(emoji, key, value string) *Builder {
	return b.KVH(emoji, key, Esc(value))
}

// KVH is KV with a pre-rendered value.
func (b *Builder) KVH(emoji, key string, value H) *Builder {
	line := B(strings.TrimSpace(key)+":").String() + " " + value.String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = e + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.lines = append(b.lines, "• "+Esc(it).String())
		}
	}
	return b
}

func (b *Builder) Keyboard(kb kit.Keyboard) *Builder {
	b.keyboard = kb
	return b
}

func (b *Builder) String() string { return strings.Trim(strings.Join(b.lines, "\n"), "\n") }

// Build returns the message with HTML parse mode and link previews off.
func (b *Builder) Build() Message {
	return Message{
		Text: b.String(),
		Opt:  &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true, Keyboard: b.keyboard},
	}
}
