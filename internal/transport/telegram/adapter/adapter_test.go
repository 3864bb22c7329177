package adapter

import (
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "rentbot/internal/transport"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2 (%q)", len(got), got)
	}
	if got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	t.Parallel()
	s := "abcdefg<b>bold</b>"
	got := splitText(s, 9, "HTML")
	if got[0] != "abcdefg" {
		t.Fatalf("first chunk = %q, want %q", got[0], "abcdefg")
	}
	if !strings.HasPrefix(got[1], "<b>") {
		t.Fatalf("second chunk = %q, want tag at start", got[1])
	}
}

func TestSplitTextRuneSafe(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("ж", 25)
	got := splitText(s, 10, "")
	total := 0
	for _, c := range got {
		n := len([]rune(c))
		if n > 10 {
			t.Fatalf("chunk has %d runes, limit 10", n)
		}
		total += n
	}
	if total != 25 {
		t.Fatalf("total runes = %d, want 25", total)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		err         error
		unreachable bool
	}{
		{name: "blocked", err: tele.ErrBlockedByUser, unreachable: true},
		{name: "deactivated", err: tele.ErrUserIsDeactivated, unreachable: true},
		{name: "unknown 403", err: errors.New("telegram: Forbidden: bot was kicked (403)"), unreachable: true},
		{name: "bad request", err: tele.ErrChatNotFound, unreachable: false},
		{name: "network", err: errors.New("dial tcp: timeout"), unreachable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if errors.Is(got, kit.ErrUnreachable) != tt.unreachable {
				t.Fatalf("classify(%v) unreachable = %v, want %v", tt.err, !tt.unreachable, tt.unreachable)
			}
		})
	}
	if classify(nil) != nil {
		t.Fatal("classify(nil) != nil")
	}
}

func TestInlineMarkup(t *testing.T) {
	t.Parallel()
	if inlineMarkup(nil) != nil {
		t.Fatal("empty keyboard should produce no markup")
	}
	kb := kit.Keyboard{
		{{Text: "Site", URL: "https://example.com"}},
		{},
		{{Text: "A", Data: "a"}, {Text: "B", Data: "b"}},
	}
	rm := inlineMarkup(kb)
	if rm == nil || len(rm.InlineKeyboard) != 2 {
		t.Fatalf("markup = %+v, want 2 rows", rm)
	}
	if rm.InlineKeyboard[0][0].URL != "https://example.com" || rm.InlineKeyboard[1][1].Data != "b" {
		t.Fatalf("markup rows = %+v", rm.InlineKeyboard)
	}
}

func TestMediaSendable(t *testing.T) {
	t.Parallel()
	what, err := mediaSendable(kit.Photo("file-1", "cap").(kit.MediaContent))
	if err != nil {
		t.Fatalf("mediaSendable: %v", err)
	}
	p, ok := what.(*tele.Photo)
	if !ok || p.FileID != "file-1" || p.Caption != "cap" {
		t.Fatalf("sendable = %#v", what)
	}
	if _, err := mediaSendable(kit.MediaContent{MediaKind: "sticker", FileID: "x"}); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}
