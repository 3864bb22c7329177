package tgui

import (
	"testing"

	kit "rentbot/internal/transport"
)

func TestEscaping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		got  H
		want string
	}{
		{B("a<b"), "<b>a&lt;b</b>"},
		{I("x&y"), "<i>x&amp;y</i>"},
		{Code(`"q"`), "<code>&#34;q&#34;</code>"},
		{Mention("Ann <3", 42), `<a href="tg://user?id=42">Ann &lt;3</a>`},
		{JoinH(" | ", "a", " ", "b"), "a | b"},
	}
	for _, tt := range tests {
		if tt.got.String() != tt.want {
			t.Fatalf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestBuilder(t *testing.T) {
	t.Parallel()
	msg := New().
		Title("🔔", "Report").
		Blank().
		KV("🚗", "Car", "Kia <Rio>").
		KVH("", "Amount", Code("100")).
		Bullets("one", " ", "two").
		Keyboard(kit.Keyboard{{{Text: "Open", URL: "https://example.com"}}}).
		Build()

	want := "🔔 <b>Report</b>\n\n🚗 <b>Car:</b> Kia &lt;Rio&gt;\n<b>Amount:</b> <code>100</code>\n• one\n• two"
	if msg.Text != want {
		t.Fatalf("text = %q, want %q", msg.Text, want)
	}
	if msg.Opt.ParseMode != kit.ParseModeHTML || !msg.Opt.DisablePreview {
		t.Fatalf("opt = %+v", msg.Opt)
	}
	if msg.Opt.Keyboard.Empty() {
		t.Fatal("keyboard was dropped")
	}
}
