package broadcast

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"rentbot/internal/delivery"
	"rentbot/internal/storage"
	"rentbot/pkg/tgui"
)

const (
	errorSampleLen = 100
	// HistoryLimit is how many logs the history view shows.
	HistoryLimit = 5
)

func successRate(sent, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(sent) / float64(total) * 100
}

func FormatPreview(res PreviewResult) string {
	if res.Success {
		return tgui.New().
			Title("✅", "Preview sent!").
			Blank().
			Line("You can now send the broadcast to all users.").
			String()
	}
	reason := strings.TrimSpace(res.Error)
	if reason == "" {
		reason = "Unknown error"
	}
	return tgui.New().Title("❌", "Preview failed").Blank().Line(reason).String()
}

func FormatStats(st Stats) string {
	b := tgui.New().Title("📊", "Broadcast statistics").Blank()
	if st.Total == 0 {
		b.HTML(tgui.I("No users to broadcast to."))
		return b.String()
	}
	b.HTML(tgui.Raw("👥 Total users: " + tgui.B(humanize.Comma(int64(st.Total))).String())).
		HTML(tgui.Raw(fmt.Sprintf("✅ Sent: %s (%.1f%%)", tgui.B(humanize.Comma(int64(st.Sent))), successRate(st.Sent, st.Total)))).
		HTML(tgui.Raw("❌ Failed: " + tgui.B(humanize.Comma(int64(st.Failed))).String())).
		HTML(tgui.Raw("🚫 Blocked the bot: " + tgui.B(humanize.Comma(int64(st.Blocked))).String()))
	if st.Duration > 0 {
		b.Line("⏱ Took: " + st.Duration.Round(time.Second).String())
	}
	if st.Interrupted {
		b.Blank().HTML(tgui.I("⚠️ Interrupted: not every user was reached."))
	}
	if len(st.Errors) > 0 {
		b.Blank().Title("⚠️", "Sample errors:")
		for _, e := range st.Errors {
			b.Bullets(delivery.Truncate(e, errorSampleLen))
		}
		if st.Omitted > 0 {
			b.Line(fmt.Sprintf("... and %d more errors", st.Omitted))
		}
	}
	return b.String()
}

func FormatHistory(logs []storage.BroadcastLog) string {
	b := tgui.New().Title("📊", "Broadcast history").Blank()
	if len(logs) == 0 {
		b.Line("📭 No broadcasts yet.")
	}
	for i, l := range logs {
		b.HTML(tgui.Raw(fmt.Sprintf("%s %s | %s",
			tgui.B(fmt.Sprintf("%d.", i+1)),
			tgui.Esc(strings.ToUpper(l.ContentKind)),
			tgui.Esc(l.CreatedAt.Local().Format("2006-01-02 15:04"))))).
			Line(fmt.Sprintf("👥 %d | ✅ %d (%.1f%%)", l.Total, l.Sent, successRate(l.Sent, l.Total))).
			Line(fmt.Sprintf("❌ %d | 🚫 %d", l.Failed, l.Blocked)).
			Blank()
	}
	b.HTML(tgui.I(fmt.Sprintf("Showing the last %d broadcasts", HistoryLimit)))
	return b.String()
}
