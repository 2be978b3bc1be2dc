package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"VolumeSentinel/internal/monitor"
)

// FormatEvent renders a monitor event as a Telegram message.
func FormatEvent(ev monitor.Event) string {
	var b strings.Builder
	switch ev.Kind {
	case monitor.EventTopUp:
		if ev.Result.Success {
			b.WriteString(fmt.Sprintf("✅ <b>Top-up booked</b> | %s\n\n", html.EscapeString(ev.Contract)))
		} else {
			b.WriteString(fmt.Sprintf("❌ <b>Top-up failed</b> | %s\n\n", html.EscapeString(ev.Contract)))
		}
		b.WriteString(fmt.Sprintf("Remaining: %.2f GB\n", ev.RemainingGB))
		if ev.Result.Message != "" {
			b.WriteString(fmt.Sprintf("Portal: %s\n", html.EscapeString(ev.Result.Message)))
		}
		if !ev.Result.Success && ev.Failures > 0 {
			b.WriteString(fmt.Sprintf("Failed attempts this episode: %d\n", ev.Failures))
		}
	case monitor.EventAuthFailing:
		b.WriteString(fmt.Sprintf("🔒 <b>Login failing</b> | %s\n\n", html.EscapeString(ev.Contract)))
		b.WriteString(fmt.Sprintf("Attempts so far: %d\n", ev.Failures))
		writeErr(&b, ev.Err)
		b.WriteString("Retrying with backoff.\n")
	case monitor.EventAuthRecovered:
		b.WriteString(fmt.Sprintf("🔓 <b>Login recovered</b> | %s\n\n", html.EscapeString(ev.Contract)))
		b.WriteString(fmt.Sprintf("Failed attempts before: %d\n", ev.Failures))
	case monitor.EventFailureCap:
		b.WriteString(fmt.Sprintf("⚠️ <b>Polling keeps failing</b> | %s\n\n", html.EscapeString(ev.Contract)))
		b.WriteString(fmt.Sprintf("Consecutive failures: %d\n", ev.Failures))
		writeErr(&b, ev.Err)
		b.WriteString("Retry delay is widening.\n")
	default:
		b.WriteString(fmt.Sprintf("Event %d | %s\n", ev.Kind, html.EscapeString(ev.Contract)))
	}
	b.WriteString(fmt.Sprintf("\n%s", ev.At.Format("2006-01-02 15:04:05")))
	return b.String()
}

func writeErr(b *strings.Builder, err error) {
	if err != nil {
		b.WriteString(fmt.Sprintf("Error: %s\n", html.EscapeString(err.Error())))
	}
}

// FormatStatus renders the board for the /status command.
func FormatStatus(statuses []monitor.Status, now time.Time) string {
	if len(statuses) == 0 {
		return "No contracts are being monitored yet."
	}
	var b strings.Builder
	b.WriteString("📶 <b>VolumeSentinel status</b>\n")
	for _, st := range statuses {
		b.WriteString(fmt.Sprintf("\n<b>%s</b> (%s)\n", html.EscapeString(st.Contract), st.Phase))
		if snap := st.State.LastSnapshot; snap != nil {
			b.WriteString(fmt.Sprintf("Remaining: %.2f of %.2f GB\n", snap.RemainingGB, snap.TotalGB))
			b.WriteString(fmt.Sprintf("Data as of: %s\n", snap.Timestamp.Local().Format("2006-01-02 15:04")))
		} else {
			b.WriteString("No snapshot yet\n")
		}
		b.WriteString(fmt.Sprintf("Rate: %.1f MB/min\n", st.State.LastRate*1024*60))
		b.WriteString(fmt.Sprintf("Interval: %s\n", st.State.CurrentInterval))
		if st.State.TopUpTriggered {
			b.WriteString("Top-up booked this episode\n")
		}
		if !st.NextPollAt.IsZero() {
			b.WriteString(fmt.Sprintf("Next poll in: %s\n", st.NextPollAt.Sub(now).Round(time.Second)))
		}
		if st.State.LastError != "" {
			b.WriteString(fmt.Sprintf("Last error: %s\n", html.EscapeString(st.State.LastError)))
		}
	}
	return b.String()
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "Available commands:\n• /status - remaining volume per contract\n• /help - this message"
}
