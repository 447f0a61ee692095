package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"AccountPilot/internal/model"
)

// Summary is the pool-level part of a status report.
type Summary struct {
	RunID    string
	Paused   bool
	Queued   int
	Active   int
	InFlight int
}

// FormatStatus formats the pool summary followed by one line per account.
func FormatStatus(sum Summary, accounts []*model.Account) string {
	var b strings.Builder

	state := "▶️ running"
	if sum.Paused {
		state = "⏸ paused"
	}
	b.WriteString(fmt.Sprintf("📋 <b>AccountPilot status</b> | %s\n\n", time.Now().Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Scheduler: %s\n", state))
	if sum.RunID != "" {
		b.WriteString(fmt.Sprintf("Run: <code>%s</code>\n", sum.RunID))
	}
	b.WriteString(fmt.Sprintf("Queued: %d | Active: %d | In flight: %d\n\n", sum.Queued, sum.Active, sum.InFlight))

	if len(accounts) == 0 {
		b.WriteString("No accounts loaded.")
		return b.String()
	}
	for _, a := range accounts {
		b.WriteString(FormatAccount(a))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatAccount formats one account on a single line.
func FormatAccount(a *model.Account) string {
	line := fmt.Sprintf("%s <b>%s</b> %s | funds %d | round %d (%d left) | actions %d",
		statusIcon(a), html.EscapeString(a.ID), a.Status, a.Funds, a.Round, a.RemainingActions, a.Counters.ActionsTotal)
	if !a.Enabled {
		line += " | disabled"
	}
	if a.LastError != "" && a.Status == model.StatusError {
		line += "\n   ↳ " + html.EscapeString(truncate(a.LastError, 120))
	}
	return line
}

func statusIcon(a *model.Account) string {
	if !a.Enabled {
		return "⚪"
	}
	switch a.Status {
	case model.StatusActiveReady, model.StatusActiveBusy:
		return "🟢"
	case model.StatusQueued:
		return "🟡"
	case model.StatusCompleted:
		return "✅"
	case model.StatusError:
		return "❌"
	default:
		return "⚪"
	}
}

// FormatEvents formats the most recent events, oldest first.
func FormatEvents(events []model.Event) string {
	if len(events) == 0 {
		return "📜 No events yet."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📜 <b>Last %d events</b>\n\n", len(events)))
	for _, e := range events {
		who := ""
		if e.AccountID != "" {
			who = "[" + html.EscapeString(e.AccountID) + "] "
		}
		b.WriteString(fmt.Sprintf("%s %s %s%s\n",
			e.Timestamp.Format("15:04:05"), e.Severity, who, html.EscapeString(e.Message)))
	}
	return b.String()
}

// FormatAlert formats a single event worth pushing to the chat.
func FormatAlert(e model.Event) string {
	icon := "⚠️"
	switch e.Severity {
	case model.SeverityError:
		icon = "❌"
	case model.SeverityPartial:
		icon = "🟠"
	case model.SeverityInfo:
		icon = "✅"
	}
	return fmt.Sprintf("%s <b>%s</b> %s\n%s",
		icon, html.EscapeString(e.AccountID), e.Severity, html.EscapeString(e.Message))
}

// FormatDigest formats the daily summary of event severities and account statuses.
func FormatDigest(day time.Time, severities map[model.Severity]int, statuses map[model.Status]int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📅 <b>Daily digest</b> | %s\n\n", day.Format("2006-01-02")))

	b.WriteString("<b>Accounts</b>\n")
	for _, st := range model.AllStatuses() {
		if n := statuses[st]; n > 0 {
			b.WriteString(fmt.Sprintf("  %s: %d\n", st, n))
		}
	}

	b.WriteString("\n<b>Events (24h)</b>\n")
	if len(severities) == 0 {
		b.WriteString("  none\n")
		return b.String()
	}
	keys := make([]string, 0, len(severities))
	for sev := range severities {
		keys = append(keys, string(sev))
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("  %s: %d\n", k, severities[model.Severity(k)]))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
