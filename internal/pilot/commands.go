package pilot

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"AccountPilot/internal/config"
	"AccountPilot/internal/notifier"
)

const defaultEventTail = 10

const helpText = `Available commands:
• /start [max_active] - queue every account and start cycling
• /pause - stop new cycles
• /reset - clear all progress and timers
• /status - pool and account overview
• /refresh &lt;id&gt; - refresh a session and requeue
• /funds &lt;id&gt; - check funds now
• /events [n] - last events`

// HandleCommand processes an operator command and returns a reply.
func (p *Pilot) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	name, _, _ := strings.Cut(fields[0], "@")
	args := fields[1:]

	switch name {
	case "/start":
		var override *config.PoolOverride
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Sprintf("❌ invalid max_active %q", html.EscapeString(args[0]))
			}
			override = &config.PoolOverride{MaxActive: &n}
		}
		if err := p.Start(override); err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return "▶️ started\n\n" + p.statusText()
	case "/pause":
		p.Pause()
		return "⏸ paused"
	case "/reset":
		if err := p.Reset(); err != nil {
			return "⚠️ reset done with errors: " + html.EscapeString(err.Error())
		}
		return "🔄 reset done"
	case "/status":
		return p.statusText()
	case "/refresh":
		if len(args) != 1 {
			return "usage: /refresh &lt;id&gt;"
		}
		if err := p.ForceRefresh(args[0]); err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return "✅ session refreshed for " + html.EscapeString(args[0])
	case "/funds":
		if len(args) != 1 {
			return "usage: /funds &lt;id&gt;"
		}
		if err := p.ForceCheckFunds(args[0]); err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return "💰 funds check armed for " + html.EscapeString(args[0])
	case "/events":
		n := defaultEventTail
		if len(args) > 0 {
			if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
				n = v
			}
		}
		return notifier.FormatEvents(p.Events(n))
	default:
		return helpText
	}
}

func (p *Pilot) statusText() string {
	st := p.State()
	return notifier.FormatStatus(st.Summary(), st.Accounts)
}
