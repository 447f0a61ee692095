package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"AccountPilot/internal/model"
)

// DefaultAPIBase is the Telegram Bot API root.
const DefaultAPIBase = "https://api.telegram.org"

const maxResponseBytes = 1 << 20

// Message is one operator notification. Severity decides how hard delivery
// is attempted and whether the chat is pinged.
type Message struct {
	Severity model.Severity
	Text     string
}

// Alert builds the notification for an account event.
func Alert(e model.Event) Message {
	return Message{Severity: e.Severity, Text: FormatAlert(e)}
}

// Digest builds the daily summary notification.
func Digest(day time.Time, severities map[model.Severity]int, statuses map[model.Status]int) Message {
	return Message{Severity: model.SeverityInfo, Text: FormatDigest(day, severities, statuses)}
}

// attempts is the delivery budget: account failures are worth more
// persistence than routine notices.
func (m Message) attempts() int {
	switch m.Severity {
	case model.SeverityError, model.SeverityPartial:
		return 4
	case model.SeverityWarn, model.SeverityInfo:
		return 2
	}
	return 1
}

// silent reports whether the message should arrive without a sound.
func (m Message) silent() bool {
	return m.Severity == model.SeverityInfo || m.Severity == model.SeverityDebug
}

// APIError is a Bot API call answered with ok=false or a non-2xx status.
type APIError struct {
	Method      string
	Status      int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.Status, e.Description)
}

// Temporary reports whether the same call may succeed later.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Bot talks to the Telegram Bot API: it delivers notifications and polls
// operator commands from a single chat.
type Bot struct {
	BotToken string
	ChatID   string
	APIBase  string
	Client   *http.Client
	// RetryWait is the first wait between delivery attempts; it doubles
	// after each failure unless the API asks for longer.
	RetryWait time.Duration
}

// NewBot creates a bot client with optional proxy support.
func NewBot(botToken, chatID, proxyURL string) *Bot {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Bot{
		BotToken:  botToken,
		ChatID:    chatID,
		APIBase:   DefaultAPIBase,
		Client:    &http.Client{Timeout: 30 * time.Second, Transport: transport},
		RetryWait: 2 * time.Second,
	}
}

func (b *Bot) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.APIBase, b.BotToken, method)
}

// call posts params as JSON to a Bot API method and decodes the result
// field into out when out is non-nil.
func (b *Bot) call(ctx context.Context, client *http.Client, method string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram %s: marshal params: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&envelope)
	if resp.StatusCode != http.StatusOK || (decodeErr == nil && !envelope.OK) {
		desc := envelope.Description
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return &APIError{
			Method:      method,
			Status:      resp.StatusCode,
			Description: desc,
			RetryAfter:  time.Duration(envelope.Parameters.RetryAfter) * time.Second,
		}
	}
	if decodeErr != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, decodeErr)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (b *Bot) sendMessage(ctx context.Context, text string, silent bool) error {
	params := map[string]any{
		"chat_id":    b.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if silent {
		params["disable_notification"] = true
	}
	return b.call(ctx, b.Client, "sendMessage", params, nil)
}

// Send makes a single attempt to post text to the configured chat. Command
// replies use it; the operator can simply ask again.
func (b *Bot) Send(ctx context.Context, text string) error {
	return b.sendMessage(ctx, text, false)
}

// Deliver posts a notification, retrying temporary failures within the
// message's budget. Rejections such as a wrong chat id are not retried.
func (b *Bot) Deliver(ctx context.Context, m Message) error {
	n := m.attempts()
	var err error
	for i := 0; i < n; i++ {
		if err = b.sendMessage(ctx, m.Text, m.silent()); err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return err
		}
		if i == n-1 {
			break
		}
		wait := b.RetryWait << i
		if apiErr != nil && apiErr.RetryAfter > wait {
			wait = apiErr.RetryAfter
		}
		log.Printf("[WARN] %s notification failed (attempt %d/%d): %v, retrying in %v", m.Severity, i+1, n, err, wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("deliver %s notification after %d attempt(s): %w", m.Severity, n, err)
}
