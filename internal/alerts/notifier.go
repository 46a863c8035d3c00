package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ygarg25/hyperliquid-exporter/internal/config"
	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
)

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// MultiNotifier fans out to every channel. Delivery is best-effort per
// channel: one failure is logged and the rest still get the message.
type MultiNotifier struct {
	notifiers []Notifier
}

func (m *MultiNotifier) Notify(ctx context.Context, msg Message) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			lastErr = err
			logger.Warn("ALERT", "Notifier failed: %v", err)
		}
	}
	return lastErr
}

func NewNotifier(cfg config.AlertsConfig) Notifier {
	notifiers := []Notifier{&LogNotifier{}}

	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		notifiers = append(notifiers, &TelegramNotifier{
			token:         cfg.Telegram.Token,
			targetedChat:  cfg.Telegram.TargetedChatID,
			broadcastChat: cfg.Telegram.BroadcastChatID,
		})
	}
	if cfg.Twilio.Enabled && cfg.Twilio.AccountSID != "" {
		notifiers = append(notifiers, &TwilioNotifier{
			accountSID: cfg.Twilio.AccountSID,
			authToken:  cfg.Twilio.AuthToken,
			from:       cfg.Twilio.FromNumber,
			numbers:    cfg.Twilio.CallNumbers,
		})
	}

	return &MultiNotifier{notifiers: notifiers}
}

type LogNotifier struct{}

func (l *LogNotifier) Notify(ctx context.Context, msg Message) error {
	logger.Warn("ALERT", "%s | %s", msg.Audience, msg.Title)
	return nil
}

// ============================================================
// TELEGRAM
// ============================================================

// TelegramNotifier posts HTML messages to one of two chats depending on
// the message audience.
type TelegramNotifier struct {
	token         string
	targetedChat  string
	broadcastChat string
}

func (t *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	chatID := t.broadcastChat
	if msg.Audience == AudienceTargeted {
		chatID = t.targetedChat
	}
	if chatID == "" {
		return nil
	}

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	payload := map[string]string{
		"chat_id":    chatID,
		"text":       msg.Text,
		"parse_mode": "HTML",
	}
	return postJSON(ctx, apiURL, payload)
}

// ============================================================
// TWILIO VOICE
// ============================================================

// TwilioNotifier places a call to every configured number and reads the
// voice script. It only reacts to targeted messages that carry one.
type TwilioNotifier struct {
	accountSID string
	authToken  string
	from       string
	numbers    []string
}

func (t *TwilioNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.Voice == "" || msg.Audience != AudienceTargeted {
		return nil
	}

	twiml := buildTwiML(msg.Voice)
	var lastErr error
	for _, number := range t.numbers {
		to, err := FormatPhoneNumber(number)
		if err != nil {
			logger.Warn("ALERT", "Skipping call to %q: %v", number, err)
			continue
		}
		if err := t.call(ctx, to, twiml); err != nil {
			lastErr = err
			logger.Warn("ALERT", "Call to %s failed: %v", to, err)
			continue
		}
		logger.Info("ALERT", "Call initiated to %s", to)
	}
	return lastErr
}

func (t *TwilioNotifier) call(ctx context.Context, to, twiml string) error {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Calls.json", t.accountSID)
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Twiml", twiml)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func buildTwiML(script string) string {
	var escaped bytes.Buffer
	xml.EscapeText(&escaped, []byte(script))
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response>`+
		`<Say voice="alice" language="en-IN">%s</Say>`+
		`<Pause length="2"/>`+
		`<Say voice="alice" language="en-IN">Please check your validator immediately.</Say>`+
		`</Response>`, escaped.String())
}

// FormatPhoneNumber normalizes to E.164, defaulting bare 10-digit
// numbers to +91 the way the operators' on-call list is written.
func FormatPhoneNumber(number string) (string, error) {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "+") {
		return number, nil
	}
	var digits strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	cleaned := digits.String()
	if strings.HasPrefix(cleaned, "91") && len(cleaned) == 12 {
		cleaned = cleaned[2:]
	} else if strings.HasPrefix(cleaned, "0") {
		cleaned = cleaned[1:]
	}
	if len(cleaned) != 10 {
		return "", fmt.Errorf("invalid phone number %q", number)
	}
	return "+91" + cleaned, nil
}

func postJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
