package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Webhook channel types.
const (
	TypeDiscord = "discord"
	TypeSlack   = "slack"
	TypeGeneric = "generic"
)

// Webhook posts alerts as JSON to a configured URL. The payload shape
// depends on the channel type: Discord wants {"content"}, Slack wants
// {"text"}, everything else gets a generic envelope.
type Webhook struct {
	kind   string
	url    string
	client *http.Client
}

// NewWebhook builds a webhook channel. kind must be one of TypeDiscord,
// TypeSlack or TypeGeneric.
func NewWebhook(kind, rawURL string) *Webhook {
	return &Webhook{
		kind:   kind,
		url:    rawURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Type() string { return w.kind }

func (w *Webhook) Validate() error {
	switch w.kind {
	case TypeDiscord, TypeSlack, TypeGeneric:
	default:
		return fmt.Errorf("unknown webhook type %q", w.kind)
	}
	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url %q: scheme must be http or https", w.url)
	}
	return nil
}

func (w *Webhook) payload(m Message) ([]byte, error) {
	text := m.Text
	if m.Title != "" {
		text = m.Title + "\n" + text
	}
	switch w.kind {
	case TypeDiscord:
		return json.Marshal(struct {
			Content string `json:"content"`
		}{Content: text})
	case TypeSlack:
		return json.Marshal(struct {
			Text string `json:"text"`
		}{Text: text})
	default:
		return json.Marshal(struct {
			Message  string    `json:"message"`
			Severity int       `json:"severity"`
			At       time.Time `json:"at"`
		}{Message: text, Severity: m.Severity, At: m.At})
	}
}

func (w *Webhook) Send(ctx context.Context, m Message) error {
	body, err := w.payload(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: status %d", w.kind, resp.StatusCode)
	}
	return nil
}
