package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// slackTextLimit is where Slack starts truncating message text itself.
const slackTextLimit = 3000

// Slack posts to an incoming webhook. The channel is fixed by the webhook,
// so the recipient only appears in the message text.
type Slack struct {
	Webhook   string
	Username  string
	IconEmoji string
	Client    *http.Client
}

func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook:   webhook,
		Username:  "speedmon",
		IconEmoji: ":snail:",
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

func (s *Slack) Send(ctx context.Context, to, subject, body string) error {
	if s == nil || s.Webhook == "" {
		return errors.New("slack disabled")
	}
	var text strings.Builder
	text.WriteString("*" + subject + "*\n")
	text.WriteString(body)
	if to != "" {
		text.WriteString("\n_(also sent to " + to + ")_")
	}
	msg := slackMessage{
		Text:      truncate(text.String(), slackTextLimit),
		Username:  s.Username,
		IconEmoji: s.IconEmoji,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode slack message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, "slack webhook")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return errors.Errorf("slack webhook: %s: %s", resp.Status, strings.TrimSpace(string(reason)))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
