package notify

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// Notifier delivers one alert message to an external channel.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Multi sends to every configured notifier and reports all failures. When
// some channels delivered and others failed the error is a *PartialError.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, to, subject, body string) error {
	var (
		errs      error
		delivered int
	)
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, to, subject, body); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		delivered++
	}
	if errs != nil && delivered > 0 {
		return &PartialError{Delivered: delivered, Err: errs}
	}
	return errs
}

// PartialError means the alert reached Delivered channels but not all of them.
type PartialError struct {
	Delivered int
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("delivered on %d channel(s), failed on %d: %v", e.Delivered, len(multierr.Errors(e.Err)), e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Channels assembles the notifiers that have settings; an empty argument
// leaves that channel out.
func Channels(formURL, slackWebhook, brevoKey, brevoSender string) Multi {
	var m Multi
	if formURL != "" {
		m = append(m, NewForm(formURL))
	}
	if slackWebhook != "" {
		m = append(m, NewSlack(slackWebhook))
	}
	if b := NewBrevo(brevoKey, brevoSender); b != nil {
		m = append(m, b)
	}
	return m
}
