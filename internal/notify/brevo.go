package notify

import (
	"context"
	"html"
	"strings"

	brevo "github.com/getbrevo/brevo-go/lib"
	"github.com/pkg/errors"
)

// Brevo sends alerts as transactional email through the Brevo API.
type Brevo struct {
	client      *brevo.APIClient
	senderName  string
	senderEmail string
}

func NewBrevo(apiKey, senderEmail string) *Brevo {
	if apiKey == "" || senderEmail == "" {
		return nil
	}
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	return &Brevo{
		client:      brevo.NewAPIClient(cfg),
		senderName:  "speedmon",
		senderEmail: senderEmail,
	}
}

func (b *Brevo) Send(ctx context.Context, to, subject, body string) error {
	if b == nil || b.client == nil {
		return errors.New("brevo disabled")
	}
	if to == "" {
		return errors.New("brevo: empty recipient")
	}
	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  b.senderName,
			Email: b.senderEmail,
		},
		To:          []brevo.SendSmtpEmailTo{{Email: to}},
		Subject:     subject,
		HtmlContent: "<pre>" + html.EscapeString(body) + "</pre>",
		TextContent: strings.TrimSpace(body),
	}
	if _, _, err := b.client.TransactionalEmailsApi.SendTransacEmail(ctx, email); err != nil {
		return errors.Wrap(err, "brevo send")
	}
	return nil
}
