package notify

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Form relays an alert to an HTTP email gateway as an urlencoded form with
// the fields to, subject and body. Any 2xx answer counts as delivered.
type Form struct {
	Endpoint string
	Client   *http.Client
}

func NewForm(endpoint string) *Form {
	if endpoint == "" {
		return nil
	}
	return &Form{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *Form) Send(ctx context.Context, to, subject, body string) error {
	if f == nil || f.Endpoint == "" {
		return errors.New("form relay disabled")
	}
	if to == "" {
		return errors.New("form relay: empty recipient")
	}
	form := url.Values{}
	form.Set("to", to)
	form.Set("subject", subject)
	form.Set("body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "build relay request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, "email relay")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("email relay: %s", resp.Status)
	}
	return nil
}
