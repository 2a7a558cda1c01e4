package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gotest.tools/v3/assert"

	"github.com/hamed0406/speedmon/internal/domain"
	"github.com/hamed0406/speedmon/internal/throttle"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
	last  [3]string
}

func (f *fakeNotifier) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = [3]string{to, subject, body}
	return f.err
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestDispatcher_ThrottledNeverTouchesTransport(t *testing.T) {
	n := &fakeNotifier{}
	d := NewDispatcher(throttle.New(3), n, zap.NewNop())
	d.Now = fixedClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		assert.NilError(t, d.Dispatch(context.Background(), "ops@example.com", "s", "b"), "dispatch %d", i+1)
	}
	err := d.Dispatch(context.Background(), "ops@example.com", "s", "b")
	assert.ErrorIs(t, err, domain.ErrThrottled)
	assert.Equal(t, n.calls, 3)
}

func TestDispatcher_TransportFailureConsumesQuota(t *testing.T) {
	n := &fakeNotifier{err: errors.New("relay down")}
	th := throttle.New(3)
	d := NewDispatcher(th, n, zap.NewNop())
	now := time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC)
	d.Now = fixedClock(now)

	err := d.Dispatch(context.Background(), "ops@example.com", "s", "b")
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.ErrorContains(t, err, "relay down")
	assert.Equal(t, th.Count(throttle.DayOf(now)), 1)
}

func TestDispatcher_PartialDeliveryCountsAsSent(t *testing.T) {
	ok := &fakeNotifier{}
	bad := &fakeNotifier{err: errors.New("slack down")}
	th := throttle.New(3)
	d := NewDispatcher(th, Multi{bad, ok}, zap.NewNop())
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	d.Now = fixedClock(now)

	assert.NilError(t, d.Dispatch(context.Background(), "ops@example.com", "s", "b"))
	assert.Equal(t, ok.calls, 1)
	assert.Equal(t, bad.calls, 1)
	assert.Equal(t, th.Count(throttle.DayOf(now)), 1)

	// nothing delivered is still a transport failure
	ok.err = errors.New("relay down")
	assert.ErrorIs(t, d.Dispatch(context.Background(), "ops@example.com", "s", "b"), domain.ErrTransport)
}

func TestDispatcher_NewDayResetsQuota(t *testing.T) {
	n := &fakeNotifier{}
	d := NewDispatcher(throttle.New(1), n, zap.NewNop())
	now := time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC)
	d.Now = func() time.Time { return now }

	assert.NilError(t, d.Dispatch(context.Background(), "a@b.c", "s", "b"))
	assert.ErrorIs(t, d.Dispatch(context.Background(), "a@b.c", "s", "b"), domain.ErrThrottled)

	now = now.Add(2 * time.Minute)
	assert.NilError(t, d.Dispatch(context.Background(), "a@b.c", "s", "b"))
	assert.Equal(t, n.calls, 2)
}

func TestMulti_CombinesErrors(t *testing.T) {
	ok := &fakeNotifier{}
	bad1 := &fakeNotifier{err: errors.New("one")}
	bad2 := &fakeNotifier{err: errors.New("two")}

	err := Multi{nil, bad1, bad2}.Send(context.Background(), "to", "s", "b")
	assert.Equal(t, len(multierr.Errors(err)), 2)

	err = Multi{ok, nil, bad1, bad2}.Send(context.Background(), "to", "s", "b")
	var partial *PartialError
	assert.Assert(t, errors.As(err, &partial), "got %v", err)
	assert.Equal(t, partial.Delivered, 1)
	assert.Equal(t, len(multierr.Errors(partial.Err)), 2)
	assert.Equal(t, ok.calls, 1)

	assert.NilError(t, Multi{ok}.Send(context.Background(), "to", "s", "b"))
}

func TestForm_PostsFields(t *testing.T) {
	var got map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got = map[string]string{
			"to":      r.PostForm.Get("to"),
			"subject": r.PostForm.Get("subject"),
			"body":    r.PostForm.Get("body"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	f := NewForm(ts.URL)
	err := f.Send(context.Background(), "ops@example.com", "Speed & alert", "rate=1.00 Mbps\nbye")
	assert.NilError(t, err)
	assert.DeepEqual(t, got, map[string]string{
		"to":      "ops@example.com",
		"subject": "Speed & alert",
		"body":    "rate=1.00 Mbps\nbye",
	})
}

func TestForm_Non2xxAndEmptyRecipient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	f := NewForm(ts.URL)
	assert.Assert(t, f.Send(context.Background(), "x@y.z", "s", "b") != nil, "expected error on non-2xx")
	assert.Assert(t, f.Send(context.Background(), "", "s", "b") != nil, "expected error on empty recipient")
	assert.Assert(t, NewForm("") == nil, "empty endpoint should disable the relay")
}

func TestSlack_OK(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		got = payload["text"]
		w.WriteHeader(200)
	}))
	defer ts.Close()

	s := NewSlack(ts.URL)
	assert.Assert(t, s != nil)
	assert.NilError(t, s.Send(context.Background(), "", "Upload speed alert", "Current speed: 1.00 Mbps"))
	assert.Equal(t, got, "*Upload speed alert*\nCurrent speed: 1.00 Mbps")
}

func TestSlack_MentionsRecipientAndTruncates(t *testing.T) {
	var got map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer ts.Close()

	long := strings.Repeat("x", 5000)
	assert.NilError(t, NewSlack(ts.URL).Send(context.Background(), "ops@example.com", "S", long))
	assert.Equal(t, len(got["text"]), slackTextLimit)
	assert.Assert(t, strings.HasSuffix(got["text"], "..."))
	assert.Equal(t, got["username"], "speedmon")

	assert.NilError(t, NewSlack(ts.URL).Send(context.Background(), "ops@example.com", "S", "B"))
	assert.Equal(t, got["text"], "*S*\nB\n_(also sent to ops@example.com)_")
}

func TestSlack_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer ts.Close()

	assert.Assert(t, NewSlack(ts.URL).Send(context.Background(), "", "X", "Y") != nil, "expected error on non-2xx")
}

func TestBrevo_DisabledWithoutKey(t *testing.T) {
	assert.Assert(t, NewBrevo("", "alerts@example.com") == nil, "expected nil without api key")
	var b *Brevo
	assert.Assert(t, b.Send(context.Background(), "a@b.c", "s", "b") != nil, "nil brevo should refuse to send")
}

func TestChannels_OnlyConfigured(t *testing.T) {
	assert.Equal(t, len(Channels("", "", "", "")), 0)

	got := Channels("http://mail.test/send", "", "key", "alerts@example.com")
	assert.Equal(t, len(got), 2)
	_, isForm := got[0].(*Form)
	assert.Assert(t, isForm, "first channel is %T", got[0])
	_, isBrevo := got[1].(*Brevo)
	assert.Assert(t, isBrevo, "second channel is %T", got[1])
}
