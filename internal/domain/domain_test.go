package domain

import (
	"fmt"
	"testing"
)

func TestThresholdConfig_IsBelowIsStrict(t *testing.T) {
	cfg := ThresholdConfig{MinAcceptableMbps: 50.0}
	cases := []struct {
		rate float64
		want bool
	}{
		{49.99, true},
		{50.0, false},
		{50.01, false},
		{0, true},
	}
	for _, c := range cases {
		if got := cfg.IsBelow(c.rate); got != c.want {
			t.Fatalf("IsBelow(%v)=%v want %v", c.rate, got, c.want)
		}
	}
}

func TestKindOf_WrappedSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ErrKindNone},
		{ErrThrottled, ErrKindThrottled},
		{fmt.Errorf("dispatch: %w", ErrAlreadyRunning), ErrKindAlreadyRunning},
		{fmt.Errorf("%w: %w", ErrTransport, ErrTimeout), ErrKindTimeout},
		{fmt.Errorf("boom"), ErrKindTransport},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Fatalf("KindOf(%v)=%q want %q", c.err, got, c.want)
		}
	}
}

func TestErrorKind_ErrRoundTrip(t *testing.T) {
	for _, k := range []ErrorKind{ErrKindTimeout, ErrKindTransport, ErrKindPartialFailure} {
		if got := KindOf(k.Err()); got != k {
			t.Fatalf("KindOf(%q.Err())=%q", k, got)
		}
	}
	if ErrKindNone.Err() != nil {
		t.Fatalf("none kind should map to nil error")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("upload"); err != nil || k != Upload {
		t.Fatalf("want upload, got %q %v", k, err)
	}
	if _, err := ParseKind("sideways"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestFormatRate(t *testing.T) {
	if got := FormatRate(41.943); got != "41.94 Mbps" {
		t.Fatalf("want 41.94 Mbps, got %q", got)
	}
	if got := (ProgressSample{InstantaneousRateMbps: 0}).RateString(); got != "0.00 Mbps" {
		t.Fatalf("want 0.00 Mbps, got %q", got)
	}
}
