package domain

import "github.com/pkg/errors"

// ErrorKind classifies why a measurement or alert did not succeed.
type ErrorKind string

const (
	ErrKindNone              ErrorKind = ""
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindTransport         ErrorKind = "transport_error"
	ErrKindProtocolViolation ErrorKind = "protocol_violation"
	ErrKindAlreadyRunning    ErrorKind = "already_running"
	ErrKindThrottled         ErrorKind = "throttled"
	ErrKindPartialFailure    ErrorKind = "partial_failure"
	ErrKindCanceled          ErrorKind = "canceled"
)

var (
	ErrTimeout           = errors.New("timeout")
	ErrTransport         = errors.New("transport error")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrAlreadyRunning    = errors.New("already running")
	ErrThrottled         = errors.New("daily alert cap reached")
	ErrPartialFailure    = errors.New("all upload sessions failed")
	ErrCanceled          = errors.New("canceled")
)

// Checked in order, so a chain wrapping both ErrTransport and ErrTimeout
// reports the more specific timeout.
var sentinels = []struct {
	kind ErrorKind
	err  error
}{
	{ErrKindTimeout, ErrTimeout},
	{ErrKindCanceled, ErrCanceled},
	{ErrKindProtocolViolation, ErrProtocolViolation},
	{ErrKindAlreadyRunning, ErrAlreadyRunning},
	{ErrKindThrottled, ErrThrottled},
	{ErrKindPartialFailure, ErrPartialFailure},
	{ErrKindTransport, ErrTransport},
}

// KindOf maps an error chain onto its ErrorKind. Unknown non-nil errors are
// reported as transport errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return ErrKindTransport
}

// Err returns the sentinel for k, or nil for ErrKindNone.
func (k ErrorKind) Err() error {
	for _, s := range sentinels {
		if s.kind == k {
			return s.err
		}
	}
	return nil
}
