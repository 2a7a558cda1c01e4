// Package probe measures achieved download and upload throughput against
// remote HTTP endpoints.
package probe

import (
	"context"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/hamed0406/speedmon/internal/domain"
)

// ProgressFunc receives samples while a probe runs. It may be nil.
type ProgressFunc func(domain.ProgressSample)

// Mbps converts a byte count over a duration to megabits per second, using
// SI megabits (10^6 bits).
func Mbps(bytes int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 || bytes <= 0 {
		return 0
	}
	return float64(bytes) * 8 / secs / 1e6
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// classify maps a request failure to an error kind. The request context is
// consulted first because transports do not always surface its error.
func classify(ctx context.Context, err error) domain.ErrorKind {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrKindTimeout
	case errors.Is(err, context.Canceled):
		return domain.ErrKindCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrKindTimeout
	}
	return domain.ErrKindTransport
}

// NewTransport returns a transport tuned for throughput tests: no response
// compression and plenty of idle connections for concurrent uploads.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
