package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/domain"
	"github.com/hamed0406/speedmon/internal/metrics"
	"github.com/hamed0406/speedmon/internal/throttle"
)

// Dispatcher sends alerts through a Notifier, consulting a daily throttle
// first. A permit is consumed even when the transport then fails.
type Dispatcher struct {
	Throttle *throttle.Throttle
	Notifier Notifier
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func NewDispatcher(t *throttle.Throttle, n Notifier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{Throttle: t, Notifier: n, Logger: logger, Now: time.Now}
}

// Dispatch returns domain.ErrThrottled without touching the transport when
// today's cap is spent, and an error wrapping domain.ErrTransport when the
// notifier fails.
func (d *Dispatcher) Dispatch(ctx context.Context, to, subject, body string) (err error) {
	defer func() { d.Metrics.ObserveDispatch(err) }()

	day := throttle.DayOf(d.Now())
	if !d.Throttle.TryAcquire(day) {
		d.Logger.Warn("alert_throttled",
			zap.String("day", day.String()),
			zap.Int("cap", d.Throttle.Cap()),
		)
		return domain.ErrThrottled
	}
	if d.Notifier == nil {
		d.Logger.Error("alert_send_failed", zap.String("reason", "no notifier configured"))
		return fmt.Errorf("%w: no notifier configured", domain.ErrTransport)
	}
	sendErr := d.Notifier.Send(ctx, to, subject, body)
	var partial *PartialError
	if errors.As(sendErr, &partial) {
		// at least one channel got the alert, so it counts as sent
		d.Logger.Warn("alert_partially_sent",
			zap.String("to", to),
			zap.Int("delivered", partial.Delivered),
			zap.Error(partial.Err),
		)
		sendErr = nil
	}
	if sendErr != nil {
		d.Logger.Error("alert_send_failed",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Error(sendErr),
		)
		return fmt.Errorf("%w: %w", domain.ErrTransport, sendErr)
	}
	d.Logger.Info("alert_sent",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("sent_today", d.Throttle.Count(day)),
	)
	return nil
}
