package monitor

import (
	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/domain"
)

// Observer receives the events of a cycle in order. Calls never overlap, so
// implementations need no locking of their own for the coordinator's sake.
// A callback may start the next cycle but must not wait for it to finish.
type Observer interface {
	OnProgress(cycleID string, rate string)
	OnCycleComplete(cycleID string, result domain.MeasurementResult)
	OnAlertDecision(cycleID string, decision domain.AlertDecision)
}

// Hooks adapts plain functions to Observer. Nil fields are skipped.
type Hooks struct {
	Progress func(cycleID, rate string)
	Complete func(cycleID string, result domain.MeasurementResult)
	Decision func(cycleID string, decision domain.AlertDecision)
}

func (h Hooks) OnProgress(id, rate string) {
	if h.Progress != nil {
		h.Progress(id, rate)
	}
}

func (h Hooks) OnCycleComplete(id string, r domain.MeasurementResult) {
	if h.Complete != nil {
		h.Complete(id, r)
	}
}

func (h Hooks) OnAlertDecision(id string, d domain.AlertDecision) {
	if h.Decision != nil {
		h.Decision(id, d)
	}
}

// LogObserver writes every event to logger; progress goes at debug level.
func LogObserver(logger *zap.Logger) Observer {
	return Hooks{
		Progress: func(id, rate string) {
			logger.Debug("cycle_progress", zap.String("cycle_id", id), zap.String("rate", rate))
		},
		Complete: func(id string, r domain.MeasurementResult) {
			logger.Info("cycle_result",
				zap.String("cycle_id", id),
				zap.String("kind", string(r.Kind)),
				zap.Float64("rate_mbps", r.RateMbps),
				zap.String("error_kind", string(r.Error)),
			)
		},
		Decision: func(id string, d domain.AlertDecision) {
			logger.Info("cycle_alert_decision", zap.String("cycle_id", id), zap.String("decision", string(d)))
		},
	}
}

type eventType int

const (
	eventProgress eventType = iota
	eventCompleted
	eventFailed
	eventDecision
)

// event is one entry of a cycle's event stream.
type event struct {
	typ      eventType
	progress domain.ProgressSample
	result   domain.MeasurementResult
	decision domain.AlertDecision
}
