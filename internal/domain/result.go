package domain

import "time"

// MeasurementResult is the single terminal outcome of a probe run.
// RateMbps is 0 whenever Error is set.
type MeasurementResult struct {
	Kind        Kind          `json:"kind"`
	RateMbps    float64       `json:"rate_mbps"`
	CompletedAt time.Time     `json:"completed_at"`
	Error       ErrorKind     `json:"error,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	Bytes       int64         `json:"bytes,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns,omitempty"`
}

func (r MeasurementResult) OK() bool { return r.Error == "" }

// Failed builds a zero-rate result carrying the given error kind.
func Failed(kind Kind, ek ErrorKind, detail string) MeasurementResult {
	return MeasurementResult{
		Kind:        kind,
		CompletedAt: time.Now().UTC(),
		Error:       ek,
		Detail:      detail,
	}
}

// CycleRecord summarises one monitoring cycle for look-up and history.
type CycleRecord struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	State      CycleState        `json:"state"`
	Threshold  float64           `json:"min_acceptable_mbps"`
	Result     MeasurementResult `json:"result"`
	Decision   AlertDecision     `json:"alert_decision"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}
