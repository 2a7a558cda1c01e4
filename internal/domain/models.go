package domain

import "fmt"

// Kind names the direction a probe measures.
type Kind string

const (
	Download Kind = "download"
	Upload   Kind = "upload"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Download, Upload:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown measurement kind %q", s)
}

// ThresholdConfig is supplied per cycle and does not change while it runs.
type ThresholdConfig struct {
	MinAcceptableMbps float64 `json:"min_acceptable_mbps"`
	AlertRecipient    string  `json:"alert_recipient,omitempty"`
}

// IsBelow reports whether rate is strictly under the configured minimum.
func (c ThresholdConfig) IsBelow(rateMbps float64) bool {
	return rateMbps < c.MinAcceptableMbps
}

type AlertDecision string

const (
	DecisionPending       AlertDecision = "pending"
	DecisionSent          AlertDecision = "sent"
	DecisionSuppressed    AlertDecision = "suppressed"
	DecisionNotApplicable AlertDecision = "not_applicable"
)

type CycleState string

const (
	StateIdle      CycleState = "idle"
	StateRunning   CycleState = "running"
	StateCompleted CycleState = "completed"
	StateFailed    CycleState = "failed"
)

// ProgressSample is emitted while a probe runs. FractionComplete is in [0,1].
type ProgressSample struct {
	FractionComplete      float64 `json:"fraction_complete"`
	InstantaneousRateMbps float64 `json:"rate_mbps"`
}

func (p ProgressSample) RateString() string {
	return FormatRate(p.InstantaneousRateMbps)
}

// FormatRate renders a rate the way it is shown to users, e.g. "41.94 Mbps".
func FormatRate(mbps float64) string {
	return fmt.Sprintf("%.2f Mbps", mbps)
}
