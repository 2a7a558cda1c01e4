package monitor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hamed0406/speedmon/internal/domain"
)

// Cycle is one run of a probe followed by its alert decision.
type Cycle struct {
	ID     string
	Kind   domain.Kind
	Config domain.ThresholdConfig

	// alerted guards the single dispatch a cycle may make.
	alerted atomic.Bool

	events chan event
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	record domain.CycleRecord
}

// Done is closed once the cycle's decision has been delivered to observers
// and its record stored.
func (cy *Cycle) Done() <-chan struct{} { return cy.done }

// Cancel aborts the in-flight measurement. The cycle still completes, with a
// canceled zero-rate result.
func (cy *Cycle) Cancel() { cy.cancel() }

// Wait blocks until the cycle is done or ctx ends.
func (cy *Cycle) Wait(ctx context.Context) (domain.CycleRecord, error) {
	select {
	case <-cy.done:
		return cy.Record(), nil
	case <-ctx.Done():
		return cy.Record(), ctx.Err()
	}
}

func (cy *Cycle) Record() domain.CycleRecord {
	cy.mu.Lock()
	defer cy.mu.Unlock()
	return cy.record
}

func (cy *Cycle) update(fn func(*domain.CycleRecord)) domain.CycleRecord {
	cy.mu.Lock()
	defer cy.mu.Unlock()
	fn(&cy.record)
	return cy.record
}

// emitProgress drops the sample when the stream is backed up, except for the
// terminal {1.0, rate} sample, which waits for room.
func (cy *Cycle) emitProgress(s domain.ProgressSample) {
	if s.FractionComplete >= 1 {
		cy.events <- event{typ: eventProgress, progress: s}
		return
	}
	select {
	case cy.events <- event{typ: eventProgress, progress: s}:
	default:
	}
}
