// Package monitor runs measurement cycles and decides, once per cycle,
// whether a below-threshold alert goes out.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/domain"
	"github.com/hamed0406/speedmon/internal/metrics"
	"github.com/hamed0406/speedmon/internal/probe"
	"github.com/hamed0406/speedmon/internal/repo"
)

const (
	DefaultRecordTTL   = time.Hour
	defaultEventBuffer = 64
	dispatchTimeout    = 30 * time.Second
	storeTimeout       = 5 * time.Second
)

// Measurer runs the probe for a kind. A non-nil error means the probe never
// ran; measurement failures are reported inside the result.
type Measurer interface {
	Measure(ctx context.Context, kind domain.Kind, onProgress probe.ProgressFunc) (domain.MeasurementResult, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, to, subject, body string) error
}

type Options struct {
	Observers []Observer
	Store     repo.CycleStore // optional history sink
	Metrics   *metrics.Metrics
	// RecordTTL is how long finished cycles stay available to Lookup.
	RecordTTL time.Duration
	// DefaultRecipient is used when a cycle's config names none.
	DefaultRecipient string
	EventBuffer      int
}

var stateNames = [...]domain.CycleState{
	domain.StateIdle,
	domain.StateRunning,
	domain.StateCompleted,
	domain.StateFailed,
}

const (
	stIdle int32 = iota
	stRunning
	stCompleted
	stFailed
)

// Coordinator owns the cycle state machine: Idle -> Running ->
// {Completed, Failed} -> Idle. At most one cycle runs at a time.
type Coordinator struct {
	measurer   Measurer
	dispatcher Dispatcher
	logger     *zap.Logger
	opts       Options
	base       context.Context

	state     atomic.Int32
	current   atomic.Pointer[Cycle]
	deliverMu sync.Mutex
	recent    *ttlcache.Cache[string, *Cycle]

	now   func() time.Time
	newID func() string
}

// New builds a coordinator. Cycles run under ctx; cancelling it aborts any
// in-flight measurement. Call Close to release the record cache.
func New(ctx context.Context, m Measurer, d Dispatcher, logger *zap.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = DefaultRecordTTL
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Cycle](opts.RecordTTL),
		ttlcache.WithDisableTouchOnHit[string, *Cycle](),
	)
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, i *ttlcache.Item[string, *Cycle]) {
		logger.Debug("cycle_record_evicted", zap.String("cycle_id", i.Key()), zap.Int("reason", int(reason)))
	})
	go cache.Start()

	return &Coordinator{
		measurer:   m,
		dispatcher: d,
		logger:     logger,
		opts:       opts,
		base:       ctx,
		recent:     cache,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func (c *Coordinator) Close() {
	c.recent.Stop()
}

func (c *Coordinator) State() domain.CycleState {
	return stateNames[c.state.Load()]
}

// Current returns the cycle in progress, or nil when idle.
func (c *Coordinator) Current() *Cycle {
	if c.state.Load() == stIdle {
		return nil
	}
	return c.current.Load()
}

// Lookup returns a running or recently finished cycle's record.
func (c *Coordinator) Lookup(id string) (domain.CycleRecord, bool) {
	item := c.recent.Get(id)
	if item == nil {
		return domain.CycleRecord{}, false
	}
	return item.Value().Record(), true
}

// StartCycle begins a cycle in the background and returns immediately. It
// fails with domain.ErrAlreadyRunning unless the coordinator is idle.
func (c *Coordinator) StartCycle(kind domain.Kind, cfg domain.ThresholdConfig) (*Cycle, error) {
	if !c.state.CompareAndSwap(stIdle, stRunning) {
		return nil, domain.ErrAlreadyRunning
	}
	if cfg.AlertRecipient == "" {
		cfg.AlertRecipient = c.opts.DefaultRecipient
	}

	ctx, cancel := context.WithCancel(c.base)
	cy := &Cycle{
		ID:     c.newID(),
		Kind:   kind,
		Config: cfg,
		events: make(chan event, c.opts.EventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	cy.record = domain.CycleRecord{
		ID:        cy.ID,
		Kind:      kind,
		State:     domain.StateRunning,
		Threshold: cfg.MinAcceptableMbps,
		Decision:  domain.DecisionPending,
		StartedAt: c.now().UTC(),
	}
	c.current.Store(cy)
	c.recent.Set(cy.ID, cy, ttlcache.DefaultTTL)

	c.logger.Info("cycle_started",
		zap.String("cycle_id", cy.ID),
		zap.String("kind", string(kind)),
		zap.Float64("min_mbps", cfg.MinAcceptableMbps),
	)

	delivered := make(chan struct{})
	go c.deliver(cy, delivered)
	go c.run(ctx, cy, delivered)
	return cy, nil
}

func (c *Coordinator) run(ctx context.Context, cy *Cycle, delivered <-chan struct{}) {
	defer cy.cancel()

	res, err := c.measurer.Measure(ctx, cy.Kind, cy.emitProgress)
	st, state := stCompleted, domain.StateCompleted
	if err != nil {
		st, state = stFailed, domain.StateFailed
		res = domain.Failed(cy.Kind, domain.KindOf(err), err.Error())
		c.logger.Error("cycle_failed",
			zap.String("cycle_id", cy.ID),
			zap.String("kind", string(cy.Kind)),
			zap.Error(err),
		)
		cy.events <- event{typ: eventFailed, result: res}
	} else {
		cy.events <- event{typ: eventCompleted, result: res}
	}
	c.state.Store(st)
	cy.update(func(r *domain.CycleRecord) {
		r.State = state
		r.Result = res
	})

	// A canceled measurement says nothing about the link, so it never alerts.
	decision := domain.DecisionNotApplicable
	if st == stCompleted && res.Error != domain.ErrKindCanceled {
		// the measurement context may already be canceled; the alert must
		// still be able to go out
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		decision = c.evaluate(dctx, cy, res)
		cancel()
	}
	rec := cy.update(func(r *domain.CycleRecord) {
		r.Decision = decision
		r.FinishedAt = c.now().UTC()
	})
	c.opts.Metrics.ObserveCycle(cy.Kind, state)
	c.opts.Metrics.ObserveDecision(decision)
	c.store(ctx, rec)

	c.logger.Info("cycle_finished",
		zap.String("cycle_id", cy.ID),
		zap.String("kind", string(cy.Kind)),
		zap.String("state", string(state)),
		zap.Float64("rate_mbps", res.RateMbps),
		zap.String("error_kind", string(res.Error)),
		zap.String("decision", string(decision)),
	)

	c.state.Store(stIdle)
	cy.events <- event{typ: eventDecision, decision: decision}
	close(cy.events)
	<-delivered
	close(cy.done)
}

// evaluate decides whether res warrants an alert and sends at most one per
// cycle, however many goroutines call it.
func (c *Coordinator) evaluate(ctx context.Context, cy *Cycle, res domain.MeasurementResult) domain.AlertDecision {
	if !cy.Config.IsBelow(res.RateMbps) {
		return domain.DecisionNotApplicable
	}
	if !cy.alerted.CompareAndSwap(false, true) {
		return domain.DecisionNotApplicable
	}
	log := c.logger.With(
		zap.String("cycle_id", cy.ID),
		zap.Float64("rate_mbps", res.RateMbps),
		zap.Float64("min_mbps", cy.Config.MinAcceptableMbps),
	)
	if cy.Config.AlertRecipient == "" || c.dispatcher == nil {
		log.Warn("alert_suppressed", zap.String("reason", "no recipient or dispatcher configured"))
		return domain.DecisionSuppressed
	}

	subject, body := alertMessage(cy.Kind, cy.Config.MinAcceptableMbps, res, c.now())
	if err := c.dispatcher.Dispatch(ctx, cy.Config.AlertRecipient, subject, body); err != nil {
		if errors.Is(err, domain.ErrThrottled) {
			log.Info("alert_suppressed", zap.String("reason", "throttled"))
		} else {
			log.Warn("alert_suppressed", zap.String("reason", "transport"), zap.Error(err))
		}
		return domain.DecisionSuppressed
	}
	return domain.DecisionSent
}

func (c *Coordinator) store(ctx context.Context, rec domain.CycleRecord) {
	if c.opts.Store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := c.opts.Store.Append(sctx, &rec); err != nil {
		c.logger.Warn("cycle_store_failed", zap.String("cycle_id", rec.ID), zap.Error(err))
	}
}

// deliver drains a cycle's events into the observers. deliverMu keeps two
// cycles' streams from overlapping when one starts while the previous one is
// still being delivered.
func (c *Coordinator) deliver(cy *Cycle, delivered chan<- struct{}) {
	defer close(delivered)
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	for ev := range cy.events {
		for _, o := range c.opts.Observers {
			switch ev.typ {
			case eventProgress:
				o.OnProgress(cy.ID, ev.progress.RateString())
			case eventCompleted, eventFailed:
				o.OnCycleComplete(cy.ID, ev.result)
			case eventDecision:
				o.OnAlertDecision(cy.ID, ev.decision)
			}
		}
	}
}
