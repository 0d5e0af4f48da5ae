package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"drillbot/internal/eventbus"
	logx "drillbot/pkg/logx"
)

const (
	EventTickFinished  = "training.tick"
	EventMisconfigured = "training.misconfigured"
	EventAnswer        = "training.answer"
)

type DeliveryConfig struct {
	// Workers bounds concurrent sends within one tick.
	Workers int
	// RatePerSec bounds send rate across a tick. Zero disables the limit.
	RatePerSec int
}

// Renderer turns a scenario item into the text sent to participants. The
// delivery log always stores the raw item text.
type Renderer func(item ScenarioItem, total int) string

func plainText(item ScenarioItem, _ int) string { return item.Text }

// Engine advances the shared scenario cursor. RunTick calls are single
// flight: a call that overlaps a running tick returns TickBusy.
type Engine struct {
	store   Store
	gateway Gateway
	locks   *participantLocks
	bus     eventbus.Bus
	log     logx.Logger
	render  Renderer

	tickMu sync.Mutex

	mu      sync.RWMutex
	window  Window
	workers int
	limiter *rate.Limiter
}

type EngineOption func(*Engine)

func WithRenderer(r Renderer) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.render = r
		}
	}
}

func WithBus(b eventbus.Bus) EngineOption {
	return func(e *Engine) { e.bus = b }
}

func NewEngine(store Store, gateway Gateway, window Window, delivery DeliveryConfig, log logx.Logger, opts ...EngineOption) *Engine {
	return newEngine(store, gateway, newParticipantLocks(), window, delivery, log, opts...)
}

func newEngine(store Store, gateway Gateway, locks *participantLocks, window Window, delivery DeliveryConfig, log logx.Logger, opts ...EngineOption) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		store:   store,
		gateway: gateway,
		locks:   locks,
		log:     log.With(logx.String("comp", "engine")),
		render:  plainText,
	}
	for _, o := range opts {
		o(e)
	}
	e.Apply(window, delivery)
	return e
}

// Apply swaps window and delivery limits. A running tick keeps the values it
// started with.
func (e *Engine) Apply(window Window, delivery DeliveryConfig) {
	workers := delivery.Workers
	if workers <= 0 {
		workers = 1
	}
	var lim *rate.Limiter
	if delivery.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(delivery.RatePerSec), delivery.RatePerSec)
	}
	e.mu.Lock()
	e.window = window
	e.workers = workers
	e.limiter = lim
	e.mu.Unlock()
}

func (e *Engine) Window() Window {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window
}

// Cursor is the 1-based index of the next item to deliver. It is derived from
// the delivery log on every call.
func (e *Engine) Cursor(ctx context.Context) (int, error) {
	last, err := e.store.MaxScenarioIndex(ctx)
	if err != nil {
		return 0, fmt.Errorf("cursor: %w", err)
	}
	return last + 1, nil
}

// RunTick attempts one progression step at now. Every skip is reported as a
// TickResult outcome. The only error besides store failures is
// *ConfigurationError.
func (e *Engine) RunTick(ctx context.Context, now time.Time, trigger Trigger) (TickResult, error) {
	if !e.tickMu.TryLock() {
		e.log.Info("tick skipped: previous tick still running", logx.Trigger(trigger))
		return TickResult{Outcome: TickBusy, Trigger: trigger}, nil
	}
	defer e.tickMu.Unlock()

	res, err := e.runTick(ctx, now, trigger)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			e.log.Error("scenario misconfigured", logx.Item(cfgErr.Index), logx.Int("total", cfgErr.Total))
			e.publish(EventMisconfigured, cfgErr)
		}
		return res, err
	}
	e.publish(EventTickFinished, res)
	return res, nil
}

// Exclusive runs fn while no tick can start. It waits for a running tick.
func (e *Engine) Exclusive(fn func() error) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return fn()
}

func (e *Engine) runTick(ctx context.Context, now time.Time, trigger Trigger) (TickResult, error) {
	e.mu.RLock()
	window, workers, limiter := e.window, e.workers, e.limiter
	e.mu.RUnlock()

	res := TickResult{Trigger: trigger}
	log := e.log.With(logx.Trigger(trigger))

	if !window.Contains(now) {
		res.Outcome = TickOutsideWindow
		log.Debug("tick skipped: outside work window", logx.Time("now", now), logx.Int("start", window.Start), logx.Int("end", window.End))
		return res, nil
	}

	cursor, err := e.Cursor(ctx)
	if err != nil {
		return res, err
	}
	total, err := e.store.ScenarioCount(ctx)
	if err != nil {
		return res, fmt.Errorf("scenario count: %w", err)
	}
	res.Index, res.Total = cursor, total
	if cursor > total {
		res.Outcome = TickScenarioExhausted
		log.Info("tick skipped: scenario exhausted", logx.Int("total", total))
		return res, nil
	}

	item, ok, err := e.store.ScenarioItem(ctx, cursor)
	if err != nil {
		return res, fmt.Errorf("scenario item %d: %w", cursor, err)
	}
	if !ok {
		return res, &ConfigurationError{Index: cursor, Total: total}
	}

	recipients, err := e.store.ActiveParticipants(ctx)
	if err != nil {
		return res, fmt.Errorf("active participants: %w", err)
	}
	if len(recipients) == 0 {
		res.Outcome = TickNoRecipients
		log.Info("tick skipped: no active participants", logx.Item(cursor))
		return res, nil
	}

	res.Outcome = TickDelivered
	res.SentAt = now
	res.Recipients = len(recipients)
	text := e.render(item, total)

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(workers)
	for _, p := range recipients {
		g.Go(func() error {
			if err := e.deliver(ctx, limiter, p.ID, item, text, now); err != nil {
				failed.Add(1)
				log.Warn("delivery failed", logx.Participant(p.ID), logx.Item(item.Index), logx.Err(err))
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Delivered = int(delivered.Load())
	res.Failed = int(failed.Load())
	log.Info("tick finished",
		logx.Outcome(res.Outcome),
		logx.Item(item.Index),
		logx.Int("total", total),
		logx.Int("recipients", res.Recipients),
		logx.Int("delivered", res.Delivered),
		logx.Int("failed", res.Failed),
	)
	return res, nil
}

// deliver sends and records one item for one participant. A failed send
// leaves no log entry.
func (e *Engine) deliver(ctx context.Context, limiter *rate.Limiter, participantID int64, item ScenarioItem, text string, sentAt time.Time) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	unlock := e.locks.lock(participantID)
	defer unlock()

	if err := e.gateway.Send(ctx, participantID, text); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	_, err := e.store.AppendDelivery(ctx, DeliveryLogEntry{
		ParticipantID: participantID,
		ScenarioIndex: item.Index,
		MessageText:   item.Text,
		SentAt:        sentAt,
	})
	if err != nil {
		return fmt.Errorf("append delivery: %w", err)
	}
	return nil
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
