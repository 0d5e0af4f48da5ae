package training

import (
	"context"
	"fmt"
	"time"

	"drillbot/internal/eventbus"
	logx "drillbot/pkg/logx"
)

type Options struct {
	Window   Window
	Delivery DeliveryConfig
	Render   Renderer
	Bus      eventbus.Bus
	// Now defaults to time.Now.
	Now func() time.Time
}

// Trainer is the entry point for inbound events: chat messages, menu actions
// and timer ticks. Engine and Matcher share one set of participant locks.
type Trainer struct {
	store    Store
	registry *Registry
	engine   *Engine
	matcher  *Matcher
	now      func() time.Time
	log      logx.Logger
}

func NewTrainer(store Store, gateway Gateway, opt Options, log logx.Logger) *Trainer {
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	locks := newParticipantLocks()
	return &Trainer{
		store:    store,
		registry: NewRegistry(store),
		engine:   newEngine(store, gateway, locks, opt.Window, opt.Delivery, log, WithRenderer(opt.Render), WithBus(opt.Bus)),
		matcher:  newMatcher(store, locks, opt.Bus, log),
		now:      now,
		log:      log.With(logx.String("comp", "trainer")),
	}
}

func (t *Trainer) Registry() *Registry { return t.registry }

func (t *Trainer) Engine() *Engine { return t.engine }

func (t *Trainer) Now() time.Time { return t.now() }

// Apply updates the work window and delivery limits for subsequent ticks.
func (t *Trainer) Apply(window Window, delivery DeliveryConfig) {
	t.engine.Apply(window, delivery)
}

// OnIncomingText handles a free-text reply. Menu buttons and commands never
// reach here.
func (t *Trainer) OnIncomingText(ctx context.Context, participantID int64, text string) (AnswerResult, error) {
	return t.matcher.RecordAnswer(ctx, participantID, text, t.now())
}

func (t *Trainer) OnTimerTick(ctx context.Context) (TickResult, error) {
	return t.engine.RunTick(ctx, t.now(), TriggerTimer)
}

// OnManualTrigger runs a tick on operator request. The work window still
// applies.
func (t *Trainer) OnManualTrigger(ctx context.Context) (TickResult, error) {
	return t.engine.RunTick(ctx, t.now(), TriggerManual)
}

// OnFirstContact registers the participant without activating them.
func (t *Trainer) OnFirstContact(ctx context.Context, id int64, username, displayName string) (Participant, error) {
	return t.registry.Upsert(ctx, id, username, displayName, t.now())
}

// OnUserStart activates the participant, registering them first if needed.
func (t *Trainer) OnUserStart(ctx context.Context, id int64, username, displayName string) (StartOutcome, error) {
	p, err := t.registry.Upsert(ctx, id, username, displayName, t.now())
	if err != nil {
		return 0, err
	}
	if p.Active {
		return AlreadyActive, nil
	}
	if _, err := t.registry.SetActive(ctx, id, true, t.now()); err != nil {
		return 0, err
	}
	t.log.Info("participant started", logx.Participant(id), logx.String("username", username))
	return Started, nil
}

func (t *Trainer) OnUserStop(ctx context.Context, id int64) (StopOutcome, error) {
	p, ok, err := t.registry.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("participant %d: %w", id, err)
	}
	if !ok || !p.Active {
		return NotActive, nil
	}
	if _, err := t.registry.SetActive(ctx, id, false, t.now()); err != nil {
		return 0, err
	}
	t.log.Info("participant stopped", logx.Participant(id))
	return Stopped, nil
}

// Reset clears the delivery log and deactivates everyone, rewinding the
// cursor to 1. It waits for a running tick to finish.
func (t *Trainer) Reset(ctx context.Context) error {
	return t.engine.Exclusive(func() error {
		if err := t.store.ClearDeliveries(ctx); err != nil {
			return fmt.Errorf("clear deliveries: %w", err)
		}
		if err := t.store.DeactivateAll(ctx); err != nil {
			return fmt.Errorf("deactivate participants: %w", err)
		}
		t.log.Warn("training reset")
		return nil
	})
}

// LoadScenario replaces the stored scenario. It never runs concurrently with
// a tick.
func (t *Trainer) LoadScenario(ctx context.Context, items []ScenarioItem) error {
	return t.engine.Exclusive(func() error {
		if err := t.store.ReplaceScenario(ctx, items); err != nil {
			return fmt.Errorf("replace scenario: %w", err)
		}
		t.log.Info("scenario loaded", logx.Int("items", len(items)))
		return nil
	})
}

func (t *Trainer) Scenario(ctx context.Context) ([]ScenarioItem, error) {
	return t.store.ScenarioItems(ctx)
}

func (t *Trainer) Status(ctx context.Context) (Status, error) {
	return computeStatus(ctx, t.store)
}

func (t *Trainer) Stats(ctx context.Context) (OverallStats, error) {
	return computeStats(ctx, t.store)
}

// ParticipantStats returns ok=false when the participant is unknown and has
// no deliveries.
func (t *Trainer) ParticipantStats(ctx context.Context, id int64) (ParticipantStats, bool, error) {
	all, err := computeStats(ctx, t.store)
	if err != nil {
		return ParticipantStats{}, false, err
	}
	for _, ps := range all.PerParticipant {
		if ps.Participant.ID == id {
			return ps, true, nil
		}
	}
	return ParticipantStats{}, false, nil
}

func (t *Trainer) Deliveries(ctx context.Context) ([]DeliveryLogEntry, error) {
	return t.store.Deliveries(ctx)
}
