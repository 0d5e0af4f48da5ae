package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drillbot/internal/eventbus"
	logx "drillbot/pkg/logx"
)

// Matcher attaches free-text replies to deliveries.
type Matcher struct {
	store Store
	locks *participantLocks
	bus   eventbus.Bus
	log   logx.Logger
}

func newMatcher(store Store, locks *participantLocks, bus eventbus.Bus, log logx.Logger) *Matcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Matcher{store: store, locks: locks, bus: bus, log: log.With(logx.String("comp", "matcher"))}
}

// RecordAnswer stores text as the answer to the participant's newest
// unanswered delivery. Older unanswered deliveries stay unanswered: a late
// reply to question N after N+1 arrived is attributed to N+1.
func (m *Matcher) RecordAnswer(ctx context.Context, participantID int64, text string, now time.Time) (AnswerResult, error) {
	unlock := m.locks.lock(participantID)
	defer unlock()

	p, ok, err := m.store.Participant(ctx, participantID)
	if err != nil {
		return AnswerResult{}, fmt.Errorf("participant %d: %w", participantID, err)
	}
	if !ok || !p.Active {
		return AnswerResult{Outcome: AnswerInactiveParticipant}, nil
	}

	entry, ok, err := m.store.LatestUnanswered(ctx, participantID)
	if err != nil {
		return AnswerResult{}, fmt.Errorf("latest unanswered %d: %w", participantID, err)
	}
	if !ok {
		return AnswerResult{Outcome: AnswerNoPendingQuestion}, nil
	}

	secs := ResponseSeconds(entry.SentAt, now)
	if err := m.store.SetAnswer(ctx, entry.ID, text, now, secs); err != nil {
		if errors.Is(err, ErrAlreadyAnswered) {
			// Only reachable if something outside this process wrote the row.
			return AnswerResult{Outcome: AnswerNoPendingQuestion}, nil
		}
		return AnswerResult{}, fmt.Errorf("set answer %d: %w", entry.ID, err)
	}

	answeredAt := now
	entry.AnswerText = &text
	entry.AnsweredAt = &answeredAt
	entry.ResponseTimeSeconds = &secs

	m.log.Info("answer recorded",
		logx.Outcome(AnswerRecorded),
		logx.Participant(participantID),
		logx.Item(entry.ScenarioIndex),
		logx.Int64("response_sec", secs),
	)
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: EventAnswer, Data: entry})
	}
	return AnswerResult{Outcome: AnswerRecorded, Entry: entry, ResponseSeconds: secs}, nil
}
