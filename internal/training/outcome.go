package training

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyAnswered is returned by LogStore.SetAnswer when the entry already
// carries an answer.
var ErrAlreadyAnswered = errors.New("delivery already answered")

// ConfigurationError means the scenario has no item at the cursor although
// the cursor is within the scenario size. The scenario load is corrupt; this
// is the only condition RunTick reports as an error.
type ConfigurationError struct {
	Index int
	Total int
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("scenario item %d missing (scenario has %d items)", e.Index, e.Total)
}

type TickOutcome int

const (
	TickDelivered TickOutcome = iota
	TickOutsideWindow
	TickScenarioExhausted
	TickNoRecipients
	// TickBusy means another tick was still running; nothing was done.
	TickBusy
)

func (o TickOutcome) String() string {
	switch o {
	case TickDelivered:
		return "delivered"
	case TickOutsideWindow:
		return "outside_window"
	case TickScenarioExhausted:
		return "scenario_exhausted"
	case TickNoRecipients:
		return "no_recipients"
	case TickBusy:
		return "busy"
	default:
		return fmt.Sprintf("tick_outcome(%d)", int(o))
	}
}

type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

// TickResult describes one RunTick call. Index and the counters are only
// meaningful for TickDelivered.
type TickResult struct {
	Outcome    TickOutcome
	Trigger    Trigger
	Index      int
	Total      int
	SentAt     time.Time
	Recipients int
	Delivered  int
	Failed     int
}

// Exhausted reports whether the scenario has nothing left after this tick.
func (r TickResult) Exhausted() bool {
	return r.Outcome == TickScenarioExhausted || (r.Outcome == TickDelivered && r.Index >= r.Total)
}

type AnswerOutcome int

const (
	AnswerRecorded AnswerOutcome = iota
	AnswerNoPendingQuestion
	AnswerInactiveParticipant
)

func (o AnswerOutcome) String() string {
	switch o {
	case AnswerRecorded:
		return "recorded"
	case AnswerNoPendingQuestion:
		return "no_pending_question"
	case AnswerInactiveParticipant:
		return "inactive_participant"
	default:
		return fmt.Sprintf("answer_outcome(%d)", int(o))
	}
}

type AnswerResult struct {
	Outcome AnswerOutcome
	// Entry is the updated delivery when Outcome is AnswerRecorded.
	Entry           DeliveryLogEntry
	ResponseSeconds int64
}

type StartOutcome int

const (
	Started StartOutcome = iota
	AlreadyActive
)

type StopOutcome int

const (
	Stopped StopOutcome = iota
	NotActive
)

// ResponseSeconds is answeredAt-sentAt in whole seconds, truncated, and
// never negative.
func ResponseSeconds(sentAt, answeredAt time.Time) int64 {
	d := answeredAt.Sub(sentAt)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
