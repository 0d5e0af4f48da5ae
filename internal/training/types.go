package training

import (
	"context"
	"time"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// ScenarioItem is one simulated customer question. Index is 1-based and
// defines delivery order.
type ScenarioItem struct {
	Index      int
	Text       string
	Category   string
	Difficulty Difficulty
}

type Participant struct {
	ID          int64
	Username    string
	DisplayName string
	Active      bool
	// TrainingStartedAt is set while Active.
	TrainingStartedAt *time.Time
	CreatedAt         time.Time
}

// DeliveryLogEntry records one scenario item sent to one participant. The
// answer fields are nil until the participant replies, then set exactly once.
type DeliveryLogEntry struct {
	ID            int64
	ParticipantID int64
	ScenarioIndex int
	// MessageText is the item text as it was when sent.
	MessageText string
	SentAt      time.Time

	AnswerText          *string
	AnsweredAt          *time.Time
	ResponseTimeSeconds *int64
}

func (e DeliveryLogEntry) Answered() bool { return e.AnswerText != nil }

type ScenarioStore interface {
	// ScenarioItem returns the item at index, ok=false if there is none.
	ScenarioItem(ctx context.Context, index int) (item ScenarioItem, ok bool, err error)
	ScenarioCount(ctx context.Context) (int, error)
	ScenarioItems(ctx context.Context) ([]ScenarioItem, error)
	// ReplaceScenario clears the scenario and inserts items in one transaction.
	ReplaceScenario(ctx context.Context, items []ScenarioItem) error
}

type ParticipantStore interface {
	// UpsertParticipant creates the participant or refreshes its names.
	// Activity state of an existing participant is left untouched.
	UpsertParticipant(ctx context.Context, p Participant) error
	// SetParticipantActive reports ok=false for an unknown id.
	SetParticipantActive(ctx context.Context, id int64, active bool, startedAt *time.Time) (ok bool, err error)
	Participant(ctx context.Context, id int64) (p Participant, ok bool, err error)
	ActiveParticipants(ctx context.Context) ([]Participant, error)
	Participants(ctx context.Context) ([]Participant, error)
	DeactivateAll(ctx context.Context) error
}

type LogStore interface {
	AppendDelivery(ctx context.Context, e DeliveryLogEntry) (id int64, err error)
	// SetAnswer fills the answer fields of an unanswered entry. It returns
	// ErrAlreadyAnswered if the entry was answered in the meantime.
	SetAnswer(ctx context.Context, entryID int64, text string, answeredAt time.Time, responseSeconds int64) error
	// MaxScenarioIndex is 0 when the log is empty.
	MaxScenarioIndex(ctx context.Context) (int, error)
	// LatestUnanswered returns the participant's unanswered entry with the
	// newest SentAt.
	LatestUnanswered(ctx context.Context, participantID int64) (e DeliveryLogEntry, ok bool, err error)
	Deliveries(ctx context.Context) ([]DeliveryLogEntry, error)
	ClearDeliveries(ctx context.Context) error
}

// Store is everything the core persists.
type Store interface {
	ScenarioStore
	ParticipantStore
	LogStore
}

// Gateway delivers text to a participant. Any error means "this recipient
// failed this tick".
type Gateway interface {
	Send(ctx context.Context, participantID int64, text string) error
}
