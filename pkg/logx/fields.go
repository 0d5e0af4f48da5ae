package logx

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Keys shared by the trainer, the bot and the exporter so log lines for one
// participant or one scenario item can be grepped across components.
const (
	KeyParticipant = "participant_id"
	KeyItem        = "index"
	KeyOutcome     = "outcome"
	KeyTrigger     = "trigger"
)

func Participant(id int64) Field { return Int64(KeyParticipant, id) }

func Item(index int) Field { return Int(KeyItem, index) }

// Outcome logs a typed result by its String form.
func Outcome(o fmt.Stringer) Field {
	return func(e *zerolog.Event) {
		if o != nil {
			e.Str(KeyOutcome, o.String())
		}
	}
}

func Trigger[T ~string](t T) Field { return String(KeyTrigger, string(t)) }
