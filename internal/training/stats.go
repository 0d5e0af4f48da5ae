package training

import (
	"context"
	"fmt"
	"sort"
)

// Status is the progression snapshot shown to operators.
type Status struct {
	Cursor      int
	Total       int
	ActiveCount int
	Completed   bool
	// ProgressPercent is the share of items already delivered, 0..100.
	ProgressPercent int
}

// LatencyStats summarizes response times in whole seconds.
type LatencyStats struct {
	Count int
	Avg   int64
	Min   int64
	Max   int64
}

func (l *LatencyStats) add(sec int64) {
	if l.Count == 0 || sec < l.Min {
		l.Min = sec
	}
	if l.Count == 0 || sec > l.Max {
		l.Max = sec
	}
	// Avg holds the running sum until finish.
	l.Avg += sec
	l.Count++
}

func (l *LatencyStats) finish() {
	if l.Count > 0 {
		l.Avg /= int64(l.Count)
	}
}

type ParticipantStats struct {
	Participant Participant
	Received    int
	Answered    int
	Latency     LatencyStats
}

func (s ParticipantStats) Unanswered() int { return s.Received - s.Answered }

func (s ParticipantStats) AnswerRate() int { return percent(s.Answered, s.Received) }

type OverallStats struct {
	Participants int
	Active       int
	Sent         int
	Answered     int
	Latency      LatencyStats
	// PerParticipant is ordered by participant id.
	PerParticipant []ParticipantStats
}

func (s OverallStats) Unanswered() int { return s.Sent - s.Answered }

func (s OverallStats) AnswerRate() int { return percent(s.Answered, s.Sent) }

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return (part*100 + whole/2) / whole
}

func computeStatus(ctx context.Context, store Store) (Status, error) {
	last, err := store.MaxScenarioIndex(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("cursor: %w", err)
	}
	total, err := store.ScenarioCount(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("scenario count: %w", err)
	}
	active, err := store.ActiveParticipants(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("active participants: %w", err)
	}
	st := Status{
		Cursor:      last + 1,
		Total:       total,
		ActiveCount: len(active),
		Completed:   last+1 > total,
	}
	st.ProgressPercent = min(100, percent(last, total))
	return st, nil
}

func computeStats(ctx context.Context, store Store) (OverallStats, error) {
	participants, err := store.Participants(ctx)
	if err != nil {
		return OverallStats{}, fmt.Errorf("participants: %w", err)
	}
	entries, err := store.Deliveries(ctx)
	if err != nil {
		return OverallStats{}, fmt.Errorf("deliveries: %w", err)
	}

	per := make(map[int64]*ParticipantStats, len(participants))
	var out OverallStats
	for _, p := range participants {
		per[p.ID] = &ParticipantStats{Participant: p}
		if p.Active {
			out.Active++
		}
	}
	out.Participants = len(participants)

	for _, e := range entries {
		ps := per[e.ParticipantID]
		if ps == nil {
			ps = &ParticipantStats{Participant: Participant{ID: e.ParticipantID}}
			per[e.ParticipantID] = ps
		}
		ps.Received++
		out.Sent++
		if !e.Answered() {
			continue
		}
		ps.Answered++
		out.Answered++
		if e.ResponseTimeSeconds != nil {
			ps.Latency.add(*e.ResponseTimeSeconds)
			out.Latency.add(*e.ResponseTimeSeconds)
		}
	}
	out.Latency.finish()

	out.PerParticipant = make([]ParticipantStats, 0, len(per))
	for _, ps := range per {
		ps.Latency.finish()
		out.PerParticipant = append(out.PerParticipant, *ps)
	}
	sort.Slice(out.PerParticipant, func(i, j int) bool {
		return out.PerParticipant[i].Participant.ID < out.PerParticipant[j].Participant.ID
	})
	return out, nil
}
