package training

import (
	"context"
	"fmt"
	"time"
)

// Registry owns participant state.
type Registry struct {
	store ParticipantStore
}

func NewRegistry(store ParticipantStore) *Registry {
	return &Registry{store: store}
}

// Upsert creates the participant on first contact (inactive) or refreshes
// names. An existing participant keeps its active flag.
func (r *Registry) Upsert(ctx context.Context, id int64, username, displayName string, now time.Time) (Participant, error) {
	if err := r.store.UpsertParticipant(ctx, Participant{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   now,
	}); err != nil {
		return Participant{}, fmt.Errorf("upsert participant %d: %w", id, err)
	}
	p, _, err := r.store.Participant(ctx, id)
	if err != nil {
		return Participant{}, fmt.Errorf("participant %d: %w", id, err)
	}
	return p, nil
}

// SetActive flips the active flag. Activation stamps TrainingStartedAt with
// now; deactivation clears it. ok is false for an unknown participant.
func (r *Registry) SetActive(ctx context.Context, id int64, active bool, now time.Time) (bool, error) {
	var startedAt *time.Time
	if active {
		startedAt = &now
	}
	ok, err := r.store.SetParticipantActive(ctx, id, active, startedAt)
	if err != nil {
		return false, fmt.Errorf("set active %d: %w", id, err)
	}
	return ok, nil
}

func (r *Registry) Get(ctx context.Context, id int64) (Participant, bool, error) {
	return r.store.Participant(ctx, id)
}

func (r *Registry) ListActive(ctx context.Context) ([]Participant, error) {
	return r.store.ActiveParticipants(ctx)
}

func (r *Registry) ListAll(ctx context.Context) ([]Participant, error) {
	return r.store.Participants(ctx)
}
