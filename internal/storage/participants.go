package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"drillbot/internal/training"
)

const participantCols = `id, username, display_name, is_active, training_started_at, created_at`

func (s *Store) UpsertParticipant(ctx context.Context, p training.Participant) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants(id, username, display_name, is_active, created_at)
		 VALUES(?,?,?,0,?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   display_name = excluded.display_name`,
		p.ID, p.Username, p.DisplayName, unixNano(p.CreatedAt),
	)
	return err
}

func (s *Store) SetParticipantActive(ctx context.Context, id int64, active bool, startedAt *time.Time) (bool, error) {
	if !active {
		startedAt = nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET is_active = ?, training_started_at = ? WHERE id = ?`,
		active, nullTime(startedAt), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Participant(ctx context.Context, id int64) (training.Participant, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantCols+` FROM participants WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return training.Participant{}, false, nil
	}
	if err != nil {
		return training.Participant{}, false, err
	}
	return p, true, nil
}

func (s *Store) ActiveParticipants(ctx context.Context) ([]training.Participant, error) {
	return s.queryParticipants(ctx, `SELECT `+participantCols+` FROM participants WHERE is_active = 1 ORDER BY id`)
}

func (s *Store) Participants(ctx context.Context) ([]training.Participant, error) {
	return s.queryParticipants(ctx, `SELECT `+participantCols+` FROM participants ORDER BY id`)
}

func (s *Store) DeactivateAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE participants SET is_active = 0, training_started_at = NULL`)
	return err
}

func (s *Store) queryParticipants(ctx context.Context, q string, args ...any) ([]training.Participant, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []training.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(sc scanner) (training.Participant, error) {
	var (
		p       training.Participant
		started sql.NullInt64
		created int64
	)
	if err := sc.Scan(&p.ID, &p.Username, &p.DisplayName, &p.Active, &started, &created); err != nil {
		return training.Participant{}, err
	}
	p.TrainingStartedAt = timePtr(started)
	p.CreatedAt = fromNano(created)
	return p, nil
}
