package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"drillbot/internal/training"
)

const deliveryCols = `id, participant_id, scenario_index, message_text, sent_at, answer_text, answered_at, response_time_sec`

func (s *Store) AppendDelivery(ctx context.Context, e training.DeliveryLogEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(participant_id, scenario_index, message_text, sent_at) VALUES(?,?,?,?)`,
		e.ParticipantID, e.ScenarioIndex, e.MessageText, unixNano(e.SentAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetAnswer only touches rows that are still unanswered, so an answer is
// never overwritten.
func (s *Store) SetAnswer(ctx context.Context, entryID int64, text string, answeredAt time.Time, responseSeconds int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET answer_text = ?, answered_at = ?, response_time_sec = ?
		 WHERE id = ? AND answer_text IS NULL`,
		text, unixNano(answeredAt), responseSeconds, entryID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return training.ErrAlreadyAnswered
	}
	return nil
}

func (s *Store) MaxScenarioIndex(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(scenario_index), 0) FROM deliveries`).Scan(&n)
	return n, err
}

// LatestUnanswered breaks sent_at ties by insertion order.
func (s *Store) LatestUnanswered(ctx context.Context, participantID int64) (training.DeliveryLogEntry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deliveryCols+` FROM deliveries
		 WHERE participant_id = ? AND answer_text IS NULL
		 ORDER BY sent_at DESC, id DESC
		 LIMIT 1`,
		participantID,
	)
	e, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return training.DeliveryLogEntry{}, false, nil
	}
	if err != nil {
		return training.DeliveryLogEntry{}, false, err
	}
	return e, true, nil
}

func (s *Store) Deliveries(ctx context.Context) ([]training.DeliveryLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deliveryCols+` FROM deliveries ORDER BY sent_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []training.DeliveryLogEntry
	for rows.Next() {
		e, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ClearDeliveries(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deliveries`)
	return err
}

func scanDelivery(sc scanner) (training.DeliveryLogEntry, error) {
	var (
		e        training.DeliveryLogEntry
		sent     int64
		answer   sql.NullString
		answered sql.NullInt64
		latency  sql.NullInt64
	)
	if err := sc.Scan(&e.ID, &e.ParticipantID, &e.ScenarioIndex, &e.MessageText, &sent, &answer, &answered, &latency); err != nil {
		return training.DeliveryLogEntry{}, err
	}
	e.SentAt = fromNano(sent)
	if answer.Valid {
		v := answer.String
		e.AnswerText = &v
	}
	e.AnsweredAt = timePtr(answered)
	if latency.Valid {
		v := latency.Int64
		e.ResponseTimeSeconds = &v
	}
	return e, nil
}
