package storage

import (
	"context"
	"time"
)

// AuditEntry records an operator action (reset, manual tick, export).
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	Action        string
	Target        string
	OK            int
	Fail          int
	Error         string
	TookMS        int64
}

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, action, target, ok, fail, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		unixNano(e.At), e.ActorID, nullStr(e.ActorUsername), e.Action, e.Target, e.OK, e.Fail, nullStr(e.Error), e.TookMS,
	)
	return err
}

// RecentAudit returns up to limit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor_id, COALESCE(actor_username, ''), action, target, ok, fail, COALESCE(err, ''), took_ms
		 FROM audit ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at int64
		)
		if err := rows.Scan(&at, &e.ActorID, &e.ActorUsername, &e.Action, &e.Target, &e.OK, &e.Fail, &e.Error, &e.TookMS); err != nil {
			return nil, err
		}
		e.At = fromNano(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
