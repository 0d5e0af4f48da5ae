package storage

import (
	"context"
	"database/sql"
	"errors"

	"drillbot/internal/training"
)

func (s *Store) ReplaceScenario(ctx context.Context, items []training.ScenarioItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scenario_items`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO scenario_items(idx, text, category, difficulty) VALUES(?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, it := range items {
			if _, err := stmt.ExecContext(ctx, it.Index, it.Text, it.Category, string(it.Difficulty)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ScenarioItem(ctx context.Context, index int) (training.ScenarioItem, bool, error) {
	var (
		it   training.ScenarioItem
		diff string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT idx, text, category, difficulty FROM scenario_items WHERE idx = ?`, index,
	).Scan(&it.Index, &it.Text, &it.Category, &diff)
	if errors.Is(err, sql.ErrNoRows) {
		return training.ScenarioItem{}, false, nil
	}
	if err != nil {
		return training.ScenarioItem{}, false, err
	}
	it.Difficulty = training.Difficulty(diff)
	return it, true, nil
}

func (s *Store) ScenarioCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scenario_items`).Scan(&n)
	return n, err
}

func (s *Store) ScenarioItems(ctx context.Context) ([]training.ScenarioItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT idx, text, category, difficulty FROM scenario_items ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []training.ScenarioItem
	for rows.Next() {
		var (
			it   training.ScenarioItem
			diff string
		)
		if err := rows.Scan(&it.Index, &it.Text, &it.Category, &diff); err != nil {
			return nil, err
		}
		it.Difficulty = training.Difficulty(diff)
		out = append(out, it)
	}
	return out, rows.Err()
}
