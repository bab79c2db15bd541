package repo

import (
	"context"

	"questline/internal/domain"
)

// InsertDecayEvent appends one level-transition record. Rows are never
// updated or deleted.
func (r Repo) InsertDecayEvent(ctx context.Context, e domain.DecayEvent) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO decay_events(task_id,user_id,previous_level,new_level,xp_penalty,ts) VALUES (?,?,?,?,?,?)`,
		e.TaskID, e.UserID, e.PreviousLevel, e.NewLevel, e.XPPenalty, e.TS)
	return err
}

func (r Repo) ListDecayEvents(ctx context.Context, userID string, limit int) ([]domain.DecayEvent, error) {
	query := `SELECT id,task_id,user_id,previous_level,new_level,xp_penalty,ts FROM decay_events WHERE user_id=? ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DecayEvent
	for rows.Next() {
		var e domain.DecayEvent
		if err := rows.Scan(&e.ID, &e.TaskID, &e.UserID, &e.PreviousLevel, &e.NewLevel, &e.XPPenalty, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountDecayEvents(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM decay_events WHERE user_id=?`, userID).Scan(&n)
	return n, err
}

// GetDecayStats aggregates the decay event log plus the current count of
// fully rotten open tasks for one user.
func (r Repo) GetDecayStats(ctx context.Context, userID string) (domain.DecayStats, error) {
	stats := domain.DecayStats{UserID: userID}
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(xp_penalty),0) FROM decay_events WHERE user_id=?`, userID).
		Scan(&stats.EventCount, &stats.TotalXPPenalty)
	if err != nil {
		return stats, err
	}
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE user_id=? AND is_completed=0 AND decay_level=3`, userID).
		Scan(&stats.RottenTasks)
	return stats, err
}
