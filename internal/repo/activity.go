package repo

import (
	"context"
	"database/sql"

	"questline/internal/domain"
)

func (r Repo) InsertGoal(ctx context.Context, g domain.Goal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO goals(id,user_id,title,description,target_date,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		g.ID, g.UserID, g.Title, nullable(g.Description), nullableStringPtr(g.TargetDate), g.Status, g.CreatedAt)
	return err
}

func (r Repo) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	var g domain.Goal
	var description, targetDate sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,title,description,target_date,status,created_at FROM goals WHERE id=?`, id).
		Scan(&g.ID, &g.UserID, &g.Title, &description, &targetDate, &g.Status, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if description.Valid {
		g.Description = description.String
	}
	if targetDate.Valid {
		g.TargetDate = &targetDate.String
	}
	return g, nil
}

func (r Repo) ListGoals(ctx context.Context, userID string) ([]domain.Goal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,title,description,target_date,status,created_at FROM goals WHERE user_id=? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		var g domain.Goal
		var description, targetDate sql.NullString
		if err := rows.Scan(&g.ID, &g.UserID, &g.Title, &description, &targetDate, &g.Status, &g.CreatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			g.Description = description.String
		}
		if targetDate.Valid {
			g.TargetDate = &targetDate.String
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) InsertSession(ctx context.Context, s domain.FocusSession) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO focus_sessions(id,user_id,task_id,started_at,duration_minutes,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.UserID, nullableStringPtr(s.TaskID), s.StartedAt, s.DurationMinutes, s.CreatedAt)
	return err
}

func (r Repo) ListSessions(ctx context.Context, userID string, limit int) ([]domain.FocusSession, error) {
	query := `SELECT id,user_id,task_id,started_at,duration_minutes,created_at FROM focus_sessions WHERE user_id=? ORDER BY started_at DESC`
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
	var res []domain.FocusSession
	for rows.Next() {
		var s domain.FocusSession
		var taskID sql.NullString
		if err := rows.Scan(&s.ID, &s.UserID, &taskID, &s.StartedAt, &s.DurationMinutes, &s.CreatedAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			s.TaskID = &taskID.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountSessionsOn counts a user's focus sessions started on a calendar day.
func (r Repo) CountSessionsOn(ctx context.Context, userID, day string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM focus_sessions WHERE user_id=? AND started_at LIKE ?`, userID, day+"%").Scan(&n)
	return n, err
}
