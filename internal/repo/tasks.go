package repo

import (
	"context"
	"database/sql"
	"strings"

	"questline/internal/domain"
)

const taskColumns = `id,user_id,title,description,scheduled_date,start_time,end_time,duration_minutes,priority,is_completed,completed_at,decay_level,decay_started_at,created_at,updated_at`

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Title, nullable(t.Description), t.ScheduledDate,
		nullableStringPtr(t.StartTime), nullableStringPtr(t.EndTime), nullableIntPtr(t.DurationMinutes), nullableIntPtr(t.Priority),
		boolToInt(t.IsCompleted), nullableStringPtr(t.CompletedAt), t.DecayLevel, nullableStringPtr(t.DecayStartedAt),
		t.CreatedAt, t.UpdatedAt)
	return err
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, startTime, endTime, completedAt, decayStartedAt sql.NullString
	var duration, priority sql.NullInt64
	var completed int
	err := scan(&t.ID, &t.UserID, &t.Title, &description, &t.ScheduledDate, &startTime, &endTime, &duration, &priority,
		&completed, &completedAt, &t.DecayLevel, &decayStartedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.IsCompleted = completed != 0
	if description.Valid {
		t.Description = description.String
	}
	if startTime.Valid {
		t.StartTime = &startTime.String
	}
	if endTime.Valid {
		t.EndTime = &endTime.String
	}
	if duration.Valid {
		d := int(duration.Int64)
		t.DurationMinutes = &d
	}
	if priority.Valid {
		p := int(priority.Int64)
		t.Priority = &p
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if decayStartedAt.Valid {
		t.DecayStartedAt = &decayStartedAt.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	UserID          string
	Completed       *bool
	DecayLevel      *int
	ScheduledBefore string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Completed != nil {
		clauses = append(clauses, "is_completed=?")
		args = append(args, boolToInt(*f.Completed))
	}
	if f.DecayLevel != nil {
		clauses = append(clauses, "decay_level=?")
		args = append(args, *f.DecayLevel)
	}
	if f.ScheduledBefore != "" {
		clauses = append(clauses, "scheduled_date<?")
		args = append(args, f.ScheduledBefore)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListIncompleteTasksBefore returns a user's open tasks scheduled before the
// given date, oldest first. This is the decay sweep's working set.
func (r Repo) ListIncompleteTasksBefore(ctx context.Context, userID, date string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE user_id=? AND is_completed=0 AND scheduled_date<? ORDER BY scheduled_date ASC, id ASC`, userID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListOpenDecayLevels returns the decay level of every incomplete task for a
// user, the debt aggregator's input.
func (r Repo) ListOpenDecayLevels(ctx context.Context, userID string) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT decay_level FROM tasks WHERE user_id=? AND is_completed=0`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var levels []int
	for rows.Next() {
		var l int
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

// ListUsersWithOpenTasksBefore returns distinct user IDs that have incomplete
// tasks scheduled before the given date (the fleet sweep's fan-out set).
func (r Repo) ListUsersWithOpenTasksBefore(ctx context.Context, date string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT user_id FROM tasks WHERE is_completed=0 AND scheduled_date<? ORDER BY user_id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateTaskDecay advances a task's decay level with compare-and-set
// semantics: the write only lands if the level is still the one the sweep
// observed and the task is still incomplete. A completion racing in between
// makes this return ErrConflict instead of clobbering the reset.
func (r Repo) UpdateTaskDecay(ctx context.Context, taskID string, expectedLevel, newLevel int, decayStartedAt, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks
SET decay_level=?, decay_started_at=COALESCE(decay_started_at, ?), updated_at=?
WHERE id=? AND decay_level=? AND is_completed=0`,
		newLevel, decayStartedAt, updatedAt, taskID, expectedLevel)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// CompleteTask marks a task done and zeroes its decay state. This is the
// user-side write and wins unconditionally over in-flight sweeps.
func (r Repo) CompleteTask(ctx context.Context, taskID, completedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks
SET is_completed=1, completed_at=?, decay_level=0, decay_started_at=NULL, updated_at=?
WHERE id=? AND is_completed=0`, completedAt, completedAt, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountTasksCompletedOn counts a user's tasks completed on a calendar day
// (completed_at is RFC3339, so day prefix matching suffices).
func (r Repo) CountTasksCompletedOn(ctx context.Context, userID, day string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE user_id=? AND is_completed=1 AND completed_at LIKE ?`, userID, day+"%").Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
