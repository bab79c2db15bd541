package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"questline/internal/config"
	"questline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a conditional write lost to a concurrent writer; the
	// caller re-reads or skips the item, it is never fatal to a batch.
	ErrConflict = errors.New("conflict")
)

func (r Repo) InsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO profiles(user_id,display_name,total_xp,debt_score,current_streak,longest_streak,last_activity_date,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		p.UserID, nullable(p.DisplayName), p.TotalXP, p.DebtScore, p.CurrentStreak, p.LongestStreak, nullableStringPtr(p.LastActivityDate), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) InsertProfileTx(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO profiles(user_id,display_name,total_xp,debt_score,current_streak,longest_streak,last_activity_date,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		p.UserID, nullable(p.DisplayName), p.TotalXP, p.DebtScore, p.CurrentStreak, p.LongestStreak, nullableStringPtr(p.LastActivityDate), p.CreatedAt, p.UpdatedAt)
	return err
}

const profileColumns = `user_id,COALESCE(display_name,''),total_xp,debt_score,current_streak,longest_streak,last_activity_date,created_at,updated_at`

func scanProfile(row *sql.Row) (domain.Profile, error) {
	var p domain.Profile
	var lastActivity sql.NullString
	err := row.Scan(&p.UserID, &p.DisplayName, &p.TotalXP, &p.DebtScore, &p.CurrentStreak, &p.LongestStreak, &lastActivity, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if lastActivity.Valid {
		p.LastActivityDate = &lastActivity.String
	}
	return p, err
}

func (r Repo) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	return scanProfile(r.DB.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id=?`, userID))
}

func (r Repo) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		var p domain.Profile
		var lastActivity sql.NullString
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.TotalXP, &p.DebtScore, &p.CurrentStreak, &p.LongestStreak, &lastActivity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if lastActivity.Valid {
			p.LastActivityDate = &lastActivity.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProfile returns the only profile in the workspace, or an error when
// there are zero or several.
func (r Repo) SingleProfile(ctx context.Context) (domain.Profile, error) {
	profiles, err := r.ListProfiles(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	if len(profiles) != 1 {
		return domain.Profile{}, fmt.Errorf("expected exactly one profile, found %d", len(profiles))
	}
	return profiles[0], nil
}

// ApplyXPDelta adds delta (may be negative) to the user's XP, flooring at
// zero, and returns the new total. The update is a single relative write so
// concurrent writers cannot lose each other's deltas.
func (r Repo) ApplyXPDelta(ctx context.Context, userID string, delta int) (int, error) {
	return applyXPDelta(ctx, r.DB, nil, userID, delta)
}

func (r Repo) ApplyXPDeltaTx(ctx context.Context, tx *sql.Tx, userID string, delta int) (int, error) {
	return applyXPDelta(ctx, nil, tx, userID, delta)
}

func applyXPDelta(ctx context.Context, db *sql.DB, tx *sql.Tx, userID string, delta int) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	res, err := exec(`UPDATE profiles SET total_xp=MAX(0, total_xp + ?), updated_at=? WHERE user_id=?`, delta, now, userID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var total int
	query := func(q string, args ...any) *sql.Row {
		if tx != nil {
			return tx.QueryRowContext(ctx, q, args...)
		}
		return db.QueryRowContext(ctx, q, args...)
	}
	if err := query(`SELECT total_xp FROM profiles WHERE user_id=?`, userID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r Repo) SetDebtScore(ctx context.Context, userID string, score int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.DB.ExecContext(ctx, `UPDATE profiles SET debt_score=?, updated_at=? WHERE user_id=?`, score, now, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStreak persists resolver output. lastActivityDate nil leaves the
// stored value untouched.
func (r Repo) UpdateStreak(ctx context.Context, userID string, current, longest int, lastActivityDate *string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	fields := []string{"current_streak=?", "longest_streak=?", "updated_at=?"}
	args := []any{current, longest, now}
	if lastActivityDate != nil {
		fields = append(fields, "last_activity_date=?")
		args = append(args, *lastActivityDate)
	}
	args = append(args, userID)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE profiles SET %s WHERE user_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertUserConfig(ctx context.Context, userID string, cfg *config.Config) error {
	return upsertUserConfig(ctx, r.DB, nil, userID, cfg)
}

func (r Repo) UpsertUserConfigTx(ctx context.Context, tx *sql.Tx, userID string, cfg *config.Config) error {
	return upsertUserConfig(ctx, nil, tx, userID, cfg)
}

func upsertUserConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, userID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.User.ID = userID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO user_configs(user_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, userID, string(payload), now, now)
	return err
}

func (r Repo) GetUserConfig(ctx context.Context, userID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM user_configs WHERE user_id=?`, userID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.User.ID == "" {
		cfg.User.ID = userID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, userID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, userID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, userID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,user_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, userID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,user_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var userID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &userID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if userID.Valid {
			e.UserID = userID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, optionally scoped to a user.
func (r Repo) LatestEventID(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	row := r.DB.QueryRowContext(ctx, query, args...)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
