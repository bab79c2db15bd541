package repo

import (
	"context"
	"database/sql"
	"strings"

	"questline/internal/domain"
)

const contractColumns = `id,user_id,task_id,goal_id,staked_xp,buddy_id,deadline,status,penalty_applied,created_at,resolved_at`

func (r Repo) InsertContract(ctx context.Context, c domain.CommitmentContract) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO contracts(`+contractColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, nullableStringPtr(c.TaskID), nullableStringPtr(c.GoalID), c.StakedXP,
		nullableStringPtr(c.BuddyID), c.Deadline, c.Status, boolToInt(c.PenaltyApplied), c.CreatedAt, nullableStringPtr(c.ResolvedAt))
	return err
}

func scanContract(scan func(dest ...any) error) (domain.CommitmentContract, error) {
	var c domain.CommitmentContract
	var taskID, goalID, buddyID, resolvedAt sql.NullString
	var penalty int
	err := scan(&c.ID, &c.UserID, &taskID, &goalID, &c.StakedXP, &buddyID, &c.Deadline, &c.Status, &penalty, &c.CreatedAt, &resolvedAt)
	if err != nil {
		return c, err
	}
	c.PenaltyApplied = penalty != 0
	if taskID.Valid {
		c.TaskID = &taskID.String
	}
	if goalID.Valid {
		c.GoalID = &goalID.String
	}
	if buddyID.Valid {
		c.BuddyID = &buddyID.String
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.String
	}
	return c, nil
}

func (r Repo) GetContract(ctx context.Context, id string) (domain.CommitmentContract, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id)
	c, err := scanContract(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

type ContractFilters struct {
	UserID string
	Status string
	Limit  int
}

func (r Repo) ListContracts(ctx context.Context, f ContractFilters) ([]domain.CommitmentContract, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + contractColumns + ` FROM contracts ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CommitmentContract
	for rows.Next() {
		c, err := scanContract(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListActiveContractsPastDeadline returns active contracts whose deadline is
// at or before now, the expiry sweep's working set.
func (r Repo) ListActiveContractsPastDeadline(ctx context.Context, now string) ([]domain.CommitmentContract, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contractColumns+` FROM contracts
WHERE status='active' AND deadline<=? ORDER BY deadline ASC, id ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CommitmentContract
	for rows.Next() {
		c, err := scanContract(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ResolveContract moves a contract from active to a terminal status. The
// write is conditioned on status still being active, so of two racing
// resolvers exactly one lands; the loser gets ErrConflict and must re-read.
func (r Repo) ResolveContractTx(ctx context.Context, tx *sql.Tx, id, status, resolvedAt string, penaltyApplied bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE contracts SET status=?, resolved_at=?, penalty_applied=? WHERE id=? AND status='active'`,
		status, resolvedAt, boolToInt(penaltyApplied), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}
