package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"questline/internal/domain"
	"questline/internal/events"
	"questline/internal/repo"
)

var (
	ErrInvalidStake      = errors.New("invalid stake")
	ErrInvalidTarget     = errors.New("invalid contract target")
	ErrInvalidTransition = errors.New("invalid contract transition")
)

// ContractCreateOptions are parameters for staking a commitment contract.
// Exactly one of TaskID/GoalID must be set.
type ContractCreateOptions struct {
	UserID   string
	TaskID   string
	GoalID   string
	StakedXP int
	BuddyID  string
	Deadline string
	ActorID  string
}

// CreateContract stakes XP on finishing a task or goal by a deadline. The
// stake must sit within the configured bounds and never exceed the user's
// current XP: a user cannot owe more than they have.
func (e Engine) CreateContract(ctx context.Context, opts ContractCreateOptions) (domain.CommitmentContract, error) {
	if (opts.TaskID == "") == (opts.GoalID == "") {
		return domain.CommitmentContract{}, fmt.Errorf("%w: exactly one of task or goal required", ErrInvalidTarget)
	}
	deadline, err := time.Parse(time.RFC3339, opts.Deadline)
	if err != nil {
		return domain.CommitmentContract{}, fmt.Errorf("deadline: %w", err)
	}
	if !deadline.After(e.now()) {
		return domain.CommitmentContract{}, fmt.Errorf("%w: deadline must be in the future", ErrInvalidTarget)
	}
	profile, err := e.Repo.GetProfile(ctx, opts.UserID)
	if err != nil {
		return domain.CommitmentContract{}, err
	}
	cfg := e.userConfig(ctx, opts.UserID)
	if opts.StakedXP < cfg.Contracts.MinStake {
		return domain.CommitmentContract{}, fmt.Errorf("%w: stake %d below minimum %d", ErrInvalidStake, opts.StakedXP, cfg.Contracts.MinStake)
	}
	if opts.StakedXP > cfg.Contracts.MaxStake {
		return domain.CommitmentContract{}, fmt.Errorf("%w: stake %d above maximum %d", ErrInvalidStake, opts.StakedXP, cfg.Contracts.MaxStake)
	}
	if opts.StakedXP > profile.TotalXP {
		return domain.CommitmentContract{}, fmt.Errorf("%w: stake %d exceeds current xp %d", ErrInvalidStake, opts.StakedXP, profile.TotalXP)
	}
	if opts.TaskID != "" {
		t, err := e.Repo.GetTask(ctx, opts.TaskID)
		if err != nil {
			return domain.CommitmentContract{}, err
		}
		if t.UserID != opts.UserID {
			return domain.CommitmentContract{}, fmt.Errorf("%w: task belongs to a different user", ErrInvalidTarget)
		}
		if t.IsCompleted {
			return domain.CommitmentContract{}, fmt.Errorf("%w: task already completed", ErrInvalidTarget)
		}
	}
	if opts.GoalID != "" {
		g, err := e.Repo.GetGoal(ctx, opts.GoalID)
		if err != nil {
			return domain.CommitmentContract{}, err
		}
		if g.UserID != opts.UserID {
			return domain.CommitmentContract{}, fmt.Errorf("%w: goal belongs to a different user", ErrInvalidTarget)
		}
		if g.Status != "open" {
			return domain.CommitmentContract{}, fmt.Errorf("%w: goal is %s", ErrInvalidTarget, g.Status)
		}
	}
	c := domain.CommitmentContract{
		ID:        uuid.New().String(),
		UserID:    opts.UserID,
		TaskID:    optionalString(opts.TaskID),
		GoalID:    optionalString(opts.GoalID),
		StakedXP:  opts.StakedXP,
		BuddyID:   optionalString(opts.BuddyID),
		Deadline:  deadline.UTC().Format(time.RFC3339),
		Status:    domain.ContractActive,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertContract(ctx, c); err != nil {
		return domain.CommitmentContract{}, err
	}
	_ = e.Events.Append(ctx, "contract.created", c.UserID, "contract", c.ID, opts.ActorID, events.EventPayload{
		"staked_xp": c.StakedXP,
		"deadline":  c.Deadline,
	})
	return c, nil
}

// CompleteContract resolves a contract as kept and pays out the bonus.
func (e Engine) CompleteContract(ctx context.Context, id, actorID string) (domain.CommitmentContract, error) {
	c, _, err := e.resolveContract(ctx, id, domain.ContractCompleted, actorID)
	return c, err
}

// FailContract resolves a contract as broken and forfeits the stake.
func (e Engine) FailContract(ctx context.Context, id, actorID string) (domain.CommitmentContract, error) {
	c, _, err := e.resolveContract(ctx, id, domain.ContractFailed, actorID)
	return c, err
}

// CancelContract voids a contract with no XP effect either way.
func (e Engine) CancelContract(ctx context.Context, id, actorID string) (domain.CommitmentContract, error) {
	c, _, err := e.resolveContract(ctx, id, domain.ContractCancelled, actorID)
	return c, err
}

// resolveContract moves a contract to a terminal status and applies the XP
// effect in the same transaction, so the status flip and the payout land or
// roll back together. The first terminal write wins: resolving an already
// resolved contract is a no-op that returns the stored row, never a second
// XP adjustment. The bool reports whether this call landed the resolution,
// so sweeps can tell their own writes from a racing resolver's.
func (e Engine) resolveContract(ctx context.Context, id, target, actorID string) (domain.CommitmentContract, bool, error) {
	switch target {
	case domain.ContractCompleted, domain.ContractFailed, domain.ContractCancelled:
	default:
		return domain.CommitmentContract{}, false, fmt.Errorf("%w: %q is not a terminal status", ErrInvalidTransition, target)
	}
	c, err := e.Repo.GetContract(ctx, id)
	if err != nil {
		return c, false, err
	}
	if c.Status != domain.ContractActive {
		return c, false, nil
	}
	cfg := e.userConfig(ctx, c.UserID)
	nowStr := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, false, err
	}
	defer tx.Rollback()

	penaltyApplied := target == domain.ContractFailed
	if err := e.Repo.ResolveContractTx(ctx, tx, id, target, nowStr, penaltyApplied); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Lost the race to another resolver.
			stored, err := e.Repo.GetContract(ctx, id)
			return stored, false, err
		}
		return c, false, err
	}
	var xpDelta int
	switch target {
	case domain.ContractCompleted:
		xpDelta = int(float64(c.StakedXP) * cfg.Contracts.BonusRate)
	case domain.ContractFailed:
		xpDelta = -c.StakedXP
	}
	if xpDelta != 0 {
		if _, err := e.Repo.ApplyXPDeltaTx(ctx, tx, c.UserID, xpDelta); err != nil {
			return c, false, fmt.Errorf("apply contract xp: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return c, false, err
	}
	_ = e.Events.Append(ctx, "contract."+target, c.UserID, "contract", c.ID, actorID, events.EventPayload{
		"staked_xp": c.StakedXP,
		"xp_delta":  xpDelta,
	})
	resolved, err := e.Repo.GetContract(ctx, id)
	return resolved, true, err
}

// ExpireResult summarizes one contract expiry sweep.
type ExpireResult struct {
	Processed        int          `json:"processed"`
	Failed           int          `json:"failed"`
	TotalXPForfeited int          `json:"total_xp_forfeited"`
	Errors           []SweepError `json:"errors,omitempty"`
}

// ExpireContracts fails every active contract whose deadline has passed.
// Contracts resolved by a racing writer between listing and failing are
// skipped; rerunning at the same instant changes nothing further.
func (e Engine) ExpireContracts(ctx context.Context, now time.Time) (ExpireResult, error) {
	var res ExpireResult
	nowStr := now.UTC().Format(time.RFC3339)
	due, err := e.Repo.ListActiveContractsPastDeadline(ctx, nowStr)
	if err != nil {
		return res, err
	}
	for _, c := range due {
		res.Processed++
		_, won, err := e.resolveContract(ctx, c.ID, domain.ContractFailed, "sweep")
		if err != nil {
			res.Errors = append(res.Errors, SweepError{ItemID: c.ID, Err: err.Error()})
			continue
		}
		// Contracts a racing resolver settled between listing and failing
		// are processed but not counted as this sweep's forfeitures.
		if won {
			res.Failed++
			res.TotalXPForfeited += c.StakedXP
		}
	}
	return res, nil
}
