package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"questline/internal/decay"
	"questline/internal/domain"
	"questline/internal/events"
	"questline/internal/repo"
)

// ReconcileResult summarizes one decay sweep over a user's open tasks.
type ReconcileResult struct {
	UserID         string       `json:"user_id"`
	Processed      int          `json:"processed"`
	Updated        int          `json:"updated"`
	Conflicts      int          `json:"conflicts"`
	TotalXPPenalty int          `json:"total_xp_penalty"`
	DebtScore      int          `json:"debt_score"`
	Errors         []SweepError `json:"errors,omitempty"`
}

// SweepError records a per-item failure without aborting the batch.
type SweepError struct {
	ItemID string `json:"item_id,omitempty"`
	Err    string `json:"error"`
}

// Reconcile runs the decay sweep for one user at the given instant: it walks
// every open task old enough to have outlived the user's grace window,
// advances decay levels that are behind the policy, records one decay event
// per transition, debits the XP penalty and recomputes the debt score. Lost
// compare-and-set races are counted as conflicts and skipped; the next sweep
// converges on its own. Running twice at the same instant leaves no extra
// writes.
func (e Engine) Reconcile(ctx context.Context, userID string, now time.Time) (ReconcileResult, error) {
	res := ReconcileResult{UserID: userID}
	if _, err := e.Repo.GetProfile(ctx, userID); err != nil {
		return res, err
	}
	cfg := e.userConfig(ctx, userID)
	policy := cfg.Policy()
	nowStr := now.UTC().Format(time.RFC3339)
	// The earliest a task scheduled on day D can decay is D 00:00 plus the
	// grace window, so the working set is every date up to now minus grace.
	// With a sub-24h grace that includes tasks scheduled today.
	cutoff := now.UTC().Add(-policy.Grace).AddDate(0, 0, 1).Format("2006-01-02")

	tasks, err := e.Repo.ListIncompleteTasksBefore(ctx, userID, cutoff)
	if err != nil {
		return res, err
	}
	for _, t := range tasks {
		res.Processed++
		dueAt, err := decay.DueAt(t.ScheduledDate, t.EndTime, time.UTC)
		if err != nil {
			res.Errors = append(res.Errors, SweepError{ItemID: t.ID, Err: err.Error()})
			continue
		}
		newLevel := policy.Level(dueAt, t.IsCompleted, now)
		if newLevel <= t.DecayLevel {
			continue
		}
		if err := e.Repo.UpdateTaskDecay(ctx, t.ID, t.DecayLevel, newLevel, nowStr, nowStr); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				res.Conflicts++
				continue
			}
			res.Errors = append(res.Errors, SweepError{ItemID: t.ID, Err: err.Error()})
			continue
		}
		res.Updated++
		penalty := decay.Penalty(t.DecayLevel, newLevel, cfg.Decay.XPPenaltyPerLevel)
		if err := e.Repo.InsertDecayEvent(ctx, domain.DecayEvent{
			TaskID:        t.ID,
			UserID:        userID,
			PreviousLevel: t.DecayLevel,
			NewLevel:      newLevel,
			XPPenalty:     penalty,
			TS:            nowStr,
		}); err != nil {
			// The level write already landed; the audit row must not undo it.
			log.Printf("decay event for task %s not recorded: %v", t.ID, err)
		}
		if penalty > 0 {
			if _, err := e.Repo.ApplyXPDelta(ctx, userID, -penalty); err != nil {
				res.Errors = append(res.Errors, SweepError{ItemID: t.ID, Err: fmt.Sprintf("debit penalty: %v", err)})
				continue
			}
			res.TotalXPPenalty += penalty
		}
	}

	levels, err := e.Repo.ListOpenDecayLevels(ctx, userID)
	if err != nil {
		return res, err
	}
	res.DebtScore = decay.DebtScore(levels)
	if err := e.Repo.SetDebtScore(ctx, userID, res.DebtScore); err != nil {
		return res, err
	}
	if res.Updated > 0 {
		_ = e.Events.Append(ctx, "decay.reconciled", userID, "profile", userID, "sweep", events.EventPayload{
			"updated":          res.Updated,
			"conflicts":        res.Conflicts,
			"total_xp_penalty": res.TotalXPPenalty,
			"debt_score":       res.DebtScore,
		})
	}
	return res, nil
}

// ReconcileAll fans the decay sweep out over every user with open tasks
// scheduled through today. Grace is a per-user setting, so candidate
// selection stays broad and each user's Reconcile applies the exact cutoff.
// A failing user does not stop the rest.
func (e Engine) ReconcileAll(ctx context.Context, now time.Time) ([]ReconcileResult, error) {
	cutoff := now.UTC().AddDate(0, 0, 1).Format("2006-01-02")
	users, err := e.Repo.ListUsersWithOpenTasksBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	var out []ReconcileResult
	for _, userID := range users {
		res, err := e.Reconcile(ctx, userID, now)
		if err != nil {
			res.Errors = append(res.Errors, SweepError{Err: err.Error()})
		}
		out = append(out, res)
	}
	return out, nil
}
