package engine

import (
	"context"
	"fmt"
	"time"

	"questline/internal/domain"
	"questline/internal/events"
)

// StreakState is the stored streak portion of a profile.
type StreakState struct {
	Current          int
	Longest          int
	LastActivityDate string // "" if the user has never been active
}

// StreakUpdate is the resolver's verdict for one day. Changed false means the
// stored state already matches and nothing should be written.
type StreakUpdate struct {
	Current          int
	Longest          int
	LastActivityDate *string
	Changed          bool
}

// ResolveStreakDay applies the streak rule for a single calendar day. On an
// active day the streak extends when the gap since the last activity is at
// most resetGapDays, otherwise it restarts at 1. On an inactive day a streak
// whose gap has grown past resetGapDays collapses to 0; the longest streak is
// never reduced. Resolving the same day twice yields the same state.
func ResolveStreakDay(prior StreakState, wasActive bool, day string, resetGapDays int) (StreakUpdate, error) {
	if resetGapDays < 1 {
		resetGapDays = 1
	}
	gap, err := daysBetween(prior.LastActivityDate, day)
	if err != nil {
		return StreakUpdate{}, err
	}
	if wasActive {
		if gap == 0 {
			// Day already counted.
			return StreakUpdate{Current: prior.Current, Longest: prior.Longest, Changed: false}, nil
		}
		next := 1
		if gap > 0 && gap <= resetGapDays && prior.Current > 0 {
			next = prior.Current + 1
		}
		longest := prior.Longest
		if next > longest {
			longest = next
		}
		d := day
		return StreakUpdate{Current: next, Longest: longest, LastActivityDate: &d, Changed: true}, nil
	}
	if prior.Current > 0 && (gap > resetGapDays || gap < 0) {
		return StreakUpdate{Current: 0, Longest: prior.Longest, Changed: true}, nil
	}
	return StreakUpdate{Current: prior.Current, Longest: prior.Longest, Changed: false}, nil
}

// daysBetween returns day minus last in whole days. A missing last activity
// reads as an unbounded gap (-1 marks "never").
func daysBetween(last, day string) (int, error) {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		return 0, fmt.Errorf("day: %w", err)
	}
	if last == "" {
		return -1, nil
	}
	l, err := time.Parse("2006-01-02", last)
	if err != nil {
		return 0, fmt.Errorf("last activity date: %w", err)
	}
	return int(d.Sub(l) / (24 * time.Hour)), nil
}

// ResolveStreak resolves one user's streak for a calendar day. Activity means
// at least one task completed or one focus session logged on that day. Every
// seventh consecutive day earns the configured streak bonus XP.
func (e Engine) ResolveStreak(ctx context.Context, userID, day string) (domain.Profile, error) {
	p, err := e.Repo.GetProfile(ctx, userID)
	if err != nil {
		return p, err
	}
	completed, err := e.Repo.CountTasksCompletedOn(ctx, userID, day)
	if err != nil {
		return p, err
	}
	sessions, err := e.Repo.CountSessionsOn(ctx, userID, day)
	if err != nil {
		return p, err
	}
	prior := StreakState{Current: p.CurrentStreak, Longest: p.LongestStreak}
	if p.LastActivityDate != nil {
		prior.LastActivityDate = *p.LastActivityDate
	}
	upd, err := ResolveStreakDay(prior, completed+sessions > 0, day, e.userConfig(ctx, userID).Streaks.ResetGapDays)
	if err != nil {
		return p, err
	}
	if !upd.Changed {
		return p, nil
	}
	if err := e.Repo.UpdateStreak(ctx, userID, upd.Current, upd.Longest, upd.LastActivityDate); err != nil {
		return p, err
	}
	cfg := e.userConfig(ctx, userID)
	if upd.Current > prior.Current && upd.Current%7 == 0 && cfg.Rewards.StreakBonusXP > 0 {
		if _, err := e.Repo.ApplyXPDelta(ctx, userID, cfg.Rewards.StreakBonusXP); err != nil {
			return p, fmt.Errorf("credit streak bonus: %w", err)
		}
	}
	_ = e.Events.Append(ctx, "streak.resolved", userID, "profile", userID, "sweep", events.EventPayload{
		"day":            day,
		"current_streak": upd.Current,
		"longest_streak": upd.Longest,
	})
	return e.Repo.GetProfile(ctx, userID)
}

// ResolveStreaks resolves the streak for every profile for one day.
func (e Engine) ResolveStreaks(ctx context.Context, day string) (map[string]int, error) {
	profiles, err := e.Repo.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(profiles))
	for _, p := range profiles {
		resolved, err := e.ResolveStreak(ctx, p.UserID, day)
		if err != nil {
			return out, fmt.Errorf("resolve streak for %s: %w", p.UserID, err)
		}
		out[p.UserID] = resolved.CurrentStreak
	}
	return out, nil
}
