// Package decay holds the pure temporal policy for task decay: how long a
// task may sit overdue before it degrades, and how a user's open decay levels
// aggregate into a 0-100 debt score. Nothing here touches storage or clocks.
package decay

import (
	"fmt"
	"math"
	"time"
)

// Decay levels. Levels only move forward while a task stays incomplete.
const (
	LevelFresh    = 0
	LevelStale    = 1
	LevelDecaying = 2
	LevelRotten   = 3

	MaxLevel = LevelRotten
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Policy bands elapsed overdue time into decay levels. The first Band after
// Grace is level 1; each further Band adds a level up to MaxLevel. Boundary
// instants belong to the higher band.
type Policy struct {
	Grace time.Duration
	Band  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Grace: 24 * time.Hour, Band: 24 * time.Hour}
}

// Level returns the decay level for a task due at dueAt as of now. Completed
// tasks and tasks not yet past their grace period are always LevelFresh.
func (p Policy) Level(dueAt time.Time, isCompleted bool, now time.Time) int {
	if isCompleted {
		return LevelFresh
	}
	overdue := now.Sub(dueAt)
	if overdue < p.Grace {
		return LevelFresh
	}
	level := 1 + int((overdue-p.Grace)/p.Band)
	if level > MaxLevel {
		level = MaxLevel
	}
	return level
}

// LevelName maps a decay level to its display name.
func LevelName(level int) string {
	switch level {
	case LevelFresh:
		return "fresh"
	case LevelStale:
		return "stale"
	case LevelDecaying:
		return "decaying"
	case LevelRotten:
		return "rotten"
	default:
		return fmt.Sprintf("level-%d", level)
	}
}

// DueAt resolves a task's schedule into the instant it becomes overdue. A
// task with an end time is due at that time on its scheduled date; without
// one it is due at the end of the scheduled day.
func DueAt(scheduledDate string, endTime *string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(dateLayout, scheduledDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduled date %q: %w", scheduledDate, err)
	}
	if endTime == nil || *endTime == "" {
		return day.AddDate(0, 0, 1), nil
	}
	t, err := time.Parse(timeLayout, *endTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("end time %q: %w", *endTime, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// DebtScore normalizes a set of decay levels into a 0-100 percentage of the
// worst case (every task at MaxLevel). Empty input scores 0.
func DebtScore(levels []int) int {
	if len(levels) == 0 {
		return 0
	}
	sum := 0
	for _, l := range levels {
		sum += l
	}
	score := int(math.Round(100 * float64(sum) / (float64(MaxLevel) * float64(len(levels)))))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Penalty is the XP cost of a level transition. Non-forward transitions cost
// nothing; a multi-level jump charges every level skipped.
func Penalty(previousLevel, newLevel, xpPerLevel int) int {
	if newLevel <= previousLevel {
		return 0
	}
	return (newLevel - previousLevel) * xpPerLevel
}
