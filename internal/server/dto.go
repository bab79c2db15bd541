package server

import (
	"questline/internal/domain"
	"questline/internal/engine"
)

// Request payloads

type CreateUserRequest struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"display_name,omitempty"`
}

type CreateTaskRequest struct {
	ID              *string `json:"id,omitempty"`
	Title           string  `json:"title"`
	Description     *string `json:"description,omitempty"`
	ScheduledDate   string  `json:"scheduled_date" format:"date"`
	StartTime       *string `json:"start_time,omitempty"`
	EndTime         *string `json:"end_time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Priority        *int    `json:"priority,omitempty"`
}

type CreateGoalRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	TargetDate  *string `json:"target_date,omitempty" format:"date"`
}

type LogSessionRequest struct {
	TaskID          *string `json:"task_id,omitempty"`
	StartedAt       *string `json:"started_at,omitempty" format:"date-time"`
	DurationMinutes int     `json:"duration_minutes"`
}

type CreateContractRequest struct {
	TaskID   *string `json:"task_id,omitempty"`
	GoalID   *string `json:"goal_id,omitempty"`
	StakedXP int     `json:"staked_xp"`
	BuddyID  *string `json:"buddy_id,omitempty"`
	Deadline string  `json:"deadline" format:"date-time"`
}

// Response payloads reuse the domain structs directly; summaries come from
// the engine's sweep results.

type SweepDecayResponse struct {
	Results []engine.ReconcileResult `json:"results"`
}

type SweepContractsResponse struct {
	engine.ExpireResult
}

type SweepStreaksResponse struct {
	Day     string         `json:"day"`
	Streaks map[string]int `json:"streaks"`
}

type TaskListResponse struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
