package domain

// Profile is the per-user game-economy row. XP and streak fields are mutated
// by decay penalties, contract payouts, session rewards, and the streak
// resolver; all XP writes are relative deltas, never absolute overwrites.
type Profile struct {
	UserID           string  `json:"user_id"`
	DisplayName      string  `json:"display_name,omitempty"`
	TotalXP          int     `json:"total_xp"`
	DebtScore        int     `json:"debt_score"`
	CurrentStreak    int     `json:"current_streak"`
	LongestStreak    int     `json:"longest_streak"`
	LastActivityDate *string `json:"last_activity_date,omitempty" format:"date"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

// Task decay invariants: DecayLevel is 0 whenever IsCompleted is true, only
// moves forward while the task stays incomplete, and DecayStartedAt is set on
// the first transition above 0 and cleared only by completion.
type Task struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	ScheduledDate   string  `json:"scheduled_date" format:"date"`
	StartTime       *string `json:"start_time,omitempty"`
	EndTime         *string `json:"end_time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Priority        *int    `json:"priority,omitempty"`
	IsCompleted     bool    `json:"is_completed"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	DecayLevel      int     `json:"decay_level" enum:"0,1,2,3"`
	DecayStartedAt  *string `json:"decay_started_at,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type Goal struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	TargetDate  *string `json:"target_date,omitempty" format:"date"`
	Status      string  `json:"status" enum:"open,achieved,abandoned"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// Contract statuses. Active is the only non-terminal state.
const (
	ContractActive    = "active"
	ContractCompleted = "completed"
	ContractFailed    = "failed"
	ContractCancelled = "cancelled"
)

// CommitmentContract stakes XP against finishing a task or goal by a
// deadline. Exactly one of TaskID/GoalID is set. Status moves one-way from
// active to a terminal state; ResolvedAt is written once.
type CommitmentContract struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	TaskID         *string `json:"task_id,omitempty"`
	GoalID         *string `json:"goal_id,omitempty"`
	StakedXP       int     `json:"staked_xp"`
	BuddyID        *string `json:"buddy_id,omitempty"`
	Deadline       string  `json:"deadline" format:"date-time"`
	Status         string  `json:"status" enum:"active,completed,failed,cancelled"`
	PenaltyApplied bool    `json:"penalty_applied"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	ResolvedAt     *string `json:"resolved_at,omitempty" format:"date-time"`
}

// DecayEvent is an append-only record of a single decay level transition.
type DecayEvent struct {
	ID            int64  `json:"id"`
	TaskID        string `json:"task_id"`
	UserID        string `json:"user_id"`
	PreviousLevel int    `json:"previous_level"`
	NewLevel      int    `json:"new_level"`
	XPPenalty     int    `json:"xp_penalty"`
	TS            string `json:"ts" format:"date-time"`
}

type FocusSession struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	TaskID          *string `json:"task_id,omitempty"`
	StartedAt       string  `json:"started_at" format:"date-time"`
	DurationMinutes int     `json:"duration_minutes"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DecayStats aggregates the append-only decay event log for one user.
type DecayStats struct {
	UserID         string `json:"user_id"`
	EventCount     int    `json:"event_count"`
	TotalXPPenalty int    `json:"total_xp_penalty"`
	RottenTasks    int    `json:"rotten_tasks"`
}
