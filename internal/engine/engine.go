package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"questline/internal/config"
	"questline/internal/decay"
	"questline/internal/domain"
	"questline/internal/events"
	"questline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// userConfig prefers the user's stored config, then the engine default.
func (e Engine) userConfig(ctx context.Context, userID string) *config.Config {
	if cfg, err := e.Repo.GetUserConfig(ctx, userID); err == nil {
		return cfg
	}
	if e.Config != nil {
		return e.Config
	}
	return config.Default(userID)
}

// InitUser creates a profile and seeds its config.
func (e Engine) InitUser(ctx context.Context, userID, displayName string) (domain.Profile, error) {
	if userID == "" {
		return domain.Profile{}, errors.New("user id is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Profile{
		UserID:      userID,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProfileTx(ctx, tx, p); err != nil {
		return domain.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	if err := e.Repo.UpsertUserConfigTx(ctx, tx, userID, config.Default(userID)); err != nil {
		return domain.Profile{}, fmt.Errorf("seed user config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	_ = e.Events.Append(ctx, "user.init", userID, "profile", userID, userID, nil)
	return p, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID              string
	UserID          string
	Title           string
	Description     string
	ScheduledDate   string
	StartTime       string
	EndTime         string
	DurationMinutes int
	Priority        int
	ActorID         string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.UserID == "" {
		return domain.Task{}, errors.New("user is required")
	}
	if opts.ScheduledDate == "" {
		return domain.Task{}, errors.New("scheduled date is required")
	}
	if _, err := e.Repo.GetProfile(ctx, opts.UserID); err != nil {
		return domain.Task{}, err
	}
	// Validates date and end-time formats up front.
	if _, err := decay.DueAt(opts.ScheduledDate, optionalString(opts.EndTime), time.UTC); err != nil {
		return domain.Task{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:              id,
		UserID:          opts.UserID,
		Title:           opts.Title,
		Description:     opts.Description,
		ScheduledDate:   opts.ScheduledDate,
		StartTime:       optionalString(opts.StartTime),
		EndTime:         optionalString(opts.EndTime),
		DurationMinutes: optionalInt(opts.DurationMinutes),
		Priority:        optionalInt(opts.Priority),
		DecayLevel:      decay.LevelFresh,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, "task.created", t.UserID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title, "scheduled_date": t.ScheduledDate}); err != nil {
		return t, err
	}
	return t, nil
}

// CompleteTask marks a task done, zeroing decay. The write wins over any
// concurrently running decay sweep and is idempotent: completing an already
// completed task changes nothing and credits nothing.
func (e Engine) CompleteTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if t.IsCompleted {
		return t, nil
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.CompleteTask(ctx, taskID, nowStr); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Another completion landed first.
			return e.Repo.GetTask(ctx, taskID)
		}
		return t, err
	}
	cfg := e.userConfig(ctx, t.UserID)
	if cfg.Rewards.TaskCompletionXP > 0 {
		if _, err := e.Repo.ApplyXPDelta(ctx, t.UserID, cfg.Rewards.TaskCompletionXP); err != nil {
			return t, fmt.Errorf("credit completion xp: %w", err)
		}
	}
	if err := e.refreshDebtScore(ctx, t.UserID); err != nil {
		return t, err
	}
	_ = e.Events.Append(ctx, "task.completed", t.UserID, "task", t.ID, actorID, events.EventPayload{
		"decay_level_before": t.DecayLevel,
	})
	return e.Repo.GetTask(ctx, taskID)
}

// refreshDebtScore recomputes and persists the user's debt score from the
// decay levels of their open tasks.
func (e Engine) refreshDebtScore(ctx context.Context, userID string) error {
	levels, err := e.Repo.ListOpenDecayLevels(ctx, userID)
	if err != nil {
		return err
	}
	return e.Repo.SetDebtScore(ctx, userID, decay.DebtScore(levels))
}

// LogSession records a focus session and credits session XP.
func (e Engine) LogSession(ctx context.Context, userID, taskID string, startedAt string, durationMinutes int, actorID string) (domain.FocusSession, error) {
	if durationMinutes <= 0 {
		return domain.FocusSession{}, errors.New("duration must be positive")
	}
	if _, err := e.Repo.GetProfile(ctx, userID); err != nil {
		return domain.FocusSession{}, err
	}
	if taskID != "" {
		t, err := e.Repo.GetTask(ctx, taskID)
		if err != nil {
			return domain.FocusSession{}, err
		}
		if t.UserID != userID {
			return domain.FocusSession{}, errors.New("task belongs to a different user")
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if startedAt == "" {
		startedAt = now
	} else if _, err := time.Parse(time.RFC3339, startedAt); err != nil {
		return domain.FocusSession{}, fmt.Errorf("started_at: %w", err)
	}
	s := domain.FocusSession{
		ID:              uuid.New().String(),
		UserID:          userID,
		TaskID:          optionalString(taskID),
		StartedAt:       startedAt,
		DurationMinutes: durationMinutes,
		CreatedAt:       now,
	}
	if err := e.Repo.InsertSession(ctx, s); err != nil {
		return domain.FocusSession{}, err
	}
	cfg := e.userConfig(ctx, userID)
	if cfg.Rewards.FocusSessionXP > 0 {
		if _, err := e.Repo.ApplyXPDelta(ctx, userID, cfg.Rewards.FocusSessionXP); err != nil {
			return s, fmt.Errorf("credit session xp: %w", err)
		}
	}
	_ = e.Events.Append(ctx, "session.logged", userID, "session", s.ID, actorID, events.EventPayload{"minutes": durationMinutes})
	return s, nil
}

func (e Engine) CreateGoal(ctx context.Context, userID, title, description, targetDate, actorID string) (domain.Goal, error) {
	if title == "" {
		return domain.Goal{}, errors.New("title is required")
	}
	if _, err := e.Repo.GetProfile(ctx, userID); err != nil {
		return domain.Goal{}, err
	}
	if targetDate != "" {
		if _, err := time.Parse("2006-01-02", targetDate); err != nil {
			return domain.Goal{}, fmt.Errorf("target date: %w", err)
		}
	}
	g := domain.Goal{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       title,
		Description: description,
		TargetDate:  optionalString(targetDate),
		Status:      "open",
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertGoal(ctx, g); err != nil {
		return domain.Goal{}, err
	}
	_ = e.Events.Append(ctx, "goal.created", userID, "goal", g.ID, actorID, events.EventPayload{"title": g.Title})
	return g, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
