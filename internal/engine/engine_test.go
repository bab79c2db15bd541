package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/engine"
	"questline/internal/migrate"
	"questline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{
		Ctx: context.Background(),
		Now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC),
	}
	env.Engine = engine.New(conn, config.Default("u1"))
	env.Engine.Now = func() time.Time { return env.Now }
	if _, err := env.Engine.InitUser(env.Ctx, "u1", "Tester"); err != nil {
		t.Fatalf("init user: %v", err)
	}
	return env
}

func (env *testEnv) seedXP(t *testing.T, userID string, xp int) {
	t.Helper()
	if _, err := env.Engine.Repo.ApplyXPDelta(env.Ctx, userID, xp); err != nil {
		t.Fatalf("seed xp: %v", err)
	}
}

func (env *testEnv) totalXP(t *testing.T, userID string) int {
	t.Helper()
	p, err := env.Engine.Repo.GetProfile(env.Ctx, userID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	return p.TotalXP
}

func TestReconcileAppliesDecayPenaltyAndDebt(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 100)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID:        "u1",
		Title:         "write report",
		ScheduledDate: "2024-06-08",
		ActorID:       "u1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	// Due at end of 2024-06-08, so 49h overdue: past grace plus one full band.
	at := time.Date(2024, 6, 11, 1, 0, 0, 0, time.UTC)
	res, err := env.Engine.Reconcile(env.Ctx, "u1", at)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Processed != 1 || res.Updated != 1 {
		t.Fatalf("processed=%d updated=%d, want 1/1", res.Processed, res.Updated)
	}
	if res.TotalXPPenalty != 20 {
		t.Fatalf("penalty=%d, want 20", res.TotalXPPenalty)
	}
	if res.DebtScore != 67 {
		t.Fatalf("debt=%d, want 67", res.DebtScore)
	}
	if got := env.totalXP(t, "u1"); got != 80 {
		t.Fatalf("xp=%d, want 80", got)
	}

	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.DecayLevel != 2 {
		t.Fatalf("decay level=%d, want 2", got.DecayLevel)
	}
	if got.DecayStartedAt == nil {
		t.Fatal("decay_started_at not set")
	}
	evts, err := env.Engine.Repo.ListDecayEvents(env.Ctx, "u1", 0)
	if err != nil {
		t.Fatalf("list decay events: %v", err)
	}
	if len(evts) != 1 || evts[0].PreviousLevel != 0 || evts[0].NewLevel != 2 || evts[0].XPPenalty != 20 {
		t.Fatalf("unexpected decay events: %+v", evts)
	}
}

func TestReconcileIsIdempotentAtSameInstant(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 100)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID: "u1", Title: "t", ScheduledDate: "2024-06-08", ActorID: "u1",
	}); err != nil {
		t.Fatal(err)
	}
	at := time.Date(2024, 6, 11, 1, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Reconcile(env.Ctx, "u1", at); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	xpAfterFirst := env.totalXP(t, "u1")

	res, err := env.Engine.Reconcile(env.Ctx, "u1", at)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if res.Updated != 0 || res.TotalXPPenalty != 0 {
		t.Fatalf("second sweep wrote: updated=%d penalty=%d", res.Updated, res.TotalXPPenalty)
	}
	if got := env.totalXP(t, "u1"); got != xpAfterFirst {
		t.Fatalf("xp moved on idempotent sweep: %d -> %d", xpAfterFirst, got)
	}
	n, err := env.Engine.Repo.CountDecayEvents(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("decay events=%d, want 1", n)
	}
}

func TestCompletionWinsOverStaleSweepWrite(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID: "u1", Title: "t", ScheduledDate: "2024-06-08", ActorID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, task.ID, "u1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// A sweep still holding the pre-completion snapshot must lose.
	nowStr := env.Now.Format(time.RFC3339)
	err = env.Engine.Repo.UpdateTaskDecay(env.Ctx, task.ID, 0, 2, nowStr, nowStr)
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("stale decay write: got %v, want ErrConflict", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsCompleted || got.DecayLevel != 0 || got.DecayStartedAt != nil {
		t.Fatalf("completion state clobbered: %+v", got)
	}
}

func TestCompleteTaskResetsDecayAndDebt(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 100)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID: "u1", Title: "t", ScheduledDate: "2024-06-08", ActorID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2024, 6, 11, 1, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Reconcile(env.Ctx, "u1", at); err != nil {
		t.Fatal(err)
	}
	xpBefore := env.totalXP(t, "u1")

	got, err := env.Engine.CompleteTask(env.Ctx, task.ID, "u1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !got.IsCompleted || got.DecayLevel != 0 {
		t.Fatalf("completion did not reset decay: %+v", got)
	}
	if xp := env.totalXP(t, "u1"); xp != xpBefore+10 {
		t.Fatalf("xp=%d, want %d", xp, xpBefore+10)
	}
	p, err := env.Engine.Repo.GetProfile(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.DebtScore != 0 {
		t.Fatalf("debt=%d, want 0 with no open tasks", p.DebtScore)
	}

	// Completing again changes nothing and credits nothing.
	if _, err := env.Engine.CompleteTask(env.Ctx, task.ID, "u1"); err != nil {
		t.Fatalf("re-complete: %v", err)
	}
	if xp := env.totalXP(t, "u1"); xp != xpBefore+10 {
		t.Fatalf("re-completion credited xp: %d", xp)
	}
}

func TestReconcileAllSweepsEveryUser(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitUser(env.Ctx, "u2", "Second"); err != nil {
		t.Fatal(err)
	}
	for _, userID := range []string{"u1", "u2"} {
		env.seedXP(t, userID, 50)
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			UserID: userID, Title: "t", ScheduledDate: "2024-06-08", ActorID: userID,
		}); err != nil {
			t.Fatal(err)
		}
	}
	at := time.Date(2024, 6, 11, 1, 0, 0, 0, time.UTC)
	results, err := env.Engine.ReconcileAll(env.Ctx, at)
	if err != nil {
		t.Fatalf("reconcile all: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results=%d, want 2", len(results))
	}
	for _, res := range results {
		if res.Updated != 1 || res.TotalXPPenalty != 20 {
			t.Fatalf("user %s: updated=%d penalty=%d", res.UserID, res.Updated, res.TotalXPPenalty)
		}
	}
}

func TestReconcileCoversSameDayTasksUnderShortGrace(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 100)
	cfg := config.Default("u1")
	cfg.Decay.GraceHours = 1
	if err := env.Engine.Repo.UpsertUserConfig(env.Ctx, "u1", cfg); err != nil {
		t.Fatalf("store config: %v", err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID:        "u1",
		Title:         "standup notes",
		ScheduledDate: "2024-06-10",
		EndTime:       "06:00",
		ActorID:       "u1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	// Due 06:00 today with a 1h grace: by noon the task is one band in.
	res, err := env.Engine.Reconcile(env.Ctx, "u1", env.Now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Processed != 1 || res.Updated != 1 {
		t.Fatalf("processed=%d updated=%d, want 1/1", res.Processed, res.Updated)
	}
	if res.TotalXPPenalty != 10 {
		t.Fatalf("penalty=%d, want 10", res.TotalXPPenalty)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DecayLevel != 1 {
		t.Fatalf("decay level=%d, want 1", got.DecayLevel)
	}
}

func TestLogSessionCreditsXP(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.LogSession(env.Ctx, "u1", "", "", 25, "u1")
	if err != nil {
		t.Fatalf("log session: %v", err)
	}
	if s.DurationMinutes != 25 {
		t.Fatalf("duration=%d", s.DurationMinutes)
	}
	if got := env.totalXP(t, "u1"); got != 5 {
		t.Fatalf("xp=%d, want 5", got)
	}
	if _, err := env.Engine.LogSession(env.Ctx, "u1", "", "", 0, "u1"); err == nil {
		t.Fatal("zero duration accepted")
	}
}
