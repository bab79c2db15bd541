package engine_test

import (
	"errors"
	"testing"
	"time"

	"questline/internal/domain"
	"questline/internal/engine"
)

func (env *testEnv) mustCreateTask(t *testing.T, userID string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID:        userID,
		Title:         "ship feature",
		ScheduledDate: "2024-06-12",
		ActorID:       userID,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateContractValidatesStake(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 100)
	task := env.mustCreateTask(t, "u1")
	deadline := env.Now.Add(48 * time.Hour).Format(time.RFC3339)

	cases := []struct {
		name  string
		stake int
	}{
		{"below minimum", 5},
		{"above maximum", 600},
		{"exceeds current xp", 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
				UserID: "u1", TaskID: task.ID, StakedXP: tc.stake, Deadline: deadline, ActorID: "u1",
			})
			if !errors.Is(err, engine.ErrInvalidStake) {
				t.Fatalf("stake %d: got %v, want ErrInvalidStake", tc.stake, err)
			}
		})
	}

	c, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		UserID: "u1", TaskID: task.ID, StakedXP: 50, Deadline: deadline, ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("valid stake rejected: %v", err)
	}
	if c.Status != domain.ContractActive {
		t.Fatalf("status=%s, want active", c.Status)
	}
	// Staking reserves nothing: XP is untouched until resolution.
	if got := env.totalXP(t, "u1"); got != 100 {
		t.Fatalf("xp=%d, want 100", got)
	}
}

func TestCreateContractValidatesTarget(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 100)
	task := env.mustCreateTask(t, "u1")
	goal, err := env.Engine.CreateGoal(env.Ctx, "u1", "run a 10k", "", "", "u1")
	if err != nil {
		t.Fatal(err)
	}
	deadline := env.Now.Add(48 * time.Hour).Format(time.RFC3339)

	_, err = env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		UserID: "u1", StakedXP: 50, Deadline: deadline, ActorID: "u1",
	})
	if !errors.Is(err, engine.ErrInvalidTarget) {
		t.Fatalf("no target: got %v", err)
	}
	_, err = env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		UserID: "u1", TaskID: task.ID, GoalID: goal.ID, StakedXP: 50, Deadline: deadline, ActorID: "u1",
	})
	if !errors.Is(err, engine.ErrInvalidTarget) {
		t.Fatalf("both targets: got %v", err)
	}
	_, err = env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		UserID: "u1", TaskID: task.ID, StakedXP: 50, Deadline: env.Now.Add(-time.Hour).Format(time.RFC3339), ActorID: "u1",
	})
	if !errors.Is(err, engine.ErrInvalidTarget) {
		t.Fatalf("past deadline: got %v", err)
	}
}

func TestCompleteContractPaysBonus(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 100)
	task := env.mustCreateTask(t, "u1")
	c, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		UserID: "u1", TaskID: task.ID, StakedXP: 50,
		Deadline: env.Now.Add(48 * time.Hour).Format(time.RFC3339), ActorID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	resolved, err := env.Engine.CompleteContract(env.Ctx, c.ID, "u1")
	if err != nil {
		t.Fatalf("complete contract: %v", err)
	}
	if resolved.Status != domain.ContractCompleted || resolved.ResolvedAt == nil {
		t.Fatalf("bad resolution: %+v", resolved)
	}
	if resolved.PenaltyApplied {
		t.Fatal("penalty flagged on a kept contract")
	}
	// Bonus is floor(50 * 0.2) = 10.
	if got := env.totalXP(t, "u1"); got != 110 {
		t.Fatalf("xp=%d, want 110", got)
	}
}

func TestFailContractForfeitsStakeFlooredAtZero(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 30)
	task := env.mustCreateTask(t, "u1")
	c, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		UserID: "u1", TaskID: task.ID, StakedXP: 30,
		Deadline: env.Now.Add(48 * time.Hour).Format(time.RFC3339), ActorID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	// XP drained between staking and failing: the debit floors at zero.
	if _, err := env.Engine.Repo.ApplyXPDelta(env.Ctx, "u1", -20); err != nil {
		t.Fatal(err)
	}
	resolved, err := env.Engine.FailContract(env.Ctx, c.ID, "u1")
	if err != nil {
		t.Fatalf("fail contract: %v", err)
	}
	if resolved.Status != domain.ContractFailed || !resolved.PenaltyApplied {
		t.Fatalf("bad resolution: %+v", resolved)
	}
	if got := env.totalXP(t, "u1"); got != 0 {
		t.Fatalf("xp=%d, want 0", got)
	}
}

func TestContractResolutionIsFinal(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 100)
	task := env.mustCreateTask(t, "u1")
	c, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		UserID: "u1", TaskID: task.ID, StakedXP: 50,
		Deadline: env.Now.Add(48 * time.Hour).Format(time.RFC3339), ActorID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.CompleteContract(env.Ctx, c.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}

	// A later fail attempt is a silent no-op: same row back, no second
	// XP adjustment, penalty never flagged.
	second, err := env.Engine.FailContract(env.Ctx, c.ID, "sweep")
	if err != nil {
		t.Fatalf("fail after complete: %v", err)
	}
	if second.Status != domain.ContractCompleted {
		t.Fatalf("status=%s, want completed", second.Status)
	}
	if second.PenaltyApplied {
		t.Fatal("penalty applied to a completed contract")
	}
	if *second.ResolvedAt != *first.ResolvedAt {
		t.Fatalf("resolved_at rewritten: %s -> %s", *first.ResolvedAt, *second.ResolvedAt)
	}
	if got := env.totalXP(t, "u1"); got != 110 {
		t.Fatalf("xp=%d, want 110 (single adjustment)", got)
	}
}

func TestCancelContractHasNoXPEffect(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 100)
	task := env.mustCreateTask(t, "u1")
	c, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		UserID: "u1", TaskID: task.ID, StakedXP: 50,
		Deadline: env.Now.Add(48 * time.Hour).Format(time.RFC3339), ActorID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	resolved, err := env.Engine.CancelContract(env.Ctx, c.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != domain.ContractCancelled {
		t.Fatalf("status=%s", resolved.Status)
	}
	if got := env.totalXP(t, "u1"); got != 100 {
		t.Fatalf("xp=%d, want 100", got)
	}
}

func TestExpireContractsFailsOverdueOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedXP(t, "u1", 200)
	overdueTask := env.mustCreateTask(t, "u1")
	freshTask := env.mustCreateTask(t, "u1")

	overdue, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		UserID: "u1", TaskID: overdueTask.ID, StakedXP: 40,
		Deadline: env.Now.Add(time.Hour).Format(time.RFC3339), ActorID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		UserID: "u1", TaskID: freshTask.ID, StakedXP: 40,
		Deadline: env.Now.Add(72 * time.Hour).Format(time.RFC3339), ActorID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}

	at := env.Now.Add(2 * time.Hour)
	res, err := env.Engine.ExpireContracts(env.Ctx, at)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if res.Processed != 1 || res.Failed != 1 || res.TotalXPForfeited != 40 {
		t.Fatalf("expire result: %+v", res)
	}
	if got := env.totalXP(t, "u1"); got != 160 {
		t.Fatalf("xp=%d, want 160", got)
	}

	c1, _ := env.Engine.Repo.GetContract(env.Ctx, overdue.ID)
	c2, _ := env.Engine.Repo.GetContract(env.Ctx, fresh.ID)
	if c1.Status != domain.ContractFailed || c2.Status != domain.ContractActive {
		t.Fatalf("statuses: %s / %s", c1.Status, c2.Status)
	}

	// Second sweep at the same instant has nothing left to fail.
	res, err = env.Engine.ExpireContracts(env.Ctx, at)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 || res.Failed != 0 {
		t.Fatalf("second sweep wrote: %+v", res)
	}
	if got := env.totalXP(t, "u1"); got != 160 {
		t.Fatalf("xp moved on idempotent sweep: %d", got)
	}
}
