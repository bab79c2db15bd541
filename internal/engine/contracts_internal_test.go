package engine

import (
	"context"
	"testing"
	"time"

	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/domain"
	"questline/internal/migrate"
)

// Exercises the winner flag directly: expiry sweeps count forfeitures only
// for resolutions their own call landed, so a contract settled by a racing
// resolver is not tallied twice.
func TestResolveContractReportsSingleWinner(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, config.Default("u1"))
	e.Now = func() time.Time { return time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := e.InitUser(ctx, "u1", "Tester"); err != nil {
		t.Fatalf("init user: %v", err)
	}
	if _, err := e.Repo.ApplyXPDelta(ctx, "u1", 100); err != nil {
		t.Fatalf("seed xp: %v", err)
	}
	task, err := e.CreateTask(ctx, TaskCreateOptions{
		UserID: "u1", Title: "t", ScheduledDate: "2024-06-12", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	c, err := e.CreateContract(ctx, ContractCreateOptions{
		UserID:   "u1",
		TaskID:   task.ID,
		StakedXP: 30,
		Deadline: "2024-06-11T12:00:00Z",
		ActorID:  "u1",
	})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}

	first, won, err := e.resolveContract(ctx, c.ID, domain.ContractFailed, "sweep")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if !won || first.Status != domain.ContractFailed {
		t.Fatalf("first resolve: won=%v status=%s", won, first.Status)
	}

	second, won, err := e.resolveContract(ctx, c.ID, domain.ContractFailed, "sweep")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if won {
		t.Fatal("second resolve claimed the win")
	}
	if second.Status != domain.ContractFailed || second.ResolvedAt == nil || first.ResolvedAt == nil || *second.ResolvedAt != *first.ResolvedAt {
		t.Fatalf("stored row changed on losing resolve: %+v", second)
	}
	p, err := e.Repo.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalXP != 70 {
		t.Fatalf("xp=%d, want a single 30 XP forfeiture from 100", p.TotalXP)
	}
}
