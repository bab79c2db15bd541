package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("u1"))
	if _, err := e.InitUser(context.Background(), "u1", "Tester"); err != nil {
		t.Fatalf("init user: %v", err)
	}
	handler, err := New(Config{
		Engine: e,
		Auth:   AuthConfig{AllowLegacyUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "u1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/users", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/u1/tasks", map[string]any{
		"title":          "write report",
		"scheduled_date": "2030-01-10",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, data)
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.DecayLevel != 0 || created.IsCompleted {
		t.Fatalf("new task state: %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/complete", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, data)
	}
	var done domain.Task
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatal(err)
	}
	if !done.IsCompleted || done.DecayLevel != 0 {
		t.Fatalf("completed task state: %+v", done)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/u1/tasks?completed=true", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var list TaskListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("completed tasks=%d, want 1", len(list.Items))
	}
}

func TestTaskListFilterQueryParams(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"a", "b"} {
		task, err := srv.Engine.CreateTask(ctx, engine.TaskCreateOptions{
			UserID: "u1", Title: title, ScheduledDate: "2030-01-10", ActorID: "u1",
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, task.ID)
	}
	if _, err := srv.Engine.CompleteTask(ctx, ids[0], "u1"); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		query string
		want  int
	}{
		{"completed=false", 1},
		{"completed=true", 1},
		{"decay_level=0", 2},
		{"decay_level=3", 0},
		{"completed=false&decay_level=0", 1},
	}
	for _, tc := range cases {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/u1/tasks?"+tc.query, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d: %s", tc.query, res.StatusCode, data)
		}
		var list TaskListResponse
		if err := json.Unmarshal(data, &list); err != nil {
			t.Fatalf("%s: %v", tc.query, err)
		}
		if len(list.Items) != tc.want {
			t.Fatalf("%s: items=%d, want %d", tc.query, len(list.Items), tc.want)
		}
	}
}

func TestContractEndpointsMapErrors(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	ctx := context.Background()
	if _, err := srv.Engine.Repo.ApplyXPDelta(ctx, "u1", 100); err != nil {
		t.Fatal(err)
	}
	task, err := srv.Engine.CreateTask(ctx, engine.TaskCreateOptions{
		UserID: "u1", Title: "t", ScheduledDate: "2030-01-10", ActorID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)

	// Stake below minimum surfaces as 422 invalid_stake.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/u1/contracts", map[string]any{
		"task_id":   task.ID,
		"staked_xp": 5,
		"deadline":  deadline,
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("low stake status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "invalid_stake" {
		t.Fatalf("code=%q, want invalid_stake", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/u1/contracts", map[string]any{
		"task_id":   task.ID,
		"staked_xp": 50,
		"deadline":  deadline,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create contract status %d: %s", res.StatusCode, data)
	}
	var c domain.CommitmentContract
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/contracts/"+c.ID+"/complete", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete contract status %d: %s", res.StatusCode, data)
	}
	// Resolving again stays 200 and keeps the first outcome.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/contracts/"+c.ID+"/fail", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("re-resolve status %d: %s", res.StatusCode, data)
	}
	var final domain.CommitmentContract
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatal(err)
	}
	if final.Status != domain.ContractCompleted {
		t.Fatalf("status=%s, want completed", final.Status)
	}
}

func TestDecaySweepEndpoint(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	ctx := context.Background()
	if _, err := srv.Engine.Repo.ApplyXPDelta(ctx, "u1", 100); err != nil {
		t.Fatal(err)
	}
	overdue := time.Now().UTC().Add(-72 * time.Hour).Format("2006-01-02")
	if _, err := srv.Engine.CreateTask(ctx, engine.TaskCreateOptions{
		UserID: "u1", Title: "stale", ScheduledDate: overdue, ActorID: "u1",
	}); err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/admin/sweeps/decay?user_id=u1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sweep status %d: %s", res.StatusCode, data)
	}
	var out SweepDecayResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 || out.Results[0].Updated != 1 {
		t.Fatalf("sweep results: %s", data)
	}
	if out.Results[0].TotalXPPenalty == 0 {
		t.Fatalf("no penalty applied: %s", data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/u1/decay/stats", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, data)
	}
	var stats domain.DecayStats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.EventCount != 1 {
		t.Fatalf("event count=%d, want 1", stats.EventCount)
	}
}
