package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_stake"`
	Message string         `json:"message" example:"stake 5 below minimum 10"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Questline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Questline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerUsers(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerGoals(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerContracts(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerSweeps(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidStake):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_stake", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTarget):
		return newAPIError(http.StatusBadRequest, "invalid_target", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Questline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type UserPath struct {
	UserID string `path:"user_id"`
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user profile",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		name := ""
		if input.Body.DisplayName != nil {
			name = *input.Body.DisplayName
		}
		p, err := e.InitUser(ctx, input.Body.ID, name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List user profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Profile `json:"body"`
	}, error) {
		items, err := e.Repo.ListProfiles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Profile `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Get user profile",
	}, func(ctx context.Context, input *UserPath) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		p, err := e.Repo.GetProfile(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decay-stats",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/decay/stats",
		Summary:     "Decay statistics",
	}, func(ctx context.Context, input *UserPath) (*struct {
		Body domain.DecayStats `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProfile(ctx, input.UserID); err != nil {
			return nil, handleError(err)
		}
		stats, err := e.Repo.GetDecayStats(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DecayStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decay-events",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/decay/events",
		Summary:     "Decay event log",
	}, func(ctx context.Context, input *struct {
		UserPath
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.DecayEvent `json:"body"`
	}, error) {
		items, err := e.Repo.ListDecayEvents(ctx, input.UserID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.DecayEvent `json:"body"`
		}{Body: items}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Profile of the authenticated user",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProfile(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		UserPath
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			UserID:        input.UserID,
			Title:         input.Body.Title,
			ScheduledDate: input.Body.ScheduledDate,
			ActorID:       actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.StartTime != nil {
			opts.StartTime = *input.Body.StartTime
		}
		if input.Body.EndTime != nil {
			opts.EndTime = *input.Body.EndTime
		}
		if input.Body.DurationMinutes != nil {
			opts.DurationMinutes = *input.Body.DurationMinutes
		}
		if input.Body.Priority != nil {
			opts.Priority = *input.Body.Priority
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		UserPath
		Completed       string `query:"completed" enum:"true,false"`
		DecayLevel      string `query:"decay_level" enum:"0,1,2,3"`
		Limit           int    `query:"limit" default:"50"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		var completed *bool
		if input.Completed != "" {
			v := input.Completed == "true"
			completed = &v
		}
		var decayLevel *int
		if input.DecayLevel != "" {
			v, err := strconv.Atoi(input.DecayLevel)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid decay_level", map[string]any{"decay_level": input.DecayLevel})
			}
			decayLevel = &v
		}
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			UserID:          input.UserID,
			Completed:       completed,
			DecayLevel:      decayLevel,
			Limit:           limit + 1,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := TaskListResponse{Items: items}
		if len(items) > limit {
			out.Items = items[:limit]
			last := out.Items[len(out.Items)-1]
			out.NextCursor = last.CreatedAt + "," + last.ID
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: out}, nil
	})

	type taskPath struct {
		TaskID string `path:"task_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete task",
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CompleteTask(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		if err := e.Repo.DeleteTask(ctx, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerGoals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/goals",
		Summary:       "Create goal",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		UserPath
		Body CreateGoalRequest `json:"body"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc, target := "", ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		if input.Body.TargetDate != nil {
			target = *input.Body.TargetDate
		}
		g, err := e.CreateGoal(ctx, input.UserID, input.Body.Title, desc, target, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/goals",
		Summary:     "List goals",
	}, func(ctx context.Context, input *UserPath) (*struct {
		Body []domain.Goal `json:"body"`
	}, error) {
		items, err := e.Repo.ListGoals(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Goal `json:"body"`
		}{Body: items}, nil
	})
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "log-session",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/sessions",
		Summary:       "Log focus session",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		UserPath
		Body LogSessionRequest `json:"body"`
	}) (*struct {
		Body domain.FocusSession `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		taskID, startedAt := "", ""
		if input.Body.TaskID != nil {
			taskID = *input.Body.TaskID
		}
		if input.Body.StartedAt != nil {
			startedAt = *input.Body.StartedAt
		}
		s, err := e.LogSession(ctx, input.UserID, taskID, startedAt, input.Body.DurationMinutes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FocusSession `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/sessions",
		Summary:     "List focus sessions",
	}, func(ctx context.Context, input *struct {
		UserPath
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.FocusSession `json:"body"`
	}, error) {
		items, err := e.Repo.ListSessions(ctx, input.UserID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.FocusSession `json:"body"`
		}{Body: items}, nil
	})
}

func registerContracts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contract",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/contracts",
		Summary:       "Stake a commitment contract",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		UserPath
		Body CreateContractRequest `json:"body"`
	}) (*struct {
		Body domain.CommitmentContract `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ContractCreateOptions{
			UserID:   input.UserID,
			StakedXP: input.Body.StakedXP,
			Deadline: input.Body.Deadline,
			ActorID:  actorID,
		}
		if input.Body.TaskID != nil {
			opts.TaskID = *input.Body.TaskID
		}
		if input.Body.GoalID != nil {
			opts.GoalID = *input.Body.GoalID
		}
		if input.Body.BuddyID != nil {
			opts.BuddyID = *input.Body.BuddyID
		}
		c, err := e.CreateContract(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CommitmentContract `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/contracts",
		Summary:     "List contracts",
	}, func(ctx context.Context, input *struct {
		UserPath
		Status string `query:"status" enum:"active,completed,failed,cancelled"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.CommitmentContract `json:"body"`
	}, error) {
		items, err := e.Repo.ListContracts(ctx, repo.ContractFilters{
			UserID: input.UserID,
			Status: input.Status,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CommitmentContract `json:"body"`
		}{Body: items}, nil
	})

	type contractPath struct {
		ContractID string `path:"contract_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}",
		Summary:     "Get contract",
	}, func(ctx context.Context, input *contractPath) (*struct {
		Body domain.CommitmentContract `json:"body"`
	}, error) {
		c, err := e.Repo.GetContract(ctx, input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CommitmentContract `json:"body"`
		}{Body: c}, nil
	})

	resolve := func(op, summary string, fn func(context.Context, string, string) (domain.CommitmentContract, error)) {
		huma.Register(api, huma.Operation{
			OperationID: op,
			Method:      http.MethodPost,
			Path:        "/contracts/{contract_id}/" + strings.TrimPrefix(op, "contract-"),
			Summary:     summary,
		}, func(ctx context.Context, input *contractPath) (*struct {
			Body domain.CommitmentContract `json:"body"`
		}, error) {
			actorID, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			c, err := fn(ctx, input.ContractID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.CommitmentContract `json:"body"`
			}{Body: c}, nil
		})
	}
	resolve("contract-complete", "Resolve contract as kept", e.CompleteContract)
	resolve("contract-fail", "Resolve contract as broken", e.FailContract)
	resolve("contract-cancel", "Cancel contract", e.CancelContract)
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/events",
		Summary:     "Audit event log",
	}, func(ctx context.Context, input *struct {
		UserPath
		Limit  int    `query:"limit"`
		Cursor int64  `query:"cursor"`
		Type   string `query:"type"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit, input.Cursor, input.UserID, input.Type, "", "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerSweeps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep-decay",
		Method:      http.MethodPost,
		Path:        "/admin/sweeps/decay",
		Summary:     "Run the decay sweep",
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body SweepDecayResponse `json:"body"`
	}, error) {
		now := time.Now()
		if e.Now != nil {
			now = e.Now()
		}
		var results []engine.ReconcileResult
		if input.UserID != "" {
			res, err := e.Reconcile(ctx, input.UserID, now)
			if err != nil {
				return nil, handleError(err)
			}
			results = []engine.ReconcileResult{res}
		} else {
			var err error
			results, err = e.ReconcileAll(ctx, now)
			if err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body SweepDecayResponse `json:"body"`
		}{Body: SweepDecayResponse{Results: results}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-contracts",
		Method:      http.MethodPost,
		Path:        "/admin/sweeps/contracts",
		Summary:     "Fail overdue contracts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepContractsResponse `json:"body"`
	}, error) {
		now := time.Now()
		if e.Now != nil {
			now = e.Now()
		}
		res, err := e.ExpireContracts(ctx, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepContractsResponse `json:"body"`
		}{Body: SweepContractsResponse{ExpireResult: res}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-streaks",
		Method:      http.MethodPost,
		Path:        "/admin/sweeps/streaks",
		Summary:     "Resolve streaks for a day",
	}, func(ctx context.Context, input *struct {
		Day string `query:"day" format:"date"`
	}) (*struct {
		Body SweepStreaksResponse `json:"body"`
	}, error) {
		day := input.Day
		if day == "" {
			now := time.Now()
			if e.Now != nil {
				now = e.Now()
			}
			// Default to yesterday: the usual cron target once a day closed.
			day = now.UTC().Add(-24 * time.Hour).Format("2006-01-02")
		}
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "day must be YYYY-MM-DD", nil)
		}
		streaks, err := e.ResolveStreaks(ctx, day)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepStreaksResponse `json:"body"`
		}{Body: SweepStreaksResponse{Day: day, Streaks: streaks}}, nil
	})
}
