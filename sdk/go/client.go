package questlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Questline HTTP API client.
type Client struct {
	BaseURL     string
	UserID      string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, userID string) *Client {
	return &Client{
		BaseURL: baseURL,
		UserID:  userID,
		Timeout: 10 * time.Second,
	}
}

// Profile is the per-user game state.
type Profile struct {
	UserID        string `json:"user_id"`
	TotalXP       int    `json:"total_xp"`
	DebtScore     int    `json:"debt_score"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
}

// Task represents the API task model (partial).
type Task struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Title         string `json:"title"`
	ScheduledDate string `json:"scheduled_date"`
	IsCompleted   bool   `json:"is_completed"`
	DecayLevel    int    `json:"decay_level"`
}

// Contract represents a commitment contract.
type Contract struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	TaskID         *string `json:"task_id,omitempty"`
	GoalID         *string `json:"goal_id,omitempty"`
	StakedXP       int     `json:"staked_xp"`
	Deadline       string  `json:"deadline"`
	Status         string  `json:"status"`
	PenaltyApplied bool    `json:"penalty_applied"`
}

// FocusSession represents a logged focus block.
type FocusSession struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	StartedAt       string `json:"started_at"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
}

// DecayStats aggregates a user's decay history.
type DecayStats struct {
	UserID         string `json:"user_id"`
	EventCount     int    `json:"event_count"`
	TotalXPPenalty int    `json:"total_xp_penalty"`
	RottenTasks    int    `json:"rotten_tasks"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetProfile fetches the user's profile.
func (c *Client) GetProfile(ctx context.Context) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, c.userPath(""), nil, &resp)
	return resp, err
}

// CreateTask creates a task scheduled for the given date (YYYY-MM-DD).
func (c *Client) CreateTask(ctx context.Context, title, scheduledDate string) (Task, error) {
	body := map[string]any{
		"title":          title,
		"scheduled_date": scheduledDate,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.userPath("tasks"), body, &resp)
	return resp, err
}

// CompleteTask marks a task done.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// StakeContract stakes XP on completing a task by the deadline (RFC3339).
func (c *Client) StakeContract(ctx context.Context, taskID string, stakedXP int, deadline string) (Contract, error) {
	body := map[string]any{
		"task_id":   taskID,
		"staked_xp": stakedXP,
		"deadline":  deadline,
	}
	var resp Contract
	err := c.do(ctx, http.MethodPost, c.userPath("contracts"), body, &resp)
	return resp, err
}

// ResolveContract moves a contract to a terminal verdict: "complete", "fail",
// or "cancel".
func (c *Client) ResolveContract(ctx context.Context, contractID, verdict string) (Contract, error) {
	var resp Contract
	endpoint := fmt.Sprintf("v0/contracts/%s/%s", url.PathEscape(contractID), url.PathEscape(verdict))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// LogSession records a focus session.
func (c *Client) LogSession(ctx context.Context, taskID string, minutes int) (FocusSession, error) {
	body := map[string]any{"duration_minutes": minutes}
	if taskID != "" {
		body["task_id"] = taskID
	}
	var resp FocusSession
	err := c.do(ctx, http.MethodPost, c.userPath("sessions"), body, &resp)
	return resp, err
}

// DecayStats fetches the user's decay statistics.
func (c *Client) DecayStats(ctx context.Context) (DecayStats, error) {
	var resp DecayStats
	err := c.do(ctx, http.MethodGet, c.userPath("decay/stats"), nil, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.userPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) userPath(p string) string {
	user := url.PathEscape(c.UserID)
	if p == "" {
		return fmt.Sprintf("v0/users/%s", user)
	}
	return fmt.Sprintf("v0/users/%s/%s", user, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
