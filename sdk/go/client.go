package pdcaflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a minimal pdcaflow HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API prefix,
// e.g. http://127.0.0.1:8080/v1.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	AssignedUsers       []string `json:"assigned_users"`
	AssignedDepartments []string `json:"assigned_departments"`
	CreatedBy           string   `json:"created_by"`
	CreatedAt           string   `json:"created_at"`
	Archived            bool     `json:"archived"`
}

// Action represents the API action model.
type Action struct {
	ID                string      `json:"id"`
	ProjectID         string      `json:"project_id"`
	SeqID             int         `json:"seq_id"`
	Action            string      `json:"action"`
	AssignedUsers     []string    `json:"assigned_users"`
	Status            string      `json:"status"`
	ProposedStartDate string      `json:"proposed_start_date,omitempty"`
	ProposedEndDate   string      `json:"proposed_end_date,omitempty"`
	StartDate         string      `json:"start_date,omitempty"`
	ActualEndDate     string      `json:"actual_end_date,omitempty"`
	Observations      string      `json:"observations,omitempty"`
	Priority          bool        `json:"priority"`
	Subactions        []Subaction `json:"subactions"`
}

type Subaction struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	AssignedUsers []string `json:"assigned_users"`
	StartDate     string   `json:"start_date,omitempty"`
	ActualEndDate string   `json:"actual_end_date,omitempty"`
}

// NewAction holds the fields accepted when creating an action.
type NewAction struct {
	Action            string   `json:"action"`
	AssignedUsers     []string `json:"assigned_users,omitempty"`
	Status            string   `json:"status,omitempty"`
	ProposedStartDate string   `json:"proposed_start_date,omitempty"`
	ProposedEndDate   string   `json:"proposed_end_date,omitempty"`
	Observations      string   `json:"observations,omitempty"`
	Priority          bool     `json:"priority,omitempty"`
}

// Event represents an activity log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Frame is one message of a subscription. Items replaces the previous set.
type Frame[T any] struct {
	Kind  string `json:"kind"`
	Scope string `json:"scope"`
	State string `json:"state"`
	Items []T    `json:"items"`
	Error string `json:"error,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project owned by the caller.
func (c *Client) CreateProject(ctx context.Context, title string, users, departments []string) (Project, error) {
	body := map[string]any{
		"title":                title,
		"assigned_users":       users,
		"assigned_departments": departments,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// Projects lists the projects visible to the caller.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Items []Project `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp.Items, err
}

// CreateAction adds an action to a project.
func (c *Client) CreateAction(ctx context.Context, projectID string, in NewAction) (Action, error) {
	var resp struct {
		Action Action `json:"action"`
	}
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "actions"), in, &resp)
	return resp.Action, err
}

// Actions lists a project's actions in seq order.
func (c *Client) Actions(ctx context.Context, projectID string) ([]Action, error) {
	var resp struct {
		Items []Action `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "actions"), nil, &resp)
	return resp.Items, err
}

// SetStatus changes an action's status; the server applies the date rule.
func (c *Client) SetStatus(ctx context.Context, projectID, actionID, status string) (Action, error) {
	var resp Action
	endpoint := projectPath(projectID, "actions/"+url.PathEscape(actionID)+"/status")
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// AddSubaction appends a sub-action and returns the parent.
func (c *Client) AddSubaction(ctx context.Context, projectID, actionID, title string) (Action, error) {
	var resp Action
	endpoint := projectPath(projectID, "actions/"+url.PathEscape(actionID)+"/subactions")
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"title": title}, &resp)
	return resp, err
}

// EventsPage returns a page of a project's activity, newest first.
func (c *Client) EventsPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Subscribe streams snapshots of kind within scope to fn until ctx ends,
// fn returns an error, or the server closes the stream.
func Subscribe[T any](ctx context.Context, c *Client, kind, scope string, fn func(Frame[T]) error) error {
	u, err := url.Parse(c.base() + "/subscribe")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := url.Values{"kind": {kind}}
	if scope != "" {
		q.Set("scope", scope)
	}
	if c.BearerToken != "" {
		q.Set("access_token", c.BearerToken)
	}
	u.RawQuery = q.Encode()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeAPIError(resp)
		}
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	for {
		var f Frame[T]
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func projectPath(projectID, p string) string {
	return fmt.Sprintf("projects/%s/%s", url.PathEscape(projectID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
