package caselinesdk

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

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Application represents the API application model (partial).
type Application struct {
	ID          string  `json:"id"`
	Reference   string  `json:"reference"`
	ApplicantID string  `json:"applicant_id"`
	Area        string  `json:"area"`
	Status      string  `json:"status"`
	ApproverID  *string `json:"approver_id,omitempty"`
	ExpiryDate  *string `json:"expiry_date,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// Assignment records a role held on a case.
type Assignment struct {
	ID            int64   `json:"id"`
	ApplicationID string  `json:"application_id"`
	Role          string  `json:"role"`
	UserID        string  `json:"user_id"`
	AssignedAt    string  `json:"assigned_at"`
	UnassignedAt  *string `json:"unassigned_at,omitempty"`
}

// TaskStep is one derived step of a review task list.
type TaskStep struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// TaskList is the derived state of a review stage.
type TaskList struct {
	Stage string     `json:"stage"`
	Steps []TaskStep `json:"steps"`
}

// Decision wraps the outcome of an approve, refuse or refer call.
type Decision struct {
	Application        Application `json:"application"`
	DocumentID         string      `json:"document_id,omitempty"`
	SubProcessFailures []struct {
		Step   string `json:"step"`
		Reason string `json:"reason"`
	} `json:"sub_process_failures,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	ApplicationID string         `json:"application_id"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedApplications wraps list responses with cursors.
type PaginatedApplications struct {
	Items      []Application `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// CreateApplication registers an application.
func (c *Client) CreateApplication(ctx context.Context, applicantID, area string) (Application, error) {
	body := map[string]any{
		"applicant_id": applicantID,
		"area":         area,
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, "v0/applications", body, &resp)
	return resp, err
}

// GetApplication fetches one application.
func (c *Client) GetApplication(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodGet, c.appPath(id, ""), nil, &resp)
	return resp, err
}

// ListApplications pages through applications. Pass the previous call's
// NextCursor to continue.
func (c *Client) ListApplications(ctx context.Context, status, cursor string, limit int) (PaginatedApplications, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "v0/applications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedApplications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitApplication moves a draft into the submitted state.
func (c *Client) SubmitApplication(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, c.appPath(id, "submit"), nil, &resp)
	return resp, err
}

// WithdrawApplication withdraws an open case.
func (c *Client) WithdrawApplication(ctx context.Context, id, reason string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, c.appPath(id, "withdraw"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Assign gives a case role to a user.
func (c *Client) Assign(ctx context.Context, id, userID, role string) (Assignment, error) {
	body := map[string]any{
		"user_id": userID,
		"role":    role,
	}
	var resp Assignment
	err := c.do(ctx, http.MethodPost, c.appPath(id, "assignees"), body, &resp)
	return resp, err
}

// AdminOfficerTaskList returns the derived admin officer review steps.
func (c *Client) AdminOfficerTaskList(ctx context.Context, id string) (TaskList, error) {
	var resp TaskList
	err := c.do(ctx, http.MethodGet, c.appPath(id, "admin-officer/tasklist"), nil, &resp)
	return resp, err
}

// WoodlandOfficerTaskList returns the derived woodland officer review steps.
func (c *Client) WoodlandOfficerTaskList(ctx context.Context, id string) (TaskList, error) {
	var resp TaskList
	err := c.do(ctx, http.MethodGet, c.appPath(id, "woodland-officer/tasklist"), nil, &resp)
	return resp, err
}

// Approve finalises the case as approved.
func (c *Client) Approve(ctx context.Context, id string) (Decision, error) {
	var resp Decision
	err := c.do(ctx, http.MethodPost, c.appPath(id, "approve"), nil, &resp)
	return resp, err
}

// Refuse finalises the case as refused.
func (c *Client) Refuse(ctx context.Context, id string) (Decision, error) {
	var resp Decision
	err := c.do(ctx, http.MethodPost, c.appPath(id, "refuse"), nil, &resp)
	return resp, err
}

// Refer finalises the case as referred to the local authority.
func (c *Client) Refer(ctx context.Context, id string) (Decision, error) {
	var resp Decision
	err := c.do(ctx, http.MethodPost, c.appPath(id, "refer"), nil, &resp)
	return resp, err
}

// Events tails the event log.
func (c *Client) Events(ctx context.Context, applicationID string, limit int) ([]Event, error) {
	q := url.Values{}
	if applicationID != "" {
		q.Set("application_id", applicationID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
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

func (c *Client) appPath(id, p string) string {
	endpoint := "v0/applications/" + url.PathEscape(id)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
