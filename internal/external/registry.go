package external

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

// RegisterClient talks to the remote public register service over HTTP.
// Publish returns the remote record id the register assigned; Remove takes
// that id back.
type RegisterClient struct {
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewRegisterClient creates a client with sane defaults.
func NewRegisterClient(endpoint string) *RegisterClient {
	return &RegisterClient{
		Endpoint: endpoint,
		Timeout:  10 * time.Second,
	}
}

type registerError struct {
	StatusCode int
	Body       string
}

func (e *registerError) Error() string {
	return fmt.Sprintf("public register: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *RegisterClient) Publish(ctx context.Context, reference string, periodDays int) (string, error) {
	body := map[string]any{
		"reference":   reference,
		"period_days": periodDays,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "records", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("public register returned no record id for %s", reference)
	}
	return resp.ID, nil
}

func (c *RegisterClient) Remove(ctx context.Context, esriID string) error {
	return c.do(ctx, http.MethodDelete, "records/"+url.PathEscape(esriID), nil, nil)
}

func (c *RegisterClient) do(ctx context.Context, method, endpoint string, body, out any) error {
	if c.Endpoint == "" {
		return fmt.Errorf("public register endpoint not configured")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(c.Endpoint, "/") + "/" + strings.TrimLeft(endpoint, "/")
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
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return &registerError{StatusCode: res.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}
