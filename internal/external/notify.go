package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"caseline/internal/repo"
)

// HTTPNotifier posts applicant notifications to a delivery endpoint as JSON.
type HTTPNotifier struct {
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewHTTPNotifier(endpoint string) *HTTPNotifier {
	return &HTTPNotifier{
		Endpoint: endpoint,
		Timeout:  10 * time.Second,
	}
}

func (n *HTTPNotifier) NotifyApplicant(ctx context.Context, applicationID, kind string, payload map[string]any) error {
	if n.Endpoint == "" {
		return fmt.Errorf("notification endpoint not configured")
	}
	if n.HTTPClient == nil {
		n.HTTPClient = &http.Client{Timeout: n.Timeout}
	}
	body := map[string]any{
		"application_id": applicationID,
		"kind":           kind,
		"payload":        payload,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := n.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("notify: status=%d body=%s", res.StatusCode, string(b))
	}
	return nil
}

const (
	defaultDispatchInterval = 2 * time.Second
	defaultDispatchBatch    = 100
)

// OutboxDispatcher drains the notification outbox in the background and
// delivers each row through the notifier. Delivery is at-least-once: the
// cursor lives in memory, so a restart replays rows written since startup.
type OutboxDispatcher struct {
	Repo     repo.Repo
	Notifier *HTTPNotifier
	Interval time.Duration
	Logger   *log.Logger

	mu     sync.Mutex
	cursor int64
}

// Start launches the dispatch loop. It returns immediately; the loop stops
// when ctx is cancelled.
func (d *OutboxDispatcher) Start(ctx context.Context) {
	if d.Notifier == nil || d.Notifier.Endpoint == "" {
		return
	}
	interval := d.Interval
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			d.dispatch(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (d *OutboxDispatcher) dispatch(ctx context.Context) {
	d.mu.Lock()
	after := d.cursor
	d.mu.Unlock()

	rows, err := d.Repo.ListNotificationsAfter(ctx, after, defaultDispatchBatch)
	if err != nil {
		d.logger().Printf("outbox: list notifications: %v", err)
		return
	}
	for _, row := range rows {
		var payload map[string]any
		if row.PayloadJSON != "" {
			_ = json.Unmarshal([]byte(row.PayloadJSON), &payload)
		}
		if err := d.Notifier.NotifyApplicant(ctx, row.ApplicationID, row.Kind, payload); err != nil {
			d.logger().Printf("outbox: deliver %s (%s): %v", row.ID, row.Kind, err)
			return
		}
		d.mu.Lock()
		d.cursor = row.RowID
		d.mu.Unlock()
	}
}

func (d *OutboxDispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}
