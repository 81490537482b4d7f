package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caseline/internal/domain"
)

func TestDecisionDocumentContent(t *testing.T) {
	expiry := "2031-03-01T09:00:00Z"
	app := domain.Application{
		Reference:   "FLA/2026/00042",
		ApplicantID: "applicant-1",
		ExpiryDate:  &expiry,
	}
	gen := LicenceDocumentGenerator{Now: func() time.Time {
		return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	}}
	name, content, err := gen.GenerateDecisionDocument(context.Background(), app, domain.StatusApproved)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if name != "decision-FLA-2026-00042.txt" {
		t.Fatalf("unexpected file name %s", name)
	}
	text := string(content)
	for _, want := range []string{"FLA/2026/00042", "approved", "2031-03-01T09:00:00Z", "licence has been granted"} {
		if !strings.Contains(text, want) {
			t.Fatalf("document missing %q:\n%s", want, text)
		}
	}
}

func TestDecisionDocumentRefusal(t *testing.T) {
	gen := LicenceDocumentGenerator{}
	_, content, err := gen.GenerateDecisionDocument(context.Background(), domain.Application{Reference: "FLA/2026/00001"}, domain.StatusRefused)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(string(content), "has been refused") {
		t.Fatalf("refusal statement missing:\n%s", content)
	}
	if strings.Contains(string(content), "Licence expires") {
		t.Fatalf("refusal should not carry an expiry line:\n%s", content)
	}
}

func TestRegisterClientPublishAndRemove(t *testing.T) {
	var removed string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/records":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["reference"] != "FLA/2026/00007" {
				t.Errorf("unexpected reference %v", body["reference"])
			}
			if body["period_days"] != float64(28) {
				t.Errorf("unexpected period %v", body["period_days"])
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "rec-7"})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/records/"):
			removed = strings.TrimPrefix(r.URL.Path, "/records/")
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewRegisterClient(srv.URL)
	id, err := c.Publish(context.Background(), "FLA/2026/00007", 28)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id != "rec-7" {
		t.Fatalf("expected rec-7, got %s", id)
	}
	if err := c.Remove(context.Background(), id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed != "rec-7" {
		t.Fatalf("expected removal of rec-7, got %q", removed)
	}
}

func TestRegisterClientErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "register down")
	}))
	defer srv.Close()

	c := NewRegisterClient(srv.URL)
	_, err := c.Publish(context.Background(), "FLA/2026/00008", 28)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status=502") || !strings.Contains(err.Error(), "register down") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestHTTPNotifierPostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL)
	err := n.NotifyApplicant(context.Background(), "app-1", "decision.approved", map[string]any{"reference": "FLA/2026/00001"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["application_id"] != "app-1" || got["kind"] != "decision.approved" {
		t.Fatalf("unexpected request body %v", got)
	}
}

func TestHTTPNotifierSurfacesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL)
	if err := n.NotifyApplicant(context.Background(), "app-1", "decision.refused", nil); err == nil {
		t.Fatal("expected error on 500 response")
	}
}
