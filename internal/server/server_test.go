package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/migrate"
)

const testJWTSecret = "test-secret"

type stubDocs struct{}

func (stubDocs) GenerateDecisionDocument(_ context.Context, app domain.Application, outcome domain.CaseStatus) (string, []byte, error) {
	return "decision.txt", []byte(fmt.Sprintf("%s %s", app.Reference, outcome)), nil
}

type stubNotifier struct{}

func (stubNotifier) NotifyApplicant(context.Context, string, string, map[string]any) error {
	return nil
}

type stubRegister struct{}

func (stubRegister) Publish(context.Context, string, int) (string, error) { return "esri-1", nil }
func (stubRegister) Remove(context.Context, string) error                 { return nil }

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg)
	e.Docs = stubDocs{}
	e.Notifier = stubNotifier{}
	e.Register = stubRegister{}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
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

// actorHeaders authenticates through the legacy header path. The default
// config user holds every role, so one actor can drive a whole case.
func actorHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "local-user"}
}

func mustStatus(t *testing.T, res *http.Response, body []byte, want int, step string) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s: status %d, want %d: %s", step, res.StatusCode, want, string(body))
	}
}

func TestFullCaseLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	h := actorHeaders()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications", map[string]any{
		"applicant_id": "applicant-1",
		"area":         "north",
	}, h)
	mustStatus(t, res, data, http.StatusCreated, "create")
	var created domain.Application
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal application: %v", err)
	}
	if created.Status != domain.StatusDraft {
		t.Fatalf("new application should be draft, got %s", created.Status)
	}
	if created.Reference == "" {
		t.Fatal("reference not generated")
	}
	base := srv.URL + "/v0/applications/" + created.ID

	res, data = doJSON(t, client, http.MethodPost, base+"/submit", nil, h)
	mustStatus(t, res, data, http.StatusOK, "submit")

	assign := func(role string) {
		res, data := doJSON(t, client, http.MethodPost, base+"/assignees", map[string]any{
			"user_id": "local-user",
			"role":    role,
		}, h)
		mustStatus(t, res, data, http.StatusCreated, "assign "+role)
	}
	assign("admin_officer")

	res, data = doJSON(t, client, http.MethodPut, base+"/admin-officer/checks", map[string]any{
		"agent_authority_form_ok":  true,
		"agent_authority_required": true,
		"date_received_verified":   true,
		"mapping_check_passed":     true,
		"constraints_check_passed": true,
		"larch_check_done":         true,
		"eia_relevant":             true,
		"eia_screening_done":       true,
		"supporting_docs_complete": true,
	}, h)
	mustStatus(t, res, data, http.StatusOK, "admin officer checks")

	assign("woodland_officer")
	res, data = doJSON(t, client, http.MethodPost, base+"/admin-officer/confirm", nil, h)
	mustStatus(t, res, data, http.StatusOK, "confirm admin officer review")

	res, data = doJSON(t, client, http.MethodPut, base+"/register/exemption", map[string]any{
		"exempt": true,
		"reason": "under minimum area threshold",
	}, h)
	mustStatus(t, res, data, http.StatusOK, "exemption")

	res, data = doJSON(t, client, http.MethodPost, base+"/felling", map[string]any{
		"compartment_id": "cpt-1",
		"operation_type": "clear fell",
		"area_ha":        1.5,
	}, h)
	mustStatus(t, res, data, http.StatusCreated, "felling detail")

	res, data = doJSON(t, client, http.MethodPut, base+"/woodland-officer/checks", map[string]any{
		"site_visit_complete":    true,
		"pw14_checks_complete":   true,
		"conditions_complete":    true,
		"consultations_complete": true,
		"habitat_regs_complete":  true,
		"designations_complete":  true,
		"felling_confirmed":      true,
		"final_checks_complete":  true,
	}, h)
	mustStatus(t, res, data, http.StatusOK, "woodland officer checks")

	assign("field_manager")
	res, data = doJSON(t, client, http.MethodPost, base+"/woodland-officer/confirm", nil, h)
	mustStatus(t, res, data, http.StatusOK, "confirm woodland officer review")

	res, data = doJSON(t, client, http.MethodPost, base+"/approve", nil, h)
	mustStatus(t, res, data, http.StatusOK, "approve")
	var final engine.FinaliseResult
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatalf("unmarshal finalise result: %v", err)
	}
	if final.Application.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", final.Application.Status)
	}
	if final.Application.ExpiryDate == nil || *final.Application.ExpiryDate == "" {
		t.Fatal("licence expiry missing after approval")
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/history", nil, h)
	mustStatus(t, res, data, http.StatusOK, "history")
	var history []domain.StatusHistory
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) < 5 {
		t.Fatalf("expected a full transition trail, got %d entries", len(history))
	}
}

func TestRequestsRequireAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/applications", nil, nil)
	mustStatus(t, res, data, http.StatusUnauthorized, "unauthenticated list")
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", envelope.Error.Code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	mustStatus(t, res, data, http.StatusOK, "health is exempt")
}

func TestJWTAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "local-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/applications", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	mustStatus(t, res, data, http.StatusOK, "jwt list")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/applications", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	mustStatus(t, res, data, http.StatusUnauthorized, "bad jwt")
}

func TestAPIKeyLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	h := actorHeaders()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/api-keys", map[string]any{
		"actor_id": "local-user",
		"name":     "ci",
	}, h)
	mustStatus(t, res, data, http.StatusCreated, "create api key")
	var createdKey CreatedAPIKeyResponse
	if err := json.Unmarshal(data, &createdKey); err != nil {
		t.Fatalf("unmarshal created key: %v", err)
	}
	if createdKey.Key == "" {
		t.Fatal("raw key must be returned once on creation")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/applications", nil, map[string]string{
		"X-Api-Key": createdKey.Key,
	})
	mustStatus(t, res, data, http.StatusOK, "authenticate with api key")

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/auth/api-keys/"+createdKey.ID, nil, h)
	mustStatus(t, res, data, http.StatusNoContent, "delete api key")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/applications", nil, map[string]string{
		"X-Api-Key": createdKey.Key,
	})
	mustStatus(t, res, data, http.StatusUnauthorized, "deleted key rejected")
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	h := actorHeaders()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/applications/nope", nil, h)
	mustStatus(t, res, data, http.StatusNotFound, "unknown id")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications", map[string]any{
		"applicant_id": "applicant-1",
		"area":         "north",
	}, h)
	mustStatus(t, res, data, http.StatusCreated, "create")
	var created domain.Application
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatal(err)
	}

	// Draft cases cannot enter admin officer review.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications/"+created.ID+"/admin-officer/confirm", nil, h)
	mustStatus(t, res, data, http.StatusConflict, "confirm on draft")
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "precondition_failed" {
		t.Fatalf("expected precondition_failed, got %q", envelope.Error.Code)
	}
}

func TestListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	h := actorHeaders()

	created := map[string]bool{}
	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications", map[string]any{
			"applicant_id": fmt.Sprintf("applicant-%d", i),
			"area":         "north",
		}, h)
		mustStatus(t, res, data, http.StatusCreated, "create")
		var a domain.Application
		if err := json.Unmarshal(data, &a); err != nil {
			t.Fatalf("unmarshal created application: %v", err)
		}
		created[a.ID] = true
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/applications?limit=2", nil, h)
	mustStatus(t, res, data, http.StatusOK, "first page")
	var page paginatedApplications
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatal("expected next cursor on a truncated page")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/applications?limit=2&cursor="+page.NextCursor, nil, h)
	mustStatus(t, res, data, http.StatusOK, "second page")
	var rest paginatedApplications
	if err := json.Unmarshal(data, &rest); err != nil {
		t.Fatalf("unmarshal second page: %v", err)
	}
	if len(rest.Items) != 1 {
		t.Fatalf("expected 1 remaining item, got %d", len(rest.Items))
	}
	if rest.NextCursor != "" {
		t.Fatalf("expected exhausted cursor, got %q", rest.NextCursor)
	}
	for _, a := range append(page.Items, rest.Items...) {
		if !created[a.ID] {
			t.Fatalf("page returned duplicate or unknown application %s", a.ID)
		}
		delete(created, a.ID)
	}
	if len(created) != 0 {
		t.Fatalf("pagination skipped %d applications", len(created))
	}
}
