package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
	"caseline/internal/tasklist"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"precondition_failed"`
	Message string         `json:"message" example:"admin officer review incomplete: mapping_check"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"redirect\":\"mapping_check\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Caseline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Caseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerApplications(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerReviews(group, cfg.Engine)
	registerFelling(group, cfg.Engine)
	registerAmendments(group, cfg.Engine)
	registerPublicRegister(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerNotes(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	}
	var pe engine.PreconditionError
	if errors.As(err, &pe) {
		var details map[string]any
		if pe.Redirect != "" {
			details = map[string]any{"redirect": pe.Redirect}
		}
		return newAPIError(http.StatusConflict, "precondition_failed", err.Error(), details)
	}
	var fe engine.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var se engine.SagaError
	if errors.As(err, &se) {
		return newAPIError(http.StatusInternalServerError, "finalisation_failed", err.Error(), map[string]any{"step": se.Step})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "precondition_failed"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requireAdmin(e engine.Engine, actorID string) error {
	if e.Config == nil {
		return engine.ForbiddenError{Reason: "config not loaded"}
	}
	u, ok := e.Config.Users[actorID]
	if !ok || !u.HasRole(string(domain.RoleAdmin)) {
		return engine.ForbiddenError{Reason: fmt.Sprintf("user %s does not hold role admin", actorID)}
	}
	return nil
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
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Caseline API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Caseload overview",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountApplicationsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"case_counts": counts}}, nil
	})
}

type applicationPath struct {
	ID string `path:"id"`
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-application",
		Method:        http.MethodPost,
		Path:          "/applications",
		Summary:       "Register application",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateApplicationRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateApplication(ctx, engine.ApplicationCreateOptions{
			Source:       domain.ApplicationSource(input.Body.Source),
			ApplicantID:  input.Body.ApplicantID,
			Area:         input.Body.Area,
			DateReceived: input.Body.DateReceived,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/applications",
		Summary:     "List applications",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status         string `query:"status"`
		Area           string `query:"area"`
		AssignedUserID string `query:"assigned_user_id"`
		Limit          int    `query:"limit" default:"50"`
		Cursor         string `query:"cursor"`
	}) (*struct {
		Body paginatedApplications `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListApplications(ctx, repo.ApplicationFilters{
			Status:          input.Status,
			Area:            input.Area,
			AssignedUserID:  input.AssignedUserID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedApplications{Items: []domain.Application{}}
		if len(items) > limit {
			// The cursor filter is exclusive, so key off the last returned row.
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = items
		return &struct {
			Body paginatedApplications `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/applications/{id}",
		Summary:     "Get application",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetApplication(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "application-history",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/history",
		Summary:     "Status history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body []domain.StatusHistory `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListStatusHistory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StatusHistory `json:"body"`
		}{Body: items}, nil
	})

	applicationAction := func(operationID, pathSuffix, summary string, fn func(ctx context.Context, id, actorID string) (domain.Application, error)) {
		huma.Register(api, huma.Operation{
			OperationID: operationID,
			Method:      http.MethodPost,
			Path:        "/applications/{id}/" + pathSuffix,
			Summary:     summary,
			Errors: []int{
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *applicationPath) (*struct {
			Body domain.Application `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			a, err := fn(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Application `json:"body"`
			}{Body: a}, nil
		})
	}

	applicationAction("submit-application", "submit", "Submit application", e.SubmitApplication)
	applicationAction("reopen-withdrawn", "reopen", "Reopen withdrawn application", e.ReopenWithdrawnApplication)
	applicationAction("reopen-approved-in-error", "approved-in-error/reopen", "Reopen case approved in error", e.ReopenApprovedInError)

	reasonAction := func(operationID, pathSuffix, summary string, fn func(ctx context.Context, id, reason, actorID string) (domain.Application, error)) {
		huma.Register(api, huma.Operation{
			OperationID: operationID,
			Method:      http.MethodPost,
			Path:        "/applications/{id}/" + pathSuffix,
			Summary:     summary,
			Errors: []int{
				http.StatusBadRequest,
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			ID   string        `path:"id"`
			Body ReasonRequest `json:"body"`
		}) (*struct {
			Body domain.Application `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			a, err := fn(ctx, input.ID, input.Body.Reason, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Application `json:"body"`
			}{Body: a}, nil
		})
	}

	reasonAction("withdraw-application", "withdraw", "Withdraw application", e.WithdrawApplication)
	reasonAction("mark-approved-in-error", "approved-in-error", "Mark approval as made in error", e.MarkApprovedInError)
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assignees",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/assignees",
		Summary:     "Assignment history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body []domain.AssigneeHistory `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssigneeHistory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AssigneeHistory `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-case",
		Method:        http.MethodPost,
		Path:          "/applications/{id}/assignees",
		Summary:       "Assign case role to a user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*struct {
		Body domain.AssigneeHistory `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.AssignToUser(ctx, engine.AssignOptions{
			ApplicationID: input.ID,
			UserID:        input.Body.UserID,
			Role:          domain.Role(input.Body.Role),
			Reason:        input.Body.Reason,
			CaseNote:      input.Body.CaseNote,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssigneeHistory `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassignment-prompt",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/assignees/{role}/reassignment",
		Summary:     "Check whether assigning would replace the current holder",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Role string `path:"role"`
	}) (*struct {
		Body engine.ReassignmentPrompt `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.ReassignConfirm(ctx, input.ID, domain.Role(input.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ReassignmentPrompt `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "return-to-applicant",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/return",
		Summary:     "Return case to the applicant",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AssignBackRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AssignBackToApplicant(ctx, engine.AssignBackOptions{
			ApplicationID:   input.ID,
			Reason:          input.Body.Reason,
			VisibleSections: input.Body.VisibleSections,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-admin-officer-checks",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/admin-officer/checks",
		Summary:     "Admin officer check facts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.AdminOfficerChecks `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetAdminOfficerChecks(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AdminOfficerChecks `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-admin-officer-checks",
		Method:      http.MethodPut,
		Path:        "/applications/{id}/admin-officer/checks",
		Summary:     "Record admin officer check facts",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body AdminOfficerChecksRequest `json:"body"`
	}) (*struct {
		Body domain.AdminOfficerChecks `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RecordAdminOfficerChecks(ctx, adminChecksFromRequest(input.ID, input.Body), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AdminOfficerChecks `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-officer-tasklist",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/admin-officer/tasklist",
		Summary:     "Admin officer review task list",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body tasklist.State `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.AdminOfficerTaskList(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body tasklist.State `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-admin-officer-review",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/admin-officer/confirm",
		Summary:     "Complete admin officer review",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ConfirmAdminOfficerReview(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-woodland-officer-checks",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/woodland-officer/checks",
		Summary:     "Woodland officer check facts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.WoodlandOfficerChecks `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetWoodlandOfficerChecks(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WoodlandOfficerChecks `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-woodland-officer-checks",
		Method:      http.MethodPut,
		Path:        "/applications/{id}/woodland-officer/checks",
		Summary:     "Record woodland officer check facts",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                       `path:"id"`
		Body WoodlandOfficerChecksRequest `json:"body"`
	}) (*struct {
		Body domain.WoodlandOfficerChecks `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RecordWoodlandOfficerChecks(ctx, woodlandChecksFromRequest(input.ID, input.Body), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WoodlandOfficerChecks `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "woodland-officer-tasklist",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/woodland-officer/tasklist",
		Summary:     "Woodland officer review task list",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body tasklist.State `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.WoodlandOfficerTaskList(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body tasklist.State `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-woodland-officer-review",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/woodland-officer/confirm",
		Summary:     "Complete woodland officer review",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ConfirmWoodlandOfficerReview(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})
}

func registerFelling(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-felling-details",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/felling",
		Summary:     "List confirmed felling details",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID             string `path:"id"`
		IncludeDeleted bool   `query:"include_deleted"`
	}) (*struct {
		Body []domain.ConfirmedFellingDetail `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListFellingDetails(ctx, input.ID, input.IncludeDeleted)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ConfirmedFellingDetail `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "confirm-felling-detail",
		Method:        http.MethodPost,
		Path:          "/applications/{id}/felling",
		Summary:       "Confirm a felling detail",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body FellingDetailRequest `json:"body"`
	}) (*struct {
		Body domain.ConfirmedFellingDetail `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.ConfirmFellingDetail(ctx, engine.FellingDetailOptions{
			ApplicationID: input.ID,
			CompartmentID: input.Body.CompartmentID,
			OperationType: input.Body.OperationType,
			AreaHa:        input.Body.AreaHa,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ConfirmedFellingDetail `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "amend-felling-detail",
		Method:      http.MethodPatch,
		Path:        "/applications/{id}/felling/{detail_id}",
		Summary:     "Amend a felling detail",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID       string              `path:"id"`
		DetailID string              `path:"detail_id"`
		Body     AmendFellingRequest `json:"body"`
	}) (*struct {
		Body domain.ConfirmedFellingDetail `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AmendFellingDetail(ctx, input.ID, input.DetailID, input.Body.OperationType, input.Body.AreaHa, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ConfirmedFellingDetail `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-felling-detail",
		Method:      http.MethodDelete,
		Path:        "/applications/{id}/felling/{detail_id}",
		Summary:     "Soft-delete a felling detail",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		DetailID string `path:"detail_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteFellingDetail(ctx, input.ID, input.DetailID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revert-felling-detail",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/felling/{detail_id}/revert",
		Summary:     "Revert a felling detail to its proposed values",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		DetailID string `path:"detail_id"`
	}) (*struct {
		Body domain.ConfirmedFellingDetail `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.RevertFellingDetailAmendments(ctx, input.ID, input.DetailID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ConfirmedFellingDetail `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-felling-species",
		Method:      http.MethodPut,
		Path:        "/applications/{id}/felling/{detail_id}/species",
		Summary:     "Reconcile the species set for a felling detail",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID       string         `path:"id"`
		DetailID string         `path:"detail_id"`
		Body     SpeciesRequest `json:"body"`
	}) (*struct {
		Body []domain.FellingSpecies `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		posted := make([]engine.SpeciesInput, 0, len(input.Body.Species))
		for _, s := range input.Body.Species {
			posted = append(posted, engine.SpeciesInput{Code: s.Code, Percent: s.Percent})
		}
		items, err := e.UpdateFellingSpecies(ctx, input.ID, input.DetailID, posted, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.FellingSpecies `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-restocking-details",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/restocking",
		Summary:     "List confirmed restocking details",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID             string `path:"id"`
		IncludeDeleted bool   `query:"include_deleted"`
	}) (*struct {
		Body []domain.ConfirmedRestockingDetail `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListRestockingDetails(ctx, input.ID, input.IncludeDeleted)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ConfirmedRestockingDetail `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "confirm-restocking-detail",
		Method:        http.MethodPost,
		Path:          "/applications/{id}/restocking",
		Summary:       "Confirm a restocking detail",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body RestockingDetailRequest `json:"body"`
	}) (*struct {
		Body domain.ConfirmedRestockingDetail `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.ConfirmRestockingDetail(ctx, engine.RestockingDetailOptions{
			ApplicationID:  input.ID,
			CompartmentID:  input.Body.CompartmentID,
			RestockingType: input.Body.RestockingType,
			AreaHa:         input.Body.AreaHa,
			DensityPerHa:   input.Body.DensityPerHa,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ConfirmedRestockingDetail `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-restocking-detail",
		Method:      http.MethodDelete,
		Path:        "/applications/{id}/restocking/{detail_id}",
		Summary:     "Soft-delete a restocking detail",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		DetailID string `path:"detail_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRestockingDetail(ctx, input.ID, input.DetailID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAmendments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "current-amendment-review",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/amendments",
		Summary:     "Current amendment review",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.AmendmentReview `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ar, err := e.Repo.CurrentAmendmentReview(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AmendmentReview `json:"body"`
		}{Body: ar}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-amendments",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/amendments/send",
		Summary:     "Send confirmed amendments to the applicant",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReasonRequest `json:"body"`
	}) (*struct {
		Body domain.AmendmentReview `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ar, err := e.SendAmendmentsToApplicant(ctx, input.ID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AmendmentReview `json:"body"`
		}{Body: ar}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "make-further-amendments",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/amendments/further",
		Summary:     "Applicant starts further amendments",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body FurtherAmendmentsRequest `json:"body"`
	}) (*struct {
		Body domain.AmendmentReview `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ar, err := e.MakeFurtherAmendments(ctx, input.ID, input.Body.ReviewID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AmendmentReview `json:"body"`
		}{Body: ar}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-amendment-review",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/amendments/complete",
		Summary:     "Complete the amendment review cycle",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.AmendmentReview `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ar, err := e.CompleteAmendmentReview(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AmendmentReview `json:"body"`
		}{Body: ar}, nil
	})
}

func registerPublicRegister(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-register-record",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/register",
		Summary:     "Public register record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.PublicRegisterRecord `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		rec, err := e.Repo.GetRegisterRecord(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PublicRegisterRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "store-exemption",
		Method:      http.MethodPut,
		Path:        "/applications/{id}/register/exemption",
		Summary:     "Record public register exemption",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body ExemptionRequest `json:"body"`
	}) (*struct {
		Body domain.PublicRegisterRecord `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.StoreExemption(ctx, input.ID, input.Body.Exempt, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PublicRegisterRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-to-register",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/register/publish",
		Summary:     "Publish case to the public register",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body PublishRequest `json:"body"`
	}) (*struct {
		Body domain.PublicRegisterRecord `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		period := input.Body.PeriodDays
		if period == 0 && e.Config != nil {
			period = e.Config.PublicRegister.PeriodDays
		}
		rec, err := e.PublishToRegister(ctx, input.ID, period, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PublicRegisterRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-from-register",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/register/remove",
		Summary:     "Remove case from the public register",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.PublicRegisterRecord `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.RemoveFromRegister(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PublicRegisterRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-register-comments",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/register/comments",
		Summary:     "List public register comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body []domain.RegisterComment `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListRegisterComments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RegisterComment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-register-comment",
		Method:        http.MethodPost,
		Path:          "/applications/{id}/register/comments",
		Summary:       "Record a comment received through the register",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body domain.RegisterComment `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddRegisterComment(ctx, input.ID, input.Body.Author, input.Body.Comment, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RegisterComment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-register-comment",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/register/comments/{comment_id}/review",
		Summary:     "Mark a register comment as reviewed",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID        string               `path:"id"`
		CommentID string               `path:"comment_id"`
		Body      ReviewCommentRequest `json:"body"`
	}) (*struct {
		Body domain.RegisterComment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ReviewComment(ctx, input.ID, input.CommentID, input.Body.Comment, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RegisterComment `json:"body"`
		}{Body: c}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	decisionAction := func(operationID, pathSuffix, summary string, fn func(ctx context.Context, id, actorID string) (engine.FinaliseResult, error)) {
		huma.Register(api, huma.Operation{
			OperationID: operationID,
			Method:      http.MethodPost,
			Path:        "/applications/{id}/" + pathSuffix,
			Summary:     summary,
			Errors: []int{
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
				http.StatusInternalServerError,
			},
		}, func(ctx context.Context, input *applicationPath) (*struct {
			Body engine.FinaliseResult `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			res, err := fn(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body engine.FinaliseResult `json:"body"`
			}{Body: res}, nil
		})
	}

	decisionAction("approve-application", "approve", "Approve the application", e.ApproveApplication)
	decisionAction("refuse-application", "refuse", "Refuse the application", e.RefuseApplication)
	decisionAction("refer-application", "refer", "Refer the application to the local authority", e.ReferApplicationToLocalAuthority)

	huma.Register(api, huma.Operation{
		OperationID: "get-decision",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/decision",
		Summary:     "Locally stored decision record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.DecisionRecord `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		d, err := e.Repo.GetDecisionRecord(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DecisionRecord `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/documents",
		Summary:     "List case documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body []domain.CaseDocument `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDocuments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CaseDocument `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/notifications",
		Summary:     "List outbox notifications",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListNotifications(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})
}

func registerNotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-case-notes",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/notes",
		Summary:     "List case notes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body []domain.CaseNote `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCaseNotes(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CaseNote `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-case-note",
		Method:        http.MethodPost,
		Path:          "/applications/{id}/notes",
		Summary:       "Add case note",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body NoteRequest `json:"body"`
	}) (*struct {
		Body domain.CaseNote `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		noteType := domain.CaseNoteType(input.Body.Type)
		if noteType == "" {
			noteType = domain.NoteCaseNote
		}
		n, err := e.AddCaseNote(ctx, input.ID, noteType, input.Body.Text, input.Body.VisibleToApplicant, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseNote `json:"body"`
		}{Body: n}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the event log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit         int    `query:"limit" default:"50"`
		Type          string `query:"type"`
		ApplicationID string `query:"application_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.ApplicationID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/auth/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreatedAPIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireAdmin(e, actorID); err != nil {
			return nil, handleError(err)
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, handleError(err)
		}
		key := hex.EncodeToString(raw)
		rec := domain.APIKey{
			ID:      uuid.New().String(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(key),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, rec); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreatedAPIKeyResponse `json:"body"`
		}{Body: CreatedAPIKeyResponse{
			ID:      rec.ID,
			ActorID: rec.ActorID,
			Name:    rec.Name,
			Key:     key,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/auth/api-keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireAdmin(e, actorID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/auth/api-keys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireAdmin(e, actorID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
