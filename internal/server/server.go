package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"storyline/internal/engine"
	"storyline/internal/engine/auth"
	"storyline/internal/metrics"
	"storyline/internal/repo"
	"storyline/internal/session"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *zap.SugaredLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"title\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the storyline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Auth.DevAuth && strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("dev auth requires a jwt secret")
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the error envelope.
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
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(newMetricsMiddleware(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, log))
	router.Handle("/metrics", metrics.Handler())

	hcfg := huma.DefaultConfig("Storyline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStories(group, cfg.Engine)
	registerObjectives(group, cfg.Engine)
	registerKeyResults(group, cfg.Engine)
	registerObjectiveStatuses(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if cfg.Auth.DevAuth {
		registerDevAuth(group, cfg.Auth, cfg.Engine.Now)
	}
	if err := mountOpenAPI(router, api, basePath); err != nil {
		return nil, err
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"workspace_id": fe.WorkspaceID})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", ve.Message, map[string]any{"field": ve.Field})
	}
	var re engine.RuleError
	if errors.As(err, &re) {
		return newAPIError(http.StatusBadRequest, "bad_request", re.Message, nil)
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
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
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

func newMetricsMiddleware(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.ObserveHTTP(r.Method, route, status, time.Since(start))
			log.Debugw("request", "method", r.Method, "route", route, "status", status,
				"duration", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
		})
	}
}

const docsPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8"/>
<title>Storyline API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
</head>
<body>
<div id="docs"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
<script>SwaggerUIBundle({url: %q, dom_id: "#docs"});</script>
</body>
</html>`

var (
	bearerAuth = map[string][]string{"bearerAuth": {}}
	apiKeyAuth = map[string][]string{"apiKeyAuth": {}}
)

// mountOpenAPI renders the document once, after every operation is
// registered, and serves it with a Swagger UI page at /docs.
func mountOpenAPI(r chi.Router, api huma.API, basePath string) error {
	doc, err := json.Marshal(describe(api.OpenAPI(), basePath))
	if err != nil {
		return fmt.Errorf("render openapi: %w", err)
	}
	docPath := path.Join("/", basePath, "openapi.json")
	page := fmt.Sprintf(docsPage, docPath)
	r.Get(docPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	})
	return nil
}

// describe adds the auth schemes and the error envelope to every
// operation. Health and dev login stay public.
func describe(oas *huma.OpenAPI, basePath string) *huma.OpenAPI {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		"apiKeyAuth": {Type: "apiKey", In: "header", Name: "X-Api-Key"},
	}
	authenticated := []map[string][]string{bearerAuth, apiKeyAuth}
	oas.Security = authenticated
	envelope := &huma.Response{
		Description: "Error envelope",
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
		},
	}
	for route, item := range oas.Paths {
		public := isPublicPath(basePath, route)
		for _, op := range []*huma.Operation{item.Get, item.Post, item.Put, item.Delete} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = envelope
			if public {
				op.Security = []map[string][]string{}
			} else {
				op.Security = authenticated
			}
		}
	}
	return oas
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*dataOutput[HealthResponse], error) {
		return respond(HealthResponse{Status: "ok"}), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		EntityKind  string `query:"entity_kind"`
		EntityID    string `query:"entity_id"`
		Limit       int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*dataOutput[[]EventResponse], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		items, err := e.ListEvents(ctx, sc, input.EntityKind, input.EntityID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapEvents(items)), nil
	})
}

func registerDevAuth(api huma.API, cfg AuthConfig, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*dataOutput[DevLoginResponse], error) {
		user := strings.TrimSpace(input.Body.UserID)
		ws := strings.TrimSpace(input.Body.WorkspaceID)
		if user == "" || ws == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id and workspace_id are required", nil)
		}
		token, err := session.Sign(cfg.JWTSecret, session.Identity{UserID: user, WorkspaceID: ws}, 24*time.Hour, now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return respond(DevLoginResponse{Token: token}), nil
	})
}
