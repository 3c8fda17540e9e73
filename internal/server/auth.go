package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"storyline/internal/engine"
	"storyline/internal/engine/auth"
	"storyline/internal/repo"
	"storyline/internal/session"
)

type AuthConfig struct {
	JWTSecret string
	// DevAuth exposes POST /auth/dev/login, which signs a token for any user.
	DevAuth bool
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

// scopeFor authorizes the caller for the workspace in the request path.
func scopeFor(ctx context.Context, workspaceID string) (engine.Scope, error) {
	p, ok := principalFromContext(ctx)
	if !ok || p.UserID == "" {
		return engine.Scope{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if err := p.Authorize(workspaceID); err != nil {
		return engine.Scope{}, handleError(err)
	}
	return engine.Scope{WorkspaceID: workspaceID, ActorID: p.UserID}, nil
}

func authenticateJWT(token string, secret string) (auth.Principal, error) {
	claims, err := session.Verify(token, secret)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{
		UserID:      claims.Subject,
		WorkspaceID: claims.Workspace,
		Source:      "jwt",
	}, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (auth.Principal, error) {
	if strings.TrimSpace(key) == "" {
		return auth.Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return auth.Principal{}, err
	}
	if apiKey.UserID == "" {
		return auth.Principal{}, errors.New("api key missing user")
	}
	return auth.Principal{
		UserID:      apiKey.UserID,
		WorkspaceID: apiKey.WorkspaceID,
		Source:      "api_key",
	}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// publicRoutes are served without credentials, relative to the base path.
var publicRoutes = []string{"health", "auth/dev/login", "openapi.json"}

func isPublicPath(basePath, p string) bool {
	for _, route := range publicRoutes {
		if p == path.Join("/", basePath, route) {
			return true
		}
	}
	return false
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if isPublicPath(basePath, req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			var principal auth.Principal
			var err error
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					err = errors.New("malformed authorization header")
					break
				}
				principal, err = authenticateJWT(token, cfg.JWTSecret)
			case apiKeyHeader != "":
				principal, err = authenticateAPIKey(req.Context(), r, apiKeyHeader)
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if err != nil {
				log.Debugw("authentication failed", "path", req.URL.Path, "error", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
