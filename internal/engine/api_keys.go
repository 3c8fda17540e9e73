package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"storyline/internal/domain"
	"storyline/internal/repo"
)

const apiKeyPrefix = "slk_"

// CreateAPIKey mints a key for the scope's user. The plain key is returned
// once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, sc Scope, name string) (domain.APIKey, string, error) {
	if sc.ActorID == "" {
		return domain.APIKey{}, "", ValidationError{Field: "user_id", Message: "user is required"}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:          newID(),
		UserID:      sc.ActorID,
		WorkspaceID: sc.WorkspaceID,
		Name:        strings.TrimSpace(name),
		KeyHash:     repo.HashAPIKey(secret),
		CreatedAt:   e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, sc Scope) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, sc.WorkspaceID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	return e.Repo.DeleteAPIKey(ctx, id)
}

// ListEvents returns the workspace's audit trail, newest first.
func (e Engine) ListEvents(ctx context.Context, sc Scope, entityKind, entityID string, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.Repo.LatestEvents(ctx, repo.EventFilters{WorkspaceID: sc.WorkspaceID, EntityKind: entityKind, EntityID: entityID, Limit: limit})
}
