package server

import (
	"encoding/json"

	"storyline/internal/domain"
)

// envelope wraps every successful response body.
type envelope[T any] struct {
	Data T `json:"data"`
}

type dataOutput[T any] struct {
	Body envelope[T]
}

func respond[T any](v T) *dataOutput[T] {
	return &dataOutput[T]{Body: envelope[T]{Data: v}}
}

// Request payloads

type WorkspacePath struct {
	WorkspaceID string `path:"workspace_id"`
}

type IDPath struct {
	WorkspaceID string `path:"workspace_id"`
	ID          string `path:"id"`
}

type IDsRequest struct {
	IDs []string `json:"ids" minItems:"1"`
}

type BulkUpdateRequest struct {
	IDs    []string           `json:"ids" minItems:"1"`
	Update domain.StoryUpdate `json:"update"`
}

type DevLoginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts" format:"date-time"`
	Type        string         `json:"type"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id,omitempty"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, evt := range items {
		payload := map[string]any{}
		if evt.Payload != "" {
			_ = json.Unmarshal([]byte(evt.Payload), &payload)
		}
		out = append(out, EventResponse{
			ID:          evt.ID,
			TS:          evt.TS,
			Type:        evt.Type,
			WorkspaceID: evt.WorkspaceID,
			EntityKind:  evt.EntityKind,
			EntityID:    evt.EntityID,
			ActorID:     evt.ActorID,
			Payload:     payload,
		})
	}
	return out
}
