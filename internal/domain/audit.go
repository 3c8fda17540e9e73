package domain

// Event is an audit record appended by every backend mutation.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

type APIKey struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name,omitempty"`
	KeyHash     string `json:"-"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
