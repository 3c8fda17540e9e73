package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Entry describes one audit event.
type Entry struct {
	Type        string
	WorkspaceID string
	EntityKind  string
	EntityID    string
	ActorID     string
	Payload     Payload
}

// Append writes the event inside tx so it commits with the change it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,workspace_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Type, nullable(e.WorkspaceID), e.EntityKind, nullable(e.EntityID), e.ActorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
