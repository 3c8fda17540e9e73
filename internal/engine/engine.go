package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyline/internal/config"
	"storyline/internal/events"
	"storyline/internal/metrics"
	"storyline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *zap.SugaredLogger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.SugaredLogger) Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
}

// Scope identifies the workspace a call operates on and the acting user.
type Scope struct {
	WorkspaceID string
	ActorID     string
}

// ValidationError reports input that fails field-level checks.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RuleError reports a request that is well-formed but breaks a domain rule.
type RuleError struct {
	Message string
}

func (e RuleError) Error() string { return e.Message }

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, sc Scope, typ, kind, id string, payload events.Payload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, events.Entry{
		Type:        typ,
		WorkspaceID: sc.WorkspaceID,
		EntityKind:  kind,
		EntityID:    id,
		ActorID:     sc.ActorID,
		Payload:     payload,
	})
}

func (e Engine) retentionDays() int {
	if e.Config != nil && e.Config.Server.RetentionDays > 0 {
		return e.Config.Server.RetentionDays
	}
	return 30
}

// PurgeDeleted permanently removes stories soft-deleted longer ago than the
// configured retention.
func (e Engine) PurgeDeleted(ctx context.Context, actorID string) (int, error) {
	cutoff := e.now().UTC().AddDate(0, 0, -e.retentionDays()).Format(time.RFC3339)
	var purged []string
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := e.Repo.PurgeDeleted(ctx, tx, cutoff)
		if err != nil {
			return fmt.Errorf("purge deleted stories: %w", err)
		}
		purged = ids
		if len(ids) == 0 {
			return nil
		}
		return e.record(ctx, tx, Scope{ActorID: actorID}, "story.purged", "story", "", events.Payload{"ids": ids, "before": cutoff})
	})
	if err != nil {
		return 0, err
	}
	metrics.AddPurged(len(purged))
	if len(purged) > 0 {
		e.Log.Infow("purged deleted stories", "count", len(purged), "before", cutoff)
	}
	return len(purged), nil
}
