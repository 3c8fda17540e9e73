// Package app assembles the client and server stacks from storyline.yml.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyline/internal/analytics"
	"storyline/internal/api"
	"storyline/internal/cache"
	"storyline/internal/config"
	"storyline/internal/db"
	"storyline/internal/engine"
	"storyline/internal/migrate"
	"storyline/internal/mutation"
	"storyline/internal/notify"
	"storyline/internal/session"
)

// Client bundles the REST client with the query cache and the mutation sets
// that keep it consistent.
type Client struct {
	Config     *config.Config
	Log        *zap.SugaredLogger
	API        *api.Client
	Store      *cache.Store
	Session    session.Provider
	Stories    *mutation.Stories
	Objectives *mutation.Objectives
}

// ClientOptions override the collaborators NewClient would otherwise build.
type ClientOptions struct {
	Notifier notify.Notifier
	Tracker  analytics.Tracker
	Out      io.Writer
	In       io.Reader
	Prompt   bool
}

// Identity resolves the acting user: the token's claims when a token is
// configured, else the configured user id.
func Identity(cfg *config.Config) (session.Identity, error) {
	if tok := strings.TrimSpace(cfg.Client.Token); tok != "" {
		id, err := session.FromToken(tok)
		if err != nil {
			return session.Identity{}, fmt.Errorf("client token: %w", err)
		}
		if id.WorkspaceID == "" {
			id.WorkspaceID = cfg.Workspace.ID
		}
		return id, nil
	}
	return session.Identity{UserID: cfg.Client.UserID, WorkspaceID: cfg.Workspace.ID}, nil
}

func NewClient(cfg *config.Config, log *zap.SugaredLogger, opts ClientOptions) (*Client, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	id, err := Identity(cfg)
	if err != nil {
		return nil, err
	}
	c := api.New(cfg.Client.BaseURL, cfg.Workspace.ID)
	if cfg.Client.Timeout > 0 {
		c.Timeout = cfg.Client.Timeout
	}
	c.BearerToken = strings.TrimSpace(cfg.Client.Token)
	c.APIKey = strings.TrimSpace(cfg.Client.APIKey)

	store := cache.New(log.Named("cache"), cache.Options{RefetchLimit: cfg.Cache.RefetchLimit})
	cache.RegisterDefaults(store)

	notifier := opts.Notifier
	if notifier == nil {
		if opts.Out != nil {
			notifier = notify.NewConsole(opts.Out, opts.In, opts.Prompt)
		} else {
			notifier = notify.Discard{}
		}
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = analytics.NewLog(log)
	}
	deps := mutation.Deps{
		Client:   c,
		Store:    store,
		Session:  id,
		Tracker:  tracker,
		Notifier: notifier,
		Log:      log.Named("mutation"),
	}
	return &Client{
		Config:     cfg,
		Log:        log,
		API:        c,
		Store:      store,
		Session:    id,
		Stories:    mutation.NewStories(deps),
		Objectives: mutation.NewObjectives(deps),
	}, nil
}

// OpenEngine opens and migrates the configured database. The returned
// closer releases the connection.
func OpenEngine(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (engine.Engine, func() error, error) {
	conn, err := db.Open(cfg.Server.DBPath)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	if log != nil && len(applied) > 0 {
		log.Infow("applied migrations", "migrations", applied)
	}
	return engine.New(conn, cfg, log), conn.Close, nil
}

// Bootstrap seeds the configured objective statuses for the workspace.
func Bootstrap(ctx context.Context, e engine.Engine, actorID string) error {
	sc := engine.Scope{WorkspaceID: e.Config.Workspace.ID, ActorID: actorID}
	n, err := e.SeedObjectiveStatuses(ctx, sc, e.Config.ObjectiveStatuses)
	if err != nil {
		return fmt.Errorf("seed objective statuses: %w", err)
	}
	if n > 0 {
		e.Log.Infow("seeded objective statuses", "workspace_id", sc.WorkspaceID, "count", n)
	}
	return nil
}

// RunPurger purges expired soft-deleted stories now and then every interval
// until ctx is done.
func RunPurger(ctx context.Context, e engine.Engine, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := e.PurgeDeleted(ctx, "system"); err != nil && ctx.Err() == nil {
			e.Log.Warnw("purge failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
