package api

import (
	"context"
	"net/url"
	"strconv"

	"storyline/internal/domain"
)

func filterValues(f domain.StoryFilter) url.Values {
	v := url.Values{}
	for k, val := range f.Map() {
		v.Set(k, val)
	}
	return v
}

func storyPath(id string) string {
	return "stories/" + url.PathEscape(id)
}

func (c *Client) ListStories(ctx context.Context, f domain.StoryFilter) (Envelope[[]domain.Story], error) {
	return Get[[]domain.Story](ctx, c, c.workspacePath("stories"), filterValues(f))
}

// GroupedStories returns the first page of every group.
func (c *Client) GroupedStories(ctx context.Context, f domain.StoryFilter, by domain.GroupBy, pageSize int) (Envelope[[]domain.StoryGroup], error) {
	q := filterValues(f)
	q.Set("group_by", string(by))
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	return Get[[]domain.StoryGroup](ctx, c, c.workspacePath("stories/grouped"), q)
}

// StoryGroupPage loads a further page of a single group.
func (c *Client) StoryGroupPage(ctx context.Context, f domain.StoryFilter, by domain.GroupBy, groupKey string, page, pageSize int) (Envelope[domain.StoryGroup], error) {
	q := filterValues(f)
	q.Set("group_by", string(by))
	q.Set("page", strconv.Itoa(page))
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	return Get[domain.StoryGroup](ctx, c, c.workspacePath("stories/grouped/"+url.PathEscape(groupKey)), q)
}

func (c *Client) StoriesPage(ctx context.Context, f domain.StoryFilter, page, pageSize int) (Envelope[domain.StoryPage], error) {
	q := filterValues(f)
	q.Set("page", strconv.Itoa(page))
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	return Get[domain.StoryPage](ctx, c, c.workspacePath("stories/paged"), q)
}

func (c *Client) GetStory(ctx context.Context, id string) (Envelope[domain.DetailedStory], error) {
	return Get[domain.DetailedStory](ctx, c, c.workspacePath(storyPath(id)), nil)
}

func (c *Client) CreateStory(ctx context.Context, in domain.CreateStory) (Envelope[domain.DetailedStory], error) {
	return Post[domain.DetailedStory](ctx, c, c.workspacePath("stories"), in)
}

func (c *Client) UpdateStory(ctx context.Context, id string, u domain.StoryUpdate) (Envelope[domain.DetailedStory], error) {
	return Put[domain.DetailedStory](ctx, c, c.workspacePath(storyPath(id)), u)
}

// DeleteStory soft-deletes a story and returns it with deleted_at set.
func (c *Client) DeleteStory(ctx context.Context, id string) (Envelope[domain.DetailedStory], error) {
	return Remove[domain.DetailedStory](ctx, c, c.workspacePath(storyPath(id)), nil)
}

func (c *Client) BulkUpdateStories(ctx context.Context, ids []string, u domain.StoryUpdate) (Envelope[[]domain.Story], error) {
	return Put[[]domain.Story](ctx, c, c.workspacePath("stories"), domain.BulkUpdate{IDs: ids, Update: u})
}

func (c *Client) BulkDeleteStories(ctx context.Context, ids []string) (Envelope[domain.IDs], error) {
	return Remove[domain.IDs](ctx, c, c.workspacePath("stories"), domain.IDs{IDs: ids})
}

func (c *Client) ArchiveStories(ctx context.Context, ids []string) (Envelope[domain.IDs], error) {
	return Post[domain.IDs](ctx, c, c.workspacePath("stories/archive"), domain.IDs{IDs: ids})
}

func (c *Client) RestoreStories(ctx context.Context, ids []string) (Envelope[domain.IDs], error) {
	return Post[domain.IDs](ctx, c, c.workspacePath("stories/restore"), domain.IDs{IDs: ids})
}

// ObjectiveFilter narrows objective listings.
type ObjectiveFilter struct {
	StatusID string
	TeamID   string
}

func (f ObjectiveFilter) values() url.Values {
	v := url.Values{}
	if f.StatusID != "" {
		v.Set("status_id", f.StatusID)
	}
	if f.TeamID != "" {
		v.Set("team_id", f.TeamID)
	}
	return v
}

// Map returns the filters keyed by query parameter name.
func (f ObjectiveFilter) Map() map[string]string {
	out := map[string]string{}
	for k, v := range f.values() {
		out[k] = v[0]
	}
	return out
}

func (c *Client) ListObjectives(ctx context.Context, f ObjectiveFilter) (Envelope[[]domain.Objective], error) {
	return Get[[]domain.Objective](ctx, c, c.workspacePath("objectives"), f.values())
}

func (c *Client) GetObjective(ctx context.Context, id string) (Envelope[domain.Objective], error) {
	return Get[domain.Objective](ctx, c, c.workspacePath("objectives/"+url.PathEscape(id)), nil)
}

func (c *Client) CreateObjective(ctx context.Context, in domain.CreateObjective) (Envelope[domain.Objective], error) {
	return Post[domain.Objective](ctx, c, c.workspacePath("objectives"), in)
}

func (c *Client) UpdateObjective(ctx context.Context, id string, u domain.ObjectiveUpdate) (Envelope[domain.Objective], error) {
	return Put[domain.Objective](ctx, c, c.workspacePath("objectives/"+url.PathEscape(id)), u)
}

func (c *Client) DeleteObjective(ctx context.Context, id string) (Envelope[domain.Objective], error) {
	return Remove[domain.Objective](ctx, c, c.workspacePath("objectives/"+url.PathEscape(id)), nil)
}

func (c *Client) ListKeyResults(ctx context.Context, objectiveID string) (Envelope[[]domain.KeyResult], error) {
	q := url.Values{}
	if objectiveID != "" {
		q.Set("objective_id", objectiveID)
	}
	return Get[[]domain.KeyResult](ctx, c, c.workspacePath("key-results"), q)
}

func (c *Client) CreateKeyResult(ctx context.Context, in domain.CreateKeyResult) (Envelope[domain.KeyResult], error) {
	return Post[domain.KeyResult](ctx, c, c.workspacePath("key-results"), in)
}

func (c *Client) UpdateKeyResult(ctx context.Context, id string, u domain.KeyResultUpdate) (Envelope[domain.KeyResult], error) {
	return Put[domain.KeyResult](ctx, c, c.workspacePath("key-results/"+url.PathEscape(id)), u)
}

func (c *Client) DeleteKeyResult(ctx context.Context, id string) (Envelope[domain.KeyResult], error) {
	return Remove[domain.KeyResult](ctx, c, c.workspacePath("key-results/"+url.PathEscape(id)), nil)
}

func (c *Client) ListObjectiveStatuses(ctx context.Context) (Envelope[[]domain.ObjectiveStatus], error) {
	return Get[[]domain.ObjectiveStatus](ctx, c, c.workspacePath("objective-statuses"), nil)
}

func (c *Client) CreateObjectiveStatus(ctx context.Context, in domain.CreateObjectiveStatus) (Envelope[domain.ObjectiveStatus], error) {
	return Post[domain.ObjectiveStatus](ctx, c, c.workspacePath("objective-statuses"), in)
}

func (c *Client) UpdateObjectiveStatus(ctx context.Context, id string, u domain.ObjectiveStatusUpdate) (Envelope[domain.ObjectiveStatus], error) {
	return Put[domain.ObjectiveStatus](ctx, c, c.workspacePath("objective-statuses/"+url.PathEscape(id)), u)
}

func (c *Client) DeleteObjectiveStatus(ctx context.Context, id string) (Envelope[domain.ObjectiveStatus], error) {
	return Remove[domain.ObjectiveStatus](ctx, c, c.workspacePath("objective-statuses/"+url.PathEscape(id)), nil)
}

type Health struct {
	Status string `json:"status"`
}

func (c *Client) Health(ctx context.Context) (Envelope[Health], error) {
	return Get[Health](ctx, c, "v0/health", nil)
}

type Token struct {
	Token string `json:"token"`
}

// DevLogin asks a server running with dev auth for a signed token.
func (c *Client) DevLogin(ctx context.Context, userID, workspaceID string) (Envelope[Token], error) {
	body := map[string]string{"user_id": userID, "workspace_id": workspaceID}
	return Post[Token](ctx, c, "v0/auth/dev/login", body)
}

// Event is an audit record as served by the events endpoint.
type Event struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id,omitempty"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
}

// ListEvents returns the newest audit events, optionally narrowed to one entity.
func (c *Client) ListEvents(ctx context.Context, entityKind, entityID string, limit int) (Envelope[[]Event], error) {
	q := url.Values{}
	if entityKind != "" {
		q.Set("entity_kind", entityKind)
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return Get[[]Event](ctx, c, c.workspacePath("events"), q)
}
