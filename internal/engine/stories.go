package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"storyline/internal/domain"
	"storyline/internal/events"
	"storyline/internal/repo"
)

var linkTypes = map[string]bool{"blocks": true, "blocked_by": true, "related": true, "duplicates": true}

func validateLinks(links []domain.StoryLink) error {
	for _, l := range links {
		if !linkTypes[l.Type] {
			return ValidationError{Field: "links", Message: "unknown link type " + l.Type}
		}
		if l.StoryID == "" {
			return ValidationError{Field: "links", Message: "story_id is required"}
		}
	}
	return nil
}

// liveStory loads a story of the workspace, treating foreign ids as missing.
func (e Engine) liveStory(ctx context.Context, tx *sql.Tx, sc Scope, id string) (domain.DetailedStory, error) {
	s, err := e.Repo.GetStory(ctx, tx, id)
	if err != nil {
		return s, err
	}
	if s.WorkspaceID != sc.WorkspaceID {
		return s, repo.ErrNotFound
	}
	return s, nil
}

// checkParent enforces the one-level hierarchy: the parent must be a live
// top-level story of the same team, and the child must have no children.
func (e Engine) checkParent(ctx context.Context, tx *sql.Tx, sc Scope, childID, teamID, parentID string) error {
	if parentID == childID {
		return RuleError{Message: "a story cannot be its own parent"}
	}
	parent, err := e.liveStory(ctx, tx, sc, parentID)
	if errors.Is(err, repo.ErrNotFound) {
		return RuleError{Message: "parent story " + parentID + " not found"}
	}
	if err != nil {
		return err
	}
	if parent.DeletedAt != nil || parent.ArchivedAt != nil {
		return RuleError{Message: "parent story " + parentID + " is not active"}
	}
	if parent.ParentID != nil {
		return RuleError{Message: "sub-stories cannot have sub-stories"}
	}
	if parent.TeamID != teamID {
		return RuleError{Message: "parent story belongs to another team"}
	}
	if childID == "" {
		return nil
	}
	n, err := e.Repo.CountChildren(ctx, tx, childID)
	if err != nil {
		return err
	}
	if n > 0 {
		return RuleError{Message: "a story with sub-stories cannot become a sub-story"}
	}
	return nil
}

func (e Engine) GetStory(ctx context.Context, sc Scope, id string) (domain.DetailedStory, error) {
	s, err := e.liveStory(ctx, nil, sc, id)
	if err != nil {
		return s, err
	}
	subs, err := e.Repo.ListStories(ctx, repo.StoryFilters{WorkspaceID: sc.WorkspaceID, ParentIDs: []string{id}})
	if err != nil {
		return s, err
	}
	s.SubStories = subs
	return s, nil
}

func (e Engine) CreateStory(ctx context.Context, sc Scope, in domain.CreateStory) (domain.DetailedStory, error) {
	if strings.TrimSpace(in.Title) == "" {
		return domain.DetailedStory{}, ValidationError{Field: "title", Message: "title is required"}
	}
	if in.TeamID == "" {
		return domain.DetailedStory{}, ValidationError{Field: "team_id", Message: "team_id is required"}
	}
	if in.StatusID == "" {
		return domain.DetailedStory{}, ValidationError{Field: "status_id", Message: "status_id is required"}
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityNone
	}
	if !in.Priority.Valid() {
		return domain.DetailedStory{}, ValidationError{Field: "priority", Message: "unknown priority " + string(in.Priority)}
	}
	if err := validateLinks(in.Links); err != nil {
		return domain.DetailedStory{}, err
	}
	reporter := in.ReporterID
	if reporter == "" {
		reporter = sc.ActorID
	}
	now := e.stamp()
	s := domain.DetailedStory{
		Story: domain.Story{
			ID:          newID(),
			Title:       strings.TrimSpace(in.Title),
			StatusID:    in.StatusID,
			Priority:    in.Priority,
			WorkspaceID: sc.WorkspaceID,
			TeamID:      in.TeamID,
			SprintID:    in.SprintID,
			ObjectiveID: in.ObjectiveID,
			EpicID:      in.EpicID,
			ParentID:    in.ParentID,
			AssigneeID:  in.AssigneeID,
			ReporterID:  reporter,
			CreatedBy:   sc.ActorID,
			Labels:      append([]string{}, in.Labels...),
			StartDate:   in.StartDate,
			EndDate:     in.EndDate,
			CreatedAt:   now,
			UpdatedAt:   now,
			SubStories:  []domain.Story{},
		},
		Description:     in.Description,
		DescriptionHTML: in.DescriptionHTML,
		Links:           append([]domain.StoryLink{}, in.Links...),
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if s.ParentID != nil && *s.ParentID != "" {
			if err := e.checkParent(ctx, tx, sc, "", s.TeamID, *s.ParentID); err != nil {
				return err
			}
		}
		seq, err := e.Repo.NextSequence(ctx, tx, s.TeamID)
		if err != nil {
			return err
		}
		s.SequenceID = seq
		if err := e.Repo.InsertStory(ctx, tx, s); err != nil {
			return err
		}
		return e.record(ctx, tx, sc, "story.created", "story", s.ID, events.Payload{"title": s.Title, "team_id": s.TeamID, "sequence_id": s.SequenceID})
	})
	if err != nil {
		return domain.DetailedStory{}, err
	}
	return s, nil
}

func (e Engine) applyUpdate(ctx context.Context, tx *sql.Tx, sc Scope, id string, u domain.StoryUpdate) (domain.DetailedStory, error) {
	s, err := e.liveStory(ctx, tx, sc, id)
	if err != nil {
		return s, err
	}
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return s, ValidationError{Field: "title", Message: "title cannot be empty"}
	}
	if u.StatusID != nil && *u.StatusID == "" {
		return s, ValidationError{Field: "status_id", Message: "status_id cannot be empty"}
	}
	if u.Priority != nil && !u.Priority.Valid() {
		return s, ValidationError{Field: "priority", Message: "unknown priority " + string(*u.Priority)}
	}
	if u.ParentID != nil && *u.ParentID != "" && (s.ParentID == nil || *s.ParentID != *u.ParentID) {
		if err := e.checkParent(ctx, tx, sc, s.ID, s.TeamID, *u.ParentID); err != nil {
			return s, err
		}
	}
	s = u.ApplyDetail(s)
	s.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateStory(ctx, tx, s); err != nil {
		return s, err
	}
	return s, e.record(ctx, tx, sc, "story.updated", "story", s.ID, events.Payload{"update": u})
}

func (e Engine) UpdateStory(ctx context.Context, sc Scope, id string, u domain.StoryUpdate) (domain.DetailedStory, error) {
	var out domain.DetailedStory
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		s, err := e.applyUpdate(ctx, tx, sc, id, u)
		out = s
		return err
	})
	if err != nil {
		return domain.DetailedStory{}, err
	}
	return out, nil
}

// BulkUpdateStories applies the same update to every id or to none.
func (e Engine) BulkUpdateStories(ctx context.Context, sc Scope, ids []string, u domain.StoryUpdate) ([]domain.Story, error) {
	if len(ids) == 0 {
		return nil, ValidationError{Field: "ids", Message: "at least one id is required"}
	}
	out := make([]domain.Story, 0, len(ids))
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			s, err := e.applyUpdate(ctx, tx, sc, id, u)
			if err != nil {
				return err
			}
			out = append(out, s.Story)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e Engine) requireStories(ctx context.Context, tx *sql.Tx, sc Scope, ids []string) error {
	if len(ids) == 0 {
		return ValidationError{Field: "ids", Message: "at least one id is required"}
	}
	found, err := e.Repo.ExistingStories(ctx, tx, sc.WorkspaceID, ids)
	if err != nil {
		return err
	}
	if len(found) != len(dedupe(ids)) {
		return repo.ErrNotFound
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (e Engine) mark(ctx context.Context, sc Scope, column, evt string, ids []string) (domain.IDs, error) {
	ids = dedupe(ids)
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireStories(ctx, tx, sc, ids); err != nil {
			return err
		}
		if err := e.Repo.MarkStories(ctx, tx, column, ids, e.stamp()); err != nil {
			return err
		}
		for _, id := range ids {
			if err := e.record(ctx, tx, sc, evt, "story", id, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.IDs{}, err
	}
	return domain.IDs{IDs: ids}, nil
}

// DeleteStory soft-deletes a story together with its sub-stories.
func (e Engine) DeleteStory(ctx context.Context, sc Scope, id string) (domain.DetailedStory, error) {
	if _, err := e.mark(ctx, sc, "deleted_at", "story.deleted", []string{id}); err != nil {
		return domain.DetailedStory{}, err
	}
	return e.liveStory(ctx, nil, sc, id)
}

func (e Engine) DeleteStories(ctx context.Context, sc Scope, ids []string) (domain.IDs, error) {
	return e.mark(ctx, sc, "deleted_at", "story.deleted", ids)
}

func (e Engine) ArchiveStories(ctx context.Context, sc Scope, ids []string) (domain.IDs, error) {
	return e.mark(ctx, sc, "archived_at", "story.archived", ids)
}

// RestoreStories brings deleted or archived stories back.
func (e Engine) RestoreStories(ctx context.Context, sc Scope, ids []string) (domain.IDs, error) {
	ids = dedupe(ids)
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireStories(ctx, tx, sc, ids); err != nil {
			return err
		}
		if err := e.Repo.RestoreStories(ctx, tx, ids, e.stamp()); err != nil {
			return err
		}
		for _, id := range ids {
			if err := e.record(ctx, tx, sc, "story.restored", "story", id, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.IDs{}, err
	}
	return domain.IDs{IDs: ids}, nil
}

// ListStories returns live stories. Without a parent filter the result holds
// top-level stories with their sub-stories nested; with one it is the flat
// list of that story's children.
func (e Engine) ListStories(ctx context.Context, sc Scope, f domain.StoryFilter) ([]domain.Story, error) {
	if f.ParentID != "" {
		return e.Repo.ListStories(ctx, repo.StoryFilters{WorkspaceID: sc.WorkspaceID, StoryFilter: f})
	}
	top, err := e.Repo.ListStories(ctx, repo.StoryFilters{WorkspaceID: sc.WorkspaceID, StoryFilter: f, TopLevel: true})
	if err != nil || len(top) == 0 {
		return top, err
	}
	ids := make([]string, len(top))
	index := make(map[string]int, len(top))
	for i, s := range top {
		ids[i] = s.ID
		index[s.ID] = i
	}
	subs, err := e.Repo.ListStories(ctx, repo.StoryFilters{WorkspaceID: sc.WorkspaceID, ParentIDs: ids})
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		i := index[*sub.ParentID]
		top[i].SubStories = append(top[i].SubStories, sub)
	}
	return top, nil
}

func (e Engine) pageSize(n int) int {
	if n > 0 {
		return n
	}
	if e.Config != nil && e.Config.Server.PageSize > 0 {
		return e.Config.Server.PageSize
	}
	return 50
}

// groupOrder returns the group keys in display order.
func groupOrder(by domain.GroupBy, buckets map[string][]domain.Story, seen []string) []string {
	switch by {
	case domain.GroupByPriority:
		keys := make([]string, 0, len(domain.Priorities))
		for _, p := range domain.Priorities {
			keys = append(keys, string(p))
		}
		return keys
	case domain.GroupByAssignee:
		keys := make([]string, 0, len(buckets))
		for k := range buckets {
			if k != domain.GroupKeyUnassigned {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		return append(keys, domain.GroupKeyUnassigned)
	case domain.GroupByNone:
		return []string{domain.GroupKeyAll}
	default:
		return seen
	}
}

func pageOf(stories []domain.Story, page, size int) ([]domain.Story, bool) {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(stories) {
		return []domain.Story{}, false
	}
	end := start + size
	if end > len(stories) {
		end = len(stories)
	}
	return append([]domain.Story{}, stories[start:end]...), end < len(stories)
}

func buildGroup(key string, stories []domain.Story, page, size int) domain.StoryGroup {
	if page < 1 {
		page = 1
	}
	items, more := pageOf(stories, page, size)
	loaded := page * size
	if loaded > len(stories) {
		loaded = len(stories)
	}
	g := domain.StoryGroup{Key: key, Stories: items, LoadedCount: loaded, TotalCount: len(stories), HasMore: more}
	if more {
		g.NextPage = page + 1
	}
	return g
}

func (e Engine) bucket(ctx context.Context, sc Scope, f domain.StoryFilter, by domain.GroupBy) (map[string][]domain.Story, []string, error) {
	if !by.Valid() {
		return nil, nil, ValidationError{Field: "group_by", Message: "unknown grouping " + string(by)}
	}
	stories, err := e.ListStories(ctx, sc, f)
	if err != nil {
		return nil, nil, err
	}
	buckets := map[string][]domain.Story{}
	var seen []string
	for _, s := range stories {
		k := domain.GroupKey(s, by)
		if _, ok := buckets[k]; !ok {
			seen = append(seen, k)
		}
		buckets[k] = append(buckets[k], s)
	}
	return buckets, seen, nil
}

// GroupedStories returns the first page of every group. Priority and
// assignee groupings include empty groups so clients have a target to move
// stories into.
func (e Engine) GroupedStories(ctx context.Context, sc Scope, f domain.StoryFilter, by domain.GroupBy, pageSize int) ([]domain.StoryGroup, error) {
	buckets, seen, err := e.bucket(ctx, sc, f, by)
	if err != nil {
		return nil, err
	}
	size := e.pageSize(pageSize)
	keys := groupOrder(by, buckets, seen)
	groups := make([]domain.StoryGroup, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, buildGroup(k, buckets[k], 1, size))
	}
	return groups, nil
}

func (e Engine) StoryGroupPage(ctx context.Context, sc Scope, f domain.StoryFilter, by domain.GroupBy, key string, page, pageSize int) (domain.StoryGroup, error) {
	buckets, _, err := e.bucket(ctx, sc, f, by)
	if err != nil {
		return domain.StoryGroup{}, err
	}
	return buildGroup(key, buckets[key], page, e.pageSize(pageSize)), nil
}

func (e Engine) StoriesPage(ctx context.Context, sc Scope, f domain.StoryFilter, page, pageSize int) (domain.StoryPage, error) {
	stories, err := e.ListStories(ctx, sc, f)
	if err != nil {
		return domain.StoryPage{}, err
	}
	if page < 1 {
		page = 1
	}
	items, more := pageOf(stories, page, e.pageSize(pageSize))
	return domain.StoryPage{Stories: items, Page: page, TotalCount: len(stories), HasMore: more}, nil
}
