package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"storyline/internal/config"
	"storyline/internal/db"
	"storyline/internal/domain"
	"storyline/internal/engine"
	"storyline/internal/migrate"
	"storyline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Scope  engine.Scope
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), db.DefaultName))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ws-1")
	eng := engine.New(conn, cfg, nil)
	eng.Now = func() time.Time { return epoch }
	return &testEnv{Engine: eng, Ctx: ctx, Scope: engine.Scope{WorkspaceID: "ws-1", ActorID: "tester"}}
}

func (env *testEnv) story(t *testing.T, title, team string, parent *string) domain.DetailedStory {
	t.Helper()
	s, err := env.Engine.CreateStory(env.Ctx, env.Scope, domain.CreateStory{
		Title:    title,
		TeamID:   team,
		StatusID: "todo",
		ParentID: parent,
	})
	if err != nil {
		t.Fatalf("create story %q: %v", title, err)
	}
	return s
}

func TestCreateStoryAssignsSequencePerTeam(t *testing.T) {
	env := newTestEnv(t)
	a1 := env.story(t, "first", "team-a", nil)
	a2 := env.story(t, "second", "team-a", nil)
	b1 := env.story(t, "other", "team-b", nil)
	if a1.SequenceID != 1 || a2.SequenceID != 2 {
		t.Fatalf("team-a sequence = %d,%d", a1.SequenceID, a2.SequenceID)
	}
	if b1.SequenceID != 1 {
		t.Fatalf("team-b sequence = %d", b1.SequenceID)
	}
	if a1.Priority != domain.PriorityNone {
		t.Fatalf("default priority = %q", a1.Priority)
	}
	if a1.ReporterID != "tester" || a1.CreatedBy != "tester" {
		t.Fatalf("reporter/creator = %q/%q", a1.ReporterID, a1.CreatedBy)
	}
}

func TestCreateStoryValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateStory(env.Ctx, env.Scope, domain.CreateStory{TeamID: "t", StatusID: "todo"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "title" {
		t.Fatalf("expected title validation error, got %v", err)
	}
	_, err = env.Engine.CreateStory(env.Ctx, env.Scope, domain.CreateStory{Title: "x", TeamID: "t", StatusID: "todo", Priority: "critical"})
	if !errors.As(err, &ve) || ve.Field != "priority" {
		t.Fatalf("expected priority validation error, got %v", err)
	}
	_, err = env.Engine.CreateStory(env.Ctx, env.Scope, domain.CreateStory{
		Title: "x", TeamID: "t", StatusID: "todo",
		Links: []domain.StoryLink{{Type: "mentions", StoryID: "y"}},
	})
	if !errors.As(err, &ve) || ve.Field != "links" {
		t.Fatalf("expected links validation error, got %v", err)
	}
}

func TestOneLevelHierarchy(t *testing.T) {
	env := newTestEnv(t)
	parent := env.story(t, "parent", "team-a", nil)
	child := env.story(t, "child", "team-a", &parent.ID)

	var re engine.RuleError
	if _, err := env.Engine.CreateStory(env.Ctx, env.Scope, domain.CreateStory{
		Title: "grandchild", TeamID: "team-a", StatusID: "todo", ParentID: &child.ID,
	}); !errors.As(err, &re) {
		t.Fatalf("expected rule error for grandchild, got %v", err)
	}
	if _, err := env.Engine.CreateStory(env.Ctx, env.Scope, domain.CreateStory{
		Title: "cross team", TeamID: "team-b", StatusID: "todo", ParentID: &parent.ID,
	}); !errors.As(err, &re) {
		t.Fatalf("expected rule error for cross-team parent, got %v", err)
	}

	other := env.story(t, "other", "team-a", nil)
	if _, err := env.Engine.UpdateStory(env.Ctx, env.Scope, parent.ID, domain.StoryUpdate{ParentID: &other.ID}); !errors.As(err, &re) {
		t.Fatalf("expected rule error when a parent becomes a sub-story, got %v", err)
	}
	if _, err := env.Engine.UpdateStory(env.Ctx, env.Scope, other.ID, domain.StoryUpdate{ParentID: &other.ID}); !errors.As(err, &re) {
		t.Fatalf("expected rule error for self parent, got %v", err)
	}

	got, err := env.Engine.GetStory(env.Ctx, env.Scope, parent.ID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if len(got.SubStories) != 1 || got.SubStories[0].ID != child.ID {
		t.Fatalf("sub-stories = %+v", got.SubStories)
	}

	list, err := env.Engine.ListStories(env.Ctx, env.Scope, domain.StoryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 top-level stories, got %d", len(list))
	}
	if list[0].ID != parent.ID || len(list[0].SubStories) != 1 {
		t.Fatalf("expected parent first with nested child, got %+v", list[0])
	}

	flat, err := env.Engine.ListStories(env.Ctx, env.Scope, domain.StoryFilter{ParentID: parent.ID})
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(flat) != 1 || flat[0].ID != child.ID {
		t.Fatalf("children = %+v", flat)
	}
}

func TestUpdateClearsNullableReference(t *testing.T) {
	env := newTestEnv(t)
	s := env.story(t, "story", "team-a", nil)
	assignee := "alice"
	s2, err := env.Engine.UpdateStory(env.Ctx, env.Scope, s.ID, domain.StoryUpdate{AssigneeID: &assignee})
	if err != nil || s2.AssigneeID == nil || *s2.AssigneeID != "alice" {
		t.Fatalf("assign: %v %+v", err, s2.AssigneeID)
	}
	empty := ""
	s3, err := env.Engine.UpdateStory(env.Ctx, env.Scope, s.ID, domain.StoryUpdate{AssigneeID: &empty})
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if s3.AssigneeID != nil {
		t.Fatalf("expected cleared assignee, got %q", *s3.AssigneeID)
	}
	stored, err := env.Engine.GetStory(env.Ctx, env.Scope, s.ID)
	if err != nil || stored.AssigneeID != nil {
		t.Fatalf("stored assignee: %v %+v", err, stored.AssigneeID)
	}
}

func TestBulkUpdateIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	a := env.story(t, "a", "team-a", nil)
	b := env.story(t, "b", "team-a", nil)
	high := domain.PriorityHigh

	_, err := env.Engine.BulkUpdateStories(env.Ctx, env.Scope, []string{a.ID, "missing"}, domain.StoryUpdate{Priority: &high})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	got, _ := env.Engine.GetStory(env.Ctx, env.Scope, a.ID)
	if got.Priority != domain.PriorityNone {
		t.Fatalf("partial bulk update leaked: %q", got.Priority)
	}

	out, err := env.Engine.BulkUpdateStories(env.Ctx, env.Scope, []string{a.ID, b.ID}, domain.StoryUpdate{Priority: &high})
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	if len(out) != 2 || out[0].Priority != high || out[1].Priority != high {
		t.Fatalf("bulk result = %+v", out)
	}
}

func TestDeleteArchiveRestoreCascade(t *testing.T) {
	env := newTestEnv(t)
	parent := env.story(t, "parent", "team-a", nil)
	env.story(t, "child", "team-a", &parent.ID)
	keep := env.story(t, "keep", "team-a", nil)

	deleted, err := env.Engine.DeleteStory(env.Ctx, env.Scope, parent.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.DeletedAt == nil {
		t.Fatalf("expected deleted_at on returned story")
	}
	list, _ := env.Engine.ListStories(env.Ctx, env.Scope, domain.StoryFilter{})
	if len(list) != 1 || list[0].ID != keep.ID {
		t.Fatalf("expected only kept story listed, got %+v", list)
	}
	children, _ := env.Engine.ListStories(env.Ctx, env.Scope, domain.StoryFilter{ParentID: parent.ID})
	if len(children) != 0 {
		t.Fatalf("expected child hidden with its parent, got %d", len(children))
	}

	if _, err := env.Engine.RestoreStories(env.Ctx, env.Scope, []string{parent.ID}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	list, _ = env.Engine.ListStories(env.Ctx, env.Scope, domain.StoryFilter{})
	if len(list) != 2 {
		t.Fatalf("expected 2 stories after restore, got %d", len(list))
	}

	if _, err := env.Engine.ArchiveStories(env.Ctx, env.Scope, []string{keep.ID, keep.ID}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	list, _ = env.Engine.ListStories(env.Ctx, env.Scope, domain.StoryFilter{})
	if len(list) != 1 || list[0].ID != parent.ID {
		t.Fatalf("expected archived story hidden, got %+v", list)
	}

	if _, err := env.Engine.DeleteStories(env.Ctx, env.Scope, []string{keep.ID, "missing"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestPurgeDeletedHonorsRetention(t *testing.T) {
	env := newTestEnv(t)
	old := env.story(t, "old", "team-a", nil)
	if _, err := env.Engine.DeleteStory(env.Ctx, env.Scope, old.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	n, err := env.Engine.PurgeDeleted(env.Ctx, "system")
	if err != nil || n != 0 {
		t.Fatalf("purge inside retention: %d %v", n, err)
	}

	env.Engine.Now = func() time.Time { return epoch.AddDate(0, 0, 31) }
	n, err = env.Engine.PurgeDeleted(env.Ctx, "system")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged story, got %d", n)
	}
	if _, err := env.Engine.GetStory(env.Ctx, env.Scope, old.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected purged story gone, got %v", err)
	}
	if _, err := env.Engine.RestoreStories(env.Ctx, env.Scope, []string{old.ID}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected restore of purged story to fail, got %v", err)
	}
}

func TestGroupedStoriesPagination(t *testing.T) {
	env := newTestEnv(t)
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		env.story(t, title, "team-a", nil)
	}
	groups, err := env.Engine.GroupedStories(env.Ctx, env.Scope, domain.StoryFilter{}, domain.GroupByStatus, 2)
	if err != nil {
		t.Fatalf("grouped: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected one status group, got %d", len(groups))
	}
	g := groups[0]
	if g.Key != "todo" || len(g.Stories) != 2 || g.LoadedCount != 2 || g.TotalCount != 5 || !g.HasMore || g.NextPage != 2 {
		t.Fatalf("first page = %+v", g)
	}

	last, err := env.Engine.StoryGroupPage(env.Ctx, env.Scope, domain.StoryFilter{}, domain.GroupByStatus, "todo", 3, 2)
	if err != nil {
		t.Fatalf("group page: %v", err)
	}
	if len(last.Stories) != 1 || last.LoadedCount != 5 || last.HasMore || last.NextPage != 0 {
		t.Fatalf("last page = %+v", last)
	}

	byPriority, err := env.Engine.GroupedStories(env.Ctx, env.Scope, domain.StoryFilter{}, domain.GroupByPriority, 2)
	if err != nil {
		t.Fatalf("grouped by priority: %v", err)
	}
	if len(byPriority) != len(domain.Priorities) {
		t.Fatalf("expected every priority group, got %d", len(byPriority))
	}
	if byPriority[0].Key != string(domain.PriorityUrgent) || byPriority[0].TotalCount != 0 {
		t.Fatalf("urgent group = %+v", byPriority[0])
	}

	byAssignee, err := env.Engine.GroupedStories(env.Ctx, env.Scope, domain.StoryFilter{}, domain.GroupByAssignee, 10)
	if err != nil {
		t.Fatalf("grouped by assignee: %v", err)
	}
	if len(byAssignee) != 1 || byAssignee[0].Key != domain.GroupKeyUnassigned || byAssignee[0].TotalCount != 5 {
		t.Fatalf("assignee groups = %+v", byAssignee)
	}

	if _, err := env.Engine.GroupedStories(env.Ctx, env.Scope, domain.StoryFilter{}, "label", 10); err == nil {
		t.Fatalf("expected error for unknown grouping")
	}

	page, err := env.Engine.StoriesPage(env.Ctx, env.Scope, domain.StoryFilter{}, 2, 2)
	if err != nil {
		t.Fatalf("stories page: %v", err)
	}
	if page.Page != 2 || len(page.Stories) != 2 || page.TotalCount != 5 || !page.HasMore {
		t.Fatalf("page = %+v", page)
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	env := newTestEnv(t)
	s := env.story(t, "mine", "team-a", nil)
	other := engine.Scope{WorkspaceID: "ws-2", ActorID: "intruder"}
	if _, err := env.Engine.GetStory(env.Ctx, other, s.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found across workspaces, got %v", err)
	}
	list, err := env.Engine.ListStories(env.Ctx, other, domain.StoryFilter{})
	if err != nil || len(list) != 0 {
		t.Fatalf("foreign list = %v %+v", err, list)
	}
}

func TestDeleteObjectiveUnlinksStories(t *testing.T) {
	env := newTestEnv(t)
	obj, err := env.Engine.CreateObjective(env.Ctx, env.Scope, domain.CreateObjective{Name: "Grow"})
	if err != nil {
		t.Fatalf("create objective: %v", err)
	}
	s, err := env.Engine.CreateStory(env.Ctx, env.Scope, domain.CreateStory{Title: "linked", TeamID: "team-a", StatusID: "todo", ObjectiveID: &obj.ID})
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	kr, err := env.Engine.CreateKeyResult(env.Ctx, env.Scope, domain.CreateKeyResult{
		ObjectiveID: obj.ID, Name: "Signups", MeasurementType: domain.MeasureNumber, StartValue: 0, CurrentValue: 25, TargetValue: 100,
	})
	if err != nil {
		t.Fatalf("create key result: %v", err)
	}

	if _, err := env.Engine.DeleteObjective(env.Ctx, env.Scope, obj.ID); err != nil {
		t.Fatalf("delete objective: %v", err)
	}
	got, err := env.Engine.GetStory(env.Ctx, env.Scope, s.ID)
	if err != nil {
		t.Fatalf("get story: %v", err)
	}
	if got.ObjectiveID != nil {
		t.Fatalf("expected objective unlinked, got %q", *got.ObjectiveID)
	}
	if _, err := env.Engine.GetObjective(env.Ctx, env.Scope, obj.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected objective gone, got %v", err)
	}
	if _, err := env.Engine.UpdateKeyResult(env.Ctx, env.Scope, kr.ID, domain.KeyResultUpdate{}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected key result removed with objective, got %v", err)
	}
}

func TestKeyResultProgress(t *testing.T) {
	env := newTestEnv(t)
	obj, err := env.Engine.CreateObjective(env.Ctx, env.Scope, domain.CreateObjective{Name: "Ship"})
	if err != nil {
		t.Fatalf("create objective: %v", err)
	}
	if _, err := env.Engine.CreateKeyResult(env.Ctx, env.Scope, domain.CreateKeyResult{
		ObjectiveID: obj.ID, Name: "Done", MeasurementType: domain.MeasureBoolean, CurrentValue: 2, TargetValue: 1,
	}); err == nil {
		t.Fatalf("expected boolean key result with current value 2 to be rejected")
	}
	kr, err := env.Engine.CreateKeyResult(env.Ctx, env.Scope, domain.CreateKeyResult{
		ObjectiveID: obj.ID, Name: "Coverage", MeasurementType: domain.MeasureNumber, StartValue: 40, CurrentValue: 40, TargetValue: 80,
	})
	if err != nil {
		t.Fatalf("create key result: %v", err)
	}
	current := 60.0
	kr, err = env.Engine.UpdateKeyResult(env.Ctx, env.Scope, kr.ID, domain.KeyResultUpdate{CurrentValue: &current})
	if err != nil {
		t.Fatalf("update key result: %v", err)
	}
	if kr.Progress() != 50 {
		t.Fatalf("progress = %d", kr.Progress())
	}
	got, err := env.Engine.GetObjective(env.Ctx, env.Scope, obj.ID)
	if err != nil {
		t.Fatalf("get objective: %v", err)
	}
	if len(got.KeyResults) != 1 || got.Progress() != 50 {
		t.Fatalf("objective progress = %d with %d key results", got.Progress(), len(got.KeyResults))
	}
}

func TestSeedObjectiveStatusesOnce(t *testing.T) {
	env := newTestEnv(t)
	seeds := env.Engine.Config.ObjectiveStatuses
	n, err := env.Engine.SeedObjectiveStatuses(env.Ctx, env.Scope, seeds)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != len(seeds) || n == 0 {
		t.Fatalf("seeded %d of %d", n, len(seeds))
	}
	again, err := env.Engine.SeedObjectiveStatuses(env.Ctx, env.Scope, seeds)
	if err != nil || again != 0 {
		t.Fatalf("second seed = %d %v", again, err)
	}
	statuses, err := env.Engine.ListObjectiveStatuses(env.Ctx, env.Scope)
	if err != nil {
		t.Fatalf("list statuses: %v", err)
	}
	if len(statuses) != len(seeds) || statuses[0].Name != seeds[0].Name {
		t.Fatalf("statuses = %+v", statuses)
	}

	var ve engine.ValidationError
	bogus := "nope"
	if _, err := env.Engine.CreateObjective(env.Ctx, env.Scope, domain.CreateObjective{Name: "x", StatusID: &bogus}); !errors.As(err, &ve) {
		t.Fatalf("expected unknown status rejected, got %v", err)
	}
}

func TestMutationsAppendEvents(t *testing.T) {
	env := newTestEnv(t)
	s := env.story(t, "audited", "team-a", nil)
	title := "renamed"
	if _, err := env.Engine.UpdateStory(env.Ctx, env.Scope, s.ID, domain.StoryUpdate{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.Engine.DeleteStory(env.Ctx, env.Scope, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, env.Scope, "story", s.ID, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	want := []string{"story.deleted", "story.updated", "story.created"}
	if len(evts) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(evts))
	}
	for i, typ := range want {
		if evts[i].Type != typ || evts[i].ActorID != "tester" || evts[i].WorkspaceID != "ws-1" {
			t.Fatalf("event %d = %+v, want type %s", i, evts[i], typ)
		}
	}
}

func TestAPIKeysRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, env.Scope, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	if err != nil || found.ID != key.ID || found.UserID != "tester" {
		t.Fatalf("lookup by hash = %+v %v", found, err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected revoked key gone, got %v", err)
	}
}
