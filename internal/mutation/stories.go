package mutation

import (
	"context"
	"time"

	"storyline/internal/analytics"
	"storyline/internal/api"
	"storyline/internal/domain"
	"storyline/internal/notify"
	"storyline/internal/querykey"
	"storyline/internal/reconcile"
)

var storyKinds = []querykey.Kind{querykey.KindStories}

type UpdateStoryInput struct {
	ID     string
	Update domain.StoryUpdate
}

type MoveStoryInput struct {
	ID       string
	StatusID string
}

// Stories groups the story mutations. Delete, archive and bulk delete offer
// an undo that runs Restore.
type Stories struct {
	Create     *Mutation[domain.CreateStory, domain.DetailedStory]
	Update     *Mutation[UpdateStoryInput, domain.DetailedStory]
	Move       *Mutation[MoveStoryInput, domain.DetailedStory]
	Delete     *Mutation[string, domain.DetailedStory]
	Restore    *Mutation[[]string, domain.IDs]
	Archive    *Mutation[[]string, domain.IDs]
	BulkUpdate *Mutation[domain.BulkUpdate, []domain.Story]
	BulkDelete *Mutation[[]string, domain.IDs]
}

func applyStoryOp(d Deps, op reconcile.Op) {
	d.patch(storyKinds, func(k querykey.Key, data any) any {
		return reconcile.Reconcile(k, data, op)
	})
}

func stamp(d Deps) *string {
	ts := d.Now().UTC().Format(time.RFC3339)
	return &ts
}

func storyProps(d Deps, ids ...string) map[string]any {
	props := map[string]any{"workspace_id": d.workspace()}
	if len(ids) == 1 {
		props["story_id"] = ids[0]
	} else {
		props["story_ids"] = ids
		props["count"] = len(ids)
	}
	return props
}

func NewStories(deps Deps) *Stories {
	deps = deps.withDefaults()
	s := &Stories{}

	s.Restore = New(deps, Spec[[]string, domain.IDs]{
		Name:  "restore_stories",
		Kinds: storyKinds,
		Apply: func(d Deps, ids []string) func(domain.IDs) {
			for _, id := range ids {
				applyStoryOp(d, reconcile.Update{ID: id, MarkDetail: func(ds domain.DetailedStory) domain.DetailedStory {
					ds.DeletedAt = nil
					ds.ArchivedAt = nil
					return ds
				}})
			}
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, ids []string) (api.Envelope[domain.IDs], error) {
			return c.RestoreStories(ctx, ids)
		},
		Event:        analytics.StoryRestored,
		Props:        func(ids []string, _ domain.IDs) map[string]any { return storyProps(deps, ids...) },
		SuccessTitle: "Story restored",
		FailureTitle: "Failed to restore story",
	})

	undoRestore := func(ids []string) *notify.Action {
		return &notify.Action{Label: "Undo", Run: func(ctx context.Context) error {
			_, err := s.Restore.Mutate(ctx, ids)
			return err
		}}
	}

	s.Create = New(deps, Spec[domain.CreateStory, domain.DetailedStory]{
		Name:  "create_story",
		Kinds: storyKinds,
		Apply: func(d Deps, in domain.CreateStory) func(domain.DetailedStory) {
			opt := domain.NewOptimisticStory(in, d.workspace(), d.userID(), d.Now())
			applyStoryOp(d, reconcile.Insert{Story: opt.Value})
			return func(out domain.DetailedStory) {
				applyStoryOp(d, reconcile.Replace{OldID: opt.TempID, Story: out.Story})
			}
		},
		Fetch: func(ctx context.Context, c *api.Client, in domain.CreateStory) (api.Envelope[domain.DetailedStory], error) {
			return c.CreateStory(ctx, in)
		},
		Event: analytics.StoryCreated,
		Props: func(in domain.CreateStory, out domain.DetailedStory) map[string]any {
			props := storyProps(deps, out.ID)
			props["team_id"] = in.TeamID
			props["is_sub_story"] = in.ParentID != nil
			return props
		},
		SuccessTitle: "Story created",
		FailureTitle: "Failed to create story",
	})

	s.Update = New(deps, Spec[UpdateStoryInput, domain.DetailedStory]{
		Name:  "update_story",
		Kinds: storyKinds,
		Apply: func(d Deps, in UpdateStoryInput) func(domain.DetailedStory) {
			applyStoryOp(d, reconcile.UpdateFrom(in.ID, in.Update))
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, in UpdateStoryInput) (api.Envelope[domain.DetailedStory], error) {
			return c.UpdateStory(ctx, in.ID, in.Update)
		},
		Event:        analytics.StoryUpdated,
		Props:        func(in UpdateStoryInput, _ domain.DetailedStory) map[string]any { return storyProps(deps, in.ID) },
		FailureTitle: "Failed to update story",
	})

	s.Move = New(deps, Spec[MoveStoryInput, domain.DetailedStory]{
		Name:  "move_story",
		Kinds: storyKinds,
		Apply: func(d Deps, in MoveStoryInput) func(domain.DetailedStory) {
			applyStoryOp(d, reconcile.UpdateFrom(in.ID, domain.StoryUpdate{StatusID: &in.StatusID}))
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, in MoveStoryInput) (api.Envelope[domain.DetailedStory], error) {
			return c.UpdateStory(ctx, in.ID, domain.StoryUpdate{StatusID: &in.StatusID})
		},
		Event: analytics.StoryMoved,
		Props: func(in MoveStoryInput, _ domain.DetailedStory) map[string]any {
			props := storyProps(deps, in.ID)
			props["status_id"] = in.StatusID
			return props
		},
		FailureTitle: "Failed to move story",
	})

	s.Delete = New(deps, Spec[string, domain.DetailedStory]{
		Name:  "delete_story",
		Kinds: storyKinds,
		Apply: func(d Deps, id string) func(domain.DetailedStory) {
			deletedAt := stamp(d)
			applyStoryOp(d, reconcile.Remove{IDs: []string{id}, MarkDetail: func(ds domain.DetailedStory) domain.DetailedStory {
				ds.DeletedAt = deletedAt
				return ds
			}})
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, id string) (api.Envelope[domain.DetailedStory], error) {
			return c.DeleteStory(ctx, id)
		},
		Event:        analytics.StoryDeleted,
		Props:        func(id string, _ domain.DetailedStory) map[string]any { return storyProps(deps, id) },
		SuccessTitle: "Story deleted",
		FailureTitle: "Failed to delete story",
		Undo:         func(id string, _ domain.DetailedStory) *notify.Action { return undoRestore([]string{id}) },
	})

	s.Archive = New(deps, Spec[[]string, domain.IDs]{
		Name:  "archive_stories",
		Kinds: storyKinds,
		Apply: func(d Deps, ids []string) func(domain.IDs) {
			archivedAt := stamp(d)
			applyStoryOp(d, reconcile.Remove{IDs: ids, MarkDetail: func(ds domain.DetailedStory) domain.DetailedStory {
				ds.ArchivedAt = archivedAt
				return ds
			}})
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, ids []string) (api.Envelope[domain.IDs], error) {
			return c.ArchiveStories(ctx, ids)
		},
		Event:        analytics.StoryArchived,
		Props:        func(ids []string, _ domain.IDs) map[string]any { return storyProps(deps, ids...) },
		SuccessTitle: "Story archived",
		FailureTitle: "Failed to archive story",
		Undo:         func(ids []string, _ domain.IDs) *notify.Action { return undoRestore(ids) },
	})

	s.BulkUpdate = New(deps, Spec[domain.BulkUpdate, []domain.Story]{
		Name:  "bulk_update_stories",
		Kinds: storyKinds,
		Apply: func(d Deps, in domain.BulkUpdate) func([]domain.Story) {
			for _, id := range in.IDs {
				applyStoryOp(d, reconcile.UpdateFrom(id, in.Update))
			}
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, in domain.BulkUpdate) (api.Envelope[[]domain.Story], error) {
			return c.BulkUpdateStories(ctx, in.IDs, in.Update)
		},
		Event:        analytics.StoriesBulkUpdated,
		Props:        func(in domain.BulkUpdate, _ []domain.Story) map[string]any { return storyProps(deps, in.IDs...) },
		SuccessTitle: "Stories updated",
		FailureTitle: "Failed to update stories",
	})

	s.BulkDelete = New(deps, Spec[[]string, domain.IDs]{
		Name:  "bulk_delete_stories",
		Kinds: storyKinds,
		Apply: func(d Deps, ids []string) func(domain.IDs) {
			deletedAt := stamp(d)
			applyStoryOp(d, reconcile.Remove{IDs: ids, MarkDetail: func(ds domain.DetailedStory) domain.DetailedStory {
				ds.DeletedAt = deletedAt
				return ds
			}})
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, ids []string) (api.Envelope[domain.IDs], error) {
			return c.BulkDeleteStories(ctx, ids)
		},
		Event:        analytics.StoriesBulkDeleted,
		Props:        func(ids []string, _ domain.IDs) map[string]any { return storyProps(deps, ids...) },
		SuccessTitle: "Stories deleted",
		FailureTitle: "Failed to delete stories",
		Undo:         func(ids []string, _ domain.IDs) *notify.Action { return undoRestore(ids) },
	})

	return s
}
