package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"storyline/internal/domain"
	"storyline/internal/engine"
)

var storyErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type StoryListInput struct {
	WorkspaceID string `path:"workspace_id"`
	domain.StoryFilter
}

type GroupedInput struct {
	WorkspaceID string `path:"workspace_id"`
	domain.StoryFilter
	GroupBy  string `query:"group_by" enum:"status,priority,assignee,none" default:"status"`
	PageSize int    `query:"page_size" minimum:"0" maximum:"200"`
}

func registerStories(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stories",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/stories",
		Summary:     "List stories",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *StoryListInput) (*dataOutput[[]domain.Story], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		items, err := e.ListStories(ctx, sc, input.StoryFilter)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grouped-stories",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/stories/grouped",
		Summary:     "First page of every story group",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *GroupedInput) (*dataOutput[[]domain.StoryGroup], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		groups, err := e.GroupedStories(ctx, sc, input.StoryFilter, domain.GroupBy(input.GroupBy), input.PageSize)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(groups), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "story-group-page",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/stories/grouped/{group_key}",
		Summary:     "One page of a story group",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *struct {
		GroupedInput
		GroupKey string `path:"group_key"`
		Page     int    `query:"page" minimum:"1" default:"1"`
	}) (*dataOutput[domain.StoryGroup], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		group, err := e.StoryGroupPage(ctx, sc, input.StoryFilter, domain.GroupBy(input.GroupBy), input.GroupKey, input.Page, input.PageSize)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(group), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "paged-stories",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/stories/paged",
		Summary:     "One page of the story list",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *struct {
		StoryListInput
		Page     int `query:"page" minimum:"1" default:"1"`
		PageSize int `query:"page_size" minimum:"0" maximum:"200"`
	}) (*dataOutput[domain.StoryPage], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		page, err := e.StoriesPage(ctx, sc, input.StoryFilter, input.Page, input.PageSize)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(page), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-story",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/stories/{id}",
		Summary:     "Get story",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *IDPath) (*dataOutput[domain.DetailedStory], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		s, err := e.GetStory(ctx, sc, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-story",
		Method:        http.MethodPost,
		Path:          "/workspaces/{workspace_id}/stories",
		Summary:       "Create story",
		DefaultStatus: http.StatusCreated,
		Errors:        storyErrors,
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		Body        domain.CreateStory
	}) (*dataOutput[domain.DetailedStory], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		s, err := e.CreateStory(ctx, sc, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-story",
		Method:      http.MethodPut,
		Path:        "/workspaces/{workspace_id}/stories/{id}",
		Summary:     "Update story",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *struct {
		IDPath
		Body domain.StoryUpdate
	}) (*dataOutput[domain.DetailedStory], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		s, err := e.UpdateStory(ctx, sc, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-story",
		Method:      http.MethodDelete,
		Path:        "/workspaces/{workspace_id}/stories/{id}",
		Summary:     "Soft-delete story",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *IDPath) (*dataOutput[domain.DetailedStory], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		s, err := e.DeleteStory(ctx, sc, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-update-stories",
		Method:      http.MethodPut,
		Path:        "/workspaces/{workspace_id}/stories",
		Summary:     "Apply one update to many stories",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		Body        BulkUpdateRequest
	}) (*dataOutput[[]domain.Story], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		items, err := e.BulkUpdateStories(ctx, sc, input.Body.IDs, input.Body.Update)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(items), nil
	})

	registerStoryIDsOp(api, "bulk-delete-stories", http.MethodDelete, "/workspaces/{workspace_id}/stories", "Soft-delete many stories", e.DeleteStories)
	registerStoryIDsOp(api, "archive-stories", http.MethodPost, "/workspaces/{workspace_id}/stories/archive", "Archive stories", e.ArchiveStories)
	registerStoryIDsOp(api, "restore-stories", http.MethodPost, "/workspaces/{workspace_id}/stories/restore", "Restore deleted or archived stories", e.RestoreStories)
}

func registerStoryIDsOp(api huma.API, id, method, path, summary string, run func(context.Context, engine.Scope, []string) (domain.IDs, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      method,
		Path:        path,
		Summary:     summary,
		Errors:      storyErrors,
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		Body        IDsRequest
	}) (*dataOutput[domain.IDs], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		out, err := run(ctx, sc, input.Body.IDs)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(out), nil
	})
}
