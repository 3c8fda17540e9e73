package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"storyline/internal/domain"
	"storyline/internal/engine"
)

func registerObjectives(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-objectives",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/objectives",
		Summary:     "List objectives with their key results",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		StatusID    string `query:"status_id"`
		TeamID      string `query:"team_id"`
	}) (*dataOutput[[]domain.Objective], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		items, err := e.ListObjectives(ctx, sc, input.StatusID, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-objective",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/objectives/{id}",
		Summary:     "Get objective",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *IDPath) (*dataOutput[domain.Objective], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		o, err := e.GetObjective(ctx, sc, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-objective",
		Method:        http.MethodPost,
		Path:          "/workspaces/{workspace_id}/objectives",
		Summary:       "Create objective",
		DefaultStatus: http.StatusCreated,
		Errors:        storyErrors,
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		Body        domain.CreateObjective
	}) (*dataOutput[domain.Objective], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		o, err := e.CreateObjective(ctx, sc, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-objective",
		Method:      http.MethodPut,
		Path:        "/workspaces/{workspace_id}/objectives/{id}",
		Summary:     "Update objective",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *struct {
		IDPath
		Body domain.ObjectiveUpdate
	}) (*dataOutput[domain.Objective], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		o, err := e.UpdateObjective(ctx, sc, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-objective",
		Method:      http.MethodDelete,
		Path:        "/workspaces/{workspace_id}/objectives/{id}",
		Summary:     "Delete objective",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *IDPath) (*dataOutput[domain.Objective], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		o, err := e.DeleteObjective(ctx, sc, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(o), nil
	})
}

func registerKeyResults(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-key-results",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/key-results",
		Summary:     "List key results",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		ObjectiveID string `query:"objective_id"`
	}) (*dataOutput[[]domain.KeyResult], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		items, err := e.ListKeyResults(ctx, sc, input.ObjectiveID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-key-result",
		Method:        http.MethodPost,
		Path:          "/workspaces/{workspace_id}/key-results",
		Summary:       "Create key result",
		DefaultStatus: http.StatusCreated,
		Errors:        storyErrors,
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		Body        domain.CreateKeyResult
	}) (*dataOutput[domain.KeyResult], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		k, err := e.CreateKeyResult(ctx, sc, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(k), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-key-result",
		Method:      http.MethodPut,
		Path:        "/workspaces/{workspace_id}/key-results/{id}",
		Summary:     "Update key result",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *struct {
		IDPath
		Body domain.KeyResultUpdate
	}) (*dataOutput[domain.KeyResult], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		k, err := e.UpdateKeyResult(ctx, sc, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(k), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-key-result",
		Method:      http.MethodDelete,
		Path:        "/workspaces/{workspace_id}/key-results/{id}",
		Summary:     "Delete key result",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *IDPath) (*dataOutput[domain.KeyResult], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		k, err := e.DeleteKeyResult(ctx, sc, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(k), nil
	})
}

func registerObjectiveStatuses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-objective-statuses",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/objective-statuses",
		Summary:     "List objective statuses",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *WorkspacePath) (*dataOutput[[]domain.ObjectiveStatus], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		items, err := e.ListObjectiveStatuses(ctx, sc)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-objective-status",
		Method:        http.MethodPost,
		Path:          "/workspaces/{workspace_id}/objective-statuses",
		Summary:       "Create objective status",
		DefaultStatus: http.StatusCreated,
		Errors:        storyErrors,
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		Body        domain.CreateObjectiveStatus
	}) (*dataOutput[domain.ObjectiveStatus], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		st, err := e.CreateObjectiveStatus(ctx, sc, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-objective-status",
		Method:      http.MethodPut,
		Path:        "/workspaces/{workspace_id}/objective-statuses/{id}",
		Summary:     "Update objective status",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *struct {
		IDPath
		Body domain.ObjectiveStatusUpdate
	}) (*dataOutput[domain.ObjectiveStatus], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		st, err := e.UpdateObjectiveStatus(ctx, sc, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-objective-status",
		Method:      http.MethodDelete,
		Path:        "/workspaces/{workspace_id}/objective-statuses/{id}",
		Summary:     "Delete objective status",
		Errors:      storyErrors,
	}, func(ctx context.Context, input *IDPath) (*dataOutput[domain.ObjectiveStatus], error) {
		sc, err := scopeFor(ctx, input.WorkspaceID)
		if err != nil {
			return nil, err
		}
		st, err := e.DeleteObjectiveStatus(ctx, sc, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(st), nil
	})
}
