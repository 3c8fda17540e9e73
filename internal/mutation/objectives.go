package mutation

import (
	"context"

	"storyline/internal/analytics"
	"storyline/internal/api"
	"storyline/internal/domain"
	"storyline/internal/querykey"
	"storyline/internal/reconcile"
)

var (
	objectiveKinds = []querykey.Kind{querykey.KindObjectives, querykey.KindKeyResults}
	statusKinds    = []querykey.Kind{querykey.KindObjectiveStatuses}
)

type UpdateObjectiveInput struct {
	ID     string
	Update domain.ObjectiveUpdate
}

type UpdateKeyResultInput struct {
	ID     string
	Update domain.KeyResultUpdate
}

type UpdateStatusInput struct {
	ID     string
	Update domain.ObjectiveStatusUpdate
}

// Objectives groups the objective, key-result and objective-status
// mutations.
type Objectives struct {
	Create *Mutation[domain.CreateObjective, domain.Objective]
	Update *Mutation[UpdateObjectiveInput, domain.Objective]
	Delete *Mutation[string, domain.Objective]

	CreateKeyResult *Mutation[domain.CreateKeyResult, domain.KeyResult]
	UpdateKeyResult *Mutation[UpdateKeyResultInput, domain.KeyResult]
	DeleteKeyResult *Mutation[string, domain.KeyResult]

	CreateStatus *Mutation[domain.CreateObjectiveStatus, domain.ObjectiveStatus]
	UpdateStatus *Mutation[UpdateStatusInput, domain.ObjectiveStatus]
	DeleteStatus *Mutation[string, domain.ObjectiveStatus]
}

func applyObjectiveOp(d Deps, kinds []querykey.Kind, op reconcile.ObjectiveOp) {
	d.patch(kinds, func(k querykey.Key, data any) any {
		return reconcile.ReconcileObjectives(k, data, op)
	})
}

func NewObjectives(deps Deps) *Objectives {
	deps = deps.withDefaults()
	o := &Objectives{}
	props := func(key, id string) map[string]any {
		return map[string]any{"workspace_id": deps.workspace(), key: id}
	}

	o.Create = New(deps, Spec[domain.CreateObjective, domain.Objective]{
		Name:  "create_objective",
		Kinds: objectiveKinds,
		Apply: func(d Deps, in domain.CreateObjective) func(domain.Objective) {
			opt := domain.NewOptimisticObjective(in, d.workspace(), d.userID(), d.Now())
			applyObjectiveOp(d, objectiveKinds, reconcile.ObjectiveInsert{Created: opt.Value})
			return func(out domain.Objective) {
				applyObjectiveOp(d, objectiveKinds, reconcile.ObjectiveReplace{OldID: opt.TempID, With: out})
			}
		},
		Fetch: func(ctx context.Context, c *api.Client, in domain.CreateObjective) (api.Envelope[domain.Objective], error) {
			return c.CreateObjective(ctx, in)
		},
		Event:        analytics.ObjectiveCreated,
		Props:        func(_ domain.CreateObjective, out domain.Objective) map[string]any { return props("objective_id", out.ID) },
		SuccessTitle: "Objective created",
		FailureTitle: "Failed to create objective",
	})

	o.Update = New(deps, Spec[UpdateObjectiveInput, domain.Objective]{
		Name:  "update_objective",
		Kinds: objectiveKinds,
		Apply: func(d Deps, in UpdateObjectiveInput) func(domain.Objective) {
			applyObjectiveOp(d, objectiveKinds, reconcile.ObjectiveUpdate{ID: in.ID, Patch: in.Update.Apply})
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, in UpdateObjectiveInput) (api.Envelope[domain.Objective], error) {
			return c.UpdateObjective(ctx, in.ID, in.Update)
		},
		Event:        analytics.ObjectiveUpdated,
		Props:        func(in UpdateObjectiveInput, _ domain.Objective) map[string]any { return props("objective_id", in.ID) },
		FailureTitle: "Failed to update objective",
	})

	o.Delete = New(deps, Spec[string, domain.Objective]{
		Name: "delete_objective",
		// Stories lose their objective link on the server.
		Kinds: append([]querykey.Kind{querykey.KindStories}, objectiveKinds...),
		Apply: func(d Deps, id string) func(domain.Objective) {
			applyObjectiveOp(d, objectiveKinds, reconcile.ObjectiveRemove{ID: id})
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, id string) (api.Envelope[domain.Objective], error) {
			return c.DeleteObjective(ctx, id)
		},
		Event:        analytics.ObjectiveDeleted,
		Props:        func(id string, _ domain.Objective) map[string]any { return props("objective_id", id) },
		SuccessTitle: "Objective deleted",
		FailureTitle: "Failed to delete objective",
	})

	o.CreateKeyResult = New(deps, Spec[domain.CreateKeyResult, domain.KeyResult]{
		Name:  "create_key_result",
		Kinds: objectiveKinds,
		Apply: func(d Deps, in domain.CreateKeyResult) func(domain.KeyResult) {
			opt := domain.NewOptimisticKeyResult(in, d.Now())
			applyObjectiveOp(d, objectiveKinds, reconcile.KeyResultInsert{KeyResult: opt.Value})
			return func(out domain.KeyResult) {
				applyObjectiveOp(d, objectiveKinds, reconcile.KeyResultRemove{ID: opt.TempID})
				applyObjectiveOp(d, objectiveKinds, reconcile.KeyResultInsert{KeyResult: out})
			}
		},
		Fetch: func(ctx context.Context, c *api.Client, in domain.CreateKeyResult) (api.Envelope[domain.KeyResult], error) {
			return c.CreateKeyResult(ctx, in)
		},
		Event: analytics.KeyResultCreated,
		Props: func(in domain.CreateKeyResult, out domain.KeyResult) map[string]any {
			p := props("key_result_id", out.ID)
			p["objective_id"] = in.ObjectiveID
			return p
		},
		SuccessTitle: "Key result created",
		FailureTitle: "Failed to create key result",
	})

	o.UpdateKeyResult = New(deps, Spec[UpdateKeyResultInput, domain.KeyResult]{
		Name:  "update_key_result",
		Kinds: objectiveKinds,
		Apply: func(d Deps, in UpdateKeyResultInput) func(domain.KeyResult) {
			applyObjectiveOp(d, objectiveKinds, reconcile.KeyResultUpdate{ID: in.ID, Patch: in.Update.Apply})
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, in UpdateKeyResultInput) (api.Envelope[domain.KeyResult], error) {
			return c.UpdateKeyResult(ctx, in.ID, in.Update)
		},
		Event: analytics.KeyResultUpdated,
		Props: func(in UpdateKeyResultInput, out domain.KeyResult) map[string]any {
			p := props("key_result_id", in.ID)
			p["progress"] = out.Progress()
			return p
		},
		FailureTitle: "Failed to update key result",
	})

	o.DeleteKeyResult = New(deps, Spec[string, domain.KeyResult]{
		Name:  "delete_key_result",
		Kinds: objectiveKinds,
		Apply: func(d Deps, id string) func(domain.KeyResult) {
			applyObjectiveOp(d, objectiveKinds, reconcile.KeyResultRemove{ID: id})
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, id string) (api.Envelope[domain.KeyResult], error) {
			return c.DeleteKeyResult(ctx, id)
		},
		Event:        analytics.KeyResultDeleted,
		Props:        func(id string, _ domain.KeyResult) map[string]any { return props("key_result_id", id) },
		SuccessTitle: "Key result deleted",
		FailureTitle: "Failed to delete key result",
	})

	o.CreateStatus = New(deps, Spec[domain.CreateObjectiveStatus, domain.ObjectiveStatus]{
		Name:  "create_objective_status",
		Kinds: statusKinds,
		Apply: func(d Deps, in domain.CreateObjectiveStatus) func(domain.ObjectiveStatus) {
			tmp := domain.ObjectiveStatus{
				ID:          domain.NewTempID(),
				WorkspaceID: d.workspace(),
				Name:        in.Name,
				Color:       in.Color,
				Category:    in.Category,
				SortOrder:   in.SortOrder,
			}
			applyObjectiveOp(d, statusKinds, reconcile.StatusInsert{Status: tmp})
			return func(out domain.ObjectiveStatus) {
				applyObjectiveOp(d, statusKinds, reconcile.StatusRemove{ID: tmp.ID})
				applyObjectiveOp(d, statusKinds, reconcile.StatusInsert{Status: out})
			}
		},
		Fetch: func(ctx context.Context, c *api.Client, in domain.CreateObjectiveStatus) (api.Envelope[domain.ObjectiveStatus], error) {
			return c.CreateObjectiveStatus(ctx, in)
		},
		Event:        analytics.ObjectiveStatusCreated,
		Props:        func(_ domain.CreateObjectiveStatus, out domain.ObjectiveStatus) map[string]any { return props("status_id", out.ID) },
		SuccessTitle: "Status created",
		FailureTitle: "Failed to create status",
	})

	o.UpdateStatus = New(deps, Spec[UpdateStatusInput, domain.ObjectiveStatus]{
		Name:  "update_objective_status",
		Kinds: statusKinds,
		Apply: func(d Deps, in UpdateStatusInput) func(domain.ObjectiveStatus) {
			applyObjectiveOp(d, statusKinds, reconcile.StatusUpdate{ID: in.ID, Patch: in.Update.Apply})
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, in UpdateStatusInput) (api.Envelope[domain.ObjectiveStatus], error) {
			return c.UpdateObjectiveStatus(ctx, in.ID, in.Update)
		},
		Event:        analytics.ObjectiveStatusUpdated,
		Props:        func(in UpdateStatusInput, _ domain.ObjectiveStatus) map[string]any { return props("status_id", in.ID) },
		FailureTitle: "Failed to update status",
	})

	o.DeleteStatus = New(deps, Spec[string, domain.ObjectiveStatus]{
		Name:  "delete_objective_status",
		Kinds: statusKinds,
		Apply: func(d Deps, id string) func(domain.ObjectiveStatus) {
			applyObjectiveOp(d, statusKinds, reconcile.StatusRemove{ID: id})
			return nil
		},
		Fetch: func(ctx context.Context, c *api.Client, id string) (api.Envelope[domain.ObjectiveStatus], error) {
			return c.DeleteObjectiveStatus(ctx, id)
		},
		Event:        analytics.ObjectiveStatusDeleted,
		Props:        func(id string, _ domain.ObjectiveStatus) map[string]any { return props("status_id", id) },
		SuccessTitle: "Status deleted",
		FailureTitle: "Failed to delete status",
	})

	return o
}
