package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"storyline/internal/config"
	"storyline/internal/domain"
	"storyline/internal/events"
	"storyline/internal/repo"
)

func validCategory(c string) bool {
	for _, known := range domain.StatusCategories {
		if c == known {
			return true
		}
	}
	return false
}

func (e Engine) checkStatus(ctx context.Context, tx *sql.Tx, sc Scope, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	st, err := e.Repo.GetObjectiveStatus(ctx, tx, *id)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && st.WorkspaceID != sc.WorkspaceID) {
		return ValidationError{Field: "status_id", Message: "unknown objective status " + *id}
	}
	return err
}

func (e Engine) objective(ctx context.Context, tx *sql.Tx, sc Scope, id string) (domain.Objective, error) {
	o, err := e.Repo.GetObjective(ctx, tx, id)
	if err != nil {
		return o, err
	}
	if o.WorkspaceID != sc.WorkspaceID {
		return o, repo.ErrNotFound
	}
	return o, nil
}

func (e Engine) GetObjective(ctx context.Context, sc Scope, id string) (domain.Objective, error) {
	return e.objective(ctx, nil, sc, id)
}

func (e Engine) ListObjectives(ctx context.Context, sc Scope, statusID, teamID string) ([]domain.Objective, error) {
	return e.Repo.ListObjectives(ctx, repo.ObjectiveFilters{WorkspaceID: sc.WorkspaceID, StatusID: statusID, TeamID: teamID})
}

func (e Engine) CreateObjective(ctx context.Context, sc Scope, in domain.CreateObjective) (domain.Objective, error) {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Objective{}, ValidationError{Field: "name", Message: "name is required"}
	}
	now := e.stamp()
	o := domain.Objective{
		ID:          newID(),
		WorkspaceID: sc.WorkspaceID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		StatusID:    in.StatusID,
		LeadID:      in.LeadID,
		TeamID:      in.TeamID,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		CreatedBy:   sc.ActorID,
		KeyResults:  []domain.KeyResult{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.checkStatus(ctx, tx, sc, o.StatusID); err != nil {
			return err
		}
		if err := e.Repo.InsertObjective(ctx, tx, o); err != nil {
			return err
		}
		return e.record(ctx, tx, sc, "objective.created", "objective", o.ID, events.Payload{"name": o.Name})
	})
	if err != nil {
		return domain.Objective{}, err
	}
	return o, nil
}

func (e Engine) UpdateObjective(ctx context.Context, sc Scope, id string, u domain.ObjectiveUpdate) (domain.Objective, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return domain.Objective{}, ValidationError{Field: "name", Message: "name cannot be empty"}
	}
	var out domain.Objective
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		o, err := e.objective(ctx, tx, sc, id)
		if err != nil {
			return err
		}
		if err := e.checkStatus(ctx, tx, sc, u.StatusID); err != nil {
			return err
		}
		o = u.Apply(o)
		o.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateObjective(ctx, tx, o); err != nil {
			return err
		}
		out = o
		return e.record(ctx, tx, sc, "objective.updated", "objective", o.ID, events.Payload{"update": u})
	})
	if err != nil {
		return domain.Objective{}, err
	}
	return out, nil
}

// DeleteObjective removes the objective and its key results and unlinks
// its stories.
func (e Engine) DeleteObjective(ctx context.Context, sc Scope, id string) (domain.Objective, error) {
	var out domain.Objective
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		o, err := e.objective(ctx, tx, sc, id)
		if err != nil {
			return err
		}
		out = o
		if err := e.Repo.ClearObjective(ctx, tx, id, e.stamp()); err != nil {
			return err
		}
		if err := e.Repo.DeleteObjective(ctx, tx, id); err != nil {
			return err
		}
		return e.record(ctx, tx, sc, "objective.deleted", "objective", id, events.Payload{"name": o.Name})
	})
	if err != nil {
		return domain.Objective{}, err
	}
	return out, nil
}

func validateKeyResult(k domain.KeyResult) error {
	if strings.TrimSpace(k.Name) == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	if !k.MeasurementType.Valid() {
		return ValidationError{Field: "measurement_type", Message: "unknown measurement type " + string(k.MeasurementType)}
	}
	if k.MeasurementType == domain.MeasureBoolean && k.CurrentValue != 0 && k.CurrentValue != 1 {
		return ValidationError{Field: "current_value", Message: "boolean key results take 0 or 1"}
	}
	return nil
}

func (e Engine) ListKeyResults(ctx context.Context, sc Scope, objectiveID string) ([]domain.KeyResult, error) {
	return e.Repo.ListKeyResults(ctx, sc.WorkspaceID, objectiveID)
}

func (e Engine) CreateKeyResult(ctx context.Context, sc Scope, in domain.CreateKeyResult) (domain.KeyResult, error) {
	if in.MeasurementType == "" {
		in.MeasurementType = domain.MeasureNumber
	}
	now := e.stamp()
	k := domain.KeyResult{
		ID:              newID(),
		ObjectiveID:     in.ObjectiveID,
		Name:            strings.TrimSpace(in.Name),
		MeasurementType: in.MeasurementType,
		StartValue:      in.StartValue,
		CurrentValue:    in.CurrentValue,
		TargetValue:     in.TargetValue,
		Unit:            in.Unit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := validateKeyResult(k); err != nil {
		return domain.KeyResult{}, err
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.objective(ctx, tx, sc, in.ObjectiveID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ValidationError{Field: "objective_id", Message: "unknown objective " + in.ObjectiveID}
			}
			return err
		}
		if err := e.Repo.InsertKeyResult(ctx, tx, k); err != nil {
			return err
		}
		return e.record(ctx, tx, sc, "key_result.created", "key_result", k.ID, events.Payload{"objective_id": k.ObjectiveID, "name": k.Name})
	})
	if err != nil {
		return domain.KeyResult{}, err
	}
	return k, nil
}

func (e Engine) keyResult(ctx context.Context, tx *sql.Tx, sc Scope, id string) (domain.KeyResult, error) {
	k, err := e.Repo.GetKeyResult(ctx, tx, id)
	if err != nil {
		return k, err
	}
	if _, err := e.objective(ctx, tx, sc, k.ObjectiveID); err != nil {
		return k, err
	}
	return k, nil
}

func (e Engine) UpdateKeyResult(ctx context.Context, sc Scope, id string, u domain.KeyResultUpdate) (domain.KeyResult, error) {
	var out domain.KeyResult
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		k, err := e.keyResult(ctx, tx, sc, id)
		if err != nil {
			return err
		}
		k = u.Apply(k)
		if err := validateKeyResult(k); err != nil {
			return err
		}
		k.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateKeyResult(ctx, tx, k); err != nil {
			return err
		}
		out = k
		return e.record(ctx, tx, sc, "key_result.updated", "key_result", k.ID, events.Payload{"progress": k.Progress()})
	})
	if err != nil {
		return domain.KeyResult{}, err
	}
	return out, nil
}

func (e Engine) DeleteKeyResult(ctx context.Context, sc Scope, id string) (domain.KeyResult, error) {
	var out domain.KeyResult
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		k, err := e.keyResult(ctx, tx, sc, id)
		if err != nil {
			return err
		}
		out = k
		if err := e.Repo.DeleteKeyResult(ctx, tx, id); err != nil {
			return err
		}
		return e.record(ctx, tx, sc, "key_result.deleted", "key_result", id, events.Payload{"objective_id": k.ObjectiveID})
	})
	if err != nil {
		return domain.KeyResult{}, err
	}
	return out, nil
}

func (e Engine) ListObjectiveStatuses(ctx context.Context, sc Scope) ([]domain.ObjectiveStatus, error) {
	return e.Repo.ListObjectiveStatuses(ctx, sc.WorkspaceID)
}

func (e Engine) CreateObjectiveStatus(ctx context.Context, sc Scope, in domain.CreateObjectiveStatus) (domain.ObjectiveStatus, error) {
	if strings.TrimSpace(in.Name) == "" {
		return domain.ObjectiveStatus{}, ValidationError{Field: "name", Message: "name is required"}
	}
	if in.Category == "" {
		in.Category = "planned"
	}
	if !validCategory(in.Category) {
		return domain.ObjectiveStatus{}, ValidationError{Field: "category", Message: "unknown category " + in.Category}
	}
	st := domain.ObjectiveStatus{
		ID:          newID(),
		WorkspaceID: sc.WorkspaceID,
		Name:        strings.TrimSpace(in.Name),
		Color:       in.Color,
		Category:    in.Category,
		SortOrder:   in.SortOrder,
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertObjectiveStatus(ctx, tx, st); err != nil {
			return err
		}
		return e.record(ctx, tx, sc, "objective_status.created", "objective_status", st.ID, events.Payload{"name": st.Name})
	})
	if err != nil {
		return domain.ObjectiveStatus{}, err
	}
	return st, nil
}

func (e Engine) status(ctx context.Context, tx *sql.Tx, sc Scope, id string) (domain.ObjectiveStatus, error) {
	st, err := e.Repo.GetObjectiveStatus(ctx, tx, id)
	if err != nil {
		return st, err
	}
	if st.WorkspaceID != sc.WorkspaceID {
		return st, repo.ErrNotFound
	}
	return st, nil
}

func (e Engine) UpdateObjectiveStatus(ctx context.Context, sc Scope, id string, u domain.ObjectiveStatusUpdate) (domain.ObjectiveStatus, error) {
	var out domain.ObjectiveStatus
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		st, err := e.status(ctx, tx, sc, id)
		if err != nil {
			return err
		}
		st = u.Apply(st)
		if strings.TrimSpace(st.Name) == "" {
			return ValidationError{Field: "name", Message: "name cannot be empty"}
		}
		if !validCategory(st.Category) {
			return ValidationError{Field: "category", Message: "unknown category " + st.Category}
		}
		if err := e.Repo.UpdateObjectiveStatus(ctx, tx, st); err != nil {
			return err
		}
		out = st
		return e.record(ctx, tx, sc, "objective_status.updated", "objective_status", st.ID, events.Payload{"update": u})
	})
	if err != nil {
		return domain.ObjectiveStatus{}, err
	}
	return out, nil
}

// DeleteObjectiveStatus removes a status; objectives using it lose their status.
func (e Engine) DeleteObjectiveStatus(ctx context.Context, sc Scope, id string) (domain.ObjectiveStatus, error) {
	var out domain.ObjectiveStatus
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		st, err := e.status(ctx, tx, sc, id)
		if err != nil {
			return err
		}
		out = st
		if err := e.Repo.DeleteObjectiveStatus(ctx, tx, id); err != nil {
			return err
		}
		return e.record(ctx, tx, sc, "objective_status.deleted", "objective_status", id, events.Payload{"name": st.Name})
	})
	if err != nil {
		return domain.ObjectiveStatus{}, err
	}
	return out, nil
}

// SeedObjectiveStatuses creates the configured statuses for a workspace that
// has none yet.
func (e Engine) SeedObjectiveStatuses(ctx context.Context, sc Scope, seeds []config.StatusSeed) (int, error) {
	n, err := e.Repo.CountObjectiveStatuses(ctx, sc.WorkspaceID)
	if err != nil || n > 0 {
		return 0, err
	}
	for i, s := range seeds {
		if _, err := e.CreateObjectiveStatus(ctx, sc, domain.CreateObjectiveStatus{Name: s.Name, Color: s.Color, Category: s.Category, SortOrder: i}); err != nil {
			return i, err
		}
	}
	return len(seeds), nil
}
