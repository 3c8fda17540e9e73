package repo

import (
	"context"
	"database/sql"
	"strings"

	"storyline/internal/domain"
)

const objectiveColumns = `id,workspace_id,name,description,status_id,lead_id,team_id,start_date,end_date,created_by,created_at,updated_at`

func scanObjective(row scanner) (domain.Objective, error) {
	var o domain.Objective
	var description, statusID, leadID, teamID, startDate, endDate sql.NullString
	err := row.Scan(&o.ID, &o.WorkspaceID, &o.Name, &description, &statusID, &leadID, &teamID, &startDate, &endDate, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.Description = description.String
	o.StatusID = stringPtr(statusID)
	o.LeadID = stringPtr(leadID)
	o.TeamID = stringPtr(teamID)
	o.StartDate = stringPtr(startDate)
	o.EndDate = stringPtr(endDate)
	o.KeyResults = []domain.KeyResult{}
	return o, nil
}

func (r Repo) InsertObjective(ctx context.Context, tx *sql.Tx, o domain.Objective) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO objectives(`+objectiveColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.WorkspaceID, o.Name, nullable(o.Description), nullableStringPtr(o.StatusID), nullableStringPtr(o.LeadID),
		nullableStringPtr(o.TeamID), nullableStringPtr(o.StartDate), nullableStringPtr(o.EndDate), o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) UpdateObjective(ctx context.Context, tx *sql.Tx, o domain.Objective) error {
	_, err := tx.ExecContext(ctx, `UPDATE objectives SET name=?, description=?, status_id=?, lead_id=?, team_id=?, start_date=?, end_date=?, updated_at=? WHERE id=?`,
		o.Name, nullable(o.Description), nullableStringPtr(o.StatusID), nullableStringPtr(o.LeadID), nullableStringPtr(o.TeamID),
		nullableStringPtr(o.StartDate), nullableStringPtr(o.EndDate), o.UpdatedAt, o.ID)
	return err
}

// GetObjective returns an objective with its key results.
func (r Repo) GetObjective(ctx context.Context, tx *sql.Tx, id string) (domain.Objective, error) {
	q := r.on(tx)
	o, err := scanObjective(q.QueryRowContext(ctx, `SELECT `+objectiveColumns+` FROM objectives WHERE id=?`, id))
	if err != nil {
		return o, err
	}
	krs, err := r.listKeyResults(ctx, q, `WHERE k.objective_id=?`, id)
	if err != nil {
		return o, err
	}
	o.KeyResults = krs
	return o, nil
}

type ObjectiveFilters struct {
	WorkspaceID string
	StatusID    string
	TeamID      string
}

func (r Repo) ListObjectives(ctx context.Context, f ObjectiveFilters) ([]domain.Objective, error) {
	clauses := []string{"workspace_id=?"}
	args := []any{f.WorkspaceID}
	if f.StatusID != "" {
		clauses = append(clauses, "status_id=?")
		args = append(args, f.StatusID)
	}
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+objectiveColumns+` FROM objectives WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Objective{}
	index := map[string]int{}
	for rows.Next() {
		o, err := scanObjective(rows)
		if err != nil {
			return nil, err
		}
		index[o.ID] = len(res)
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	krs, err := r.ListKeyResults(ctx, f.WorkspaceID, "")
	if err != nil {
		return nil, err
	}
	for _, kr := range krs {
		if i, ok := index[kr.ObjectiveID]; ok {
			res[i].KeyResults = append(res[i].KeyResults, kr)
		}
	}
	return res, nil
}

func (r Repo) DeleteObjective(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM objectives WHERE id=?`, id)
	return err
}

const keyResultColumns = `k.id,k.objective_id,k.name,k.measurement_type,k.start_value,k.current_value,k.target_value,k.unit,k.created_at,k.updated_at`

func scanKeyResult(row scanner) (domain.KeyResult, error) {
	var k domain.KeyResult
	var unit sql.NullString
	err := row.Scan(&k.ID, &k.ObjectiveID, &k.Name, &k.MeasurementType, &k.StartValue, &k.CurrentValue, &k.TargetValue, &unit, &k.CreatedAt, &k.UpdatedAt)
	if err == sql.ErrNoRows {
		return k, ErrNotFound
	}
	k.Unit = unit.String
	return k, err
}

func (r Repo) listKeyResults(ctx context.Context, q querier, where string, args ...any) ([]domain.KeyResult, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+keyResultColumns+` FROM key_results k JOIN objectives o ON o.id=k.objective_id `+where+` ORDER BY k.created_at, k.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.KeyResult{}
	for rows.Next() {
		k, err := scanKeyResult(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

// ListKeyResults returns the workspace's key results, optionally for one objective.
func (r Repo) ListKeyResults(ctx context.Context, workspaceID, objectiveID string) ([]domain.KeyResult, error) {
	if objectiveID != "" {
		return r.listKeyResults(ctx, r.DB, `WHERE o.workspace_id=? AND k.objective_id=?`, workspaceID, objectiveID)
	}
	return r.listKeyResults(ctx, r.DB, `WHERE o.workspace_id=?`, workspaceID)
}

func (r Repo) GetKeyResult(ctx context.Context, tx *sql.Tx, id string) (domain.KeyResult, error) {
	return scanKeyResult(r.on(tx).QueryRowContext(ctx, `SELECT `+keyResultColumns+` FROM key_results k WHERE k.id=?`, id))
}

func (r Repo) InsertKeyResult(ctx context.Context, tx *sql.Tx, k domain.KeyResult) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO key_results(id,objective_id,name,measurement_type,start_value,current_value,target_value,unit,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		k.ID, k.ObjectiveID, k.Name, string(k.MeasurementType), k.StartValue, k.CurrentValue, k.TargetValue, nullable(k.Unit), k.CreatedAt, k.UpdatedAt)
	return err
}

func (r Repo) UpdateKeyResult(ctx context.Context, tx *sql.Tx, k domain.KeyResult) error {
	_, err := tx.ExecContext(ctx, `UPDATE key_results SET name=?, measurement_type=?, start_value=?, current_value=?, target_value=?, unit=?, updated_at=? WHERE id=?`,
		k.Name, string(k.MeasurementType), k.StartValue, k.CurrentValue, k.TargetValue, nullable(k.Unit), k.UpdatedAt, k.ID)
	return err
}

func (r Repo) DeleteKeyResult(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM key_results WHERE id=?`, id)
	return err
}

const statusColumns = `id,workspace_id,name,color,category,sort_order`

func scanStatus(row scanner) (domain.ObjectiveStatus, error) {
	var s domain.ObjectiveStatus
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.Color, &s.Category, &s.SortOrder)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListObjectiveStatuses(ctx context.Context, workspaceID string) ([]domain.ObjectiveStatus, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+statusColumns+` FROM objective_statuses WHERE workspace_id=? ORDER BY sort_order, name`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ObjectiveStatus{}
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) GetObjectiveStatus(ctx context.Context, tx *sql.Tx, id string) (domain.ObjectiveStatus, error) {
	return scanStatus(r.on(tx).QueryRowContext(ctx, `SELECT `+statusColumns+` FROM objective_statuses WHERE id=?`, id))
}

func (r Repo) InsertObjectiveStatus(ctx context.Context, tx *sql.Tx, s domain.ObjectiveStatus) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO objective_statuses(`+statusColumns+`) VALUES (?,?,?,?,?,?)`,
		s.ID, s.WorkspaceID, s.Name, s.Color, s.Category, s.SortOrder)
	return err
}

func (r Repo) UpdateObjectiveStatus(ctx context.Context, tx *sql.Tx, s domain.ObjectiveStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE objective_statuses SET name=?, color=?, category=?, sort_order=? WHERE id=?`,
		s.Name, s.Color, s.Category, s.SortOrder, s.ID)
	return err
}

func (r Repo) DeleteObjectiveStatus(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM objective_statuses WHERE id=?`, id)
	return err
}

func (r Repo) CountObjectiveStatuses(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM objective_statuses WHERE workspace_id=?`, workspaceID).Scan(&n)
	return n, err
}
