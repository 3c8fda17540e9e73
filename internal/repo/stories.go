package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"storyline/internal/domain"
)

const storyColumns = `id,workspace_id,team_id,sequence_id,title,description,description_html,status_id,priority,sprint_id,objective_id,epic_id,parent_id,assignee_id,reporter_id,created_by,labels_json,start_date,end_date,created_at,updated_at,deleted_at,archived_at`

func scanStory(row scanner) (domain.DetailedStory, error) {
	var s domain.DetailedStory
	var description, descriptionHTML, sprintID, objectiveID, epicID, parentID, assigneeID, startDate, endDate, deletedAt, archivedAt sql.NullString
	var labels string
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.TeamID, &s.SequenceID, &s.Title, &description, &descriptionHTML, &s.StatusID, &s.Priority,
		&sprintID, &objectiveID, &epicID, &parentID, &assigneeID, &s.ReporterID, &s.CreatedBy, &labels, &startDate, &endDate,
		&s.CreatedAt, &s.UpdatedAt, &deletedAt, &archivedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Description = description.String
	s.DescriptionHTML = descriptionHTML.String
	s.SprintID = stringPtr(sprintID)
	s.ObjectiveID = stringPtr(objectiveID)
	s.EpicID = stringPtr(epicID)
	s.ParentID = stringPtr(parentID)
	s.AssigneeID = stringPtr(assigneeID)
	s.StartDate = stringPtr(startDate)
	s.EndDate = stringPtr(endDate)
	s.DeletedAt = stringPtr(deletedAt)
	s.ArchivedAt = stringPtr(archivedAt)
	if err := json.Unmarshal([]byte(labels), &s.Labels); err != nil {
		return s, fmt.Errorf("story %s labels: %w", s.ID, err)
	}
	if s.Labels == nil {
		s.Labels = []string{}
	}
	s.SubStories = []domain.Story{}
	s.Links = []domain.StoryLink{}
	return s, nil
}

func marshalLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	data, err := json.Marshal(labels)
	return string(data), err
}

func (r Repo) InsertStory(ctx context.Context, tx *sql.Tx, s domain.DetailedStory) error {
	labels, err := marshalLabels(s.Labels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO stories(`+storyColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.WorkspaceID, s.TeamID, s.SequenceID, s.Title, nullable(s.Description), nullable(s.DescriptionHTML), s.StatusID, string(s.Priority),
		nullableStringPtr(s.SprintID), nullableStringPtr(s.ObjectiveID), nullableStringPtr(s.EpicID), nullableStringPtr(s.ParentID),
		nullableStringPtr(s.AssigneeID), s.ReporterID, s.CreatedBy, labels, nullableStringPtr(s.StartDate), nullableStringPtr(s.EndDate),
		s.CreatedAt, s.UpdatedAt, nullableStringPtr(s.DeletedAt), nullableStringPtr(s.ArchivedAt))
	if err != nil {
		return err
	}
	return r.ReplaceLinks(ctx, tx, s.ID, s.Links)
}

func (r Repo) UpdateStory(ctx context.Context, tx *sql.Tx, s domain.DetailedStory) error {
	labels, err := marshalLabels(s.Labels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE stories SET title=?, description=?, description_html=?, status_id=?, priority=?, sprint_id=?, objective_id=?, epic_id=?, parent_id=?, assignee_id=?, labels_json=?, start_date=?, end_date=?, updated_at=? WHERE id=?`,
		s.Title, nullable(s.Description), nullable(s.DescriptionHTML), s.StatusID, string(s.Priority), nullableStringPtr(s.SprintID),
		nullableStringPtr(s.ObjectiveID), nullableStringPtr(s.EpicID), nullableStringPtr(s.ParentID), nullableStringPtr(s.AssigneeID),
		labels, nullableStringPtr(s.StartDate), nullableStringPtr(s.EndDate), s.UpdatedAt, s.ID)
	return err
}

// GetStory returns a story with its links, including soft-deleted ones.
func (r Repo) GetStory(ctx context.Context, tx *sql.Tx, id string) (domain.DetailedStory, error) {
	q := r.on(tx)
	s, err := scanStory(q.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id=?`, id))
	if err != nil {
		return s, err
	}
	links, err := r.listLinks(ctx, q, id)
	if err != nil {
		return s, err
	}
	s.Links = links
	return s, nil
}

func (r Repo) listLinks(ctx context.Context, q querier, storyID string) ([]domain.StoryLink, error) {
	rows, err := q.QueryContext(ctx, `SELECT type,target_id FROM story_links WHERE story_id=? ORDER BY type, target_id`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	links := []domain.StoryLink{}
	for rows.Next() {
		var l domain.StoryLink
		if err := rows.Scan(&l.Type, &l.StoryID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r Repo) ReplaceLinks(ctx context.Context, tx *sql.Tx, storyID string, links []domain.StoryLink) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM story_links WHERE story_id=?`, storyID); err != nil {
		return err
	}
	for _, l := range links {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO story_links(story_id,type,target_id) VALUES (?,?,?)`, storyID, l.Type, l.StoryID); err != nil {
			return err
		}
	}
	return nil
}

// StoryFilters selects live stories, i.e. neither deleted nor archived.
type StoryFilters struct {
	WorkspaceID string
	domain.StoryFilter
	// TopLevel restricts the result to stories without a parent.
	TopLevel bool
	// ParentIDs selects children of any of the given stories.
	ParentIDs []string
}

func (r Repo) ListStories(ctx context.Context, f StoryFilters) ([]domain.Story, error) {
	clauses := []string{"deleted_at IS NULL", "archived_at IS NULL"}
	var args []any
	eq := func(col, v string) {
		if v != "" {
			clauses = append(clauses, col+"=?")
			args = append(args, v)
		}
	}
	eq("workspace_id", f.WorkspaceID)
	eq("team_id", f.TeamID)
	eq("sprint_id", f.SprintID)
	eq("objective_id", f.ObjectiveID)
	eq("parent_id", f.ParentID)
	eq("assignee_id", f.AssigneeID)
	eq("status_id", f.StatusID)
	if f.TopLevel {
		clauses = append(clauses, "parent_id IS NULL")
	}
	if len(f.ParentIDs) > 0 {
		clauses = append(clauses, "parent_id IN ("+placeholders(len(f.ParentIDs))+")")
		args = append(args, anySlice(f.ParentIDs)...)
	}
	query := `SELECT ` + storyColumns + ` FROM stories WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY team_id, sequence_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Story{}
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s.Story)
	}
	return res, rows.Err()
}

// NextSequence returns the next per-team sequence number.
func (r Repo) NextSequence(ctx context.Context, tx *sql.Tx, teamID string) (int, error) {
	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence_id) FROM stories WHERE team_id=?`, teamID).Scan(&last); err != nil {
		return 0, err
	}
	return int(last.Int64) + 1, nil
}

func (r Repo) CountChildren(ctx context.Context, tx *sql.Tx, storyID string) (int, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM stories WHERE parent_id=? AND deleted_at IS NULL`, storyID).Scan(&n)
	return n, err
}

// ExistingStories returns which of ids exist in the workspace.
func (r Repo) ExistingStories(ctx context.Context, tx *sql.Tx, workspaceID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := append([]any{workspaceID}, anySlice(ids)...)
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id FROM stories WHERE workspace_id=? AND id IN (`+placeholders(len(ids))+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var found []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found = append(found, id)
	}
	return found, rows.Err()
}

// MarkStories sets column (deleted_at or archived_at) on ids and their
// sub-stories.
func (r Repo) MarkStories(ctx context.Context, tx *sql.Tx, column string, ids []string, ts string) error {
	if column != "deleted_at" && column != "archived_at" {
		return fmt.Errorf("cannot mark column %s", column)
	}
	if len(ids) == 0 {
		return nil
	}
	set := placeholders(len(ids))
	args := append([]any{ts, ts}, anySlice(ids)...)
	args = append(args, anySlice(ids)...)
	_, err := tx.ExecContext(ctx, `UPDATE stories SET `+column+`=?, updated_at=? WHERE (id IN (`+set+`) OR parent_id IN (`+set+`)) AND `+column+` IS NULL`, args...)
	return err
}

// RestoreStories clears deleted_at and archived_at on ids and their sub-stories.
func (r Repo) RestoreStories(ctx context.Context, tx *sql.Tx, ids []string, ts string) error {
	if len(ids) == 0 {
		return nil
	}
	set := placeholders(len(ids))
	args := append([]any{ts}, anySlice(ids)...)
	args = append(args, anySlice(ids)...)
	_, err := tx.ExecContext(ctx, `UPDATE stories SET deleted_at=NULL, archived_at=NULL, updated_at=? WHERE id IN (`+set+`) OR parent_id IN (`+set+`)`, args...)
	return err
}

// PurgeDeleted removes stories soft-deleted before the cutoff.
func (r Repo) PurgeDeleted(ctx context.Context, tx *sql.Tx, before string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM stories WHERE deleted_at IS NOT NULL AND deleted_at < ? ORDER BY id`, before)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM story_links WHERE target_id IN (`+placeholders(len(ids))+`)`, anySlice(ids)...); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stories WHERE id IN (`+placeholders(len(ids))+`)`, anySlice(ids)...); err != nil {
		return nil, err
	}
	return ids, nil
}

// ClearObjective unlinks stories from a deleted objective.
func (r Repo) ClearObjective(ctx context.Context, tx *sql.Tx, objectiveID, ts string) error {
	_, err := tx.ExecContext(ctx, `UPDATE stories SET objective_id=NULL, updated_at=? WHERE objective_id=?`, ts, objectiveID)
	return err
}
