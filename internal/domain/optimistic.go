package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const tempIDPrefix = "optimistic-"

// Optimistic wraps an entity that exists only in the local cache until the
// server confirms it. TempID never collides with a server-assigned id.
type Optimistic[T any] struct {
	TempID string
	Value  T
}

func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was minted by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// NewOptimisticStory builds the local placeholder for a story being created.
func NewOptimisticStory(in CreateStory, workspaceID, userID string, now time.Time) Optimistic[Story] {
	id := NewTempID()
	ts := now.UTC().Format(time.RFC3339)
	priority := in.Priority
	if priority == "" {
		priority = PriorityNone
	}
	reporter := in.ReporterID
	if reporter == "" {
		reporter = userID
	}
	labels := append([]string{}, in.Labels...)
	return Optimistic[Story]{
		TempID: id,
		Value: Story{
			ID:          id,
			Title:       in.Title,
			StatusID:    in.StatusID,
			Priority:    priority,
			WorkspaceID: workspaceID,
			TeamID:      in.TeamID,
			SprintID:    in.SprintID,
			ObjectiveID: in.ObjectiveID,
			EpicID:      in.EpicID,
			ParentID:    in.ParentID,
			AssigneeID:  in.AssigneeID,
			ReporterID:  reporter,
			CreatedBy:   userID,
			Labels:      labels,
			StartDate:   in.StartDate,
			EndDate:     in.EndDate,
			CreatedAt:   ts,
			UpdatedAt:   ts,
			SubStories:  []Story{},
		},
	}
}

func NewOptimisticObjective(in CreateObjective, workspaceID, userID string, now time.Time) Optimistic[Objective] {
	id := NewTempID()
	ts := now.UTC().Format(time.RFC3339)
	return Optimistic[Objective]{
		TempID: id,
		Value: Objective{
			ID:          id,
			WorkspaceID: workspaceID,
			Name:        in.Name,
			Description: in.Description,
			StatusID:    in.StatusID,
			LeadID:      in.LeadID,
			TeamID:      in.TeamID,
			StartDate:   in.StartDate,
			EndDate:     in.EndDate,
			CreatedBy:   userID,
			KeyResults:  []KeyResult{},
			CreatedAt:   ts,
			UpdatedAt:   ts,
		},
	}
}

func NewOptimisticKeyResult(in CreateKeyResult, now time.Time) Optimistic[KeyResult] {
	id := NewTempID()
	ts := now.UTC().Format(time.RFC3339)
	mt := in.MeasurementType
	if mt == "" {
		mt = MeasureNumber
	}
	return Optimistic[KeyResult]{
		TempID: id,
		Value: KeyResult{
			ID:              id,
			ObjectiveID:     in.ObjectiveID,
			Name:            in.Name,
			MeasurementType: mt,
			StartValue:      in.StartValue,
			CurrentValue:    in.CurrentValue,
			TargetValue:     in.TargetValue,
			Unit:            in.Unit,
			CreatedAt:       ts,
			UpdatedAt:       ts,
		},
	}
}
