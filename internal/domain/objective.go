package domain

import "math"

type MeasurementType string

const (
	MeasureNumber     MeasurementType = "number"
	MeasurePercentage MeasurementType = "percentage"
	MeasureBoolean    MeasurementType = "boolean"
)

func (m MeasurementType) Valid() bool {
	switch m {
	case MeasureNumber, MeasurePercentage, MeasureBoolean:
		return true
	}
	return false
}

type KeyResult struct {
	ID              string          `json:"id"`
	ObjectiveID     string          `json:"objective_id"`
	Name            string          `json:"name"`
	MeasurementType MeasurementType `json:"measurement_type" enum:"number,percentage,boolean"`
	StartValue      float64         `json:"start_value"`
	CurrentValue    float64         `json:"current_value"`
	TargetValue     float64         `json:"target_value"`
	Unit            string          `json:"unit,omitempty"`
	CreatedAt       string          `json:"created_at" format:"date-time"`
	UpdatedAt       string          `json:"updated_at" format:"date-time"`
}

// Progress returns completion in percent.
//
// boolean: 100 when current is 1, else 0. percentage: current as given.
// number: (current-start)/(target-start) scaled to percent; when start equals
// target the result is 100 once current reaches target.
func (k KeyResult) Progress() int {
	switch k.MeasurementType {
	case MeasureBoolean:
		if k.CurrentValue == 1 {
			return 100
		}
		return 0
	case MeasurePercentage:
		return int(math.Round(k.CurrentValue))
	default:
		span := k.TargetValue - k.StartValue
		if span == 0 {
			if k.CurrentValue >= k.TargetValue {
				return 100
			}
			return 0
		}
		return int(math.Round((k.CurrentValue - k.StartValue) / span * 100))
	}
}

type CreateKeyResult struct {
	ObjectiveID     string          `json:"objective_id"`
	Name            string          `json:"name"`
	MeasurementType MeasurementType `json:"measurement_type"`
	StartValue      float64         `json:"start_value"`
	CurrentValue    float64         `json:"current_value"`
	TargetValue     float64         `json:"target_value"`
	Unit            string          `json:"unit,omitempty"`
}

type KeyResultUpdate struct {
	Name            *string          `json:"name,omitempty"`
	MeasurementType *MeasurementType `json:"measurement_type,omitempty"`
	StartValue      *float64         `json:"start_value,omitempty"`
	CurrentValue    *float64         `json:"current_value,omitempty"`
	TargetValue     *float64         `json:"target_value,omitempty"`
	Unit            *string          `json:"unit,omitempty"`
}

func (u KeyResultUpdate) Apply(k KeyResult) KeyResult {
	if u.Name != nil {
		k.Name = *u.Name
	}
	if u.MeasurementType != nil {
		k.MeasurementType = *u.MeasurementType
	}
	if u.StartValue != nil {
		k.StartValue = *u.StartValue
	}
	if u.CurrentValue != nil {
		k.CurrentValue = *u.CurrentValue
	}
	if u.TargetValue != nil {
		k.TargetValue = *u.TargetValue
	}
	if u.Unit != nil {
		k.Unit = *u.Unit
	}
	return k
}

type Objective struct {
	ID          string      `json:"id"`
	WorkspaceID string      `json:"workspace_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	StatusID    *string     `json:"status_id,omitempty"`
	LeadID      *string     `json:"lead_id,omitempty"`
	TeamID      *string     `json:"team_id,omitempty"`
	StartDate   *string     `json:"start_date,omitempty" format:"date"`
	EndDate     *string     `json:"end_date,omitempty" format:"date"`
	CreatedBy   string      `json:"created_by"`
	KeyResults  []KeyResult `json:"key_results"`
	CreatedAt   string      `json:"created_at" format:"date-time"`
	UpdatedAt   string      `json:"updated_at" format:"date-time"`
}

// Progress is the rounded mean of the key results' progress.
func (o Objective) Progress() int {
	if len(o.KeyResults) == 0 {
		return 0
	}
	total := 0
	for _, kr := range o.KeyResults {
		total += kr.Progress()
	}
	return int(math.Round(float64(total) / float64(len(o.KeyResults))))
}

type CreateObjective struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	StatusID    *string `json:"status_id,omitempty"`
	LeadID      *string `json:"lead_id,omitempty"`
	TeamID      *string `json:"team_id,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
}

// ObjectiveUpdate follows the StoryUpdate conventions.
type ObjectiveUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	StatusID    *string `json:"status_id,omitempty"`
	LeadID      *string `json:"lead_id,omitempty"`
	TeamID      *string `json:"team_id,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
}

func (u ObjectiveUpdate) Apply(o Objective) Objective {
	if u.Name != nil {
		o.Name = *u.Name
	}
	if u.Description != nil {
		o.Description = *u.Description
	}
	if u.StatusID != nil {
		o.StatusID = optionalRef(*u.StatusID)
	}
	if u.LeadID != nil {
		o.LeadID = optionalRef(*u.LeadID)
	}
	if u.TeamID != nil {
		o.TeamID = optionalRef(*u.TeamID)
	}
	if u.StartDate != nil {
		o.StartDate = optionalRef(*u.StartDate)
	}
	if u.EndDate != nil {
		o.EndDate = optionalRef(*u.EndDate)
	}
	return o
}

type ObjectiveStatus struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Category    string `json:"category" enum:"planned,active,completed,cancelled"`
	SortOrder   int    `json:"sort_order"`
}

type CreateObjectiveStatus struct {
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	Category  string `json:"category,omitempty"`
	SortOrder int    `json:"sort_order,omitempty"`
}

type ObjectiveStatusUpdate struct {
	Name      *string `json:"name,omitempty"`
	Color     *string `json:"color,omitempty"`
	Category  *string `json:"category,omitempty"`
	SortOrder *int    `json:"sort_order,omitempty"`
}

func (u ObjectiveStatusUpdate) Apply(s ObjectiveStatus) ObjectiveStatus {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.Color != nil {
		s.Color = *u.Color
	}
	if u.Category != nil {
		s.Category = *u.Category
	}
	if u.SortOrder != nil {
		s.SortOrder = *u.SortOrder
	}
	return s
}

// StatusCategories are the allowed ObjectiveStatus categories.
var StatusCategories = []string{"planned", "active", "completed", "cancelled"}
