package domain

type Priority string

const (
	PriorityNone   Priority = "no_priority"
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities lists priorities in display order.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow, PriorityNone}

func (p Priority) Valid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

type Story struct {
	ID          string   `json:"id"`
	SequenceID  int      `json:"sequence_id"`
	Title       string   `json:"title"`
	StatusID    string   `json:"status_id"`
	Priority    Priority `json:"priority" enum:"no_priority,urgent,high,medium,low"`
	WorkspaceID string   `json:"workspace_id"`
	TeamID      string   `json:"team_id"`
	SprintID    *string  `json:"sprint_id,omitempty"`
	ObjectiveID *string  `json:"objective_id,omitempty"`
	EpicID      *string  `json:"epic_id,omitempty"`
	ParentID    *string  `json:"parent_id,omitempty"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	ReporterID  string   `json:"reporter_id"`
	CreatedBy   string   `json:"created_by"`
	Labels      []string `json:"labels"`
	StartDate   *string  `json:"start_date,omitempty" format:"date"`
	EndDate     *string  `json:"end_date,omitempty" format:"date"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
	SubStories  []Story  `json:"sub_stories"`
}

type StoryLink struct {
	Type    string `json:"type" enum:"blocks,blocked_by,related,duplicates"`
	StoryID string `json:"story_id"`
}

type DetailedStory struct {
	Story
	Description     string      `json:"description"`
	DescriptionHTML string      `json:"description_html"`
	DeletedAt       *string     `json:"deleted_at,omitempty" format:"date-time"`
	ArchivedAt      *string     `json:"archived_at,omitempty" format:"date-time"`
	Links           []StoryLink `json:"links"`
}

// CreateStory is the creation payload. The server assigns id and sequence_id.
type CreateStory struct {
	Title           string      `json:"title"`
	TeamID          string      `json:"team_id"`
	StatusID        string      `json:"status_id"`
	Priority        Priority    `json:"priority,omitempty"`
	SprintID        *string     `json:"sprint_id,omitempty"`
	ObjectiveID     *string     `json:"objective_id,omitempty"`
	EpicID          *string     `json:"epic_id,omitempty"`
	ParentID        *string     `json:"parent_id,omitempty"`
	AssigneeID      *string     `json:"assignee_id,omitempty"`
	ReporterID      string      `json:"reporter_id,omitempty"`
	Labels          []string    `json:"labels,omitempty"`
	Description     string      `json:"description,omitempty"`
	DescriptionHTML string      `json:"description_html,omitempty"`
	StartDate       *string     `json:"start_date,omitempty"`
	EndDate         *string     `json:"end_date,omitempty"`
	Links           []StoryLink `json:"links,omitempty"`
}

// StoryUpdate is a partial update. Nil fields are left alone; for nullable
// references an empty string clears the reference.
type StoryUpdate struct {
	Title           *string   `json:"title,omitempty"`
	StatusID        *string   `json:"status_id,omitempty"`
	Priority        *Priority `json:"priority,omitempty"`
	SprintID        *string   `json:"sprint_id,omitempty"`
	ObjectiveID     *string   `json:"objective_id,omitempty"`
	EpicID          *string   `json:"epic_id,omitempty"`
	ParentID        *string   `json:"parent_id,omitempty"`
	AssigneeID      *string   `json:"assignee_id,omitempty"`
	Labels          *[]string `json:"labels,omitempty"`
	StartDate       *string   `json:"start_date,omitempty"`
	EndDate         *string   `json:"end_date,omitempty"`
	Description     *string   `json:"description,omitempty"`
	DescriptionHTML *string   `json:"description_html,omitempty"`
}

func (u StoryUpdate) Empty() bool {
	return u == StoryUpdate{}
}

// Apply returns a copy of s with the update applied.
func (u StoryUpdate) Apply(s Story) Story {
	if u.Title != nil {
		s.Title = *u.Title
	}
	if u.StatusID != nil {
		s.StatusID = *u.StatusID
	}
	if u.Priority != nil {
		s.Priority = *u.Priority
	}
	if u.SprintID != nil {
		s.SprintID = optionalRef(*u.SprintID)
	}
	if u.ObjectiveID != nil {
		s.ObjectiveID = optionalRef(*u.ObjectiveID)
	}
	if u.EpicID != nil {
		s.EpicID = optionalRef(*u.EpicID)
	}
	if u.ParentID != nil {
		s.ParentID = optionalRef(*u.ParentID)
	}
	if u.AssigneeID != nil {
		s.AssigneeID = optionalRef(*u.AssigneeID)
	}
	if u.Labels != nil {
		s.Labels = append([]string{}, (*u.Labels)...)
	}
	if u.StartDate != nil {
		s.StartDate = optionalRef(*u.StartDate)
	}
	if u.EndDate != nil {
		s.EndDate = optionalRef(*u.EndDate)
	}
	return s
}

// ApplyDetail returns a copy of d with the update applied, including the
// description fields that only exist on the detailed shape.
func (u StoryUpdate) ApplyDetail(d DetailedStory) DetailedStory {
	d.Story = u.Apply(d.Story)
	if u.Description != nil {
		d.Description = *u.Description
	}
	if u.DescriptionHTML != nil {
		d.DescriptionHTML = *u.DescriptionHTML
	}
	return d
}

type GroupBy string

const (
	GroupByStatus   GroupBy = "status"
	GroupByPriority GroupBy = "priority"
	GroupByAssignee GroupBy = "assignee"
	GroupByNone     GroupBy = "none"
)

const (
	GroupKeyAll        = "all"
	GroupKeyUnassigned = "unassigned"
)

func (g GroupBy) Valid() bool {
	switch g {
	case GroupByStatus, GroupByPriority, GroupByAssignee, GroupByNone:
		return true
	}
	return false
}

// GroupKey returns the bucket a story falls into for the given dimension.
func GroupKey(s Story, by GroupBy) string {
	switch by {
	case GroupByStatus:
		return s.StatusID
	case GroupByPriority:
		if s.Priority == "" {
			return string(PriorityNone)
		}
		return string(s.Priority)
	case GroupByAssignee:
		if s.AssigneeID == nil || *s.AssigneeID == "" {
			return GroupKeyUnassigned
		}
		return *s.AssigneeID
	default:
		return GroupKeyAll
	}
}

type StoryGroup struct {
	Key         string  `json:"key"`
	Stories     []Story `json:"stories"`
	LoadedCount int     `json:"loaded_count"`
	TotalCount  int     `json:"total_count"`
	HasMore     bool    `json:"has_more"`
	NextPage    int     `json:"next_page"`
}

type StoryPage struct {
	Stories    []Story `json:"stories"`
	Page       int     `json:"page"`
	TotalCount int     `json:"total_count"`
	HasMore    bool    `json:"has_more"`
}

// StoryPages is the cached form of a paginated story list.
type StoryPages struct {
	Pages      []StoryPage `json:"pages"`
	PageParams []int       `json:"page_params"`
}

func optionalRef(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// StoryFilter narrows story listings. Empty fields are ignored.
type StoryFilter struct {
	TeamID      string `query:"team_id" json:"team_id,omitempty"`
	SprintID    string `query:"sprint_id" json:"sprint_id,omitempty"`
	ObjectiveID string `query:"objective_id" json:"objective_id,omitempty"`
	ParentID    string `query:"parent_id" json:"parent_id,omitempty"`
	AssigneeID  string `query:"assignee_id" json:"assignee_id,omitempty"`
	StatusID    string `query:"status_id" json:"status_id,omitempty"`
}

// Map returns the non-empty filters keyed by their query parameter name.
func (f StoryFilter) Map() map[string]string {
	out := map[string]string{}
	add := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	add("team_id", f.TeamID)
	add("sprint_id", f.SprintID)
	add("objective_id", f.ObjectiveID)
	add("parent_id", f.ParentID)
	add("assignee_id", f.AssigneeID)
	add("status_id", f.StatusID)
	return out
}

// IDs is the body of bulk delete, archive and restore.
type IDs struct {
	IDs []string `json:"ids"`
}

type BulkUpdate struct {
	IDs    []string    `json:"ids"`
	Update StoryUpdate `json:"update"`
}
