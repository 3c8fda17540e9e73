package reconcile

import (
	"storyline/internal/domain"
	"storyline/internal/querykey"
)

// Op is one cache change expressed for every story data shape.
type Op interface {
	Detail(key querykey.Key, d domain.DetailedStory) domain.DetailedStory
	List(key querykey.Key, l []domain.Story) []domain.Story
	Grouped(key querykey.Key, g []domain.StoryGroup) []domain.StoryGroup
	Infinite(key querykey.Key, p domain.StoryPages) domain.StoryPages
}

// Reconcile applies op to data according to the shape recorded on key.
// Data that does not match the declared shape is returned unchanged.
func Reconcile(key querykey.Key, data any, op Op) any {
	switch key.Shape() {
	case querykey.ShapeDetail:
		if d, ok := data.(domain.DetailedStory); ok {
			return op.Detail(key, d)
		}
	case querykey.ShapeList:
		if l, ok := data.([]domain.Story); ok {
			return op.List(key, l)
		}
	case querykey.ShapeGrouped:
		if g, ok := data.([]domain.StoryGroup); ok {
			return op.Grouped(key, g)
		}
	case querykey.ShapeInfinite:
		if p, ok := data.(domain.StoryPages); ok {
			return op.Infinite(key, p)
		}
	}
	return data
}

// Belongs reports whether a story fits the scope encoded in a list key and
// the filters folded into it. Sub-stories are only listed at top level in
// views scoped to their parent; elsewhere they live nested under it.
func Belongs(key querykey.Key, s domain.Story) bool {
	if v, ok := key.Segment(querykey.SegTeam); ok && s.TeamID != v {
		return false
	}
	if v, ok := key.Segment(querykey.SegSprint); ok && (s.SprintID == nil || *s.SprintID != v) {
		return false
	}
	if v, ok := key.Segment(querykey.SegObjective); ok && (s.ObjectiveID == nil || *s.ObjectiveID != v) {
		return false
	}
	filters := key.Filters()
	parent, parentScoped := key.Segment(querykey.SegParent)
	if !parentScoped {
		parent, parentScoped = filters["parent_id"], filters["parent_id"] != ""
	}
	if parentScoped {
		if s.ParentID == nil || *s.ParentID != parent {
			return false
		}
	} else if s.ParentID != nil && *s.ParentID != "" {
		return false
	}
	for name, want := range filters {
		if got, known := filterValue(s, name); known && want != "" && got != want {
			return false
		}
	}
	return true
}

func filterValue(s domain.Story, name string) (string, bool) {
	ref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	switch name {
	case "team_id":
		return s.TeamID, true
	case "status_id":
		return s.StatusID, true
	case "sprint_id":
		return ref(s.SprintID), true
	case "objective_id":
		return ref(s.ObjectiveID), true
	case "assignee_id":
		return ref(s.AssigneeID), true
	}
	return "", false
}

// PlacementFor returns the placement rule for a list key: scoped views drop
// stories that leave their scope, grouped views file by the key's dimension.
func PlacementFor(key querykey.Key) Placement {
	by := key.GroupBy()
	return func(s domain.Story) (string, bool) {
		if !Belongs(key, s) {
			return "", false
		}
		return domain.GroupKey(s, by), true
	}
}

// Update patches one story everywhere it is cached.
type Update struct {
	ID         string
	Story      Patch
	MarkDetail DetailPatch
}

// UpdateFrom builds an Update from a partial story update.
func UpdateFrom(id string, u domain.StoryUpdate) Update {
	return Update{ID: id, Story: u.Apply, MarkDetail: u.ApplyDetail}
}

func (op Update) Detail(_ querykey.Key, d domain.DetailedStory) domain.DetailedStory {
	return UpdateDetailQuery(d, op.ID, op.MarkDetail, op.Story)
}

func (op Update) List(key querykey.Key, l []domain.Story) []domain.Story {
	return UpdateFlatList(l, op.ID, op.Story, PlacementFor(key))
}

func (op Update) Grouped(key querykey.Key, g []domain.StoryGroup) []domain.StoryGroup {
	return UpdateGroupedQuery(g, op.ID, op.Story, PlacementFor(key))
}

func (op Update) Infinite(key querykey.Key, p domain.StoryPages) domain.StoryPages {
	return UpdateInfiniteQuery(p, op.ID, op.Story, PlacementFor(key))
}

// Remove takes stories out of every list and sub-story list. Detail entries
// of the removed stories stay cached and get MarkDetail applied, which is
// how soft delete and archive mark them.
type Remove struct {
	IDs        []string
	MarkDetail DetailPatch
}

func (op Remove) Detail(_ querykey.Key, d domain.DetailedStory) domain.DetailedStory {
	for _, id := range op.IDs {
		if d.ID == id {
			if op.MarkDetail != nil {
				return op.MarkDetail(d)
			}
			return d
		}
	}
	if subs, n := removeByID(d.SubStories, storyID, op.IDs...); n > 0 {
		d.SubStories = subs
	}
	return d
}

func (op Remove) List(_ querykey.Key, l []domain.Story) []domain.Story {
	return RemoveFromList(l, op.IDs...)
}

func (op Remove) Grouped(_ querykey.Key, g []domain.StoryGroup) []domain.StoryGroup {
	return RemoveFromGroups(g, op.IDs...)
}

func (op Remove) Infinite(_ querykey.Key, p domain.StoryPages) domain.StoryPages {
	return RemoveFromPages(p, op.IDs...)
}

// Insert adds a new story. A top-level story goes to the first group or
// page of every view whose scope it fits. A sub-story is nested under its
// parent wherever the parent is cached, and listed in the parent's
// sub-story list.
type Insert struct {
	Story domain.Story
}

func (op Insert) parentID() string {
	if op.Story.ParentID == nil {
		return ""
	}
	return *op.Story.ParentID
}

func (op Insert) Detail(_ querykey.Key, d domain.DetailedStory) domain.DetailedStory {
	if parent := op.parentID(); parent != "" && d.ID == parent {
		if indexByID(d.SubStories, op.Story.ID, storyID) < 0 {
			d.SubStories = appendCopy(d.SubStories, op.Story)
		}
	}
	return d
}

func (op Insert) List(key querykey.Key, l []domain.Story) []domain.Story {
	if parent := op.parentID(); parent != "" {
		if v, ok := key.Segment(querykey.SegParent); !ok || v != parent {
			out, _ := addNested(l, parent, op.Story)
			return out
		}
	}
	if !Belongs(key, op.Story) || indexByID(l, op.Story.ID, storyID) >= 0 {
		return l
	}
	return appendCopy(l, op.Story)
}

func (op Insert) Grouped(key querykey.Key, g []domain.StoryGroup) []domain.StoryGroup {
	if parent := op.parentID(); parent != "" {
		var out []domain.StoryGroup
		for i, group := range g {
			stories, ok := addNested(group.Stories, parent, op.Story)
			if !ok {
				continue
			}
			if out == nil {
				out = append([]domain.StoryGroup(nil), g...)
			}
			group.Stories = stories
			out[i] = group
		}
		if out == nil {
			return g
		}
		return out
	}
	if !Belongs(key, op.Story) {
		return g
	}
	return InsertIntoGroups(g, op.Story, "")
}

func (op Insert) Infinite(key querykey.Key, p domain.StoryPages) domain.StoryPages {
	if parent := op.parentID(); parent != "" {
		for i, page := range p.Pages {
			if stories, ok := addNested(page.Stories, parent, op.Story); ok {
				pages := append([]domain.StoryPage(nil), p.Pages...)
				page.Stories = stories
				pages[i] = page
				p.Pages = pages
				return p
			}
		}
		return p
	}
	if !Belongs(key, op.Story) {
		return p
	}
	return InsertIntoPages(p, op.Story)
}

// Replace swaps a placeholder for the server's copy of the same story.
type Replace struct {
	OldID string
	Story domain.Story
}

func (op Replace) Detail(_ querykey.Key, d domain.DetailedStory) domain.DetailedStory {
	d.SubStories = ReplaceStory(d.SubStories, op.OldID, op.Story)
	return d
}

func (op Replace) List(_ querykey.Key, l []domain.Story) []domain.Story {
	return ReplaceStory(l, op.OldID, op.Story)
}

func (op Replace) Grouped(_ querykey.Key, g []domain.StoryGroup) []domain.StoryGroup {
	var out []domain.StoryGroup
	for i, group := range g {
		stories := ReplaceStory(group.Stories, op.OldID, op.Story)
		if sameBacking(stories, group.Stories) {
			continue
		}
		if out == nil {
			out = append([]domain.StoryGroup(nil), g...)
		}
		group.Stories = stories
		out[i] = group
	}
	if out == nil {
		return g
	}
	return out
}

func (op Replace) Infinite(_ querykey.Key, p domain.StoryPages) domain.StoryPages {
	var pages []domain.StoryPage
	for i, page := range p.Pages {
		stories := ReplaceStory(page.Stories, op.OldID, op.Story)
		if sameBacking(stories, page.Stories) {
			continue
		}
		if pages == nil {
			pages = append([]domain.StoryPage(nil), p.Pages...)
		}
		page.Stories = stories
		pages[i] = page
	}
	if pages != nil {
		p.Pages = pages
	}
	return p
}

func sameBacking(a, b []domain.Story) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
