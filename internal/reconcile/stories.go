package reconcile

import "storyline/internal/domain"

// UpdateDetailQuery patches the cached story detail when it is the target,
// or the matching entry of its sub-stories. Anything else is returned as is.
func UpdateDetailQuery(d domain.DetailedStory, id string, patch DetailPatch, sub Patch) domain.DetailedStory {
	if d.ID == id {
		if patch == nil {
			return d
		}
		return patch(d)
	}
	subs, ok := updateByID(d.SubStories, id, storyID, sub.apply)
	if !ok {
		return d
	}
	d.SubStories = subs
	return d
}

// UpdateListQuery dispatches on the concrete list shape: paged data carries
// pages, grouped data is a slice of groups, anything else is a flat list.
func UpdateListQuery(data any, id string, patch Patch, place Placement) any {
	switch v := data.(type) {
	case domain.StoryPages:
		return UpdateInfiniteQuery(v, id, patch, place)
	case []domain.StoryGroup:
		return UpdateGroupedQuery(v, id, patch, place)
	case []domain.Story:
		return UpdateFlatList(v, id, patch, place)
	default:
		return data
	}
}

// UpdateGroupedQuery removes the story from every group, patches it, and
// reinserts it where place says. Staying in the same group keeps its
// position; moving prepends it to the target group. A story with no
// target group is dropped. Counters follow each removal and insertion and
// never go below zero.
func UpdateGroupedQuery(groups []domain.StoryGroup, id string, patch Patch, place Placement) []domain.StoryGroup {
	srcGroup, srcIdx := -1, -1
	for i, g := range groups {
		if idx := indexByID(g.Stories, id, storyID); idx >= 0 {
			srcGroup, srcIdx = i, idx
			break
		}
	}
	if srcGroup < 0 {
		for i, g := range groups {
			if stories, ok := patchNested(g.Stories, id, patch); ok {
				out := append([]domain.StoryGroup(nil), groups...)
				g.Stories = stories
				out[i] = g
				return out
			}
		}
		return groups
	}
	original := groups[srcGroup].Stories[srcIdx]

	out := make([]domain.StoryGroup, len(groups))
	for i, g := range groups {
		stories, removed := removeByID(g.Stories, storyID, id)
		if removed > 0 {
			g.Stories = stories
			g.LoadedCount = clampSub(g.LoadedCount, removed)
			g.TotalCount = clampSub(g.TotalCount, removed)
		}
		out[i] = g
	}

	updated := patch.apply(original)
	target := groups[srcGroup].Key
	keep := true
	if place != nil {
		target, keep = place(updated)
	}
	if !keep {
		return out
	}
	ti := groupIndex(out, target)
	if ti < 0 {
		return out
	}
	pos := 0
	if ti == srcGroup {
		pos = srcIdx
	}
	g := out[ti]
	g.Stories = insertAt(g.Stories, pos, updated)
	g.LoadedCount++
	g.TotalCount++
	out[ti] = g
	return out
}

// MoveStoryBetweenGroups patches a story and files it under the group whose
// key matches its new value for the grouping dimension.
func MoveStoryBetweenGroups(groups []domain.StoryGroup, id string, patch Patch, by domain.GroupBy) []domain.StoryGroup {
	return UpdateGroupedQuery(groups, id, patch, func(s domain.Story) (string, bool) {
		return domain.GroupKey(s, by), true
	})
}

// UpdateInfiniteQuery patches the story in place on whichever page holds it.
// When place drops it, it is removed and every page's total shrinks.
func UpdateInfiniteQuery(p domain.StoryPages, id string, patch Patch, place Placement) domain.StoryPages {
	pageIdx, storyIdx := -1, -1
	for i, page := range p.Pages {
		if idx := indexByID(page.Stories, id, storyID); idx >= 0 {
			pageIdx, storyIdx = i, idx
			break
		}
	}
	if pageIdx < 0 {
		for i, page := range p.Pages {
			if stories, ok := patchNested(page.Stories, id, patch); ok {
				pages := append([]domain.StoryPage(nil), p.Pages...)
				page.Stories = stories
				pages[i] = page
				p.Pages = pages
				return p
			}
		}
		return p
	}
	updated := patch.apply(p.Pages[pageIdx].Stories[storyIdx])
	keep := true
	if place != nil {
		_, keep = place(updated)
	}
	if keep {
		pages := make([]domain.StoryPage, len(p.Pages))
		for i, page := range p.Pages {
			stories, _ := updateByID(page.Stories, id, storyID, func(domain.Story) domain.Story { return updated })
			page.Stories = stories
			pages[i] = page
		}
		p.Pages = pages
		return p
	}
	return RemoveFromPages(p, id)
}

// UpdateFlatList patches a story in a flat list, or drops it when it no
// longer belongs.
func UpdateFlatList(list []domain.Story, id string, patch Patch, place Placement) []domain.Story {
	idx := indexByID(list, id, storyID)
	if idx < 0 {
		out, _ := patchNested(list, id, patch)
		return out
	}
	updated := patch.apply(list[idx])
	if place != nil {
		if _, keep := place(updated); !keep {
			out, _ := removeByID(list, storyID, id)
			return out
		}
	}
	out, _ := updateByID(list, id, storyID, func(domain.Story) domain.Story { return updated })
	return out
}

// InsertIntoGroups appends a story to the group with the given key, or to
// the first group when key is empty.
func InsertIntoGroups(groups []domain.StoryGroup, s domain.Story, key string) []domain.StoryGroup {
	if len(groups) == 0 {
		return groups
	}
	for _, g := range groups {
		if indexByID(g.Stories, s.ID, storyID) >= 0 {
			return groups
		}
	}
	ti := 0
	if key != "" {
		if ti = groupIndex(groups, key); ti < 0 {
			return groups
		}
	}
	out := append([]domain.StoryGroup(nil), groups...)
	g := out[ti]
	g.Stories = appendCopy(g.Stories, s)
	g.LoadedCount++
	g.TotalCount++
	out[ti] = g
	return out
}

// InsertIntoPages appends a story to the first page.
func InsertIntoPages(p domain.StoryPages, s domain.Story) domain.StoryPages {
	if len(p.Pages) == 0 {
		return p
	}
	for _, page := range p.Pages {
		if indexByID(page.Stories, s.ID, storyID) >= 0 {
			return p
		}
	}
	pages := make([]domain.StoryPage, len(p.Pages))
	for i, page := range p.Pages {
		if i == 0 {
			page.Stories = appendCopy(page.Stories, s)
		}
		page.TotalCount++
		pages[i] = page
	}
	p.Pages = pages
	return p
}

// RemoveFromGroups drops the stories, top level or nested, from all groups.
func RemoveFromGroups(groups []domain.StoryGroup, ids ...string) []domain.StoryGroup {
	var out []domain.StoryGroup
	for i, g := range groups {
		stories, removed := removeByID(g.Stories, storyID, ids...)
		stories, nested := removeNested(stories, ids...)
		if removed == 0 && !nested {
			continue
		}
		if out == nil {
			out = append([]domain.StoryGroup(nil), groups...)
		}
		g.Stories = stories
		g.LoadedCount = clampSub(g.LoadedCount, removed)
		g.TotalCount = clampSub(g.TotalCount, removed)
		out[i] = g
	}
	if out == nil {
		return groups
	}
	return out
}

// RemoveFromPages drops the stories from every page and shrinks each page's
// total by the number removed overall.
func RemoveFromPages(p domain.StoryPages, ids ...string) domain.StoryPages {
	total := 0
	changed := false
	pages := make([]domain.StoryPage, len(p.Pages))
	for i, page := range p.Pages {
		stories, removed := removeByID(page.Stories, storyID, ids...)
		stories, nested := removeNested(stories, ids...)
		if removed > 0 || nested {
			changed = true
		}
		total += removed
		page.Stories = stories
		pages[i] = page
	}
	if !changed {
		return p
	}
	for i := range pages {
		pages[i].TotalCount = clampSub(pages[i].TotalCount, total)
	}
	p.Pages = pages
	return p
}

// RemoveFromList drops the stories, top level or nested, from a flat list.
func RemoveFromList(list []domain.Story, ids ...string) []domain.Story {
	out, _ := removeByID(list, storyID, ids...)
	out, _ = removeNested(out, ids...)
	return out
}

// ReplaceStory swaps the entity with id oldID for s wherever it appears,
// including nested sub-stories. Used to trade a temporary id for the
// server's copy.
func ReplaceStory(stories []domain.Story, oldID string, s domain.Story) []domain.Story {
	swap := func(domain.Story) domain.Story { return s }
	if out, ok := updateByID(stories, oldID, storyID, swap); ok {
		return out
	}
	out, _ := patchNested(stories, oldID, swap)
	return out
}

func groupIndex(groups []domain.StoryGroup, key string) int {
	for i, g := range groups {
		if g.Key == key {
			return i
		}
	}
	return -1
}
