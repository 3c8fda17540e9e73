// Package reconcile locates entities inside cached query data and returns
// updated copies. Inputs are never modified: every changed slice is freshly
// allocated so callers can detect change by identity. A helper that cannot
// find its target returns the input unchanged.
package reconcile

import "storyline/internal/domain"

// Patch transforms a story. A nil Patch leaves the story as is.
type Patch func(domain.Story) domain.Story

// DetailPatch transforms a detailed story.
type DetailPatch func(domain.DetailedStory) domain.DetailedStory

// Placement decides where a patched story belongs in a grouped or paged
// view: the target group key, and whether the view keeps it at all.
type Placement func(domain.Story) (groupKey string, keep bool)

func (p Patch) apply(s domain.Story) domain.Story {
	if p == nil {
		return s
	}
	return p(s)
}

func clampSub(n, delta int) int {
	if n-delta < 0 {
		return 0
	}
	return n - delta
}

func storyID(s domain.Story) string { return s.ID }

func indexByID[T any](items []T, id string, idOf func(T) string) int {
	for i, item := range items {
		if idOf(item) == id {
			return i
		}
	}
	return -1
}

// updateByID returns a copy of items with every element matching id patched.
func updateByID[T any](items []T, id string, idOf func(T) string, patch func(T) T) ([]T, bool) {
	if indexByID(items, id, idOf) < 0 {
		return items, false
	}
	out := make([]T, len(items))
	for i, item := range items {
		if idOf(item) == id {
			out[i] = patch(item)
			continue
		}
		out[i] = item
	}
	return out, true
}

// removeByID returns a copy of items without the listed ids and how many
// elements were dropped.
func removeByID[T any](items []T, idOf func(T) string, ids ...string) ([]T, int) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	found := false
	for _, item := range items {
		if _, ok := drop[idOf(item)]; ok {
			found = true
			break
		}
	}
	if !found {
		return items, 0
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if _, ok := drop[idOf(item)]; ok {
			continue
		}
		out = append(out, item)
	}
	return out, len(items) - len(out)
}

func insertAt[T any](items []T, idx int, item T) []T {
	if idx < 0 {
		idx = 0
	}
	if idx > len(items) {
		idx = len(items)
	}
	out := make([]T, 0, len(items)+1)
	out = append(out, items[:idx]...)
	out = append(out, item)
	out = append(out, items[idx:]...)
	return out
}

func appendCopy[T any](items []T, item T) []T {
	out := make([]T, 0, len(items)+1)
	out = append(out, items...)
	return append(out, item)
}

// patchNested patches a sub-story of any story in the slice.
func patchNested(stories []domain.Story, id string, patch Patch) ([]domain.Story, bool) {
	for i, s := range stories {
		subs, ok := updateByID(s.SubStories, id, storyID, patch.apply)
		if !ok {
			continue
		}
		out := make([]domain.Story, len(stories))
		copy(out, stories)
		s.SubStories = subs
		out[i] = s
		return out, true
	}
	return stories, false
}

// removeNested drops sub-stories with the given ids from every story.
func removeNested(stories []domain.Story, ids ...string) ([]domain.Story, bool) {
	var out []domain.Story
	for i, s := range stories {
		subs, n := removeByID(s.SubStories, storyID, ids...)
		if n == 0 {
			continue
		}
		if out == nil {
			out = make([]domain.Story, len(stories))
			copy(out, stories)
		}
		s.SubStories = subs
		out[i] = s
	}
	if out == nil {
		return stories, false
	}
	return out, true
}

// addNested appends child under its parent wherever the parent appears.
func addNested(stories []domain.Story, parentID string, child domain.Story) ([]domain.Story, bool) {
	return updateByID(stories, parentID, storyID, func(s domain.Story) domain.Story {
		if indexByID(s.SubStories, child.ID, storyID) >= 0 {
			return s
		}
		s.SubStories = appendCopy(s.SubStories, child)
		return s
	})
}
