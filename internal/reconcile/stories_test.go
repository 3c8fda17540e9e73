package reconcile

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"storyline/internal/domain"
	"storyline/internal/querykey"
)

func strPtr(s string) *string { return &s }

func story(id, status string) domain.Story {
	return domain.Story{ID: id, Title: "story " + id, StatusID: status, TeamID: "T1", Priority: domain.PriorityNone}
}

func groupsFixture() []domain.StoryGroup {
	return []domain.StoryGroup{
		{Key: "S-todo", Stories: []domain.Story{story("1", "S-todo"), story("2", "S-todo")}, LoadedCount: 2, TotalCount: 5},
		{Key: "S-doing", Stories: []domain.Story{story("3", "S-doing")}, LoadedCount: 1, TotalCount: 1},
		{Key: "S-done", Stories: []domain.Story{}, LoadedCount: 0, TotalCount: 0},
	}
}

func setStatus(status string) Patch {
	return func(s domain.Story) domain.Story {
		s.StatusID = status
		return s
	}
}

func ids(groups []domain.StoryGroup) []string {
	var out []string
	for _, g := range groups {
		for _, s := range g.Stories {
			out = append(out, s.ID)
		}
	}
	sort.Strings(out)
	return out
}

func totals(groups []domain.StoryGroup) int {
	n := 0
	for _, g := range groups {
		n += g.TotalCount
	}
	return n
}

func TestUpdateDetailQuery(t *testing.T) {
	title := "renamed"
	u := domain.StoryUpdate{Title: &title}
	d := domain.DetailedStory{Story: domain.Story{ID: "42", Title: "x", SubStories: []domain.Story{story("43", "S")}}}

	got := UpdateDetailQuery(d, "42", u.ApplyDetail, u.Apply)
	if got.Title != "renamed" {
		t.Fatalf("detail not patched: %+v", got)
	}
	got = UpdateDetailQuery(d, "43", u.ApplyDetail, u.Apply)
	if got.SubStories[0].Title != "renamed" || got.Title != "x" {
		t.Fatalf("sub-story not patched: %+v", got)
	}
	if d.SubStories[0].Title == "renamed" {
		t.Fatal("input sub-stories mutated")
	}
	got = UpdateDetailQuery(d, "99", u.ApplyDetail, u.Apply)
	if !reflect.DeepEqual(got, d) {
		t.Fatal("unknown id must be a no-op")
	}
}

func TestUpdateDetailQueryIdempotent(t *testing.T) {
	status := "S-done"
	u := domain.StoryUpdate{StatusID: &status}
	d := domain.DetailedStory{Story: domain.Story{ID: "42", StatusID: "S-todo"}}
	once := UpdateDetailQuery(d, "42", u.ApplyDetail, u.Apply)
	twice := UpdateDetailQuery(once, "42", u.ApplyDetail, u.Apply)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("not idempotent: %+v vs %+v", once, twice)
	}
}

func TestMoveStoryBetweenGroups(t *testing.T) {
	in := groupsFixture()
	before := groupsFixture()
	out := MoveStoryBetweenGroups(in, "2", setStatus("S-done"), domain.GroupByStatus)

	if !reflect.DeepEqual(in, before) {
		t.Fatal("input groups were mutated")
	}
	if len(out[0].Stories) != 1 || out[0].LoadedCount != 1 || out[0].TotalCount != 4 {
		t.Fatalf("source group not adjusted: %+v", out[0])
	}
	if len(out[2].Stories) != 1 || out[2].Stories[0].ID != "2" || out[2].Stories[0].StatusID != "S-done" {
		t.Fatalf("target group missing story: %+v", out[2])
	}
	if out[2].LoadedCount != 1 || out[2].TotalCount != 1 {
		t.Fatalf("target counters wrong: %+v", out[2])
	}
	if totals(out) != totals(in) {
		t.Fatalf("total count changed: %d -> %d", totals(in), totals(out))
	}
}

func TestMoveWithinSameGroupKeepsPosition(t *testing.T) {
	rename := func(s domain.Story) domain.Story { s.Title = "renamed"; return s }
	out := MoveStoryBetweenGroups(groupsFixture(), "2", rename, domain.GroupByStatus)
	if out[0].Stories[1].ID != "2" || out[0].Stories[1].Title != "renamed" {
		t.Fatalf("position lost: %+v", out[0].Stories)
	}
	if out[0].TotalCount != 5 || out[0].LoadedCount != 2 {
		t.Fatalf("counters drifted: %+v", out[0])
	}
}

func TestMoveConservesStories(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	statuses := []string{"S-todo", "S-doing", "S-done"}
	groups := groupsFixture()
	want := ids(groups)
	wantTotal := totals(groups)
	for i := 0; i < 200; i++ {
		all := ids(groups)
		id := all[rng.Intn(len(all))]
		groups = MoveStoryBetweenGroups(groups, id, setStatus(statuses[rng.Intn(len(statuses))]), domain.GroupByStatus)
		if got := ids(groups); !reflect.DeepEqual(got, want) {
			t.Fatalf("step %d: ids %v, want %v", i, got, want)
		}
		if totals(groups) != wantTotal {
			t.Fatalf("step %d: total %d, want %d", i, totals(groups), wantTotal)
		}
		for _, g := range groups {
			for _, s := range g.Stories {
				if s.StatusID != g.Key {
					t.Fatalf("story %s filed under %s with status %s", s.ID, g.Key, s.StatusID)
				}
			}
		}
	}
}

func TestMoveToMissingGroupDropsStory(t *testing.T) {
	out := MoveStoryBetweenGroups(groupsFixture(), "3", setStatus("S-unknown"), domain.GroupByStatus)
	if len(out[1].Stories) != 0 || out[1].TotalCount != 0 {
		t.Fatalf("story should have been dropped: %+v", out[1])
	}
}

func TestGroupedMissingStoryIsNoop(t *testing.T) {
	in := groupsFixture()
	out := UpdateGroupedQuery(in, "nope", setStatus("S-done"), nil)
	if &out[0] != &in[0] {
		t.Fatal("expected the same slice back")
	}
}

func TestCountersNeverNegative(t *testing.T) {
	groups := []domain.StoryGroup{{Key: "k", Stories: []domain.Story{story("1", "k"), story("2", "k"), story("3", "k")}, LoadedCount: 1, TotalCount: 0}}
	for _, id := range []string{"1", "2", "3"} {
		groups = RemoveFromGroups(groups, id)
		if groups[0].LoadedCount < 0 || groups[0].TotalCount < 0 {
			t.Fatalf("negative counters after removing %s: %+v", id, groups[0])
		}
	}
	if groups[0].LoadedCount != 0 || groups[0].TotalCount != 0 || len(groups[0].Stories) != 0 {
		t.Fatalf("unexpected final group %+v", groups[0])
	}
}

func TestUpdateListQueryDispatch(t *testing.T) {
	pages := domain.StoryPages{Pages: []domain.StoryPage{
		{Stories: []domain.Story{story("1", "S-todo")}, Page: 1, TotalCount: 2, HasMore: true},
		{Stories: []domain.Story{story("2", "S-todo")}, Page: 2, TotalCount: 2},
	}, PageParams: []int{1, 2}}
	got := UpdateListQuery(pages, "2", setStatus("S-done"), nil).(domain.StoryPages)
	if got.Pages[1].Stories[0].StatusID != "S-done" {
		t.Fatalf("infinite not patched: %+v", got)
	}
	if pages.Pages[1].Stories[0].StatusID != "S-todo" {
		t.Fatal("input pages mutated")
	}

	grouped := UpdateListQuery(groupsFixture(), "1", setStatus("S-doing"), nil).([]domain.StoryGroup)
	if grouped[0].Stories[0].StatusID != "S-doing" {
		t.Fatalf("grouped not patched: %+v", grouped[0])
	}

	flat := UpdateListQuery([]domain.Story{story("1", "a")}, "1", setStatus("b"), nil).([]domain.Story)
	if flat[0].StatusID != "b" {
		t.Fatal("flat list not patched")
	}

	if got := UpdateListQuery("unexpected", "1", setStatus("b"), nil); got != "unexpected" {
		t.Fatal("unknown shapes pass through")
	}
}

func TestInfiniteDropDecrementsTotals(t *testing.T) {
	pages := domain.StoryPages{Pages: []domain.StoryPage{
		{Stories: []domain.Story{story("1", "S")}, TotalCount: 2},
		{Stories: []domain.Story{story("2", "S")}, TotalCount: 2},
	}}
	drop := func(domain.Story) (string, bool) { return "", false }
	got := UpdateInfiniteQuery(pages, "2", nil, drop)
	if len(got.Pages[1].Stories) != 0 || got.Pages[0].TotalCount != 1 || got.Pages[1].TotalCount != 1 {
		t.Fatalf("unexpected pages %+v", got.Pages)
	}
}

func TestNestedSubStoryPatchedInLists(t *testing.T) {
	parent := story("p", "S")
	parent.SubStories = []domain.Story{story("c", "S")}
	groups := []domain.StoryGroup{{Key: "S", Stories: []domain.Story{parent}, LoadedCount: 1, TotalCount: 1}}
	out := UpdateGroupedQuery(groups, "c", setStatus("S-done"), nil)
	if out[0].Stories[0].SubStories[0].StatusID != "S-done" {
		t.Fatalf("nested story not patched: %+v", out[0].Stories[0])
	}
	if groups[0].Stories[0].SubStories[0].StatusID != "S" {
		t.Fatal("input mutated")
	}
}

func TestReconcileInsertIntoFirstGroup(t *testing.T) {
	key := querykey.TeamStories("ws", "T1", domain.GroupByStatus, nil)
	other := querykey.TeamStories("ws", "T2", domain.GroupByStatus, nil)
	s := story(domain.NewTempID(), "S-backlog")

	out := Reconcile(key, groupsFixture(), Insert{Story: s}).([]domain.StoryGroup)
	first := out[0]
	if first.Stories[len(first.Stories)-1].ID != s.ID || first.TotalCount != 6 || first.LoadedCount != 3 {
		t.Fatalf("story not appended to first group: %+v", first)
	}
	untouched := Reconcile(other, groupsFixture(), Insert{Story: s}).([]domain.StoryGroup)
	if !reflect.DeepEqual(untouched, groupsFixture()) {
		t.Fatal("story inserted into another team's view")
	}
}

func TestReconcileInsertSubStory(t *testing.T) {
	child := story("c", "S")
	child.ParentID = strPtr("42")
	detail := domain.DetailedStory{Story: domain.Story{ID: "42"}}
	got := Reconcile(querykey.StoryDetail("ws", "42"), detail, Insert{Story: child}).(domain.DetailedStory)
	if len(got.SubStories) != 1 || got.SubStories[0].ID != "c" {
		t.Fatalf("sub-story not added: %+v", got)
	}
	list := Reconcile(querykey.SubStories("ws", "42"), []domain.Story{}, Insert{Story: child}).([]domain.Story)
	if len(list) != 1 {
		t.Fatalf("sub-story list not updated: %+v", list)
	}
}

func TestReconcileRemoveMarksDetail(t *testing.T) {
	ts := "2024-01-01T00:00:00Z"
	op := Remove{IDs: []string{"42"}, MarkDetail: func(d domain.DetailedStory) domain.DetailedStory {
		d.DeletedAt = &ts
		return d
	}}
	d := domain.DetailedStory{Story: domain.Story{ID: "42"}}
	got := Reconcile(querykey.StoryDetail("ws", "42"), d, op).(domain.DetailedStory)
	if got.DeletedAt == nil || *got.DeletedAt != ts {
		t.Fatalf("deleted_at not set: %+v", got)
	}
	if d.DeletedAt != nil {
		t.Fatal("input mutated")
	}
}

func TestReconcileUpdateDropsStoryLeavingSprint(t *testing.T) {
	key := querykey.SprintStories("ws", "SP1", domain.GroupByStatus)
	s := story("1", "S-todo")
	s.SprintID = strPtr("SP1")
	groups := []domain.StoryGroup{{Key: "S-todo", Stories: []domain.Story{s}, LoadedCount: 1, TotalCount: 1}}
	none := ""
	out := Reconcile(key, groups, UpdateFrom("1", domain.StoryUpdate{SprintID: &none})).([]domain.StoryGroup)
	if len(out[0].Stories) != 0 || out[0].TotalCount != 0 {
		t.Fatalf("story should leave the sprint view: %+v", out[0])
	}
}

func TestReconcileShapeMismatchPassesThrough(t *testing.T) {
	key := querykey.StoryDetail("ws", "1")
	data := []domain.Story{story("1", "S")}
	got := Reconcile(key, data, UpdateFrom("1", domain.StoryUpdate{}))
	if !reflect.DeepEqual(got, data) {
		t.Fatal("mismatched shapes must be untouched")
	}
}

func TestReplaceSwapsPlaceholder(t *testing.T) {
	tmp := story(domain.NewTempID(), "S-todo")
	srv := story("srv-1", "S-todo")
	groups := []domain.StoryGroup{{Key: "S-todo", Stories: []domain.Story{tmp}, LoadedCount: 1, TotalCount: 1}}
	out := Reconcile(querykey.TeamStories("ws", "T1", domain.GroupByStatus, nil), groups, Replace{OldID: tmp.ID, Story: srv}).([]domain.StoryGroup)
	if out[0].Stories[0].ID != "srv-1" || out[0].TotalCount != 1 {
		t.Fatalf("placeholder not replaced: %+v", out[0])
	}
}

func TestReconcileUpdateDropsStoryBecomingSubStory(t *testing.T) {
	parent := "P1"
	grouped := querykey.TeamStories("ws", "T1", domain.GroupByStatus, nil)
	groups := []domain.StoryGroup{{Key: "S-todo", Stories: []domain.Story{story("1", "S-todo")}, LoadedCount: 1, TotalCount: 1}}
	out := Reconcile(grouped, groups, UpdateFrom("1", domain.StoryUpdate{ParentID: &parent})).([]domain.StoryGroup)
	if len(out[0].Stories) != 0 || out[0].TotalCount != 0 {
		t.Fatalf("sub-story should leave the top-level view: %+v", out[0])
	}

	subs := querykey.SubStories("ws", "P1")
	list := []domain.Story{story("1", "S-todo")}
	list[0].ParentID = strPtr("P1")
	got := Reconcile(subs, list, UpdateFrom("1", domain.StoryUpdate{Title: strPtr("renamed")})).([]domain.Story)
	if len(got) != 1 || got[0].Title != "renamed" {
		t.Fatalf("sub-story list should keep its children: %+v", got)
	}
}

func TestReconcileUpdateHonorsKeyFilters(t *testing.T) {
	s := story("1", "S-todo")
	s.AssigneeID = strPtr("u1")
	key := querykey.MyStories("ws", domain.GroupByStatus, querykey.Filters{"assignee_id": "u1"})
	groups := []domain.StoryGroup{{Key: "S-todo", Stories: []domain.Story{s}, LoadedCount: 1, TotalCount: 1}}
	other := "u2"
	out := Reconcile(key, groups, UpdateFrom("1", domain.StoryUpdate{AssigneeID: &other})).([]domain.StoryGroup)
	if len(out[0].Stories) != 0 {
		t.Fatalf("reassigned story should leave the filtered view: %+v", out[0])
	}
	same := Reconcile(key, groups, UpdateFrom("1", domain.StoryUpdate{Title: strPtr("x")})).([]domain.StoryGroup)
	if len(same[0].Stories) != 1 {
		t.Fatalf("story still matching the filter was dropped: %+v", same[0])
	}
}
