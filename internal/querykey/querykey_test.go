package querykey

import (
	"testing"

	"storyline/internal/domain"
)

func TestKeysAreHierarchical(t *testing.T) {
	team := TeamStories("ws", "T1", domain.GroupByStatus, Filters{"sprint_id": "SP1"})
	detail := StoryDetail("ws", "42")
	objective := ObjectiveDetail("ws", "O1")

	if !team.HasPrefix(Stories("ws")) || !detail.HasPrefix(Stories("ws")) {
		t.Fatal("story keys must sit under the stories prefix")
	}
	if team.HasPrefix(Stories("other")) {
		t.Fatal("workspace must scope keys")
	}
	if objective.HasPrefix(Stories("ws")) {
		t.Fatal("objective key under stories prefix")
	}
	if !objective.HasPrefix(Objectives("ws")) {
		t.Fatal("objective detail must sit under the objectives prefix")
	}
	if Stories("ws").HasPrefix(team) {
		t.Fatal("prefix relation must not be symmetric")
	}
}

func TestKeysAreDeterministic(t *testing.T) {
	a := TeamStories("ws", "T1", domain.GroupByPriority, Filters{"b": "2", "a": "1", "empty": ""})
	b := TeamStories("ws", "T1", domain.GroupByPriority, Filters{"a": "1", "b": "2"})
	if a.String() != b.String() || !a.Equal(b) {
		t.Fatalf("keys differ: %s vs %s", a, b)
	}
	if a.String() != "ws/stories/team/T1/grouped/priority/a=1&b=2" {
		t.Fatalf("unexpected key %s", a)
	}
}

func TestKeyAccessors(t *testing.T) {
	k := SprintStories("ws", "SP1", domain.GroupByAssignee)
	if k.Shape() != ShapeGrouped || k.Kind() != KindStories || k.Workspace() != "ws" {
		t.Fatalf("accessors wrong for %s", k)
	}
	if v, ok := k.Segment(SegSprint); !ok || v != "SP1" {
		t.Fatalf("sprint segment = %q %v", v, ok)
	}
	if _, ok := k.Segment(SegTeam); ok {
		t.Fatal("unexpected team segment")
	}
	if k.GroupBy() != domain.GroupByAssignee {
		t.Fatalf("group by = %s", k.GroupBy())
	}
	if ObjectiveStories("ws", "O1").GroupBy() != domain.GroupByNone {
		t.Fatal("list keys have no grouping")
	}
	if !MyStories("ws", domain.GroupByStatus, nil).Has(SegMine) {
		t.Fatal("mine segment missing")
	}
	if TeamStoriesInfinite("ws", "T1", nil).Shape() != ShapeInfinite {
		t.Fatal("infinite shape")
	}
}

func TestPartsReturnsCopy(t *testing.T) {
	k := StoryDetail("ws", "1")
	parts := k.Parts()
	parts[0] = "mutated"
	if k.Workspace() != "ws" {
		t.Fatal("Parts leaked internal slice")
	}
}

func TestKeyFilters(t *testing.T) {
	k := TeamStories("ws", "T1", domain.GroupByStatus, Filters{"assignee_id": "u1", "sprint_id": "S 1"})
	f := k.Filters()
	if f["assignee_id"] != "u1" || f["sprint_id"] != "S 1" || len(f) != 2 {
		t.Fatalf("filters = %v", f)
	}
	if f := TeamStories("ws", "T1", domain.GroupByStatus, nil).Filters(); f != nil {
		t.Fatalf("expected no filters, got %v", f)
	}
	if f := StoryDetail("ws", "42").Filters(); f != nil {
		t.Fatalf("detail key has no filters, got %v", f)
	}
}
