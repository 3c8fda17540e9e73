package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestKeyResultProgress(t *testing.T) {
	cases := []struct {
		name string
		kr   KeyResult
		want int
	}{
		{"boolean done", KeyResult{MeasurementType: MeasureBoolean, CurrentValue: 1}, 100},
		{"boolean open", KeyResult{MeasurementType: MeasureBoolean, CurrentValue: 0}, 0},
		{"boolean other value", KeyResult{MeasurementType: MeasureBoolean, CurrentValue: 2}, 0},
		{"percentage", KeyResult{MeasurementType: MeasurePercentage, CurrentValue: 35}, 35},
		{"number 40", KeyResult{MeasurementType: MeasureNumber, StartValue: 0, CurrentValue: 40, TargetValue: 100}, 40},
		{"number 60", KeyResult{MeasurementType: MeasureNumber, StartValue: 0, CurrentValue: 60, TargetValue: 100}, 60},
		{"number offset", KeyResult{MeasurementType: MeasureNumber, StartValue: 10, CurrentValue: 15, TargetValue: 30}, 25},
		{"number rounding", KeyResult{MeasurementType: MeasureNumber, StartValue: 0, CurrentValue: 1, TargetValue: 3}, 33},
		{"number decreasing", KeyResult{MeasurementType: MeasureNumber, StartValue: 100, CurrentValue: 75, TargetValue: 50}, 50},
		{"number flat reached", KeyResult{MeasurementType: MeasureNumber, StartValue: 5, CurrentValue: 5, TargetValue: 5}, 100},
		{"number flat not reached", KeyResult{MeasurementType: MeasureNumber, StartValue: 5, CurrentValue: 4, TargetValue: 5}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.kr.Progress(); got != tc.want {
				t.Fatalf("progress = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestObjectiveProgressIsMeanOfKeyResults(t *testing.T) {
	o := Objective{KeyResults: []KeyResult{
		{MeasurementType: MeasureBoolean, CurrentValue: 1},
		{MeasurementType: MeasurePercentage, CurrentValue: 50},
	}}
	if got := o.Progress(); got != 75 {
		t.Fatalf("progress = %d, want 75", got)
	}
	if got := (Objective{}).Progress(); got != 0 {
		t.Fatalf("empty objective progress = %d", got)
	}
}

func TestStoryUpdateIsIdempotent(t *testing.T) {
	assignee := "u-1"
	d := DetailedStory{Story: Story{ID: "42", Title: "old", StatusID: "S-todo", AssigneeID: &assignee, Labels: []string{"a"}}}
	title, status, clear, desc := "new", "S-done", "", "body"
	labels := []string{"b", "c"}
	u := StoryUpdate{Title: &title, StatusID: &status, AssigneeID: &clear, Labels: &labels, Description: &desc}

	once := u.ApplyDetail(d)
	twice := u.ApplyDetail(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("apply twice differs:\n%+v\n%+v", once, twice)
	}
	if once.AssigneeID != nil {
		t.Fatalf("expected assignee cleared")
	}
	if d.Title != "old" || *d.AssigneeID != "u-1" {
		t.Fatalf("input was mutated: %+v", d)
	}
}

func TestGroupKey(t *testing.T) {
	assignee := "u-9"
	s := Story{StatusID: "S-1", Priority: PriorityHigh}
	if GroupKey(s, GroupByStatus) != "S-1" {
		t.Fatal("status key")
	}
	if GroupKey(s, GroupByPriority) != "high" {
		t.Fatal("priority key")
	}
	if GroupKey(s, GroupByAssignee) != GroupKeyUnassigned {
		t.Fatal("unassigned key")
	}
	s.AssigneeID = &assignee
	if GroupKey(s, GroupByAssignee) != "u-9" {
		t.Fatal("assignee key")
	}
	if GroupKey(s, GroupByNone) != GroupKeyAll {
		t.Fatal("none key")
	}
}

func TestOptimisticStoryUsesTemporaryID(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	o := NewOptimisticStory(CreateStory{Title: "Fix button color", TeamID: "T1", StatusID: "S-backlog"}, "ws", "me", now)
	if !IsTempID(o.TempID) || o.Value.ID != o.TempID {
		t.Fatalf("unexpected temp id %q / %q", o.TempID, o.Value.ID)
	}
	if o.Value.ReporterID != "me" || o.Value.CreatedBy != "me" {
		t.Fatalf("identity not applied: %+v", o.Value)
	}
	if IsTempID("123") {
		t.Fatal("plain ids must not look temporary")
	}
	other := NewOptimisticStory(CreateStory{Title: "x"}, "ws", "me", now)
	if other.TempID == o.TempID {
		t.Fatal("temp ids must be unique")
	}
}
