// Package querykey builds the hierarchical keys that address cached query
// results. A key is [workspace, kind, scope...]; any key is a prefix of the
// keys below it, so invalidating a prefix reaches every descendant.
package querykey

import (
	"net/url"
	"sort"
	"strings"

	"storyline/internal/domain"
)

// Shape tells reconciliation code which data shape an entry holds.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeDetail
	ShapeList
	ShapeGrouped
	ShapeInfinite
)

func (s Shape) String() string {
	switch s {
	case ShapeDetail:
		return "detail"
	case ShapeList:
		return "list"
	case ShapeGrouped:
		return "grouped"
	case ShapeInfinite:
		return "infinite"
	default:
		return "none"
	}
}

type Kind string

const (
	KindStories           Kind = "stories"
	KindObjectives        Kind = "objectives"
	KindKeyResults        Kind = "key-results"
	KindObjectiveStatuses Kind = "objective-statuses"
)

// Scope segment names.
const (
	SegTeam      = "team"
	SegSprint    = "sprint"
	SegObjective = "objective"
	SegParent    = "parent"
	SegMine      = "mine"
	SegDetail    = "detail"
	SegGrouped   = "grouped"
	SegInfinite  = "infinite"
	SegList      = "list"
)

type Key struct {
	parts []string
	shape Shape
}

func newKey(shape Shape, parts ...string) Key {
	return Key{parts: parts, shape: shape}
}

// Filters are query-string style view filters folded into a key.
type Filters map[string]string

// Encode renders filters in sorted k=v&... form; empty values are skipped.
func (f Filters) Encode() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k, v := range f {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := url.Values{}
	for _, k := range keys {
		vals.Set(k, f[k])
	}
	return vals.Encode()
}

func withFilters(parts []string, f Filters) []string {
	if enc := f.Encode(); enc != "" {
		return append(parts, enc)
	}
	return parts
}

// Filters decodes the filters folded into the key, or nil when it has none.
func (k Key) Filters() Filters {
	if len(k.parts) < 3 {
		return nil
	}
	last := k.parts[len(k.parts)-1]
	if !strings.Contains(last, "=") {
		return nil
	}
	vals, err := url.ParseQuery(last)
	if err != nil || len(vals) == 0 {
		return nil
	}
	f := make(Filters, len(vals))
	for name := range vals {
		f[name] = vals.Get(name)
	}
	return f
}

func Stories(workspace string) Key {
	return newKey(ShapeNone, workspace, string(KindStories))
}

func StoryDetail(workspace, id string) Key {
	return newKey(ShapeDetail, workspace, string(KindStories), SegDetail, id)
}

func TeamStories(workspace, teamID string, groupBy domain.GroupBy, f Filters) Key {
	parts := []string{workspace, string(KindStories), SegTeam, teamID, SegGrouped, string(groupBy)}
	return newKey(ShapeGrouped, withFilters(parts, f)...)
}

func TeamStoriesInfinite(workspace, teamID string, f Filters) Key {
	parts := []string{workspace, string(KindStories), SegTeam, teamID, SegInfinite}
	return newKey(ShapeInfinite, withFilters(parts, f)...)
}

func MyStories(workspace string, groupBy domain.GroupBy, f Filters) Key {
	parts := []string{workspace, string(KindStories), SegMine, SegGrouped, string(groupBy)}
	return newKey(ShapeGrouped, withFilters(parts, f)...)
}

func SprintStories(workspace, sprintID string, groupBy domain.GroupBy) Key {
	return newKey(ShapeGrouped, workspace, string(KindStories), SegSprint, sprintID, SegGrouped, string(groupBy))
}

func ObjectiveStories(workspace, objectiveID string) Key {
	return newKey(ShapeList, workspace, string(KindStories), SegObjective, objectiveID, SegList)
}

func SubStories(workspace, parentID string) Key {
	return newKey(ShapeList, workspace, string(KindStories), SegParent, parentID, SegList)
}

func Objectives(workspace string) Key {
	return newKey(ShapeNone, workspace, string(KindObjectives))
}

func ObjectiveList(workspace string, f Filters) Key {
	parts := []string{workspace, string(KindObjectives), SegList}
	return newKey(ShapeList, withFilters(parts, f)...)
}

func ObjectiveDetail(workspace, id string) Key {
	return newKey(ShapeDetail, workspace, string(KindObjectives), SegDetail, id)
}

func KeyResults(workspace, objectiveID string) Key {
	return newKey(ShapeList, workspace, string(KindKeyResults), SegObjective, objectiveID)
}

func ObjectiveStatuses(workspace string) Key {
	return newKey(ShapeList, workspace, string(KindObjectiveStatuses))
}

// KindPrefix is the broadest key for a kind inside a workspace.
func KindPrefix(workspace string, kind Kind) Key {
	return newKey(ShapeNone, workspace, string(kind))
}

func (k Key) Shape() Shape { return k.shape }

func (k Key) Workspace() string {
	if len(k.parts) == 0 {
		return ""
	}
	return k.parts[0]
}

func (k Key) Kind() Kind {
	if len(k.parts) < 2 {
		return ""
	}
	return Kind(k.parts[1])
}

func (k Key) Parts() []string {
	return append([]string(nil), k.parts...)
}

func (k Key) String() string {
	return strings.Join(k.parts, "/")
}

func (k Key) IsZero() bool { return len(k.parts) == 0 }

// HasPrefix reports whether p addresses k or one of k's ancestors.
func (k Key) HasPrefix(p Key) bool {
	if len(p.parts) > len(k.parts) {
		return false
	}
	for i, part := range p.parts {
		if k.parts[i] != part {
			return false
		}
	}
	return true
}

// Segment returns the value following the named scope segment, e.g.
// Segment("team") on a team key returns the team id.
func (k Key) Segment(name string) (string, bool) {
	for i := 2; i < len(k.parts)-1; i++ {
		if k.parts[i] == name {
			return k.parts[i+1], true
		}
	}
	return "", false
}

// Has reports whether the scope contains the bare segment name.
func (k Key) Has(name string) bool {
	for i := 2; i < len(k.parts); i++ {
		if k.parts[i] == name {
			return true
		}
	}
	return false
}

// GroupBy returns the grouping dimension of a grouped key.
func (k Key) GroupBy() domain.GroupBy {
	if v, ok := k.Segment(SegGrouped); ok {
		return domain.GroupBy(v)
	}
	return domain.GroupByNone
}

func (k Key) Equal(o Key) bool {
	return k.shape == o.shape && k.String() == o.String() && len(k.parts) == len(o.parts)
}
