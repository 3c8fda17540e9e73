package reconcile

import (
	"storyline/internal/domain"
	"storyline/internal/querykey"
)

// ObjectiveOp is a cache change for objective-side data: objective detail
// and lists, key-result lists and objective-status lists.
type ObjectiveOp interface {
	Objective(key querykey.Key, o domain.Objective) domain.Objective
	Objectives(key querykey.Key, l []domain.Objective) []domain.Objective
	KeyResults(key querykey.Key, l []domain.KeyResult) []domain.KeyResult
	Statuses(key querykey.Key, l []domain.ObjectiveStatus) []domain.ObjectiveStatus
}

// ReconcileObjectives applies op according to the key's shape and the
// concrete data type.
func ReconcileObjectives(key querykey.Key, data any, op ObjectiveOp) any {
	switch key.Shape() {
	case querykey.ShapeDetail:
		if o, ok := data.(domain.Objective); ok {
			return op.Objective(key, o)
		}
	case querykey.ShapeList:
		switch v := data.(type) {
		case []domain.Objective:
			return op.Objectives(key, v)
		case []domain.KeyResult:
			return op.KeyResults(key, v)
		case []domain.ObjectiveStatus:
			return op.Statuses(key, v)
		}
	}
	return data
}

func objectiveID(o domain.Objective) string    { return o.ID }
func keyResultID(k domain.KeyResult) string    { return k.ID }
func statusID(s domain.ObjectiveStatus) string { return s.ID }

// objectiveNoop leaves every shape alone; ops embed it and override the
// shapes they touch.
type objectiveNoop struct{}

func (objectiveNoop) Objective(_ querykey.Key, o domain.Objective) domain.Objective { return o }
func (objectiveNoop) Objectives(_ querykey.Key, l []domain.Objective) []domain.Objective {
	return l
}
func (objectiveNoop) KeyResults(_ querykey.Key, l []domain.KeyResult) []domain.KeyResult {
	return l
}
func (objectiveNoop) Statuses(_ querykey.Key, l []domain.ObjectiveStatus) []domain.ObjectiveStatus {
	return l
}

type ObjectiveUpdate struct {
	objectiveNoop
	ID    string
	Patch func(domain.Objective) domain.Objective
}

func (op ObjectiveUpdate) Objective(_ querykey.Key, o domain.Objective) domain.Objective {
	if o.ID != op.ID {
		return o
	}
	return op.Patch(o)
}

func (op ObjectiveUpdate) Objectives(_ querykey.Key, l []domain.Objective) []domain.Objective {
	out, _ := updateByID(l, op.ID, objectiveID, op.Patch)
	return out
}

type ObjectiveInsert struct {
	objectiveNoop
	Created domain.Objective
}

func (op ObjectiveInsert) Objectives(_ querykey.Key, l []domain.Objective) []domain.Objective {
	if indexByID(l, op.Created.ID, objectiveID) >= 0 {
		return l
	}
	return appendCopy(l, op.Created)
}

type ObjectiveRemove struct {
	objectiveNoop
	ID string
}

func (op ObjectiveRemove) Objectives(_ querykey.Key, l []domain.Objective) []domain.Objective {
	out, _ := removeByID(l, objectiveID, op.ID)
	return out
}

// ObjectiveReplace swaps a placeholder objective for the server's copy.
type ObjectiveReplace struct {
	objectiveNoop
	OldID string
	With  domain.Objective
}

func (op ObjectiveReplace) Objectives(_ querykey.Key, l []domain.Objective) []domain.Objective {
	out, _ := updateByID(l, op.OldID, objectiveID, func(domain.Objective) domain.Objective { return op.With })
	return out
}

// KeyResultUpdate patches a key result in key-result lists and inside the
// objectives that embed it, so objective progress follows.
type KeyResultUpdate struct {
	objectiveNoop
	ID    string
	Patch func(domain.KeyResult) domain.KeyResult
}

func (op KeyResultUpdate) embed(o domain.Objective) (domain.Objective, bool) {
	krs, ok := updateByID(o.KeyResults, op.ID, keyResultID, op.Patch)
	if ok {
		o.KeyResults = krs
	}
	return o, ok
}

func (op KeyResultUpdate) Objective(_ querykey.Key, o domain.Objective) domain.Objective {
	out, _ := op.embed(o)
	return out
}

func (op KeyResultUpdate) Objectives(_ querykey.Key, l []domain.Objective) []domain.Objective {
	for i, o := range l {
		if patched, ok := op.embed(o); ok {
			out := append([]domain.Objective(nil), l...)
			out[i] = patched
			return out
		}
	}
	return l
}

func (op KeyResultUpdate) KeyResults(_ querykey.Key, l []domain.KeyResult) []domain.KeyResult {
	out, _ := updateByID(l, op.ID, keyResultID, op.Patch)
	return out
}

type KeyResultInsert struct {
	objectiveNoop
	KeyResult domain.KeyResult
}

func (op KeyResultInsert) embed(o domain.Objective) (domain.Objective, bool) {
	if o.ID != op.KeyResult.ObjectiveID || indexByID(o.KeyResults, op.KeyResult.ID, keyResultID) >= 0 {
		return o, false
	}
	o.KeyResults = appendCopy(o.KeyResults, op.KeyResult)
	return o, true
}

func (op KeyResultInsert) Objective(_ querykey.Key, o domain.Objective) domain.Objective {
	out, _ := op.embed(o)
	return out
}

func (op KeyResultInsert) Objectives(_ querykey.Key, l []domain.Objective) []domain.Objective {
	out, _ := updateByID(l, op.KeyResult.ObjectiveID, objectiveID, func(o domain.Objective) domain.Objective {
		patched, _ := op.embed(o)
		return patched
	})
	return out
}

func (op KeyResultInsert) KeyResults(key querykey.Key, l []domain.KeyResult) []domain.KeyResult {
	if v, ok := key.Segment(querykey.SegObjective); ok && v != op.KeyResult.ObjectiveID {
		return l
	}
	if indexByID(l, op.KeyResult.ID, keyResultID) >= 0 {
		return l
	}
	return appendCopy(l, op.KeyResult)
}

type KeyResultRemove struct {
	objectiveNoop
	ID string
}

func (op KeyResultRemove) embed(o domain.Objective) (domain.Objective, bool) {
	krs, n := removeByID(o.KeyResults, keyResultID, op.ID)
	if n == 0 {
		return o, false
	}
	o.KeyResults = krs
	return o, true
}

func (op KeyResultRemove) Objective(_ querykey.Key, o domain.Objective) domain.Objective {
	out, _ := op.embed(o)
	return out
}

func (op KeyResultRemove) Objectives(_ querykey.Key, l []domain.Objective) []domain.Objective {
	for i, o := range l {
		if patched, ok := op.embed(o); ok {
			out := append([]domain.Objective(nil), l...)
			out[i] = patched
			return out
		}
	}
	return l
}

func (op KeyResultRemove) KeyResults(_ querykey.Key, l []domain.KeyResult) []domain.KeyResult {
	out, _ := removeByID(l, keyResultID, op.ID)
	return out
}

type StatusUpdate struct {
	objectiveNoop
	ID    string
	Patch func(domain.ObjectiveStatus) domain.ObjectiveStatus
}

func (op StatusUpdate) Statuses(_ querykey.Key, l []domain.ObjectiveStatus) []domain.ObjectiveStatus {
	out, _ := updateByID(l, op.ID, statusID, op.Patch)
	return out
}

type StatusInsert struct {
	objectiveNoop
	Status domain.ObjectiveStatus
}

func (op StatusInsert) Statuses(_ querykey.Key, l []domain.ObjectiveStatus) []domain.ObjectiveStatus {
	if indexByID(l, op.Status.ID, statusID) >= 0 {
		return l
	}
	return appendCopy(l, op.Status)
}

type StatusRemove struct {
	objectiveNoop
	ID string
}

func (op StatusRemove) Statuses(_ querykey.Key, l []domain.ObjectiveStatus) []domain.ObjectiveStatus {
	out, _ := removeByID(l, statusID, op.ID)
	return out
}
