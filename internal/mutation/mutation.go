// Package mutation runs optimistic writes against the query cache.
//
// A call walks idle -> pending -> success|error. On invoke it snapshots
// every cached entry of the kinds it touches and patches them right away.
// When the backend answers with data the cache is settled and the computed
// invalidation set is refetched; when it answers with an error (transport
// or envelope) the snapshot is restored and the user is offered a retry.
//
// Calls on the same entity are not serialized. A slow call that fails after
// a newer one applied its patch restores its own, older snapshot.
package mutation

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"storyline/internal/analytics"
	"storyline/internal/api"
	"storyline/internal/cache"
	"storyline/internal/metrics"
	"storyline/internal/notify"
	"storyline/internal/querykey"
	"storyline/internal/session"
)

const (
	StateIdle    = "idle"
	StatePending = "pending"
	StateSuccess = "success"
	StateError   = "error"

	EventInvoke  = "invoke"
	EventSucceed = "succeed"
	EventFail    = "fail"
)

func newCallFSM(log *zap.SugaredLogger, name string) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventInvoke, Src: []string{StateIdle}, Dst: StatePending},
			{Name: EventSucceed, Src: []string{StatePending}, Dst: StateSuccess},
			{Name: EventFail, Src: []string{StateIdle, StatePending}, Dst: StateError},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugw("mutation state", "mutation", name, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// Deps are the collaborators every mutation needs.
type Deps struct {
	Client   *api.Client
	Store    *cache.Store
	Session  session.Provider
	Tracker  analytics.Tracker
	Notifier notify.Notifier
	Log      *zap.SugaredLogger
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Tracker == nil {
		d.Tracker = analytics.Nop{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Discard{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Session == nil {
		d.Session = session.Identity{WorkspaceID: d.Client.WorkspaceID}
	}
	return d
}

func (d Deps) workspace() string { return d.Client.WorkspaceID }

func (d Deps) userID() string { return d.Session.Current().UserID }

// patch applies a reconcile function to every cached entry of the kinds.
func (d Deps) patch(kinds []querykey.Kind, fn func(querykey.Key, any) any) int {
	return d.Store.Update(cache.Filter{Workspace: d.workspace(), Kinds: kinds}, fn)
}

// Spec describes one mutation.
type Spec[In, Out any] struct {
	Name string
	// Kinds are snapshotted before Apply and are the source of the
	// invalidation set after success.
	Kinds []querykey.Kind
	// Apply patches the cache. The returned settle func, if any, runs with
	// the server's result before invalidation.
	Apply func(d Deps, in In) (settle func(out Out))
	Fetch func(ctx context.Context, c *api.Client, in In) (api.Envelope[Out], error)

	Event string
	Props func(in In, out Out) map[string]any

	SuccessTitle string
	FailureTitle string
	// Undo builds the follow-up offered with the success notification.
	Undo func(in In, out Out) *notify.Action
}

type Mutation[In, Out any] struct {
	spec Spec[In, Out]
	deps Deps

	mu   sync.Mutex
	last *fsm.FSM
}

func New[In, Out any](deps Deps, spec Spec[In, Out]) *Mutation[In, Out] {
	return &Mutation[In, Out]{spec: spec, deps: deps.withDefaults()}
}

func (m *Mutation[In, Out]) Name() string { return m.spec.Name }

// Status reports the state of the latest call, or idle before any call.
func (m *Mutation[In, Out]) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return StateIdle
	}
	return m.last.Current()
}

func (m *Mutation[In, Out]) transition(ctx context.Context, machine *fsm.FSM, event string) {
	if err := machine.Event(ctx, event); err != nil {
		m.deps.Log.Warnw("mutation transition", "mutation", m.spec.Name, "event", event, "error", err)
	}
}

// Mutate runs one call. The returned error is the transport error or the
// envelope's *api.Error, after rollback.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, in In) (Out, error) {
	var zero Out
	start := m.deps.Now()
	machine := newCallFSM(m.deps.Log, m.spec.Name)
	m.mu.Lock()
	m.last = machine
	m.mu.Unlock()

	snap, err := m.deps.Store.Snapshot(cache.Filter{Workspace: m.deps.workspace(), Kinds: m.spec.Kinds})
	if err != nil {
		m.transition(ctx, machine, EventFail)
		metrics.ObserveMutation(m.spec.Name, metrics.OutcomeError, m.deps.Now().Sub(start))
		return zero, err
	}
	m.transition(ctx, machine, EventInvoke)

	var settle func(Out)
	if m.spec.Apply != nil {
		settle = m.spec.Apply(m.deps, in)
	}

	env, err := m.spec.Fetch(ctx, m.deps.Client, in)
	if err == nil {
		err = env.Err()
	}
	if err != nil {
		m.deps.Store.Restore(snap)
		m.transition(ctx, machine, EventFail)
		metrics.ObserveMutation(m.spec.Name, metrics.OutcomeError, m.deps.Now().Sub(start))
		m.deps.Log.Warnw("mutation rolled back", "mutation", m.spec.Name, "entries", snap.Len(), "error", err)
		m.deps.Notifier.Failure(ctx, m.failureTitle(), err.Error(), &notify.Action{
			Label: "Retry",
			Run: func(ctx context.Context) error {
				_, err := m.Mutate(ctx, in)
				return err
			},
		})
		return zero, err
	}

	out := env.Data
	if settle != nil {
		settle(out)
	}
	m.transition(ctx, machine, EventSucceed)

	keys := m.deps.Store.InvalidationSet(m.deps.workspace(), m.spec.Kinds...)
	if err := m.deps.Store.Invalidate(ctx, keys...); err != nil {
		m.deps.Log.Warnw("invalidation incomplete", "mutation", m.spec.Name, "error", err)
	}
	metrics.ObserveMutation(m.spec.Name, metrics.OutcomeSuccess, m.deps.Now().Sub(start))

	if m.spec.Event != "" {
		var props map[string]any
		if m.spec.Props != nil {
			props = m.spec.Props(in, out)
		}
		m.deps.Tracker.Track(m.spec.Event, props)
	}
	if m.spec.SuccessTitle != "" {
		var undo *notify.Action
		if m.spec.Undo != nil {
			undo = m.spec.Undo(in, out)
		}
		m.deps.Notifier.Success(ctx, m.spec.SuccessTitle, undo)
	}
	return out, nil
}

func (m *Mutation[In, Out]) failureTitle() string {
	if m.spec.FailureTitle != "" {
		return m.spec.FailureTitle
	}
	return m.spec.Name + " failed"
}
