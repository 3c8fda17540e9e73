// Package cache is the client-side entity store. It holds query results by
// key, remembers which keys have an active fetcher, snapshots entries for
// rollback and computes invalidation from declared kind dependencies.
package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storyline/internal/metrics"
	"storyline/internal/querykey"
)

// Fetcher loads the server's current data for one key.
type Fetcher func(ctx context.Context) (any, error)

// Entry is a read-only view of one cached query.
type Entry struct {
	Key       querykey.Key
	Data      any
	UpdatedAt time.Time
	Stale     bool
	Active    bool
}

type entry struct {
	key       querykey.Key
	data      any
	hasData   bool
	updatedAt time.Time
	stale     bool
	fetch     Fetcher
}

func (e *entry) view() Entry {
	return Entry{Key: e.key, Data: e.data, UpdatedAt: e.updatedAt, Stale: e.stale, Active: e.fetch != nil}
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Workspace string
	Kinds     []querykey.Kind
	Prefix    querykey.Key
	Shape     querykey.Shape
	Active    bool
}

func (f Filter) match(e *entry) bool {
	return f.Match(e.key, e.fetch != nil)
}

// Match reports whether a key, observed or not, passes the filter.
func (f Filter) Match(key querykey.Key, active bool) bool {
	if f.Workspace != "" && key.Workspace() != f.Workspace {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if key.Kind() == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Prefix.IsZero() && !key.HasPrefix(f.Prefix) {
		return false
	}
	if f.Shape != querykey.ShapeNone && key.Shape() != f.Shape {
		return false
	}
	if f.Active && !active {
		return false
	}
	return true
}

type subscription struct {
	filter Filter
	fn     func(Entry)
}

type Options struct {
	// RefetchLimit bounds concurrent refetches after an invalidation.
	RefetchLimit int
	Now          func() time.Time
}

type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	// dependents[k] lists the kinds whose views embed data of kind k.
	dependents map[querykey.Kind][]querykey.Kind

	subMu   sync.Mutex
	subs    map[int]subscription
	nextSub int

	limit int
	now   func() time.Time
	log   *zap.SugaredLogger
}

func New(log *zap.SugaredLogger, opts Options) *Store {
	if opts.RefetchLimit <= 0 {
		opts.RefetchLimit = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		entries:    map[string]*entry{},
		dependents: map[querykey.Kind][]querykey.Kind{},
		subs:       map[int]subscription{},
		limit:      opts.RefetchLimit,
		now:        opts.Now,
		log:        log,
	}
}

// lookup returns the entry for key, creating it when missing. Callers hold mu.
func (s *Store) lookup(key querykey.Key) *entry {
	id := key.String()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{key: key}
		s.entries[id] = e
		metrics.SetCacheEntries(len(s.entries))
	}
	return e
}

// Register marks key as actively observed; invalidation refetches it with fetch.
func (s *Store) Register(key querykey.Key, fetch Fetcher) {
	s.mu.Lock()
	s.lookup(key).fetch = fetch
	s.mu.Unlock()
}

// Unregister drops the fetcher. Cached data stays until overwritten.
func (s *Store) Unregister(key querykey.Key) {
	s.mu.Lock()
	if e, ok := s.entries[key.String()]; ok {
		e.fetch = nil
	}
	s.mu.Unlock()
}

// Fetch registers fetch for key and returns cached data when fresh,
// loading it otherwise.
func (s *Store) Fetch(ctx context.Context, key querykey.Key, fetch Fetcher) (any, error) {
	s.mu.Lock()
	e := s.lookup(key)
	e.fetch = fetch
	if e.hasData && !e.stale {
		data := e.data
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	data, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	s.Set(key, data)
	return data, nil
}

func (s *Store) Get(key querykey.Key) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key.String()]
	if !ok || !e.hasData {
		return nil, false
	}
	return e.data, true
}

func (s *Store) Entry(key querykey.Key) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key.String()]
	if !ok {
		return Entry{}, false
	}
	return e.view(), true
}

// Set stores fresh data for key.
func (s *Store) Set(key querykey.Key, data any) {
	s.mu.Lock()
	e := s.lookup(key)
	e.data = data
	e.hasData = true
	e.stale = false
	e.updatedAt = s.now()
	view := e.view()
	s.mu.Unlock()
	s.notify([]Entry{view})
}

// Keys lists matching keys in string order.
func (s *Store) Keys(f Filter) []querykey.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []querykey.Key
	for _, e := range s.entries {
		if f.match(e) {
			out = append(out, e.key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Update replaces the data of every matching entry that holds data with
// fn's result and returns how many entries changed.
func (s *Store) Update(f Filter, fn func(key querykey.Key, data any) any) int {
	s.mu.Lock()
	var changed []Entry
	for _, e := range s.entries {
		if !e.hasData || !f.match(e) {
			continue
		}
		next := fn(e.key, e.data)
		if reflect.DeepEqual(next, e.data) {
			continue
		}
		e.data = next
		changed = append(changed, e.view())
	}
	s.mu.Unlock()
	s.notify(changed)
	return len(changed)
}

// Snapshot holds deep copies of entries taken before an optimistic patch.
type Snapshot struct {
	entries []snapEntry
}

type snapEntry struct {
	key       querykey.Key
	data      any
	updatedAt time.Time
	stale     bool
}

func (sn Snapshot) Len() int { return len(sn.entries) }

// Snapshot deep-copies the data of every matching entry.
func (s *Store) Snapshot(f Filter) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sn Snapshot
	for _, e := range s.entries {
		if !e.hasData || !f.match(e) {
			continue
		}
		data, err := clone(e.data)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot %s: %w", e.key, err)
		}
		sn.entries = append(sn.entries, snapEntry{key: e.key, data: data, updatedAt: e.updatedAt, stale: e.stale})
	}
	return sn, nil
}

// Restore puts snapshotted data back. Entries created after the snapshot
// are left alone.
func (s *Store) Restore(sn Snapshot) {
	s.mu.Lock()
	changed := make([]Entry, 0, len(sn.entries))
	for _, se := range sn.entries {
		e := s.lookup(se.key)
		e.data = se.data
		e.hasData = true
		e.updatedAt = se.updatedAt
		e.stale = se.stale
		changed = append(changed, e.view())
	}
	s.mu.Unlock()
	s.notify(changed)
}

func clone(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	dst := reflect.New(reflect.TypeOf(v))
	if err := deepcopy.Copy(dst.Interface(), v); err != nil {
		return nil, err
	}
	return dst.Elem().Interface(), nil
}

// DependsOn declares that views of kind embed data of the listed kinds, so
// invalidating any of them also invalidates kind.
func (s *Store) DependsOn(kind querykey.Kind, on ...querykey.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range on {
		if src == kind {
			continue
		}
		exists := false
		for _, k := range s.dependents[src] {
			if k == kind {
				exists = true
				break
			}
		}
		if !exists {
			s.dependents[src] = append(s.dependents[src], kind)
		}
	}
}

// InvalidationSet returns the prefix keys to invalidate after kinds
// changed: the kinds themselves plus everything that depends on them,
// transitively.
func (s *Store) InvalidationSet(workspace string, kinds ...querykey.Kind) []querykey.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[querykey.Kind]bool{}
	queue := append([]querykey.Kind(nil), kinds...)
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if seen[k] {
			continue
		}
		seen[k] = true
		queue = append(queue, s.dependents[k]...)
	}
	out := make([]querykey.Key, 0, len(seen))
	for k := range seen {
		out = append(out, querykey.KindPrefix(workspace, k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Invalidate marks every entry under the prefixes stale and refetches the
// active ones concurrently. Refetch failures are logged and joined; the
// entry stays stale.
func (s *Store) Invalidate(ctx context.Context, prefixes ...querykey.Key) error {
	type job struct {
		key   querykey.Key
		fetch Fetcher
	}
	s.mu.Lock()
	var jobs []job
	for _, e := range s.entries {
		for _, p := range prefixes {
			if !e.key.HasPrefix(p) {
				continue
			}
			e.stale = true
			if e.fetch != nil {
				jobs = append(jobs, job{key: e.key, fetch: e.fetch})
			}
			break
		}
	}
	s.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(s.limit)
	for _, j := range jobs {
		g.Go(func() error {
			data, err := j.fetch(ctx)
			if err != nil {
				s.log.Warnw("refetch failed", "key", j.key.String(), "error", err)
				metrics.IncRefetch(string(j.key.Kind()), metrics.OutcomeError)
				mu.Lock()
				errs = append(errs, fmt.Errorf("refetch %s: %w", j.key, err))
				mu.Unlock()
				return nil
			}
			metrics.IncRefetch(string(j.key.Kind()), metrics.OutcomeSuccess)
			s.Set(j.key, data)
			return nil
		})
	}
	_ = g.Wait()
	if len(jobs) > 0 {
		s.log.Debugw("invalidated", "prefixes", len(prefixes), "refetched", len(jobs), "failed", len(errs))
	}
	return errors.Join(errs...)
}

// Subscribe calls fn whenever a matching entry's data changes. fn runs on
// the goroutine that made the change, outside the store lock.
func (s *Store) Subscribe(f Filter, fn func(Entry)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscription{filter: f, fn: fn}
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(changed []Entry) {
	if len(changed) == 0 {
		return
	}
	s.subMu.Lock()
	subs := make([]subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()
	for _, ev := range changed {
		for _, sub := range subs {
			if sub.filter.Match(ev.Key, ev.Active) {
				sub.fn(ev)
			}
		}
	}
}

// RegisterDefaults declares the dependencies between the built-in kinds:
// objectives embed their key results and display their status, and key
// result lists are scoped by objective.
func RegisterDefaults(s *Store) {
	s.DependsOn(querykey.KindObjectives, querykey.KindKeyResults, querykey.KindObjectiveStatuses)
	s.DependsOn(querykey.KindKeyResults, querykey.KindObjectives)
}
