package reconcile

import (
	"fmt"
	"slices"

	"poolwatch/pkg/events"
)

// Entity is a reconciled resource as handed to presentation collaborators
type Entity interface {
	EntityKind() events.Kind
	EntityLabel() string
}

// Application is the latest known spec of one application
type Application struct {
	Label     string                      `json:"label"`
	Idx       int                         `json:"idx"`
	Latest    events.ApplicationSpecEvent `json:"latest"`
	NumEvents int                         `json:"numEvents"`
}

func (a Application) EntityKind() events.Kind { return events.KindApplications }
func (a Application) EntityLabel() string     { return a.Label }

// DataSet is one dataset with the pools processing it and the applications
// declaring it as an input. Idx is the index bound on first sight; an idx
// carried by later events is ignored.
type DataSet struct {
	Label        string                         `json:"label"`
	Idx          int                            `json:"idx"`
	WorkerPools  []events.WorkerPoolStatusEvent `json:"workerpools"`
	Applications []string                       `json:"applications"`
	Events       []events.DataSetEvent          `json:"events"`
	NumEvents    int                            `json:"numEvents"`
}

func (d DataSet) EntityKind() events.Kind { return events.KindDataSets }
func (d DataSet) EntityLabel() string     { return d.Label }

// WorkerPool is one pool with its queue model and status history
type WorkerPool struct {
	Label         string                         `json:"label"`
	Idx           int                            `json:"idx"`
	Model         WorkerPoolModelWithHistory     `json:"model"`
	StatusHistory []events.WorkerPoolStatusEvent `json:"statusHistory"`
	Phase         string                         `json:"phase,omitempty"`
	DataSets      []string                       `json:"datasets"`
}

func (w WorkerPool) EntityKind() events.Kind { return events.KindWorkerPools }
func (w WorkerPool) EntityLabel() string     { return w.Label }

// TaskQueue is the cross-pool summary of one task queue
type TaskQueue struct {
	TaskQueueModel
	Idx int `json:"idx"`
}

func (t TaskQueue) EntityKind() events.Kind { return events.KindTaskQueues }
func (t TaskQueue) EntityLabel() string     { return t.Label }

// Status summarizes engine state for health and diagnostics
type Status struct {
	Revision     uint64                    `json:"revision"`
	Counts       map[events.Kind]int       `json:"counts"`
	Accepted     map[events.StreamKind]int `json:"accepted"`
	Coalesced    int                       `json:"coalesced"`
	Dropped      int                       `json:"dropped"`
	Pending      int                       `json:"pending"`
	StreamErrors []StreamError             `json:"streamErrors"`
	Fingerprint  string                    `json:"applicationsFingerprint"`
	CacheHits    uint64                    `json:"cacheHits"`
	CacheMisses  uint64                    `json:"cacheMisses"`
}

func unknownKind(kind events.Kind) error {
	return fmt.Errorf("%w: %q", events.ErrUnknownKind, kind)
}

// derivations shares the cross-label derivations among the entities of one query
type derivations struct {
	rel        DataSetPools
	taskQueues map[string]TaskQueueModel
}

func (e *Engine) relationshipLocked() DataSetPools {
	return e.cache.Relationship(e.pools.Arrivals, e.pools.Total())
}

func (e *Engine) knownLocked(kind events.Kind) []string {
	labels := e.indices.Labels(kind)
	slices.Sort(labels)
	return labels
}

// KnownLabels returns every label of kind seen so far, sorted
func (e *Engine) KnownLabels(kind events.Kind) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.knownLocked(kind)
}

func (e *Engine) buildLocked(kind events.Kind, label string, d *derivations) Entity {
	idx, _ := e.indices.Lookup(kind, label)
	switch kind {
	case events.KindApplications:
		latest, _ := e.apps.Latest(label)
		return Application{
			Label:     label,
			Idx:       idx,
			Latest:    latest,
			NumEvents: e.apps.Count(label),
		}

	case events.KindDataSets:
		if d.rel == nil {
			d.rel = e.relationshipLocked()
		}
		evs := e.datasets.Get(label)
		apps := []string{}
		for _, app := range e.apps.Labels() {
			if latest, ok := e.apps.Latest(app); ok && latest.Declares(label) {
				apps = append(apps, app)
			}
		}
		slices.Sort(apps)
		return DataSet{
			Label:        label,
			Idx:          idx,
			WorkerPools:  d.rel.For(label),
			Applications: apps,
			Events:       evs,
			NumEvents:    len(evs),
		}

	case events.KindWorkerPools:
		pool := WorkerPool{
			Label:         label,
			Idx:           idx,
			Model:         e.cache.WorkerPoolModel(label, e.queues.Get(label)),
			StatusHistory: e.pools.Get(label),
			DataSets:      []string{},
		}
		if latest, ok := e.pools.Latest(label); ok {
			pool.Phase = latest.Status.Phase
			pool.DataSets = slices.Clone(latest.DataSets)
		}
		return pool

	case events.KindTaskQueues:
		if d.taskQueues == nil {
			d.taskQueues = DeriveTaskQueues(e.queues.Arrivals())
		}
		tq, ok := d.taskQueues[label]
		if !ok {
			tq = TaskQueueModel{Label: label, WorkerPools: []string{}}
		}
		return TaskQueue{TaskQueueModel: tq, Idx: idx}
	}
	return nil
}

func (e *Engine) listLocked(kind events.Kind, visibleOnly bool) []Entity {
	var d derivations
	out := []Entity{}
	for _, label := range e.knownLocked(kind) {
		if visibleOnly && !e.filters.Visible(kind, label) {
			continue
		}
		out = append(out, e.buildLocked(kind, label, &d))
	}
	return out
}

// ListVisible returns the entities of kind passing the filter, sorted by label
func (e *Engine) ListVisible(kind events.Kind) ([]Entity, error) {
	if !slices.Contains(events.Kinds, kind) {
		return nil, unknownKind(kind)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listLocked(kind, true), nil
}

// ListAll returns every entity of kind regardless of the filter, sorted by label
func (e *Engine) ListAll(kind events.Kind) ([]Entity, error) {
	if !slices.Contains(events.Kinds, kind) {
		return nil, unknownKind(kind)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listLocked(kind, false), nil
}

// GetOne returns the entity of kind with label; ok is false when the label is unknown
func (e *Engine) GetOne(kind events.Kind, label string) (Entity, bool, error) {
	if !slices.Contains(events.Kinds, kind) {
		return nil, false, unknownKind(kind)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.indices.Lookup(kind, label); !ok {
		return nil, false, nil
	}
	var d derivations
	return e.buildLocked(kind, label, &d), true, nil
}

// Applications returns every application, sorted by label
func (e *Engine) Applications() []Application {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return entitiesOf[Application](e.listLocked(events.KindApplications, false))
}

// DataSets returns every dataset, sorted by label
func (e *Engine) DataSets() []DataSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return entitiesOf[DataSet](e.listLocked(events.KindDataSets, false))
}

// WorkerPools returns every worker pool, sorted by label
func (e *Engine) WorkerPools() []WorkerPool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return entitiesOf[WorkerPool](e.listLocked(events.KindWorkerPools, false))
}

// TaskQueues returns every task queue, sorted by label
func (e *Engine) TaskQueues() []TaskQueue {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return entitiesOf[TaskQueue](e.listLocked(events.KindTaskQueues, false))
}

func entitiesOf[T Entity](list []Entity) []T {
	out := make([]T, 0, len(list))
	for _, ent := range list {
		out = append(out, ent.(T))
	}
	return out
}

// WorkerPoolModel derives the queue model of a pool. Unknown pools yield an
// empty model.
func (e *Engine) WorkerPoolModel(label string) WorkerPoolModelWithHistory {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.WorkerPoolModel(label, e.queues.Get(label))
}

// Relationship returns the dataset to pool relationship
func (e *Engine) Relationship() DataSetPools {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rel := e.relationshipLocked()
	out := make(DataSetPools, len(rel))
	for dataset := range rel {
		out[dataset] = rel.For(dataset)
	}
	return out
}

// Registry returns the application registry
func (e *Engine) Registry() ApplicationRegistry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return DeriveApplicationRegistry(e.apps.Arrivals())
}

// Status summarizes the engine
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{
		Revision:     e.revision,
		Counts:       make(map[events.Kind]int, len(events.Kinds)),
		Accepted:     make(map[events.StreamKind]int, len(events.Streams)),
		Coalesced:    e.coalesced,
		Dropped:      e.dropped,
		Pending:      len(e.queue),
		StreamErrors: []StreamError{},
		Fingerprint:  Fingerprint(e.apps.Labels()),
	}
	for _, k := range events.Kinds {
		st.Counts[k] = e.indices.Len(k)
	}
	for _, s := range events.Streams {
		st.Accepted[s] = e.accepted[s]
		if se, ok := e.streamErrors[s]; ok {
			st.StreamErrors = append(st.StreamErrors, *se)
		}
	}
	st.CacheHits, st.CacheMisses = e.cache.Stats()
	return st
}

// FilterSnapshot returns a copy of the filter state
func (e *Engine) FilterSnapshot() FilterSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.filters.Snapshot(e.knownLocked)
}

func (e *Engine) mutateFilter(fn func(f *FilterState) (bool, error)) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed, err := fn(e.filters)
	if changed {
		e.revision++
	}
	return changed, err
}

// AddFilter includes label in the filter of kind
func (e *Engine) AddFilter(kind events.Kind, label string) (bool, error) {
	return e.mutateFilter(func(f *FilterState) (bool, error) {
		return f.Add(kind, label)
	})
}

// RemoveFilter drops label from the filter of kind, entering exclusion mode
// when show-all is on
func (e *Engine) RemoveFilter(kind events.Kind, label string) (bool, error) {
	return e.mutateFilter(func(f *FilterState) (bool, error) {
		return f.Remove(kind, label, e.knownLocked(kind))
	})
}

// ToggleShowAll flips show-all of kind
func (e *Engine) ToggleShowAll(kind events.Kind) error {
	_, err := e.mutateFilter(func(f *FilterState) (bool, error) {
		if err := f.ToggleShowAll(kind); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// ClearFilter empties the include list of kind
func (e *Engine) ClearFilter(kind events.Kind) (bool, error) {
	return e.mutateFilter(func(f *FilterState) (bool, error) {
		return f.Clear(kind)
	})
}

// ClearAllFilters empties the include list of every kind
func (e *Engine) ClearAllFilters() bool {
	changed, _ := e.mutateFilter(func(f *FilterState) (bool, error) {
		return f.ClearAll(), nil
	})
	return changed
}
