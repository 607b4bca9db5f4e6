package reconcile

import (
	"poolwatch/pkg/events"
)

// DataSetCounts maps a dataset label to a count
type DataSetCounts map[string]int

// WorkerPoolModel is the per-worker queue picture of one pool. Each slice is
// indexed by worker ordinal and has one (possibly empty) entry per ordinal up
// to the highest ordinal seen.
type WorkerPoolModel struct {
	Label      string          `json:"label"`
	Inbox      []DataSetCounts `json:"inbox"`
	Outbox     []DataSetCounts `json:"outbox"`
	Processing []DataSetCounts `json:"processing"`
}

// WorkerPoolModelWithHistory carries the queue history the model was folded from
type WorkerPoolModelWithHistory struct {
	WorkerPoolModel
	Events    []events.QueueEvent `json:"events"`
	NumEvents int                 `json:"numEvents"`
}

// Workers returns the number of worker slots in the model
func (m WorkerPoolModel) Workers() int {
	return len(m.Inbox)
}

// slotVector is a dense vector of per-worker counts that tracks which
// ordinals were actually reported, so the gaps can be default-filled.
type slotVector struct {
	slots []DataSetCounts
	known map[int]struct{}
}

func newSlotVector(size int) *slotVector {
	return &slotVector{
		slots: make([]DataSetCounts, size),
		known: make(map[int]struct{}, size),
	}
}

func (v *slotVector) set(worker int, dataset string, count int) {
	if _, ok := v.known[worker]; !ok {
		v.slots[worker] = DataSetCounts{}
		v.known[worker] = struct{}{}
	}
	v.slots[worker][dataset] = count
}

// backfill gives every unreported ordinal an empty mapping
func (v *slotVector) backfill() []DataSetCounts {
	for i := range v.slots {
		if _, ok := v.known[i]; !ok {
			v.slots[i] = DataSetCounts{}
		}
	}
	return v.slots
}

func slotInRange(worker int) bool {
	return worker >= 0 && worker <= events.MaxWorkerIndexCeiling
}

// DeriveWorkerPoolModel folds the queue history of one pool into its model.
// Later events for the same (worker, dataset) overwrite earlier ones. Events
// whose worker index is outside [0, events.MaxWorkerIndexCeiling] stay in
// Events but get no slot.
func DeriveWorkerPoolModel(label string, history []events.QueueEvent) WorkerPoolModelWithHistory {
	size := 0
	for _, ev := range history {
		if slotInRange(ev.WorkerIndex) && ev.WorkerIndex >= size {
			size = ev.WorkerIndex + 1
		}
	}

	inbox, outbox, processing := newSlotVector(size), newSlotVector(size), newSlotVector(size)
	for _, ev := range history {
		if !slotInRange(ev.WorkerIndex) {
			continue
		}
		inbox.set(ev.WorkerIndex, ev.DataSet, ev.Inbox)
		outbox.set(ev.WorkerIndex, ev.DataSet, ev.Outbox)
		processing.set(ev.WorkerIndex, ev.DataSet, ev.Processing)
	}

	evs := make([]events.QueueEvent, len(history))
	copy(evs, history)

	return WorkerPoolModelWithHistory{
		WorkerPoolModel: WorkerPoolModel{
			Label:      label,
			Inbox:      inbox.backfill(),
			Outbox:     outbox.backfill(),
			Processing: processing.backfill(),
		},
		Events:    evs,
		NumEvents: len(evs),
	}
}

func cloneCounts(in []DataSetCounts) []DataSetCounts {
	out := make([]DataSetCounts, len(in))
	for i, m := range in {
		c := make(DataSetCounts, len(m))
		for k, v := range m {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

// Clone returns a deep copy of the model
func (m WorkerPoolModelWithHistory) Clone() WorkerPoolModelWithHistory {
	evs := make([]events.QueueEvent, len(m.Events))
	copy(evs, m.Events)
	return WorkerPoolModelWithHistory{
		WorkerPoolModel: WorkerPoolModel{
			Label:      m.Label,
			Inbox:      cloneCounts(m.Inbox),
			Outbox:     cloneCounts(m.Outbox),
			Processing: cloneCounts(m.Processing),
		},
		Events:    evs,
		NumEvents: m.NumEvents,
	}
}
