package reconcile

import (
	"slices"

	"poolwatch/pkg/events"
)

// DataSetPools maps a dataset label to the latest status event of every pool
// that has named the dataset, in the order the pools first named it
type DataSetPools map[string][]events.WorkerPoolStatusEvent

// DeriveDatasetPoolRelationship folds pool status events, in arrival order,
// into the dataset to pool relationship. An entry for a pool is replaced in
// place by its newer events, never duplicated. A pool that stops naming a
// dataset keeps its last entry for that dataset. Datasets never seen on the
// dataset stream are recorded as well.
func DeriveDatasetPoolRelationship(poolEvents []events.WorkerPoolStatusEvent) DataSetPools {
	rel := make(DataSetPools)
	for _, ev := range poolEvents {
		for _, dataset := range ev.DataSets {
			entries := rel[dataset]
			idx := slices.IndexFunc(entries, func(e events.WorkerPoolStatusEvent) bool {
				return e.WorkerPool == ev.WorkerPool
			})
			if idx < 0 {
				rel[dataset] = append(entries, ev)
			} else {
				entries[idx] = ev
			}
		}
	}
	return rel
}

// For returns a copy of the entries recorded for dataset
func (r DataSetPools) For(dataset string) []events.WorkerPoolStatusEvent {
	entries := r[dataset]
	out := make([]events.WorkerPoolStatusEvent, len(entries))
	copy(out, entries)
	return out
}
