package reconcile

import (
	"slices"

	"poolwatch/pkg/events"
)

// TaskQueueModel summarizes one task queue (dataset) across every pool and
// worker that reports on it, using the latest report of each worker
type TaskQueueModel struct {
	Label       string   `json:"label"`
	Inbox       int      `json:"inbox"`
	Outbox      int      `json:"outbox"`
	Processing  int      `json:"processing"`
	WorkerPools []string `json:"workerpools"`
}

type workerKey struct {
	pool   string
	worker int
}

// DeriveTaskQueues folds queue events from every pool into per-queue totals
func DeriveTaskQueues(queueEvents []events.QueueEvent) map[string]TaskQueueModel {
	latest := make(map[string]map[workerKey]events.QueueEvent)
	for _, ev := range queueEvents {
		byWorker, ok := latest[ev.DataSet]
		if !ok {
			byWorker = make(map[workerKey]events.QueueEvent)
			latest[ev.DataSet] = byWorker
		}
		byWorker[workerKey{pool: ev.WorkerPool, worker: ev.WorkerIndex}] = ev
	}

	out := make(map[string]TaskQueueModel, len(latest))
	for label, byWorker := range latest {
		m := TaskQueueModel{Label: label, WorkerPools: []string{}}
		for key, ev := range byWorker {
			m.Inbox += ev.Inbox
			m.Outbox += ev.Outbox
			m.Processing += ev.Processing
			if !slices.Contains(m.WorkerPools, key.pool) {
				m.WorkerPools = append(m.WorkerPools, key.pool)
			}
		}
		slices.Sort(m.WorkerPools)
		out[label] = m
	}
	return out
}
