package reconcile

import (
	"fmt"
	"math"
	"testing"

	"poolwatch/pkg/events"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueEvent(pool, dataset string, worker, inbox, outbox, processing int, ts int64) events.QueueEvent {
	return events.QueueEvent{
		WorkerPool:  pool,
		DataSet:     dataset,
		WorkerIndex: worker,
		Inbox:       inbox,
		Outbox:      outbox,
		Processing:  processing,
		Timestamp:   ts,
	}
}

func poolEvent(pool string, datasets []string, phase string, ts int64) events.WorkerPoolStatusEvent {
	return events.WorkerPoolStatusEvent{
		WorkerPool: pool,
		DataSets:   datasets,
		Status:     events.PoolStatus{Phase: phase},
		Timestamp:  ts,
	}
}

func appEvent(app string, inputs []string, ts int64) events.ApplicationSpecEvent {
	return events.ApplicationSpecEvent{
		Application: app,
		Spec:        events.ApplicationSpec{Inputs: inputs},
		Timestamp:   ts,
	}
}

func TestDeriveWorkerPoolModel_BackfillsGaps(t *testing.T) {
	history := []events.QueueEvent{
		queueEvent("p", "d1", 0, 7, 1, 2, 1),
		queueEvent("p", "d2", 2, 3, 0, 1, 2),
	}

	model := DeriveWorkerPoolModel("p", history)

	assert.Equal(t, "p", model.Label)
	assert.Equal(t, 3, model.Workers())
	assert.Equal(t, []DataSetCounts{{"d1": 7}, {}, {"d2": 3}}, model.Inbox)
	assert.Equal(t, []DataSetCounts{{"d1": 1}, {}, {"d2": 0}}, model.Outbox)
	assert.Equal(t, []DataSetCounts{{"d1": 2}, {}, {"d2": 1}}, model.Processing)
	assert.Equal(t, 2, model.NumEvents)
	assert.Equal(t, history, model.Events)
}

func TestDeriveWorkerPoolModel_LaterEventsOverwrite(t *testing.T) {
	history := []events.QueueEvent{
		queueEvent("p", "d1", 0, 7, 0, 0, 1),
		queueEvent("p", "d2", 0, 1, 0, 0, 2),
		queueEvent("p", "d1", 0, 4, 3, 0, 3),
	}

	model := DeriveWorkerPoolModel("p", history)

	assert.Equal(t, []DataSetCounts{{"d1": 4, "d2": 1}}, model.Inbox)
	assert.Equal(t, []DataSetCounts{{"d1": 3, "d2": 0}}, model.Outbox)
}

func TestDeriveWorkerPoolModel_Empty(t *testing.T) {
	model := DeriveWorkerPoolModel("p", nil)
	assert.Zero(t, model.Workers())
	assert.Empty(t, model.Inbox)
	assert.Zero(t, model.NumEvents)
}

func TestDeriveWorkerPoolModel_OutOfRangeWorkersGetNoSlot(t *testing.T) {
	history := []events.QueueEvent{
		queueEvent("p", "d1", 1, 2, 0, 0, 1),
		queueEvent("p", "d1", math.MaxInt, 1, 0, 0, 2),
		queueEvent("p", "d1", events.MaxWorkerIndexCeiling+1, 1, 0, 0, 3),
		queueEvent("p", "d1", -1, 1, 0, 0, 4),
	}

	model := DeriveWorkerPoolModel("p", history)

	assert.Equal(t, 2, model.Workers())
	assert.Equal(t, []DataSetCounts{{}, {"d1": 2}}, model.Inbox)
	assert.Equal(t, 4, model.NumEvents)
}

func TestDeriveWorkerPoolModel_OnlyOutOfRangeWorkers(t *testing.T) {
	model := DeriveWorkerPoolModel("p", []events.QueueEvent{queueEvent("p", "d1", math.MaxInt, 1, 0, 0, 5)})
	assert.Zero(t, model.Workers())
	assert.Empty(t, model.Inbox)
	assert.Equal(t, 1, model.NumEvents)
}

func TestWorkerPoolModel_CloneIsDeep(t *testing.T) {
	model := DeriveWorkerPoolModel("p", []events.QueueEvent{queueEvent("p", "d1", 0, 7, 0, 0, 1)})
	clone := model.Clone()
	clone.Inbox[0]["d1"] = 100
	clone.Events[0].Inbox = 100

	assert.Equal(t, 7, model.Inbox[0]["d1"])
	assert.Equal(t, 7, model.Events[0].Inbox)
}

func TestDeriveDatasetPoolRelationship_UpsertsByPool(t *testing.T) {
	rel := DeriveDatasetPoolRelationship([]events.WorkerPoolStatusEvent{
		poolEvent("p1", []string{"d1", "d2"}, "Pending", 1),
		poolEvent("p2", []string{"d1"}, "Running", 2),
		poolEvent("p1", []string{"d1"}, "Running", 3),
	})

	d1 := rel.For("d1")
	require.Len(t, d1, 2)
	assert.Equal(t, "p1", d1[0].WorkerPool)
	assert.Equal(t, int64(3), d1[0].Timestamp)
	assert.Equal(t, "p2", d1[1].WorkerPool)

	// p1 no longer names d2 but its last entry stays
	d2 := rel.For("d2")
	require.Len(t, d2, 1)
	assert.Equal(t, int64(1), d2[0].Timestamp)

	assert.Empty(t, rel.For("unknown"))

	d1[0].WorkerPool = "mutated"
	assert.Equal(t, "p1", rel.For("d1")[0].WorkerPool)
}

func TestDeriveApplicationRegistry(t *testing.T) {
	reg := DeriveApplicationRegistry([]events.ApplicationSpecEvent{
		appEvent("a1", nil, 1),
		appEvent("a2", []string{"d1"}, 2),
		appEvent("a1", []string{"d2"}, 3),
	})

	assert.Equal(t, []string{"a1", "a2"}, reg.Labels)
	require.Len(t, reg.Events, 2)
	assert.Equal(t, int64(3), reg.Events[0].Timestamp)
	assert.Equal(t, Fingerprint([]string{"a2", "a1"}), reg.Fingerprint)

	got, ok := reg.Get("a2")
	require.True(t, ok)
	assert.True(t, got.Declares("d1"))

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint([]string{"a", "b"}), Fingerprint([]string{"b", "a"}))
	assert.Equal(t, Fingerprint([]string{"a", "b"}), Fingerprint([]string{"a", "a", "b"}))
	assert.NotEqual(t, Fingerprint([]string{"a", "b"}), Fingerprint([]string{"a"}))
	assert.NotEqual(t, Fingerprint([]string{"ab"}), Fingerprint([]string{"a", "b"}))
	assert.Equal(t, Fingerprint(nil), Fingerprint([]string{}))
}

func TestFingerprint_Format(t *testing.T) {
	want := fmt.Sprintf("2-%x", xxhash.Sum64String("a\x00b\x00"))
	assert.Equal(t, want, Fingerprint([]string{"b", "a", "b"}))
	assert.Equal(t, fmt.Sprintf("0-%x", xxhash.Sum64(nil)), Fingerprint(nil))
}

func TestDeriveTaskQueues(t *testing.T) {
	queues := DeriveTaskQueues([]events.QueueEvent{
		queueEvent("p1", "d1", 0, 2, 0, 1, 1),
		queueEvent("p1", "d1", 1, 3, 1, 0, 2),
		queueEvent("p2", "d1", 0, 4, 0, 0, 3),
		queueEvent("p1", "d1", 0, 1, 5, 0, 4),
		queueEvent("p2", "d2", 0, 9, 0, 0, 5),
	})

	require.Len(t, queues, 2)
	d1 := queues["d1"]
	assert.Equal(t, 8, d1.Inbox)
	assert.Equal(t, 6, d1.Outbox)
	assert.Equal(t, 0, d1.Processing)
	assert.Equal(t, []string{"p1", "p2"}, d1.WorkerPools)
	assert.Equal(t, []string{"p2"}, queues["d2"].WorkerPools)
}

func TestModelCache(t *testing.T) {
	cache := NewModelCache()
	history := []events.QueueEvent{queueEvent("p", "d1", 0, 7, 0, 0, 1)}

	first := cache.WorkerPoolModel("p", history)
	first.Inbox[0]["d1"] = 99
	second := cache.WorkerPoolModel("p", history)
	assert.Equal(t, 7, second.Inbox[0]["d1"])

	hits, misses := cache.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)

	history = append(history, queueEvent("p", "d1", 0, 3, 0, 0, 2))
	third := cache.WorkerPoolModel("p", history)
	assert.Equal(t, 3, third.Inbox[0]["d1"])

	calls := 0
	poolEvents := func() []events.WorkerPoolStatusEvent {
		calls++
		return []events.WorkerPoolStatusEvent{poolEvent("p", []string{"d1"}, "Running", 1)}
	}
	cache.Relationship(poolEvents, 1)
	rel := cache.Relationship(poolEvents, 1)
	assert.Equal(t, 1, calls)
	assert.Len(t, rel.For("d1"), 1)

	cache.Relationship(poolEvents, 2)
	assert.Equal(t, 2, calls)
}
