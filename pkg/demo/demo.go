// Package demo generates a synthetic but plausible event feed: a handful of
// datasets, applications consuming them and worker pools draining them.
package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"poolwatch/pkg/events"
	"poolwatch/pkg/logger"
	"poolwatch/pkg/stream"
)

// ErrNotFound is returned when deleting a resource the generator does not own
var ErrNotFound = errors.New("demo resource not found")

type dataSet struct {
	name       string
	idx        int
	unassigned int
	endpoint   string
	bucket     string
	readOnly   bool
}

type workerPool struct {
	name     string
	datasets []string
	workers  int
	ready    int
}

type application struct {
	name    string
	image   string
	command string
	inputs  []string
}

// Generator publishes demo events. It is safe for concurrent use.
type Generator struct {
	pub      stream.Publisher
	interval time.Duration

	mu       sync.Mutex
	rnd      *rand.Rand
	now      func() time.Time
	lastTS   int64
	seeded   bool
	datasets []*dataSet
	pools    []*workerPool
	apps     []*application
}

// NewGenerator creates a generator with the default resource set. A zero
// seed picks a time based one.
func NewGenerator(pub stream.Publisher, interval time.Duration, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &Generator{
		pub:      pub,
		interval: interval,
		rnd:      rand.New(rand.NewSource(seed)),
		now:      time.Now,
	}

	endpoints := []string{"e1", "e2", "e3"}
	buckets := []string{"pile1", "pile2", "pile3"}
	for idx, name := range []string{"pink", "green", "purple"} {
		g.datasets = append(g.datasets, &dataSet{
			name:     name,
			idx:      idx,
			endpoint: endpoints[idx],
			bucket:   buckets[idx],
			readOnly: idx != 1,
		})
	}
	g.apps = []*application{
		{name: "sorter", image: "ghcr.io/poolwatch/demo-sort:latest", command: "sort -n", inputs: []string{"pink"}},
		{name: "wordcount", image: "ghcr.io/poolwatch/demo-wc:latest", command: "wc -w", inputs: []string{"green", "purple"}},
	}
	g.pools = []*workerPool{
		{name: "pool-a", datasets: []string{"pink"}, workers: 2},
		{name: "pool-b", datasets: []string{"green", "purple"}, workers: 3},
	}
	return g
}

func (g *Generator) Name() string { return "demo-generator" }

func (g *Generator) Interval() time.Duration { return g.interval }

// Run seeds the feed on first call and then advances it by one tick
func (g *Generator) Run(ctx context.Context) error {
	g.mu.Lock()
	seeded := g.seeded
	g.mu.Unlock()
	if !seeded {
		return g.Seed(ctx)
	}
	return g.Tick(ctx)
}

// timestamp returns strictly increasing epoch milliseconds, so that two
// events for one label never share a timestamp
func (g *Generator) timestamp() int64 {
	ts := g.now().UnixMilli()
	if ts <= g.lastTS {
		ts = g.lastTS + 1
	}
	g.lastTS = ts
	return ts
}

// Seed publishes the initial state of every resource
func (g *Generator) Seed(ctx context.Context) error {
	g.mu.Lock()
	var batch []events.Event
	for _, ds := range g.datasets {
		batch = append(batch, g.dataSetEvent(ds, "Ready"))
	}
	for _, app := range g.apps {
		batch = append(batch, g.applicationEvent(app, "Ready"))
	}
	for _, pool := range g.pools {
		batch = append(batch, g.poolEvent(pool, "Pending"))
	}
	g.seeded = true
	g.mu.Unlock()

	return g.publish(ctx, batch)
}

// Tick adds work to one dataset and reports progress of every pool
func (g *Generator) Tick(ctx context.Context) error {
	g.mu.Lock()
	var batch []events.Event
	if len(g.datasets) > 0 {
		ds := g.datasets[g.rnd.Intn(len(g.datasets))]
		ds.unassigned++
		batch = append(batch, g.dataSetEvent(ds, "Ready"))
	}

	for _, pool := range g.pools {
		if pool.ready < pool.workers {
			pool.ready++
		}
		phase := "Pending"
		if pool.ready == pool.workers {
			phase = "Running"
		}
		batch = append(batch, g.poolEvent(pool, phase))

		if len(pool.datasets) == 0 {
			continue
		}
		worker := g.rnd.Intn(pool.ready)
		dataset := pool.datasets[g.rnd.Intn(len(pool.datasets))]
		batch = append(batch, events.QueueEvent{
			WorkerPool:  pool.name,
			DataSet:     dataset,
			WorkerIndex: worker,
			Inbox:       g.rnd.Intn(20),
			Outbox:      g.rnd.Intn(3),
			Processing:  g.rnd.Intn(2),
			Timestamp:   g.timestamp(),
		})
	}
	g.mu.Unlock()

	return g.publish(ctx, batch)
}

// Delete removes a resource and publishes its Terminating status. The
// resource keeps its history downstream.
func (g *Generator) Delete(ctx context.Context, kind events.Kind, name string) error {
	g.mu.Lock()
	var ev events.Event
	switch kind {
	case events.KindDataSets:
		if i := slices.IndexFunc(g.datasets, func(d *dataSet) bool { return d.name == name }); i >= 0 {
			ev = g.dataSetEvent(g.datasets[i], events.PhaseTerminating)
			g.datasets = slices.Delete(g.datasets, i, i+1)
		}
	case events.KindWorkerPools:
		if i := slices.IndexFunc(g.pools, func(p *workerPool) bool { return p.name == name }); i >= 0 {
			ev = g.poolEvent(g.pools[i], events.PhaseTerminating)
			g.pools = slices.Delete(g.pools, i, i+1)
		}
	case events.KindApplications:
		if i := slices.IndexFunc(g.apps, func(a *application) bool { return a.name == name }); i >= 0 {
			ev = g.applicationEvent(g.apps[i], events.PhaseTerminating)
			g.apps = slices.Delete(g.apps, i, i+1)
		}
	default:
		g.mu.Unlock()
		return fmt.Errorf("%w: demo cannot delete %q", events.ErrUnknownKind, kind)
	}
	g.mu.Unlock()

	if ev == nil {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, name)
	}
	logger.InfoCtx(ctx, "demo: deleted %s %s", kind, name)
	return g.publish(ctx, []events.Event{ev})
}

// Names returns the live resource names of kind
func (g *Generator) Names(kind events.Kind) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	switch kind {
	case events.KindDataSets:
		for _, d := range g.datasets {
			out = append(out, d.name)
		}
	case events.KindWorkerPools:
		for _, p := range g.pools {
			out = append(out, p.name)
		}
	case events.KindApplications:
		for _, a := range g.apps {
			out = append(out, a.name)
		}
	}
	return out
}

func (g *Generator) dataSetEvent(ds *dataSet, phase string) events.DataSetEvent {
	idx := ds.idx
	spec, _ := json.Marshal(map[string]interface{}{
		"local": map[string]interface{}{
			"type":     "COS",
			"endpoint": ds.endpoint,
			"bucket":   ds.bucket,
			"readonly": ds.readOnly,
		},
	})
	status, _ := json.Marshal(map[string]interface{}{
		"phase":      phase,
		"unassigned": ds.unassigned,
	})
	return events.DataSetEvent{
		DataSet:   ds.name,
		Idx:       &idx,
		Spec:      spec,
		Status:    status,
		Timestamp: g.timestamp(),
	}
}

func (g *Generator) poolEvent(pool *workerPool, phase string) events.WorkerPoolStatusEvent {
	return events.WorkerPoolStatusEvent{
		WorkerPool: pool.name,
		DataSets:   slices.Clone(pool.datasets),
		Status: events.PoolStatus{
			Phase: phase,
			Ready: pool.ready,
			Size:  pool.workers,
		},
		Timestamp: g.timestamp(),
	}
}

func (g *Generator) applicationEvent(app *application, phase string) events.ApplicationSpecEvent {
	return events.ApplicationSpecEvent{
		Application: app.name,
		Spec: events.ApplicationSpec{
			Description: "demo application " + app.name,
			Image:       app.image,
			Command:     app.command,
			Inputs:      slices.Clone(app.inputs),
		},
		Status:    phase,
		Timestamp: g.timestamp(),
	}
}

func (g *Generator) publish(ctx context.Context, batch []events.Event) error {
	var errs []error
	for _, ev := range batch {
		data, err := events.Encode(ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := g.pub.Publish(ctx, ev.Stream(), data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
