package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"poolwatch/app/handler"
	"poolwatch/app/router"
	"poolwatch/pkg/demo"
	"poolwatch/pkg/events"
	"poolwatch/pkg/reconcile"
	"poolwatch/pkg/stream"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/r3labs/sse/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/cenkalti/backoff.v1"
)

const testAPIKey = "test-key"

type fixture struct {
	engine    *reconcile.Engine
	generator *demo.Generator
	gin       *gin.Engine
}

func newFixture(t *testing.T, withDemo bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := stream.NewHub()
	engine := reconcile.NewEngine(reconcile.Options{})
	for _, st := range events.Streams {
		hub.Subscribe(st, func(m stream.Message) { _ = engine.HandleMessage(m) })
	}
	pub := stream.HubPublisher{Hub: hub}

	var (
		generator   *demo.Generator
		demoHandler *handler.DemoHandler
	)
	if withDemo {
		generator = demo.NewGenerator(pub, time.Second, 5)
		demoHandler = handler.NewDemoHandler(generator)
	}

	r := gin.New()
	router.NewRouter(
		handler.NewResourceHandler(engine),
		handler.NewFilterHandler(engine),
		handler.NewStreamHandler(pub, events.Limits{MaxWorkerIndex: 63}),
		handler.NewWatchHandler(engine, 10*time.Millisecond),
		demoHandler,
		testAPIKey,
	).Setup(r)

	return &fixture{engine: engine, generator: generator, gin: r}
}

func (f *fixture) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	w := httptest.NewRecorder()
	f.gin.ServeHTTP(w, req)
	return w
}

func (f *fixture) ingest(t *testing.T, st events.StreamKind, body string) {
	t.Helper()
	w := f.do(http.MethodPost, "/api/v1/streams/"+string(st)+"/events", body, true)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type listBody struct {
	Kind  string            `json:"kind"`
	Count int               `json:"count"`
	Items []json.RawMessage `json:"items"`
}

func (b listBody) labels(t *testing.T) []string {
	var out []string
	for _, item := range b.Items {
		var v struct {
			Label string `json:"label"`
		}
		require.NoError(t, json.Unmarshal(item, &v))
		out = append(out, v.Label)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestIngestAndList(t *testing.T) {
	f := newFixture(t, false)

	f.ingest(t, events.StreamDataSets, `[{"label":"d2","timestamp":1},{"label":"d1","idx":4,"timestamp":2}]`)

	w := f.do(http.MethodGet, "/api/v1/resources/datasets", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[listBody](t, w)
	assert.Equal(t, "datasets", body.Kind)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, []string{"d1", "d2"}, body.labels(t))

	w = f.do(http.MethodGet, "/api/v1/resources/datasets/d1", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	ds := decode[reconcile.DataSet](t, w)
	assert.Equal(t, 4, ds.Idx)

	w = f.do(http.MethodGet, "/api/v1/resources/datasets/d1/yaml", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "yaml")
	assert.Contains(t, w.Body.String(), "label: d1")
	assert.Contains(t, w.Body.String(), "idx: 4")
}

func TestIngestRejections(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodPost, "/api/v1/streams/datasets/events", `{"label":"d1","timestamp":1}`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/v1/streams/datasets/events", `{"timestamp":1}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/streams/queues/events",
		`{"workerpool":"p1","dataset":"d1","workerIndex":9223372036854775807,"inbox":1,"timestamp":5}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodPost, "/api/v1/streams/queues/events",
		`{"workerpool":"p1","dataset":"d1","workerIndex":64,"inbox":1,"timestamp":5}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "exceeds 63")

	w = f.do(http.MethodPost, "/api/v1/streams/bogus/events", `{}`, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Zero(t, f.engine.Status().Counts[events.KindDataSets])
	assert.Zero(t, f.engine.Status().Counts[events.KindWorkerPools])
}

func TestResourceLookups(t *testing.T) {
	f := newFixture(t, false)
	f.ingest(t, events.StreamQueues, `{"workerpool":"w1","dataset":"d1","workerIndex":1,"inbox":5,"timestamp":1}`)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/resources/gadgets", "", false).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/resources/datasets/missing", "", false).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/workerpools/missing/model", "", false).Code)

	w := f.do(http.MethodGet, "/api/v1/workerpools/w1/model", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	model := decode[reconcile.WorkerPoolModelWithHistory](t, w)
	assert.Equal(t, []reconcile.DataSetCounts{{}, {"d1": 5}}, model.Inbox)

	w = f.do(http.MethodGet, "/api/v1/resources/taskqueues/d1", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	tq := decode[reconcile.TaskQueue](t, w)
	assert.Equal(t, 5, tq.Inbox)

	w = f.do(http.MethodGet, "/api/v1/status", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[reconcile.Status](t, w)
	assert.Equal(t, 1, st.Counts[events.KindWorkerPools])
	assert.Equal(t, uint64(1), st.Revision)
}

func TestFilterRoutes(t *testing.T) {
	f := newFixture(t, false)
	for i, w := range []string{"w3", "w1", "w2"} {
		f.ingest(t, events.StreamPools,
			fmt.Sprintf(`{"workerpool":%q,"datasets":[],"status":{"phase":"Running"},"timestamp":%d}`, w, i+1))
	}

	w := f.do(http.MethodPost, "/api/v1/filters/workerpools/add/w2", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handler.FilterResponse](t, w)
	assert.True(t, resp.Changed)
	assert.True(t, resp.Filters.HasFilters)

	list := decode[listBody](t, f.do(http.MethodGet, "/api/v1/resources/workerpools", "", false))
	assert.Equal(t, []string{"w2"}, list.labels(t))
	list = decode[listBody](t, f.do(http.MethodGet, "/api/v1/resources/workerpools?all=true", "", false))
	assert.Equal(t, 3, list.Count)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/v1/filters/workerpools/toggle", "", false).Code)
	w = f.do(http.MethodPost, "/api/v1/filters/workerpools/remove/w3", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[handler.FilterResponse](t, w)
	assert.Equal(t, []string{"w1", "w2"}, resp.Filters.Kinds[events.KindWorkerPools].Included)

	list = decode[listBody](t, f.do(http.MethodGet, "/api/v1/resources/workerpools", "", false))
	assert.Equal(t, []string{"w1", "w2"}, list.labels(t))

	w = f.do(http.MethodPost, "/api/v1/filters/workerpools/clear", "", false)
	assert.True(t, decode[handler.FilterResponse](t, w).Changed)
	w = f.do(http.MethodPost, "/api/v1/filters/clear", "", false)
	assert.False(t, decode[handler.FilterResponse](t, w).Changed)

	w = f.do(http.MethodGet, "/api/v1/filters", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[reconcile.FilterSnapshot](t, w).HasFilters)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/v1/filters/taskqueues/add/q", "", false).Code)
}

func TestDemoRoutes(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.generator.Seed(context.Background()))

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodDelete, "/api/v1/demo/workerpools/pool-a", "", false).Code)

	w := f.do(http.MethodDelete, "/api/v1/demo/workerpools/pool-a", "", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ent, ok, err := f.engine.GetOne(events.KindWorkerPools, "pool-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events.PhaseTerminating, ent.(reconcile.WorkerPool).Phase)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/v1/demo/workerpools/pool-a", "", true).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/v1/demo/gadgets/x", "", true).Code)
}

func TestDemoRoutesAbsentWhenDisabled(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/v1/demo/workerpools/pool-a", "", true).Code)
}

func TestDemoHandler_NilGenerator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.DELETE("/demo/:kind/:name", handler.NewDemoHandler(nil).Delete)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/demo/workerpools/x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStreamSocket(t *testing.T) {
	f := newFixture(t, false)
	server := httptest.NewServer(f.gin)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/streams/applications/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+testAPIKey)

	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"application":"a1","spec":{"inputs":["d1"]},"timestamp":1}`)))
	var ack handler.IngestResponse
	require.NoError(t, ws.ReadJSON(&ack))
	assert.Equal(t, 1, ack.Accepted)
	assert.Empty(t, ack.Error)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, ws.ReadJSON(&ack))
	assert.Zero(t, ack.Accepted)
	assert.NotEmpty(t, ack.Error)

	assert.Equal(t, []string{"a1"}, f.engine.KnownLabels(events.KindApplications))

	_, _, err = websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	f := newFixture(t, false)
	server := httptest.NewServer(f.gin)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := sse.NewClient(server.URL + "/api/v1/watch")
	client.ReconnectStrategy = &backoff.StopBackOff{}

	revisions := make(chan uint64, 8)
	go func() {
		_ = client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			var st reconcile.Status
			if string(msg.Event) == "revision" && json.Unmarshal(msg.Data, &st) == nil {
				revisions <- st.Revision
			}
		})
	}()

	select {
	case rev := <-revisions:
		assert.Zero(t, rev)
	case <-ctx.Done():
		t.Fatal("no initial revision")
	}

	f.ingest(t, events.StreamDataSets, `{"label":"d1","timestamp":1}`)
	select {
	case rev := <-revisions:
		assert.Equal(t, uint64(1), rev)
	case <-ctx.Done():
		t.Fatal("no revision after ingest")
	}
}
