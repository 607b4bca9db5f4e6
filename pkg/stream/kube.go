package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/dynamic/dynamicinformer"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"

	"poolwatch/pkg/config"
	"poolwatch/pkg/events"
	"poolwatch/pkg/logger"
)

// Custom resource plurals watched by KubeSource
const (
	ResourceDataSets     = "datasets"
	ResourceWorkerPools  = "workerpools"
	ResourceApplications = "applications"
)

// NewKubeClient creates a dynamic client. An explicit kubeconfig wins;
// otherwise in-cluster config is tried, then the default loading rules.
func NewKubeClient(kubeconfig string) (dynamic.Interface, error) {
	var (
		restConfig *rest.Config
		err        error
	)
	if kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
			restConfig, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
				loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	client, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	return client, nil
}

// KubeSource turns custom resource changes into stream events. A deleted
// resource is reported once more with phase Terminating.
type KubeSource struct {
	client    dynamic.Interface
	namespace string
	group     string
	version   string
	resync    time.Duration

	mu     sync.Mutex
	lastTS int64
	now    func() time.Time
}

// NewKubeSource creates a source over the resources of cfg.Group/cfg.Version
func NewKubeSource(client dynamic.Interface, cfg config.KubeConfig) *KubeSource {
	return &KubeSource{
		client:    client,
		namespace: cfg.Namespace,
		group:     cfg.Group,
		version:   cfg.Version,
		resync:    cfg.Resync,
		now:       time.Now,
	}
}

func (s *KubeSource) Name() string { return config.TransportKube }

// GVR returns the group version resource of a watched plural
func (s *KubeSource) GVR(resource string) schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: s.group, Version: s.version, Resource: resource}
}

// timestamp returns strictly increasing epoch milliseconds so that quick
// successive updates of one resource are not coalesced
func (s *KubeSource) timestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

// Run starts the informers and blocks until ctx is done
func (s *KubeSource) Run(ctx context.Context, hub *Hub) error {
	factory := dynamicinformer.NewFilteredDynamicSharedInformerFactory(s.client, s.resync, s.namespace, nil)
	defer factory.Shutdown()

	converters := map[string]func(u *unstructured.Unstructured, ts int64, deleted bool) events.Event{
		ResourceDataSets:     dataSetEvent,
		ResourceWorkerPools:  workerPoolEvent,
		ResourceApplications: applicationEvent,
	}

	for resource, convert := range converters {
		informer := factory.ForResource(s.GVR(resource)).Informer()
		_, err := informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
			AddFunc: func(obj interface{}) {
				s.emit(hub, resource, obj, convert, false)
			},
			UpdateFunc: func(_, obj interface{}) {
				s.emit(hub, resource, obj, convert, false)
			},
			DeleteFunc: func(obj interface{}) {
				if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
					obj = tombstone.Obj
				}
				s.emit(hub, resource, obj, convert, true)
			},
		})
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", resource, err)
		}
	}

	logger.Infof("kube: starting informers for %s/%s in namespace %q", s.group, s.version, s.namespace)
	factory.Start(ctx.Done())

	for gvr, synced := range factory.WaitForCacheSync(ctx.Done()) {
		if !synced && ctx.Err() == nil {
			logger.Warnf("kube: informer for %s did not sync", gvr.Resource)
		}
	}

	<-ctx.Done()
	return nil
}

func (s *KubeSource) emit(hub *Hub, resource string, obj interface{},
	convert func(*unstructured.Unstructured, int64, bool) events.Event, deleted bool) {
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		logger.Warnf("kube: unexpected %s object of type %T", resource, obj)
		return
	}
	ev := convert(u, s.timestamp(), deleted)
	data, err := events.Encode(ev)
	if err != nil {
		logger.Warnf("kube: failed to encode %s %s: %v", resource, u.GetName(), err)
		return
	}
	hub.Publish(ev.Stream(), data)
}

func rawField(u *unstructured.Unstructured, field string) json.RawMessage {
	value, ok := u.Object[field]
	if !ok {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return data
}

func stringField(u *unstructured.Unstructured, fields ...string) string {
	v, _, _ := unstructured.NestedString(u.Object, fields...)
	return v
}

func intField(u *unstructured.Unstructured, fields ...string) (int, bool) {
	v, ok, err := unstructured.NestedInt64(u.Object, fields...)
	if err != nil || !ok {
		return 0, false
	}
	return int(v), true
}

func stringsField(u *unstructured.Unstructured, fields ...string) []string {
	v, _, _ := unstructured.NestedStringSlice(u.Object, fields...)
	return v
}

// dataSetEvent converts a DataSet resource. spec.idx, when set, is the preferred index.
func dataSetEvent(u *unstructured.Unstructured, ts int64, deleted bool) events.Event {
	ev := events.DataSetEvent{
		DataSet:   u.GetName(),
		Spec:      rawField(u, "spec"),
		Status:    rawField(u, "status"),
		Timestamp: ts,
	}
	if idx, ok := intField(u, "spec", "idx"); ok && idx >= 0 {
		ev.Idx = &idx
	}
	if deleted {
		status := map[string]interface{}{}
		if current, ok := u.Object["status"].(map[string]interface{}); ok {
			status = current
		}
		terminating := make(map[string]interface{}, len(status)+1)
		for k, v := range status {
			terminating[k] = v
		}
		terminating["phase"] = events.PhaseTerminating
		ev.Status, _ = json.Marshal(terminating)
	}
	return ev
}

// workerPoolEvent converts a WorkerPool resource. The datasets it processes
// come from spec.datasets, falling back to a single spec.dataset.
func workerPoolEvent(u *unstructured.Unstructured, ts int64, deleted bool) events.Event {
	datasets := stringsField(u, "spec", "datasets")
	if len(datasets) == 0 {
		if ds := stringField(u, "spec", "dataset"); ds != "" {
			datasets = []string{ds}
		}
	}
	if datasets == nil {
		datasets = []string{}
	}

	status := events.PoolStatus{
		Phase:   stringField(u, "status", "phase"),
		Message: stringField(u, "status", "message"),
	}
	status.Ready, _ = intField(u, "status", "ready")
	status.Size, _ = intField(u, "spec", "workers", "count")
	if deleted {
		status.Phase = events.PhaseTerminating
	}

	return events.WorkerPoolStatusEvent{
		WorkerPool: u.GetName(),
		DataSets:   datasets,
		Status:     status,
		Timestamp:  ts,
	}
}

// applicationEvent converts an Application resource
func applicationEvent(u *unstructured.Unstructured, ts int64, deleted bool) events.Event {
	ev := events.ApplicationSpecEvent{
		Application: u.GetName(),
		Spec: events.ApplicationSpec{
			Description: stringField(u, "spec", "description"),
			Image:       stringField(u, "spec", "image"),
			Command:     stringField(u, "spec", "command"),
			Inputs:      stringsField(u, "spec", "inputs"),
		},
		Status:    stringField(u, "status", "phase"),
		Timestamp: ts,
	}
	if deleted {
		ev.Status = events.PhaseTerminating
	}
	return ev
}
