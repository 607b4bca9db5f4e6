// Package events defines the wire contract shared by every inbound stream:
// dataset, queue, worker pool status and application spec events.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// StreamKind identifies one of the inbound event streams
type StreamKind string

const (
	StreamDataSets     StreamKind = "datasets"
	StreamQueues       StreamKind = "queues"
	StreamPools        StreamKind = "pools"
	StreamApplications StreamKind = "applications"
)

// Streams lists every inbound stream in subscription order
var Streams = []StreamKind{StreamDataSets, StreamQueues, StreamPools, StreamApplications}

// Kind identifies a kind of reconciled entity
type Kind string

const (
	KindApplications Kind = "applications"
	KindDataSets     Kind = "datasets"
	KindWorkerPools  Kind = "workerpools"
	KindTaskQueues   Kind = "taskqueues"
)

// Kinds lists every entity kind
var Kinds = []Kind{KindApplications, KindDataSets, KindWorkerPools, KindTaskQueues}

var (
	// ErrUnknownStream is returned for stream names outside Streams
	ErrUnknownStream = errors.New("unknown event stream")
	// ErrUnknownKind is returned for kind names outside Kinds
	ErrUnknownKind = errors.New("unknown resource kind")
)

// ParseStreamKind converts a stream name (as found in routes and channel names) to a StreamKind
func ParseStreamKind(s string) (StreamKind, error) {
	for _, k := range Streams {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStream, s)
}

// ParseKind converts a kind name to a Kind
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Event is an immutable, timestamped fact about one entity.
// Implementations are plain values; treat their slices and raw payloads as read-only.
type Event interface {
	// Stream returns the stream this event travels on
	Stream() StreamKind
	// Subject returns the label of the entity this event is about
	Subject() string
	// EventTime returns the producer timestamp in epoch milliseconds
	EventTime() int64
}

// DataSetEvent reports the spec and status of one dataset
type DataSetEvent struct {
	DataSet   string          `json:"label"`
	Idx       *int            `json:"idx,omitempty"`    // preferred dense index, bound on first sight
	Spec      json.RawMessage `json:"spec,omitempty"`   // opaque
	Status    json.RawMessage `json:"status,omitempty"` // opaque
	Timestamp int64           `json:"timestamp"`
}

func (e DataSetEvent) Stream() StreamKind { return StreamDataSets }
func (e DataSetEvent) Subject() string    { return e.DataSet }
func (e DataSetEvent) EventTime() int64   { return e.Timestamp }

// QueueEvent reports the queue depths one worker of a pool observes for one dataset
type QueueEvent struct {
	WorkerPool  string `json:"workerpool"`
	DataSet     string `json:"dataset"`
	WorkerIndex int    `json:"workerIndex"`
	Inbox       int    `json:"inbox"`
	Outbox      int    `json:"outbox"`
	Processing  int    `json:"processing"`
	Timestamp   int64  `json:"timestamp"`
}

func (e QueueEvent) Stream() StreamKind { return StreamQueues }
func (e QueueEvent) Subject() string    { return e.WorkerPool }
func (e QueueEvent) EventTime() int64   { return e.Timestamp }

// PoolStatus is the status payload of a WorkerPoolStatusEvent
type PoolStatus struct {
	Phase   string `json:"phase,omitempty"` // Pending, Running, Terminating, ...
	Ready   int    `json:"ready,omitempty"`
	Size    int    `json:"size,omitempty"`
	Message string `json:"message,omitempty"`
}

// PhaseTerminating marks a resource that is being deleted
const PhaseTerminating = "Terminating"

// WorkerPoolStatusEvent reports which datasets a worker pool is processing
type WorkerPoolStatusEvent struct {
	WorkerPool string     `json:"workerpool"`
	DataSets   []string   `json:"datasets"`
	Status     PoolStatus `json:"status"`
	Timestamp  int64      `json:"timestamp"`
}

func (e WorkerPoolStatusEvent) Stream() StreamKind { return StreamPools }
func (e WorkerPoolStatusEvent) Subject() string    { return e.WorkerPool }
func (e WorkerPoolStatusEvent) EventTime() int64   { return e.Timestamp }

// ApplicationSpec is the declared shape of an application
type ApplicationSpec struct {
	Description string   `json:"description,omitempty"`
	Image       string   `json:"image,omitempty"`
	Command     string   `json:"command,omitempty"`
	Inputs      []string `json:"inputs,omitempty"` // dataset / task queue names consumed
}

// ApplicationSpecEvent reports the latest spec of one application
type ApplicationSpecEvent struct {
	Application string          `json:"application"`
	Spec        ApplicationSpec `json:"spec"`
	Status      string          `json:"status,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

func (e ApplicationSpecEvent) Stream() StreamKind { return StreamApplications }
func (e ApplicationSpecEvent) Subject() string    { return e.Application }
func (e ApplicationSpecEvent) EventTime() int64   { return e.Timestamp }

// Declares reports whether the application consumes the named dataset
func (e ApplicationSpecEvent) Declares(dataset string) bool {
	for _, in := range e.Spec.Inputs {
		if in == dataset {
			return true
		}
	}
	return false
}
