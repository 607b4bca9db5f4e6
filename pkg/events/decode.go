package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every decode failure
var ErrMalformed = errors.New("malformed event")

const (
	// DefaultMaxWorkerIndex bounds QueueEvent.WorkerIndex when Limits leaves it unset
	DefaultMaxWorkerIndex = 1023
	// MaxWorkerIndexCeiling is the largest worker index any Limits may allow.
	// Worker pool models hold one slot per index up to the highest one seen.
	MaxWorkerIndexCeiling = 1<<16 - 1
)

// Limits bounds decoded values that size derived models
type Limits struct {
	MaxWorkerIndex int
}

// WorkerIndexBound returns the effective maximum worker index: the default
// when unset, clamped to MaxWorkerIndexCeiling
func (l Limits) WorkerIndexBound() int {
	switch {
	case l.MaxWorkerIndex <= 0:
		return DefaultMaxWorkerIndex
	case l.MaxWorkerIndex > MaxWorkerIndexCeiling:
		return MaxWorkerIndexCeiling
	}
	return l.MaxWorkerIndex
}

// DecodeError describes why a raw message could not be turned into events
type DecodeError struct {
	Stream StreamKind
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s event: %s: %v", e.Stream, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s event: %s", e.Stream, e.Reason)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformed, e.Err}
	}
	return []error{ErrMalformed}
}

func malformed(stream StreamKind, reason string, err error) error {
	return &DecodeError{Stream: stream, Reason: reason, Err: err}
}

// Decode parses one wire message with the default Limits
func Decode(stream StreamKind, raw []byte) ([]Event, error) {
	return DecodeWithLimits(stream, raw, Limits{})
}

// DecodeWithLimits parses one wire message. A message is either a single JSON
// object or a JSON array of objects (batched delivery); a batch fails as a whole.
func DecodeWithLimits(stream StreamKind, raw []byte, limits Limits) ([]Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, malformed(stream, "empty payload", nil)
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, malformed(stream, "invalid batch", err)
		}
		out := make([]Event, 0, len(items))
		for i, item := range items {
			ev, err := decodeOne(stream, item, limits)
			if err != nil {
				return nil, fmt.Errorf("batch item %d: %w", i, err)
			}
			out = append(out, ev)
		}
		return out, nil
	}

	ev, err := decodeOne(stream, trimmed, limits)
	if err != nil {
		return nil, err
	}
	return []Event{ev}, nil
}

func decodeOne(stream StreamKind, raw []byte, limits Limits) (Event, error) {
	switch stream {
	case StreamDataSets:
		var ev DataSetEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, malformed(stream, "invalid json", err)
		}
		return ev, validateDataSet(ev)
	case StreamQueues:
		var ev QueueEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, malformed(stream, "invalid json", err)
		}
		return ev, validateQueue(ev, limits.WorkerIndexBound())
	case StreamPools:
		var ev WorkerPoolStatusEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, malformed(stream, "invalid json", err)
		}
		return ev, validatePool(ev)
	case StreamApplications:
		var ev ApplicationSpecEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, malformed(stream, "invalid json", err)
		}
		return ev, validateApplication(ev)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, stream)
	}
}

func validateDataSet(ev DataSetEvent) error {
	if ev.DataSet == "" {
		return malformed(StreamDataSets, "missing label", nil)
	}
	if ev.Idx != nil && *ev.Idx < 0 {
		return malformed(StreamDataSets, "negative idx", nil)
	}
	return validateTimestamp(StreamDataSets, ev.Timestamp)
}

func validateQueue(ev QueueEvent, maxWorkerIndex int) error {
	switch {
	case ev.WorkerPool == "":
		return malformed(StreamQueues, "missing workerpool", nil)
	case ev.DataSet == "":
		return malformed(StreamQueues, "missing dataset", nil)
	case ev.WorkerIndex < 0:
		return malformed(StreamQueues, "negative workerIndex", nil)
	case ev.WorkerIndex > maxWorkerIndex:
		return malformed(StreamQueues, fmt.Sprintf("workerIndex %d exceeds %d", ev.WorkerIndex, maxWorkerIndex), nil)
	case ev.Inbox < 0 || ev.Outbox < 0 || ev.Processing < 0:
		return malformed(StreamQueues, "negative count", nil)
	}
	return validateTimestamp(StreamQueues, ev.Timestamp)
}

func validatePool(ev WorkerPoolStatusEvent) error {
	if ev.WorkerPool == "" {
		return malformed(StreamPools, "missing workerpool", nil)
	}
	for _, ds := range ev.DataSets {
		if ds == "" {
			return malformed(StreamPools, "empty dataset label", nil)
		}
	}
	return validateTimestamp(StreamPools, ev.Timestamp)
}

func validateApplication(ev ApplicationSpecEvent) error {
	if ev.Application == "" {
		return malformed(StreamApplications, "missing application", nil)
	}
	return validateTimestamp(StreamApplications, ev.Timestamp)
}

func validateTimestamp(stream StreamKind, ts int64) error {
	if ts <= 0 {
		return malformed(stream, "missing timestamp", nil)
	}
	return nil
}

// Encode serializes one event for publishing on its stream
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", ev.Stream(), err)
	}
	return data, nil
}
