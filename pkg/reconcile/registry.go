package reconcile

import (
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"poolwatch/pkg/events"
)

// ApplicationRegistry holds the latest spec event per application.
// Labels and Events are parallel and ordered by first sighting.
type ApplicationRegistry struct {
	Labels      []string                      `json:"labels"`
	Events      []events.ApplicationSpecEvent `json:"events"`
	Fingerprint string                        `json:"fingerprint"`
}

// DeriveApplicationRegistry upserts each application event by application label
func DeriveApplicationRegistry(evs []events.ApplicationSpecEvent) ApplicationRegistry {
	reg := ApplicationRegistry{
		Labels: []string{},
		Events: []events.ApplicationSpecEvent{},
	}
	position := make(map[string]int)
	for _, ev := range evs {
		if idx, ok := position[ev.Application]; ok {
			reg.Events[idx] = ev
			continue
		}
		position[ev.Application] = len(reg.Labels)
		reg.Labels = append(reg.Labels, ev.Application)
		reg.Events = append(reg.Events, ev)
	}
	reg.Fingerprint = Fingerprint(reg.Labels)
	return reg
}

// Get returns the latest event of an application
func (r ApplicationRegistry) Get(label string) (events.ApplicationSpecEvent, bool) {
	idx := slices.Index(r.Labels, label)
	if idx < 0 {
		return events.ApplicationSpecEvent{}, false
	}
	return r.Events[idx], true
}

// Fingerprint digests a set of labels. Equal sets give equal fingerprints
// regardless of order; it is meant for cache keys, not for security.
func Fingerprint(labels []string) string {
	sorted := slices.Clone(labels)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	d := xxhash.New()
	for _, l := range sorted {
		_, _ = d.WriteString(l)
		_, _ = d.Write([]byte{0})
	}
	return strconv.Itoa(len(sorted)) + "-" + strconv.FormatUint(d.Sum64(), 16)
}
