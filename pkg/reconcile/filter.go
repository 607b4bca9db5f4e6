package reconcile

import (
	"fmt"
	"slices"

	"poolwatch/pkg/events"
)

// FilterKinds are the kinds the user can filter on
var FilterKinds = []events.Kind{events.KindApplications, events.KindDataSets, events.KindWorkerPools}

type kindFilter struct {
	showAll  bool
	included []string
}

// FilterState is the user's selection: per kind an explicit include list and
// a show-all toggle. An empty include list means no filter is applied. It is
// never derived from event history.
//
// Two transitions are deliberately asymmetric:
//   - Remove of a label that is not in the include list while show-all is on
//     switches show-all off and includes every other known label.
//   - ToggleShowAll always resets the include list to empty; turning show-all
//     off does not restore the list that existed before it was turned on.
type FilterState struct {
	kinds map[events.Kind]*kindFilter
}

// NewFilterState creates the idle state: nothing included, show-all off everywhere
func NewFilterState() *FilterState {
	f := &FilterState{kinds: make(map[events.Kind]*kindFilter, len(FilterKinds))}
	for _, k := range FilterKinds {
		f.kinds[k] = &kindFilter{included: []string{}}
	}
	return f
}

func (f *FilterState) get(kind events.Kind) (*kindFilter, error) {
	kf, ok := f.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not filterable", events.ErrUnknownKind, kind)
	}
	return kf, nil
}

// Add includes label. No-op when already included or when show-all is on.
func (f *FilterState) Add(kind events.Kind, label string) (bool, error) {
	kf, err := f.get(kind)
	if err != nil {
		return false, err
	}
	if kf.showAll || slices.Contains(kf.included, label) {
		return false, nil
	}
	kf.included = append(kf.included, label)
	return true, nil
}

// Remove drops label from the include list. When label is not included and
// show-all is on, show-all is switched off and every known label except
// label becomes included.
func (f *FilterState) Remove(kind events.Kind, label string, known []string) (bool, error) {
	kf, err := f.get(kind)
	if err != nil {
		return false, err
	}
	if idx := slices.Index(kf.included, label); idx >= 0 {
		kf.included = slices.Delete(kf.included, idx, idx+1)
		return true, nil
	}
	if kf.showAll {
		kf.showAll = false
		kf.included = allBut(known, label)
		return true, nil
	}
	return false, nil
}

func allBut(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, l := range list {
		if l != drop {
			out = append(out, l)
		}
	}
	return out
}

// ToggleShowAll flips show-all and resets the include list to empty
func (f *FilterState) ToggleShowAll(kind events.Kind) error {
	kf, err := f.get(kind)
	if err != nil {
		return err
	}
	kf.showAll = !kf.showAll
	kf.included = []string{}
	return nil
}

// Clear empties the include list, leaving show-all as is
func (f *FilterState) Clear(kind events.Kind) (bool, error) {
	kf, err := f.get(kind)
	if err != nil {
		return false, err
	}
	if len(kf.included) == 0 {
		return false, nil
	}
	kf.included = []string{}
	return true, nil
}

// clearAllKinds are the kinds reset by ClearAll. The applications list
// survives it; only Clear(KindApplications) empties it.
var clearAllKinds = []events.Kind{events.KindDataSets, events.KindWorkerPools}

// ClearAll empties the include lists of datasets and worker pools
func (f *FilterState) ClearAll() bool {
	changed := false
	for _, k := range clearAllKinds {
		if ok, _ := f.Clear(k); ok {
			changed = true
		}
	}
	return changed
}

// Visible reports whether label passes the filter. Kinds that cannot be
// filtered are always visible.
func (f *FilterState) Visible(kind events.Kind, label string) bool {
	kf, ok := f.kinds[kind]
	if !ok {
		return true
	}
	return kf.showAll || len(kf.included) == 0 || slices.Contains(kf.included, label)
}

// HasFilters reports whether any kind has show-all on or a non-empty include list
func (f *FilterState) HasFilters() bool {
	for _, kf := range f.kinds {
		if kf.showAll || len(kf.included) > 0 {
			return true
		}
	}
	return false
}

// Chips returns the labels shown as active filter chips: every known label
// under show-all, otherwise the include list
func (f *FilterState) Chips(kind events.Kind, known []string) []string {
	kf, ok := f.kinds[kind]
	if !ok {
		return []string{}
	}
	if kf.showAll {
		return slices.Clone(known)
	}
	return slices.Clone(kf.included)
}

// Hidden reports whether the panel of kind should be collapsed: it has no
// selection of its own while some other kind is in show-all
func (f *FilterState) Hidden(kind events.Kind) bool {
	kf, ok := f.kinds[kind]
	if !ok || kf.showAll || len(kf.included) > 0 {
		return false
	}
	for other, of := range f.kinds {
		if other != kind && of.showAll {
			return true
		}
	}
	return false
}

// KindFilter is a copy of the filter of one kind
type KindFilter struct {
	ShowAll  bool     `json:"showAll"`
	Included []string `json:"included"`
	Chips    []string `json:"chips"`
	Hidden   bool     `json:"hidden"`
}

// FilterSnapshot is a copy of the whole filter state
type FilterSnapshot struct {
	Kinds      map[events.Kind]KindFilter `json:"kinds"`
	HasFilters bool                       `json:"hasFilters"`
}

// Snapshot copies the state; known supplies the known labels per kind for chips
func (f *FilterState) Snapshot(known func(events.Kind) []string) FilterSnapshot {
	snap := FilterSnapshot{
		Kinds:      make(map[events.Kind]KindFilter, len(f.kinds)),
		HasFilters: f.HasFilters(),
	}
	for kind, kf := range f.kinds {
		snap.Kinds[kind] = KindFilter{
			ShowAll:  kf.showAll,
			Included: slices.Clone(kf.included),
			Chips:    f.Chips(kind, known(kind)),
			Hidden:   f.Hidden(kind),
		}
	}
	return snap
}
