package reconcile

import (
	"maps"
	"slices"

	"poolwatch/pkg/events"
)

// IndexTable assigns each label of a kind a stable dense index, used by
// presentation collaborators for consistent coloring and layout.
// Entries are only ever added.
type IndexTable struct {
	kinds map[events.Kind]*kindIndex
}

type kindIndex struct {
	index   map[string]int
	claimed map[int]string
	order   []string
}

// NewIndexTable creates an empty index table
func NewIndexTable() *IndexTable {
	return &IndexTable{kinds: make(map[events.Kind]*kindIndex)}
}

func (t *IndexTable) kind(kind events.Kind) *kindIndex {
	ki, ok := t.kinds[kind]
	if !ok {
		ki = &kindIndex{
			index:   make(map[string]int),
			claimed: make(map[int]string),
		}
		t.kinds[kind] = ki
	}
	return ki
}

// IndexOf returns the index bound to label, binding one on first sight.
// The first binding wins: a preferred index is honored only on first sight
// and only when no other label holds it. Otherwise the label gets the count
// of labels already bound, advanced past any index claimed by preference.
func (t *IndexTable) IndexOf(kind events.Kind, label string, preferred *int) int {
	ki := t.kind(kind)
	if idx, ok := ki.index[label]; ok {
		return idx
	}

	idx := -1
	if preferred != nil && *preferred >= 0 {
		if _, taken := ki.claimed[*preferred]; !taken {
			idx = *preferred
		}
	}
	if idx < 0 {
		idx = len(ki.order)
		for {
			if _, taken := ki.claimed[idx]; !taken {
				break
			}
			idx++
		}
	}

	ki.index[label] = idx
	ki.claimed[idx] = label
	ki.order = append(ki.order, label)
	return idx
}

// Lookup returns the index bound to label without binding one
func (t *IndexTable) Lookup(kind events.Kind, label string) (int, bool) {
	ki, ok := t.kinds[kind]
	if !ok {
		return 0, false
	}
	idx, ok := ki.index[label]
	return idx, ok
}

// Labels returns the labels of a kind in first-seen order
func (t *IndexTable) Labels(kind events.Kind) []string {
	ki, ok := t.kinds[kind]
	if !ok {
		return []string{}
	}
	return slices.Clone(ki.order)
}

// Len returns the number of labels bound for a kind
func (t *IndexTable) Len(kind events.Kind) int {
	if ki, ok := t.kinds[kind]; ok {
		return len(ki.order)
	}
	return 0
}

// Table returns a copy of the label to index mapping of a kind
func (t *IndexTable) Table(kind events.Kind) map[string]int {
	ki, ok := t.kinds[kind]
	if !ok {
		return map[string]int{}
	}
	return maps.Clone(ki.index)
}
