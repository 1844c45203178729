package dataset

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknownLabel is returned for a category id a fixed mapping does not hold.
var ErrUnknownLabel = errors.New("unknown label")

// LabelAssigner maps category ids to dense class indices. An index is given
// to exactly one id and never changes afterwards.
type LabelAssigner interface {
	Index(id string) (int, error)
	// Classes returns the ids ordered by index.
	Classes() []string
	Len() int
}

// SortedLabels assigns indices alphabetically over a fixed set of ids.
type SortedLabels struct {
	classes []string
	index   map[string]int
}

// NewSortedLabels sorts and deduplicates ids.
func NewSortedLabels(ids []string) *SortedLabels {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	classes := make([]string, 0, len(set))
	for id := range set {
		classes = append(classes, id)
	}
	sort.Strings(classes)

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &SortedLabels{classes: classes, index: index}
}

func (l *SortedLabels) Index(id string) (int, error) {
	idx, ok := l.index[id]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownLabel, "%q", id)
	}
	return idx, nil
}

func (l *SortedLabels) Classes() []string {
	return append([]string(nil), l.classes...)
}

func (l *SortedLabels) Len() int {
	return len(l.classes)
}

// FirstSeenLabels assigns the next free index to each new id in the order
// ids are first seen. It is safe for concurrent use.
type FirstSeenLabels struct {
	mu      sync.Mutex
	limit   int
	classes []string
	index   map[string]int
}

// NewFirstSeenLabels creates an empty mapping. A positive limit caps the
// number of distinct ids; 0 means unbounded.
func NewFirstSeenLabels(limit int) *FirstSeenLabels {
	return &FirstSeenLabels{limit: limit, index: make(map[string]int)}
}

func (l *FirstSeenLabels) Index(id string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if idx, ok := l.index[id]; ok {
		return idx, nil
	}
	if l.limit > 0 && len(l.classes) >= l.limit {
		return 0, errors.Errorf("label %q exceeds the %d expected classes", id, l.limit)
	}
	idx := len(l.classes)
	l.classes = append(l.classes, id)
	l.index[id] = idx
	return idx, nil
}

func (l *FirstSeenLabels) Classes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.classes...)
}

func (l *FirstSeenLabels) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.classes)
}
