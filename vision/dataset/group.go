package dataset

import (
	"github.com/pkg/errors"
)

// GroupSize is the number of entries forming one logical record: an image and
// its metadata.
const GroupSize = 2

// ErrIncompleteGroup reports a key that never collected GroupSize entries.
var ErrIncompleteGroup = errors.New("incomplete group")

// Grouper collects records by key and releases a group once it holds size
// records. Groups are released in the order they complete.
type Grouper struct {
	size    int
	pending map[string][]Record
	order   []string
}

// NewGrouper creates a grouper for groups of size records.
func NewGrouper(size int) *Grouper {
	return &Grouper{size: size, pending: make(map[string][]Record)}
}

// Add buffers rec and returns its group if that group is now complete.
func (g *Grouper) Add(rec Record) ([]Record, bool) {
	buf, seen := g.pending[rec.Key]
	if !seen {
		g.order = append(g.order, rec.Key)
	}
	buf = append(buf, rec)
	if len(buf) < g.size {
		g.pending[rec.Key] = buf
		return nil, false
	}
	delete(g.pending, rec.Key)
	return buf, true
}

// Flush drops every incomplete group and returns one error per dropped key,
// in first-seen order.
func (g *Grouper) Flush() []error {
	var errs []error
	for _, key := range g.order {
		buf, ok := g.pending[key]
		if !ok {
			continue
		}
		errs = append(errs, errors.Wrapf(ErrIncompleteGroup, "%s: %d of %d entries", key, len(buf), g.size))
		delete(g.pending, key)
	}
	g.order = g.order[:0]
	return errs
}
