package dataset

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
)

func TestSortedLabels(t *testing.T) {
	l := NewSortedLabels([]string{"dog", "cat", "dog", "bird"})
	assert.DeepEqual(t, l.Classes(), []string{"bird", "cat", "dog"})
	assert.Equal(t, l.Len(), 3)

	tests := []struct {
		id   string
		want int
	}{
		{"bird", 0},
		{"cat", 1},
		{"dog", 2},
	}
	for _, tt := range tests {
		got, err := l.Index(tt.id)
		assert.NilError(t, err)
		assert.Equal(t, got, tt.want, tt.id)
	}

	_, err := l.Index("fox")
	assert.Assert(t, errors.Is(err, ErrUnknownLabel))
}

func TestFirstSeenLabels(t *testing.T) {
	l := NewFirstSeenLabels(0)
	ids := []string{"zebra", "ant", "zebra", "mole", "ant"}
	want := []int{0, 1, 0, 2, 1}
	for i, id := range ids {
		got, err := l.Index(id)
		assert.NilError(t, err)
		assert.Equal(t, got, want[i], id)
	}
	assert.DeepEqual(t, l.Classes(), []string{"zebra", "ant", "mole"})
}

func TestFirstSeenLabelsLimit(t *testing.T) {
	l := NewFirstSeenLabels(2)
	_, err := l.Index("a")
	assert.NilError(t, err)
	_, err = l.Index("b")
	assert.NilError(t, err)
	_, err = l.Index("c")
	assert.ErrorContains(t, err, "exceeds the 2 expected classes")

	// Known ids still resolve at the limit.
	idx, err := l.Index("a")
	assert.NilError(t, err)
	assert.Equal(t, idx, 0)
}

func TestFirstSeenLabelsConcurrentUnique(t *testing.T) {
	l := NewFirstSeenLabels(0)
	const ids = 20

	var wg sync.WaitGroup
	results := make([][]int, 8)
	for w := range results {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			out := make([]int, ids)
			for i := 0; i < ids; i++ {
				idx, err := l.Index(fmt.Sprintf("class-%d", (i+w)%ids))
				if err != nil {
					t.Error(err)
					return
				}
				out[(i+w)%ids] = idx
			}
			results[w] = out
		}(w)
	}
	wg.Wait()

	// Every worker saw the same index for each id, and no index is shared.
	seen := make(map[int]bool)
	for i := 0; i < ids; i++ {
		for w := 1; w < len(results); w++ {
			assert.Equal(t, results[w][i], results[0][i])
		}
		assert.Assert(t, !seen[results[0][i]], "index %d reused", results[0][i])
		seen[results[0][i]] = true
	}
	assert.Equal(t, l.Len(), ids)
}
