package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestNewImageFolder(t *testing.T) {
	t.Run("ValidDataset", func(t *testing.T) {
		classes := []string{"dog", "cat", "bird"}
		root := createFolderDataset(t, classes, 3)

		d, err := NewImageFolder(root)
		assert.NilError(t, err)
		assert.Equal(t, d.Len(), 9)
		assert.Equal(t, d.NumClasses(), 3)
		assert.DeepEqual(t, d.Labels().Classes(), []string{"bird", "cat", "dog"})
		assert.DeepEqual(t, d.ClassNames(), []string{"bird", "cat", "dog"})

		dist := d.ClassDistribution()
		for _, c := range classes {
			assert.Equal(t, dist[c], 3, "class %s", c)
		}
		assert.Assert(t, strings.Contains(d.String(), "9 samples"))
	})

	t.Run("IgnoresOtherFiles", func(t *testing.T) {
		root := createFolderDataset(t, []string{"cat"}, 2)
		writeFile(t, filepath.Join(root, "cat", "notes.txt"), []byte("hello"))
		writeFile(t, filepath.Join(root, "README"), []byte("top level file"))

		d, err := NewImageFolder(root)
		assert.NilError(t, err)
		assert.Equal(t, d.Len(), 2)
	})

	t.Run("CustomExtensions", func(t *testing.T) {
		root := createFolderDataset(t, []string{"cat"}, 2)
		_, err := NewImageFolder(root, WithExtensions(".jpg"))
		assert.Assert(t, errors.Is(err, ErrEmptyDataset))
	})

	t.Run("EmptyDirectory", func(t *testing.T) {
		_, err := NewImageFolder(t.TempDir())
		assert.Assert(t, errors.Is(err, ErrEmptyDataset))
	})

	t.Run("MissingDirectory", func(t *testing.T) {
		_, err := NewImageFolder(filepath.Join(t.TempDir(), "missing"))
		assert.ErrorContains(t, err, "failed to list classes")
	})
}

func TestImageFolderSizeMatchesIteration(t *testing.T) {
	tests := []struct {
		name    string
		classes []string
		per     int
	}{
		{"one class", []string{"cat"}, 1},
		{"two classes", []string{"cat", "dog"}, 2},
		{"three classes", []string{"ant", "bee", "cow"}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewImageFolder(createFolderDataset(t, tt.classes, tt.per))
			assert.NilError(t, err)

			// Two passes yield the same count.
			for pass := 0; pass < 2; pass++ {
				n, err := Count(d)
				assert.NilError(t, err)
				assert.Equal(t, n, d.Len())
			}
		})
	}
}

func TestImageFolderGet(t *testing.T) {
	root := createFolderDataset(t, []string{"cat", "dog"}, 2)
	d, err := NewImageFolder(root)
	assert.NilError(t, err)

	s, err := d.Get(3)
	assert.NilError(t, err)
	assert.Equal(t, s.Label, 1)
	assert.Equal(t, s.Key, "dog/image_b.png")
	assert.DeepEqual(t, s.Image.Shape, []int{3, 4, 6})

	_, err = d.Get(4)
	assert.ErrorContains(t, err, "out of range")
	_, err = d.Get(-1)
	assert.ErrorContains(t, err, "out of range")
}

func TestImageFolderSharedLabels(t *testing.T) {
	train, err := NewImageFolder(createFolderDataset(t, []string{"cat", "dog"}, 1))
	assert.NilError(t, err)

	val, err := NewImageFolder(createFolderDataset(t, []string{"dog"}, 1), WithLabels(train.Labels()))
	assert.NilError(t, err)
	s, err := val.Get(0)
	assert.NilError(t, err)
	assert.Equal(t, s.Label, 1, "val must reuse the train index for dog")

	_, err = NewImageFolder(createFolderDataset(t, []string{"fox"}, 1), WithLabels(train.Labels()))
	assert.Assert(t, errors.Is(err, ErrUnknownLabel))
}

func TestImageFolderCorruptImage(t *testing.T) {
	root := createFolderDataset(t, []string{"cat"}, 1)
	bad := filepath.Join(root, "cat", "broken.png")
	assert.NilError(t, os.WriteFile(bad, []byte("not a png"), 0644))

	d, err := NewImageFolder(root)
	assert.NilError(t, err)
	assert.Equal(t, d.Len(), 2)

	_, err = d.Get(0)
	assert.Assert(t, is.ErrorContains(err, "broken.png"))
}
