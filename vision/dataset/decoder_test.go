package dataset

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"

	"github.com/tsawler/go-datapipe/archive"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	assert.NilError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestDecoderRoutes(t *testing.T) {
	d := NewDecoder()
	tests := []struct {
		name string
		data []byte
		kind RecordKind
	}{
		{"cat/a.png", pngBytes(t), KindImage},
		{"cat/a.json", []byte(`{"category_id": "cat"}`), KindMetadata},
		{"cat/a.cls", []byte("cat\n"), KindText},
		{"cat/a.bin", []byte{1, 2, 3}, KindBytes},
		{"cat/b.jpg", []byte("not really a jpeg"), KindBytes},
		{"cat/b.json", []byte("{broken"), KindBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := d.Decode(archive.Entry{Name: tt.name, Data: tt.data})
			assert.Equal(t, rec.Kind, tt.kind)
			assert.Equal(t, rec.Name, tt.name)
			assert.Equal(t, rec.Key, KeyOf(tt.name))
			if tt.kind == KindBytes {
				assert.DeepEqual(t, rec.Raw, tt.data)
			}
		})
	}
}

func TestCategoryID(t *testing.T) {
	d := NewDecoder()
	tests := []struct {
		name string
		data string
		want string
		ok   bool
	}{
		{"a.json", `{"category_id": "dog"}`, "dog", true},
		{"a.json", `{"category_id": 7}`, "7", true},
		{"a.json", `{"other": "dog"}`, "", false},
		{"a.json", `{"category_id": ""}`, "", false},
		{"a.cls", "bird", "bird", true},
		{"a.bin", "dog", "", false},
	}
	for _, tt := range tests {
		got, ok := CategoryID(d.Decode(archive.Entry{Name: tt.name, Data: []byte(tt.data)}))
		assert.Equal(t, ok, tt.ok, tt.data)
		assert.Equal(t, got, tt.want, tt.data)
	}
}

func TestGrouper(t *testing.T) {
	g := NewGrouper(GroupSize)
	rec := func(name string) Record { return Record{Name: name, Key: KeyOf(name)} }

	_, ok := g.Add(rec("cat/a.png"))
	assert.Assert(t, !ok)
	_, ok = g.Add(rec("cat/b.png"))
	assert.Assert(t, !ok)

	group, ok := g.Add(rec("cat/a.json"))
	assert.Assert(t, ok)
	assert.Equal(t, len(group), 2)
	assert.Equal(t, group[0].Name, "cat/a.png")
	assert.Equal(t, group[1].Name, "cat/a.json")

	errs := g.Flush()
	assert.Equal(t, len(errs), 1)
	assert.Assert(t, errors.Is(errs[0], ErrIncompleteGroup))
	assert.ErrorContains(t, errs[0], "cat/b")

	// The same key can form a new group after completing.
	g.Add(rec("cat/a.png"))
	_, ok = g.Add(rec("cat/a.json"))
	assert.Assert(t, ok)
	assert.Equal(t, len(g.Flush()), 0)
}
