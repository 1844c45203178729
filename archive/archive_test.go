package archive

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// writeTree creates files (relative path -> content) below dir.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		assert.NilError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		assert.NilError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func entryMap(t *testing.T, path string) map[string]string {
	t.Helper()
	entries, err := ReadAll(path)
	assert.NilError(t, err)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		_, dup := out[e.Name]
		assert.Assert(t, !dup, "duplicate entry %s", e.Name)
		out[e.Name] = string(e.Data)
	}
	return out
}

func TestToTarPreservesRelativePaths(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"train/cat/a.jpg":        "cat-a",
		"train/cat/b.jpg":        "cat-b",
		"train/cat/nested/c.jpg": "cat-c",
		"train/dog/a.jpg":        "dog-a",
		"train/fox/z.jpg":        "fox-z",
		"train/owl/y.jpg":        "owl-y",
	})

	groups := [][]string{
		{filepath.Join(src, "train/cat"), filepath.Join(src, "train/dog")},
		{filepath.Join(src, "train/fox"), filepath.Join(src, "train/owl")},
	}
	want := []map[string]string{
		{"cat/a.jpg": "cat-a", "cat/b.jpg": "cat-b", "cat/nested/c.jpg": "cat-c", "dog/a.jpg": "dog-a"},
		{"fox/z.jpg": "fox-z", "owl/y.jpg": "owl-y"},
	}

	for _, ext := range []string{".tar.gz", ".tar.xz", ".tar"} {
		t.Run(ext, func(t *testing.T) {
			out := t.TempDir()
			for i, group := range groups {
				dst := filepath.Join(out, "train_images_"+string(rune('1'+i))+ext)
				assert.NilError(t, NewImageFolder(group).ToTar(dst))
				assert.DeepEqual(t, entryMap(t, dst), want[i])
			}
		})
	}
}

func TestToTarMissingFolder(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"cat/a.jpg": "x"})
	dst := filepath.Join(t.TempDir(), "val_images.tar.gz")

	err := NewImageFolder([]string{filepath.Join(src, "cat"), filepath.Join(src, "missing")}).ToTar(dst)
	assert.ErrorContains(t, err, "missing")

	_, statErr := os.Stat(dst)
	assert.Assert(t, os.IsNotExist(statErr), "partial archive left behind")
}

func TestToTarRejectsUnknownExtension(t *testing.T) {
	src := t.TempDir()
	err := NewImageFolder([]string{src}).ToTar(filepath.Join(t.TempDir(), "out.zip"))
	assert.ErrorContains(t, err, "not a tar archive")
}

func TestToTarWithSidecars(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"cat/a.jpg":  "img",
		"cat/b.png":  "img",
		"cat/b.json": `{"category_id":"feline"}`,
		"cat/notes":  "text",
	})
	dst := filepath.Join(t.TempDir(), "train.tar.gz")
	assert.NilError(t, NewImageFolder([]string{filepath.Join(src, "cat")}, WithSidecars()).ToTar(dst))

	got := entryMap(t, dst)
	assert.Check(t, is.Len(got, 5))

	var meta map[string]string
	assert.NilError(t, json.Unmarshal([]byte(got["cat/a.json"]), &meta))
	assert.Equal(t, meta[SidecarKey], "cat")
	// Existing sidecars are kept as they are.
	assert.Equal(t, got["cat/b.json"], `{"category_id":"feline"}`)
}

func TestGlob(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"train_2.tar.gz": "",
		"train_1.tar.xz": "",
		"train_x.txt":    "",
		"val_1.tar.gz":   "",
	})
	got, err := Glob(root, "train*")
	assert.NilError(t, err)
	assert.DeepEqual(t, got, []string{
		filepath.Join(root, "train_1.tar.xz"),
		filepath.Join(root, "train_2.tar.gz"),
	})
}

func TestCompressionFor(t *testing.T) {
	tests := []struct {
		name string
		want Compression
	}{
		{"a.tar.gz", Gzip},
		{"a.TGZ", Gzip},
		{"a.tar.xz", XZ},
		{"a.tar", None},
	}
	for _, tt := range tests {
		got, err := CompressionFor(tt.name)
		assert.NilError(t, err)
		assert.Equal(t, got, tt.want, tt.name)
	}
}

func TestReaderSkipListsEntriesInOrder(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"cat/b.jpg": "b",
		"cat/a.jpg": "a",
		"cat/a.txt": "note",
	})
	dst := filepath.Join(t.TempDir(), "val_images.tar.xz")
	assert.NilError(t, NewImageFolder([]string{filepath.Join(src, "cat")}).ToTar(dst))

	r, err := Open(dst)
	assert.NilError(t, err)
	defer r.Close()

	var names []string
	for {
		name, err := r.Skip()
		if err == io.EOF {
			break
		}
		assert.NilError(t, err)
		names = append(names, name)
	}
	assert.DeepEqual(t, names, []string{"cat/a.jpg", "cat/a.txt", "cat/b.jpg"})
}
