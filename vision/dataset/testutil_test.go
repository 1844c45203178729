package dataset

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writePNG writes a small solid-colour PNG at path.
func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func writeMeta(t *testing.T, path, category string) {
	t.Helper()
	data, err := json.Marshal(map[string]string{"category_id": category})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	writeFile(t, path, data)
}

// createFolderDataset lays out root/<class>/image_<i>.png.
func createFolderDataset(t *testing.T, classes []string, imagesPerClass int) string {
	t.Helper()
	root := t.TempDir()
	for ci, class := range classes {
		for i := 0; i < imagesPerClass; i++ {
			c := color.RGBA{R: uint8(40 * ci), G: uint8(30 * i), B: 100, A: 255}
			writePNG(t, filepath.Join(root, class, "image_"+string(rune('a'+i))+".png"), c)
		}
	}
	return root
}
