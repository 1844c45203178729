package preprocessing

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/tsawler/go-datapipe/tensor"
)

func TestResizeShorterSide(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		size          int
		wantW, wantH  int
	}{
		{"landscape", 40, 20, 10, 20, 10},
		{"portrait", 20, 40, 10, 10, 20},
		{"square", 30, 30, 15, 15, 15},
		{"unchanged", 10, 16, 10, 10, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := createGradientImage(tt.width, tt.height, color.RGBA{R: 255, A: 255})
			out := Resize{Size: tt.size}.Apply(img, nil)
			b := out.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("Expected %dx%d, got %dx%d", tt.wantW, tt.wantH, b.Dx(), b.Dy())
			}
		})
	}
}

func TestCenterCrop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	img.Set(2, 2, color.RGBA{B: 255, A: 255})

	out := CenterCrop{Size: 2}.Apply(img, nil).(*image.RGBA)
	if out.Bounds().Dx() != 2 || out.Bounds().Dy() != 2 {
		t.Fatalf("Expected 2x2 crop, got %v", out.Bounds())
	}
	if got := out.RGBAAt(0, 0); got.R != 255 {
		t.Errorf("Expected red at crop origin, got %v", got)
	}
	if got := out.RGBAAt(1, 1); got.B != 255 {
		t.Errorf("Expected blue at crop corner, got %v", got)
	}

	// Smaller images are padded.
	padded := CenterCrop{Size: 6}.Apply(img, nil)
	if padded.Bounds().Dx() != 6 {
		t.Errorf("Expected padded width 6, got %d", padded.Bounds().Dx())
	}
}

func TestRandomResizedCropSize(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	crop := NewRandomResizedCrop(16)
	img := createGradientImage(50, 30, color.RGBA{G: 255, A: 255})

	for i := 0; i < 20; i++ {
		w := crop.window(img.Bounds(), rng)
		if !w.In(img.Bounds()) || w.Empty() {
			t.Fatalf("Crop window %v outside image %v", w, img.Bounds())
		}
		out := crop.Apply(img, rng)
		if out.Bounds().Dx() != 16 || out.Bounds().Dy() != 16 {
			t.Fatalf("Expected 16x16 output, got %v", out.Bounds())
		}
	}
}

func TestRandomHorizontalFlip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	rng := rand.New(rand.NewSource(1))
	always := RandomHorizontalFlip{P: 1}.Apply(img, rng).(*image.RGBA)
	if got := always.RGBAAt(2, 0); got.R != 255 {
		t.Errorf("Expected red pixel mirrored to the right edge, got %v", got)
	}

	never := RandomHorizontalFlip{P: 0}.Apply(img, rng)
	if never != image.Image(img) {
		t.Error("Expected P=0 to return the input unchanged")
	}
}

func TestToTensorNormalizes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	img.Set(1, 0, color.RGBA{R: 0, G: 255, B: 102, A: 255})

	mean := [3]float32{0.5, 0.5, 0.5}
	std := [3]float32{0.5, 0.5, 0.5}
	out, err := ToTensor(img, mean, std, tensor.CPUDevice())
	if err != nil {
		t.Fatalf("ToTensor failed: %v", err)
	}

	if len(out.Shape) != 3 || out.Shape[0] != 3 || out.Shape[1] != 1 || out.Shape[2] != 2 {
		t.Fatalf("Expected shape [3 1 2], got %v", out.Shape)
	}

	want := []float32{1, -1, -1, 1, -0.6, -0.2}
	for i, w := range want {
		if math.Abs(float64(out.Data[i]-w)) > 1e-5 {
			t.Errorf("Data[%d] = %v, want %v", i, out.Data[i], w)
		}
	}

	if _, err := ToTensor(img, mean, [3]float32{1, 0, 1}, tensor.CPUDevice()); err == nil {
		t.Error("Expected error for zero std")
	}
}

func TestPipelines(t *testing.T) {
	device := tensor.CPUDevice()
	img := createGradientImage(64, 48, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	tests := []struct {
		name string
		p    *Pipeline
	}{
		{"train", TrainTransform(32, device, 42)},
		{"eval", EvalTransform(32, device)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.p.Apply(img)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if out.Shape[0] != 3 || out.Shape[1] != 32 || out.Shape[2] != 32 {
				t.Errorf("Expected shape [3 32 32], got %v", out.Shape)
			}
			if out.Device != device {
				t.Errorf("Expected device %v, got %v", device, out.Device)
			}
		})
	}

	if _, err := EvalTransform(32, device).Apply(nil); err == nil {
		t.Error("Expected error for nil image")
	}
}

func TestPipelineConcurrentUse(t *testing.T) {
	p := TrainTransform(16, tensor.CPUDevice(), 3)
	img := createGradientImage(32, 32, color.RGBA{B: 255, A: 255})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Apply(img); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Apply failed: %v", err)
	}
}
