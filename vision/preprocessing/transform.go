package preprocessing

import (
	"image"
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/tsawler/go-datapipe/tensor"
)

// ImageNet channel statistics used to normalise inputs of pretrained models.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Op is one image-to-image step of a Pipeline.
type Op interface {
	Apply(img image.Image, rng *rand.Rand) image.Image
}

// Resize scales the shorter side to Size, keeping the aspect ratio.
type Resize struct {
	Size int
}

func (r Resize) Apply(img image.Image, _ *rand.Rand) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var nw, nh int
	if w <= h {
		nw, nh = r.Size, int(float64(r.Size)*float64(h)/float64(w))
	} else {
		nw, nh = int(float64(r.Size)*float64(w)/float64(h)), r.Size
	}
	if nw == w && nh == h {
		return img
	}
	return resample(img, b, max(nw, 1), max(nh, 1))
}

// CenterCrop cuts a Size x Size square out of the middle, padding with black
// when the image is smaller.
type CenterCrop struct {
	Size int
}

func (c CenterCrop) Apply(img image.Image, _ *rand.Rand) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, c.Size, c.Size))
	top := b.Min.Y + int(math.Round(float64(b.Dy()-c.Size)/2))
	left := b.Min.X + int(math.Round(float64(b.Dx()-c.Size)/2))
	sr := image.Rect(left, top, left+c.Size, top+c.Size).Intersect(b)
	dp := image.Pt(sr.Min.X-left, sr.Min.Y-top)
	draw.Copy(dst, dp, img, sr, draw.Src, nil)
	return dst
}

// RandomResizedCrop picks a random area and aspect ratio, crops it and scales
// the crop to Size x Size.
type RandomResizedCrop struct {
	Size  int
	Scale [2]float64
	Ratio [2]float64
}

// NewRandomResizedCrop uses the customary scale (0.08, 1) and ratio (3/4, 4/3).
func NewRandomResizedCrop(size int) RandomResizedCrop {
	return RandomResizedCrop{Size: size, Scale: [2]float64{0.08, 1.0}, Ratio: [2]float64{3.0 / 4.0, 4.0 / 3.0}}
}

func (c RandomResizedCrop) Apply(img image.Image, rng *rand.Rand) image.Image {
	return resample(img, c.window(img.Bounds(), rng), c.Size, c.Size)
}

func (c RandomResizedCrop) window(b image.Rectangle, rng *rand.Rand) image.Rectangle {
	width, height := b.Dx(), b.Dy()
	area := float64(width * height)
	logLo, logHi := math.Log(c.Ratio[0]), math.Log(c.Ratio[1])

	for attempt := 0; attempt < 10; attempt++ {
		target := area * (c.Scale[0] + rng.Float64()*(c.Scale[1]-c.Scale[0]))
		aspect := math.Exp(logLo + rng.Float64()*(logHi-logLo))
		w := int(math.Round(math.Sqrt(target * aspect)))
		h := int(math.Round(math.Sqrt(target / aspect)))
		if w > 0 && h > 0 && w <= width && h <= height {
			top := rng.Intn(height - h + 1)
			left := rng.Intn(width - w + 1)
			return image.Rect(b.Min.X+left, b.Min.Y+top, b.Min.X+left+w, b.Min.Y+top+h)
		}
	}

	// Fall back to a central crop clamped to the allowed ratios.
	inRatio := float64(width) / float64(height)
	w, h := width, height
	if inRatio < c.Ratio[0] {
		h = int(math.Round(float64(w) / c.Ratio[0]))
	} else if inRatio > c.Ratio[1] {
		w = int(math.Round(float64(h) * c.Ratio[1]))
	}
	top := (height - h) / 2
	left := (width - w) / 2
	return image.Rect(b.Min.X+left, b.Min.Y+top, b.Min.X+left+w, b.Min.Y+top+h)
}

// RandomHorizontalFlip mirrors the image with probability P.
type RandomHorizontalFlip struct {
	P float64
}

func (f RandomHorizontalFlip) Apply(img image.Image, rng *rand.Rand) image.Image {
	if rng.Float64() >= f.P {
		return img
	}
	src := ToRGB(img)
	b := src.Bounds()
	dst := image.NewRGBA(b)
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+4*w]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+4*w]
		for x := 0; x < w; x++ {
			copy(out[4*(w-1-x):4*(w-x)], row[4*x:4*x+4])
		}
	}
	return dst
}

// Pipeline applies image ops, then converts to a normalised CHW tensor.
// It is safe for concurrent use.
type Pipeline struct {
	Ops    []Op
	Mean   [3]float32
	Std    [3]float32
	Device tensor.Device

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPipeline builds a pipeline with its own seeded random source.
func NewPipeline(device tensor.Device, seed int64, ops ...Op) *Pipeline {
	return &Pipeline{
		Ops:    ops,
		Mean:   ImageNetMean,
		Std:    ImageNetStd,
		Device: device,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// TrainTransform is random resized crop, random flip, to-tensor, normalise.
func TrainTransform(size int, device tensor.Device, seed int64) *Pipeline {
	return NewPipeline(device, seed, NewRandomResizedCrop(size), RandomHorizontalFlip{P: 0.5})
}

// EvalTransform resizes to 8/7 of size, then centre crops to size
// (256 -> 224 for the usual input size).
func EvalTransform(size int, device tensor.Device) *Pipeline {
	return NewPipeline(device, 0, Resize{Size: size * 256 / 224}, CenterCrop{Size: size})
}

// Apply runs the pipeline on img.
func (p *Pipeline) Apply(img image.Image) (*tensor.Tensor, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	out := img
	if len(p.Ops) > 0 {
		p.mu.Lock()
		for _, op := range p.Ops {
			out = op.Apply(out, p.rng)
		}
		p.mu.Unlock()
	}
	return ToTensor(out, p.Mean, p.Std, p.Device)
}

// ToTensor converts img to a [3, H, W] tensor scaled to [0, 1] and then
// normalised per channel with mean and std.
func ToTensor(img image.Image, mean, std [3]float32, device tensor.Device) (*tensor.Tensor, error) {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Bounds().Min != (image.Point{}) {
		rgba = ToRGB(img)
	}
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("empty image")
	}
	for c := 0; c < 3; c++ {
		if std[c] == 0 {
			return nil, errors.Errorf("zero standard deviation for channel %d", c)
		}
	}

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+4*w]
		for x := 0; x < w; x++ {
			idx := y*w + x
			for c := 0; c < 3; c++ {
				v := float32(row[4*x+c]) / 255.0
				data[c*plane+idx] = (v - mean[c]) / std[c]
			}
		}
	}
	return tensor.New([]int{3, h, w}, data, device)
}
