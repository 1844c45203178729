package dataset

import (
	"github.com/tsawler/go-datapipe/tensor"
)

// DefaultExtensions are the image files a folder dataset picks up.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp"}

type options struct {
	labels     LabelAssigner
	extensions []string
	transform  Transform
	device     tensor.Device
	cache      *ImageCache
}

// Option configures a folder or stream dataset.
type Option func(*options)

// WithLabels makes the dataset resolve class indices through l, so that two
// splits can share one mapping.
func WithLabels(l LabelAssigner) Option {
	return func(o *options) { o.labels = l }
}

// WithExtensions restricts the folder dataset to files with these extensions.
func WithExtensions(exts ...string) Option {
	return func(o *options) { o.extensions = exts }
}

// WithTransform sets the image transform applied to every sample.
func WithTransform(t Transform) Option {
	return func(o *options) { o.transform = t }
}

// WithDevice sets the device of tensors built by the default transform.
func WithDevice(d tensor.Device) Option {
	return func(o *options) { o.device = d }
}

// WithCache keeps decoded folder images in c across passes.
func WithCache(c *ImageCache) Option {
	return func(o *options) { o.cache = c }
}

func buildOptions(opts []Option) options {
	o := options{
		extensions: DefaultExtensions,
		device:     tensor.CPUDevice(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transform == nil {
		o.transform = plainTransform{device: o.device}
	}
	return o
}
