package models

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/tsawler/go-datapipe/tensor"
)

// ImageNetClasses is the head width of a freshly loaded pretrained model.
const ImageNetClasses = 1000

// Options configures backbone construction.
type Options struct {
	Device    tensor.Device `json:"-"`
	Weights   string        `json:"weights"`
	Seed      int64         `json:"seed"`
	InputSize int           `json:"input_size"`
}

// DefaultOptions returns CPU options for 224x224 inputs.
func DefaultOptions() Options {
	return Options{
		Device:    tensor.CPUDevice(),
		Seed:      1,
		InputSize: 224,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.InputSize <= 0 {
		return errors.Errorf("input size must be positive, got %d", o.InputSize)
	}
	if o.Device.Kind != tensor.CPU {
		return errors.Wrapf(tensor.ErrNoAccelerator, "device %s", o.Device)
	}
	return nil
}

var registry = map[string]ConvNetConfig{
	"resnet18": {
		Name: "resnet18",
		Stages: []Stage{
			{Channels: 16, Kernel: 3, Stride: 2},
			{Channels: 32, Kernel: 3, Stride: 2},
			{Channels: 64, Kernel: 3, Stride: 2},
			{Channels: 128, Kernel: 3, Stride: 2},
		},
	},
	"convnet-small": {
		Name: "convnet-small",
		Stages: []Stage{
			{Channels: 8, Kernel: 3, Stride: 2},
			{Channels: 16, Kernel: 3, Stride: 2},
		},
	},
}

// Names lists the registered backbones.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pretrained builds the named backbone with an ImageNet-sized head. Call
// ReplaceHead to fit it to a new label set.
func Pretrained(name string, opts Options) (*Classifier, error) {
	cfg, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown model %q (have %v)", name, Names())
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	backbone, err := NewConvNet(cfg, opts)
	if err != nil {
		return nil, err
	}
	return NewClassifier(backbone, ImageNetClasses, opts.Device, opts.Seed+1)
}
