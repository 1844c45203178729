package models

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-datapipe/checkpoints"
	"github.com/tsawler/go-datapipe/layers"
	"github.com/tsawler/go-datapipe/tensor"
)

// Backbone is a frozen feature extractor.
type Backbone interface {
	// Forward maps one [C, H, W] image to a feature vector.
	Forward(input *tensor.Tensor) ([]float64, error)
	OutFeatures() int
	Parameters() []*layers.Parameter
	Spec() *layers.ModelSpec
}

// Stage is one conv + ReLU block.
type Stage struct {
	Channels int `json:"channels"`
	Kernel   int `json:"kernel"`
	Stride   int `json:"stride"`
}

// ConvNetConfig describes a stack of stages followed by global average
// pooling.
type ConvNetConfig struct {
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

// ConvNet is a convolutional feature extractor evaluated on the CPU.
type ConvNet struct {
	name string
	net  *layers.Network
	out  int
}

// NewConvNet compiles cfg for inputs of opts.InputSize and initialises it,
// from opts.Weights when set. The result is frozen.
func NewConvNet(cfg ConvNetConfig, opts Options) (*ConvNet, error) {
	if len(cfg.Stages) == 0 {
		return nil, errors.Errorf("%s: no stages", cfg.Name)
	}

	builder := layers.NewModelBuilder([]int{3, opts.InputSize, opts.InputSize})
	for i, s := range cfg.Stages {
		builder.AddConv2D(s.Channels, s.Kernel, s.Stride, s.Kernel/2, true, fmt.Sprintf("conv%d", i+1))
		builder.AddReLU(fmt.Sprintf("relu%d", i+1))
	}
	builder.AddGlobalAvgPool("pool")

	spec, err := builder.Compile()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile %s", cfg.Name)
	}
	net, err := layers.Build(spec, opts.Device, rand.New(rand.NewSource(opts.Seed)))
	if err != nil {
		return nil, err
	}

	if opts.Weights != "" {
		if err := checkpoints.LoadWeights(opts.Weights, net.Parameters()); err != nil {
			return nil, err
		}
		klog.V(1).Infof("%s: loaded weights from %s", cfg.Name, opts.Weights)
	} else {
		klog.V(1).Infof("%s: no weights file, using seeded initialisation (seed %d)", cfg.Name, opts.Seed)
	}
	net.Freeze()

	return &ConvNet{
		name: cfg.Name,
		net:  net,
		out:  cfg.Stages[len(cfg.Stages)-1].Channels,
	}, nil
}

func (c *ConvNet) Forward(input *tensor.Tensor) ([]float64, error) {
	out, err := c.net.Forward(input)
	if err != nil {
		return nil, errors.Wrap(err, c.name)
	}
	return out.Float64s(), nil
}

func (c *ConvNet) OutFeatures() int                { return c.out }
func (c *ConvNet) Parameters() []*layers.Parameter { return c.net.Parameters() }
func (c *ConvNet) Spec() *layers.ModelSpec         { return c.net.Spec }
