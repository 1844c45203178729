package training

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-datapipe/layers"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
}

// SGDConfig holds the hyperparameters of SGD.
type SGDConfig struct {
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum"`
	WeightDecay  float64 `json:"weight_decay"`
	Dampening    float64 `json:"dampening"`
	Nesterov     bool    `json:"nesterov"`
}

// DefaultSGDConfig is lr 0.001 with momentum 0.9.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{LearningRate: 0.001, Momentum: 0.9}
}

// Validate checks the hyperparameters.
func (c SGDConfig) Validate() error {
	if c.LearningRate <= 0 {
		return errors.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.Momentum < 0 || c.WeightDecay < 0 {
		return errors.New("momentum and weight decay must be non-negative")
	}
	if c.Nesterov && (c.Momentum <= 0 || c.Dampening != 0) {
		return errors.New("nesterov momentum requires a momentum and zero dampening")
	}
	return nil
}

// SGD implements stochastic gradient descent with optional momentum.
type SGD struct {
	parameters []*layers.Parameter
	config     SGDConfig
	velocities map[*layers.Parameter][]float64
	mutex      sync.RWMutex
}

// NewSGD creates an SGD optimizer over the parameters that require gradients.
func NewSGD(parameters []*layers.Parameter, config SGDConfig) (*SGD, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	sgd := &SGD{
		config:     config,
		velocities: make(map[*layers.Parameter][]float64),
	}
	for _, p := range parameters {
		if !p.RequiresGrad {
			continue
		}
		sgd.parameters = append(sgd.parameters, p)
		if config.Momentum > 0 {
			sgd.velocities[p] = make([]float64, len(p.Data))
		}
	}
	if len(sgd.parameters) == 0 {
		return nil, errors.New("no trainable parameters")
	}
	return sgd, nil
}

// Step applies one update:
//
//	g = grad + wd*p
//	v = momentum*v + (1-dampening)*g
//	p -= lr * (nesterov ? g + momentum*v : v)
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	c := sgd.config
	for _, p := range sgd.parameters {
		if len(p.Grad) != len(p.Data) {
			return errors.Errorf("parameter %s: gradient size %d, data size %d", p.Name, len(p.Grad), len(p.Data))
		}
		grad := append([]float64(nil), p.Grad...)
		if c.WeightDecay > 0 {
			floats.AddScaled(grad, c.WeightDecay, p.Data)
		}

		step := grad
		if c.Momentum > 0 {
			v := sgd.velocities[p]
			floats.Scale(c.Momentum, v)
			floats.AddScaled(v, 1-c.Dampening, grad)
			if c.Nesterov {
				floats.AddScaled(step, c.Momentum, v)
			} else {
				step = v
			}
		}
		floats.AddScaled(p.Data, -c.LearningRate, step)
	}
	return nil
}

// ZeroGrad clears every gradient.
func (sgd *SGD) ZeroGrad() {
	for _, p := range sgd.parameters {
		p.ZeroGrad()
	}
}

func (sgd *SGD) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.config.LearningRate
}

func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.config.LearningRate = lr
}

// AdamConfig holds the hyperparameters of Adam.
type AdamConfig struct {
	LearningRate float64 `json:"learning_rate"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	Epsilon      float64 `json:"epsilon"`
	WeightDecay  float64 `json:"weight_decay"`
}

// DefaultAdamConfig uses the customary betas (0.9, 0.999).
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{LearningRate: 0.001, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

// Adam implements the Adam optimizer with bias correction.
type Adam struct {
	parameters []*layers.Parameter
	config     AdamConfig
	m          map[*layers.Parameter][]float64
	v          map[*layers.Parameter][]float64
	steps      int
	mutex      sync.RWMutex
}

// NewAdam creates an Adam optimizer over the parameters that require
// gradients.
func NewAdam(parameters []*layers.Parameter, config AdamConfig) (*Adam, error) {
	if config.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, errors.Errorf("betas must be in [0, 1), got %g and %g", config.Beta1, config.Beta2)
	}
	adam := &Adam{
		config: config,
		m:      make(map[*layers.Parameter][]float64),
		v:      make(map[*layers.Parameter][]float64),
	}
	for _, p := range parameters {
		if !p.RequiresGrad {
			continue
		}
		adam.parameters = append(adam.parameters, p)
		adam.m[p] = make([]float64, len(p.Data))
		adam.v[p] = make([]float64, len(p.Data))
	}
	if len(adam.parameters) == 0 {
		return nil, errors.New("no trainable parameters")
	}
	return adam, nil
}

func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.steps++
	c := adam.config
	correction1 := 1 - math.Pow(c.Beta1, float64(adam.steps))
	correction2 := 1 - math.Pow(c.Beta2, float64(adam.steps))

	for _, p := range adam.parameters {
		m, v := adam.m[p], adam.v[p]
		for i, g := range p.Grad {
			if c.WeightDecay > 0 {
				g += c.WeightDecay * p.Data[i]
			}
			m[i] = c.Beta1*m[i] + (1-c.Beta1)*g
			v[i] = c.Beta2*v[i] + (1-c.Beta2)*g*g
			mHat := m[i] / correction1
			vHat := v[i] / correction2
			p.Data[i] -= c.LearningRate * mHat / (math.Sqrt(vHat) + c.Epsilon)
		}
	}
	return nil
}

func (adam *Adam) ZeroGrad() {
	for _, p := range adam.parameters {
		p.ZeroGrad()
	}
}

func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.config.LearningRate
}

func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.config.LearningRate = lr
}
