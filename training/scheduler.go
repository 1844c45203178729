package training

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// LRScheduler maps an epoch to a learning rate. Implementations are pure:
// the trainer asks for the rate of the next epoch after each train phase.
type LRScheduler interface {
	GetLR(epoch int, step int, baseLR float64) float64
	GetName() string
}

// MetricScheduler is a scheduler that also reacts to the validation loss.
type MetricScheduler interface {
	LRScheduler
	Step(metric float64, currentLR float64) float64
}

// StepLRScheduler multiplies the rate by Gamma every StepSize epochs.
type StepLRScheduler struct {
	StepSize int
	Gamma    float64
}

// NewStepLRScheduler falls back to 30 epochs and 0.1 on invalid input.
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLRScheduler) GetName() string { return "StepLR" }

// ExponentialLRScheduler multiplies the rate by Gamma every epoch.
type ExponentialLRScheduler struct {
	Gamma float64
}

func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string { return "ExponentialLR" }

// CosineAnnealingLRScheduler anneals from the base rate to EtaMin over TMax
// epochs.
type CosineAnnealingLRScheduler struct {
	TMax   int
	EtaMin float64
}

func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string { return "CosineAnnealingLR" }

// ReduceLROnPlateauScheduler cuts the rate by Factor once the validation
// loss has not improved for Patience epochs.
type ReduceLROnPlateauScheduler struct {
	Factor    float64
	Patience  int
	Threshold float64

	best        float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	return &ReduceLROnPlateauScheduler{Factor: factor, Patience: patience, Threshold: threshold}
}

func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.best = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}
	if metric < s.best-s.Threshold {
		s.best = metric
		s.badEpochs = 0
		return s.currentLR
	}
	s.badEpochs++
	if s.badEpochs >= s.Patience {
		s.currentLR *= s.Factor
		s.badEpochs = 0
	}
	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string { return "ReduceLROnPlateau" }

// NoOpScheduler keeps the rate constant.
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 { return baseLR }

func (s *NoOpScheduler) GetName() string { return "ConstantLR" }

// SchedulerConfig selects and parameterises a scheduler by name.
type SchedulerConfig struct {
	Name     string  `json:"name"`
	StepSize int     `json:"step_size"`
	Gamma    float64 `json:"gamma"`
	TMax     int     `json:"t_max"`
	Patience int     `json:"patience"`
}

// DefaultSchedulerConfig decays by 0.1 every 7 epochs.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Name: "step", StepSize: 7, Gamma: 0.1, TMax: 100, Patience: 10}
}

// NewScheduler builds the scheduler named in c: step, exponential, cosine,
// plateau or constant.
func NewScheduler(c SchedulerConfig) (LRScheduler, error) {
	switch strings.ToLower(c.Name) {
	case "step", "steplr":
		return NewStepLRScheduler(c.StepSize, c.Gamma), nil
	case "exponential", "exp":
		return NewExponentialLRScheduler(c.Gamma), nil
	case "cosine":
		return NewCosineAnnealingLRScheduler(c.TMax, 0), nil
	case "plateau":
		return NewReduceLROnPlateauScheduler(c.Gamma, c.Patience, 1e-4), nil
	case "constant", "none", "":
		return &NoOpScheduler{}, nil
	}
	return nil, errors.Errorf("unknown scheduler %q", c.Name)
}
