package training

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// MetricType names a classification metric derived from a confusion matrix.
type MetricType int

const (
	Accuracy MetricType = iota
	MacroPrecision
	MacroRecall
	MacroF1
)

func (mt MetricType) String() string {
	switch mt {
	case Accuracy:
		return "Accuracy"
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix counts predictions per [true class][predicted class].
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int
	TotalSamples int
}

// NewConfusionMatrix creates an empty matrix for numClasses classes.
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{NumClasses: numClasses, Matrix: matrix}
}

// Reset clears every count.
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update records a batch of predictions.
func (cm *ConfusionMatrix) Update(trueLabels, predictions []int) error {
	if len(trueLabels) != len(predictions) {
		return errors.Errorf("got %d labels and %d predictions", len(trueLabels), len(predictions))
	}
	for i, t := range trueLabels {
		p := predictions[i]
		if t < 0 || t >= cm.NumClasses || p < 0 || p >= cm.NumClasses {
			return errors.Errorf("class out of range [0, %d): true %d, predicted %d", cm.NumClasses, t, p)
		}
		cm.Matrix[t][p]++
		cm.TotalSamples++
	}
	return nil
}

// GetMetric computes metric; per-class terms with an empty denominator count
// as zero.
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case Accuracy:
		return cm.accuracy()
	case MacroPrecision:
		return cm.macro(cm.precision)
	case MacroRecall:
		return cm.macro(cm.recall)
	case MacroF1:
		return cm.macro(func(c int) float64 {
			p, r := cm.precision(c), cm.recall(c)
			if p+r == 0 {
				return 0
			}
			return 2 * p * r / (p + r)
		})
	}
	return 0
}

func (cm *ConfusionMatrix) accuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

func (cm *ConfusionMatrix) precision(c int) float64 {
	predicted := 0
	for i := 0; i < cm.NumClasses; i++ {
		predicted += cm.Matrix[i][c]
	}
	if predicted == 0 {
		return 0
	}
	return float64(cm.Matrix[c][c]) / float64(predicted)
}

func (cm *ConfusionMatrix) recall(c int) float64 {
	actual := 0
	for j := 0; j < cm.NumClasses; j++ {
		actual += cm.Matrix[c][j]
	}
	if actual == 0 {
		return 0
	}
	return float64(cm.Matrix[c][c]) / float64(actual)
}

func (cm *ConfusionMatrix) macro(perClass func(int) float64) float64 {
	if cm.NumClasses == 0 {
		return 0
	}
	sum := 0.0
	for c := 0; c < cm.NumClasses; c++ {
		sum += perClass(c)
	}
	return sum / float64(cm.NumClasses)
}

// Format renders the matrix with optional class names as row labels.
func (cm *ConfusionMatrix) Format(classNames []string) string {
	var sb strings.Builder
	for i, row := range cm.Matrix {
		name := fmt.Sprintf("%d", i)
		if i < len(classNames) {
			name = classNames[i]
		}
		sb.WriteString(fmt.Sprintf("%12s:", name))
		for _, n := range row {
			sb.WriteString(fmt.Sprintf(" %5d", n))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
