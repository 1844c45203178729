package training

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-datapipe/vision/dataset"
)

// PlotType names a chart built from a training report.
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
)

// PlotData is a chart description that plotting tools can render.
type PlotData struct {
	PlotType  PlotType     `json:"plot_type"`
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
	Config    PlotConfig   `json:"config"`

	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData is one line of a chart.
type SeriesData struct {
	Name string      `json:"name"`
	Type string      `json:"type"`
	Data []DataPoint `json:"data"`
}

// DataPoint is one point of a series.
type DataPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlotConfig holds axis labels and scales.
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	XAxisScale string `json:"x_axis_scale"`
	YAxisScale string `json:"y_axis_scale"`
	ShowLegend bool   `json:"show_legend"`
}

// TrainingCurvesPlot charts per-epoch loss and accuracy of both phases.
func (r *Report) TrainingCurvesPlot(modelName string) PlotData {
	series := []SeriesData{
		{Name: "Training Loss", Type: "line"},
		{Name: "Training Accuracy", Type: "line"},
		{Name: "Validation Loss", Type: "line"},
		{Name: "Validation Accuracy", Type: "line"},
	}
	for _, m := range r.History {
		offset := 0
		if m.Phase == dataset.Val {
			offset = 2
		}
		x := float64(m.Epoch)
		series[offset].Data = append(series[offset].Data, DataPoint{X: x, Y: m.Loss})
		series[offset+1].Data = append(series[offset+1].Data, DataPoint{X: x, Y: m.Accuracy})
	}

	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series:    series,
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Loss / Accuracy",
			XAxisScale: "linear",
			YAxisScale: "linear",
			ShowLegend: true,
		},
		Metrics: map[string]interface{}{
			"best_epoch":    r.BestEpoch,
			"best_accuracy": r.BestAccuracy,
		},
	}
}

// LearningRatePlot charts the learning rate used by each train phase.
func (r *Report) LearningRatePlot(modelName string) PlotData {
	s := SeriesData{Name: "Learning Rate", Type: "line"}
	for _, m := range r.History {
		if m.Phase == dataset.Train {
			s.Data = append(s.Data, DataPoint{X: float64(m.Epoch), Y: m.LearningRate})
		}
	}
	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("Learning Rate Schedule - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series:    []SeriesData{s},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Learning Rate",
			XAxisScale: "linear",
			YAxisScale: "log",
		},
	}
}

// ToJSON converts plot data to indented JSON.
func (pd PlotData) ToJSON() (string, error) {
	data, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal plot data")
	}
	return string(data), nil
}

// WritePlots saves plots as a JSON array at path.
func WritePlots(path string, plots ...PlotData) error {
	data, err := json.MarshalIndent(plots, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal plots")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "failed to write %s", path)
}
