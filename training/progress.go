package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tsawler/go-datapipe/layers"
)

// ProgressBar renders a single-line, carriage-return refreshed progress bar.
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a progress bar writing to out.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
	}
}

// Update moves the bar to step and replaces the displayed metrics.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish fills the bar and ends the line.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = min(float64(pb.current)/float64(pb.total), 1.0)
	}
	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 && percentage > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		eta = time.Duration(float64(elapsed)/percentage) - elapsed
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, percentage*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(eta))
	if rate > 0 {
		line += fmt.Sprintf(", %.2fit/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := pb.metrics[key]
		if strings.Contains(key, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value*100)
		} else {
			line += fmt.Sprintf(", %s=%.3f", key, value)
		}
	}
	fmt.Fprint(pb.out, line+"]")
}

// formatDuration formats d as MM:SS.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// ModelArchitecturePrinter prints a PyTorch-style model summary.
type ModelArchitecturePrinter struct {
	out       io.Writer
	modelName string
}

func NewModelArchitecturePrinter(out io.Writer, modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{out: out, modelName: modelName}
}

// PrintArchitecture prints the frozen backbone followed by the trainable head.
func (p *ModelArchitecturePrinter) PrintArchitecture(backbone *layers.ModelSpec, head *layers.Linear) {
	fmt.Fprintf(p.out, "%s(\n", p.modelName)
	for _, layer := range backbone.Layers {
		fmt.Fprintf(p.out, "  %s\n", formatLayer(layer))
	}
	trainable := int64(0)
	if head != nil {
		for _, param := range head.Parameters() {
			trainable += int64(len(param.Data))
		}
		fmt.Fprintf(p.out, "  (%s): Linear(in_features=%d, out_features=%d, bias=%t)\n",
			head.Name(), head.InFeatures(), head.OutFeatures(), head.Bias != nil)
	}
	fmt.Fprintf(p.out, ")\n")
	fmt.Fprintf(p.out, "Total parameters: %s\n", formatParameterCount(backbone.TotalParameters+trainable))
	fmt.Fprintf(p.out, "Trainable parameters: %s\n", formatParameterCount(trainable))
	fmt.Fprintf(p.out, "Non-trainable parameters: %s\n", formatParameterCount(backbone.TotalParameters))
}

func formatLayer(layer layers.LayerSpec) string {
	param := func(key string) interface{} { return layer.Parameters[key] }
	switch layer.Type {
	case layers.Conv2D:
		k := param("kernel_size")
		s := param("stride")
		pad := param("padding")
		return fmt.Sprintf("(%s): Conv2d(%v, %v, kernel_size=(%v, %v), stride=(%v, %v), padding=(%v, %v), bias=%v)",
			layer.Name, param("input_channels"), param("output_channels"), k, k, s, s, pad, pad, param("use_bias"))
	case layers.Dense:
		return fmt.Sprintf("(%s): Linear(in_features=%v, out_features=%v, bias=%v)",
			layer.Name, param("input_size"), param("output_size"), param("use_bias"))
	case layers.ReLU:
		return fmt.Sprintf("(%s): ReLU()", layer.Name)
	case layers.GlobalAvgPool:
		return fmt.Sprintf("(%s): AdaptiveAvgPool2d(output_size=(1, 1))", layer.Name)
	default:
		return fmt.Sprintf("(%s): %s()", layer.Name, layer.Type)
	}
}

// formatParameterCount formats count with K/M suffixes.
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
