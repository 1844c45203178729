package training

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-datapipe/vision/dataset"
)

// Config holds configuration for training.
type Config struct {
	NumEpochs int `json:"num_epochs"`
}

// DefaultConfig trains for five epochs.
func DefaultConfig() Config {
	return Config{NumEpochs: 5}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumEpochs < 0 {
		return errors.Errorf("number of epochs must not be negative, got %d", c.NumEpochs)
	}
	return nil
}

// PhaseMetrics summarises one phase of one epoch.
type PhaseMetrics struct {
	Epoch        int           `json:"epoch"`
	Phase        dataset.Split `json:"phase"`
	Loss         float64       `json:"loss"`
	Accuracy     float64       `json:"accuracy"`
	MacroF1      float64       `json:"macro_f1"`
	Samples      int           `json:"samples"`
	LearningRate float64       `json:"learning_rate"`
	Duration     time.Duration `json:"duration"`
}

// Recorder receives the metrics of every completed phase.
type Recorder interface {
	RecordPhase(ctx context.Context, m PhaseMetrics) error
}

// Report is the outcome of a training run.
type Report struct {
	History      []PhaseMetrics
	BestEpoch    int // -1 when no epoch beat the initial weights
	BestAccuracy float64
	Elapsed      time.Duration
}

// Phase returns the metrics of phase in epoch.
func (r *Report) Phase(epoch int, phase dataset.Split) (PhaseMetrics, bool) {
	for _, m := range r.History {
		if m.Epoch == epoch && m.Phase == phase {
			return m, true
		}
	}
	return PhaseMetrics{}, false
}

// Loaders maps each phase to the loader that feeds it.
type Loaders map[dataset.Split]*DataLoader

// Sizes returns the sample counts reported by each loader's source.
func (l Loaders) Sizes() map[dataset.Split]int {
	sizes := make(map[dataset.Split]int, len(l))
	for split, loader := range l {
		sizes[split] = loader.Size()
	}
	return sizes
}

// TrainerOption configures optional collaborators of a Trainer.
type TrainerOption func(*Trainer)

// WithRecorder sends each phase's metrics to r.
func WithRecorder(r Recorder) TrainerOption {
	return func(t *Trainer) { t.recorder = r }
}

// WithProgress draws a progress bar per phase on w.
func WithProgress(w io.Writer) TrainerOption {
	return func(t *Trainer) { t.progress = w }
}

// Trainer runs the train/val epoch loop and keeps the weights of the epoch
// with the best validation accuracy.
type Trainer struct {
	model     Module
	criterion Loss
	optimizer Optimizer
	scheduler LRScheduler
	config    Config
	baseLR    float64
	recorder  Recorder
	progress  io.Writer
}

// NewTrainer creates a trainer. A nil scheduler keeps the rate constant.
func NewTrainer(model Module, criterion Loss, optimizer Optimizer, scheduler LRScheduler, config Config, opts ...TrainerOption) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if model == nil || criterion == nil || optimizer == nil {
		return nil, errors.New("model, loss and optimizer are required")
	}
	if scheduler == nil {
		scheduler = &NoOpScheduler{}
	}
	t := &Trainer{
		model:     model,
		criterion: criterion,
		optimizer: optimizer,
		scheduler: scheduler,
		config:    config,
		baseLR:    optimizer.GetLR(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Train runs config.NumEpochs epochs of a train phase followed by a val
// phase. Phase averages divide by sizes, the caller's precomputed dataset
// sizes. On return the model holds the best snapshot. Any error aborts the
// run.
func (t *Trainer) Train(ctx context.Context, loaders Loaders, sizes map[dataset.Split]int) (*Report, error) {
	for _, phase := range dataset.Phases {
		if loaders[phase] == nil {
			return nil, errors.Errorf("no loader for phase %s", phase)
		}
		if sizes[phase] <= 0 {
			return nil, errors.Wrapf(dataset.ErrEmptyDataset, "phase %s has size %d", phase, sizes[phase])
		}
	}

	start := time.Now()
	report := &Report{BestEpoch: -1}
	best := TakeSnapshot(t.model.Parameters())
	bestAcc := 0.0

	for epoch := 0; epoch < t.config.NumEpochs; epoch++ {
		klog.Infof("Epoch %d/%d", epoch, t.config.NumEpochs-1)

		for _, phase := range dataset.Phases {
			m, err := t.runPhase(ctx, epoch, phase, loaders[phase], sizes[phase])
			if err != nil {
				return nil, errors.Wrapf(err, "epoch %d %s", epoch, phase)
			}
			klog.Infof("%s Loss: %.4f Acc: %.4f", phase, m.Loss, m.Accuracy)

			switch phase {
			case dataset.Train:
				t.optimizer.SetLR(t.scheduler.GetLR(epoch+1, 0, t.baseLR))
			case dataset.Val:
				if ms, ok := t.scheduler.(MetricScheduler); ok {
					t.optimizer.SetLR(ms.Step(m.Loss, t.optimizer.GetLR()))
				}
				if m.Accuracy > bestAcc {
					bestAcc = m.Accuracy
					best = TakeSnapshot(t.model.Parameters())
					report.BestEpoch = epoch
				}
			}

			report.History = append(report.History, m)
			if t.recorder != nil {
				if err := t.recorder.RecordPhase(ctx, m); err != nil {
					return nil, errors.Wrap(err, "failed to record metrics")
				}
			}
		}
	}

	report.Elapsed = time.Since(start)
	report.BestAccuracy = bestAcc
	klog.Infof("Training complete in %dm %ds", int(report.Elapsed.Minutes()), int(report.Elapsed.Seconds())%60)
	klog.Infof("Best val Acc: %.4f", bestAcc)

	if err := best.Restore(t.model.Parameters()); err != nil {
		return nil, errors.Wrap(err, "failed to restore best weights")
	}
	return report, nil
}

func (t *Trainer) runPhase(ctx context.Context, epoch int, phase dataset.Split, loader *DataLoader, size int) (PhaseMetrics, error) {
	training := phase == dataset.Train
	if training {
		t.model.Train()
	} else {
		t.model.Eval()
	}
	m := PhaseMetrics{Epoch: epoch, Phase: phase, LearningRate: t.optimizer.GetLR()}
	phaseStart := time.Now()

	var bar *ProgressBar
	if t.progress != nil {
		bar = NewProgressBar(t.progress, fmt.Sprintf("Epoch %d %s", epoch, phase), loader.Len())
	}

	var (
		runningLoss     float64
		runningCorrects int
		confusion       *ConfusionMatrix
	)
	it := loader.Iterator(ctx)
	defer it.Close()

	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return m, err
		}

		if training {
			t.optimizer.ZeroGrad()
		}
		logits, err := t.model.Forward(batch.Data)
		if err != nil {
			return m, err
		}
		preds, err := Argmax(logits)
		if err != nil {
			return m, err
		}
		loss, grad, err := t.criterion.Forward(logits, batch.Labels)
		if err != nil {
			return m, err
		}
		if training {
			if err := t.model.Backward(grad); err != nil {
				return m, err
			}
			if err := t.optimizer.Step(); err != nil {
				return m, err
			}
		}

		runningLoss += loss * float64(batch.Size())
		for i, p := range preds {
			if p == batch.Labels[i] {
				runningCorrects++
			}
		}
		if confusion == nil {
			confusion = NewConfusionMatrix(logits.Shape[1])
		}
		if err := confusion.Update(batch.Labels, preds); err != nil {
			return m, err
		}
		m.Samples += batch.Size()

		if bar != nil {
			bar.Update(step, map[string]float64{
				"loss": runningLoss / float64(m.Samples),
				"acc":  float64(runningCorrects) / float64(m.Samples),
			})
		}
	}
	if bar != nil {
		bar.Finish()
	}

	if m.Samples != size {
		klog.Warningf("%s phase yielded %d samples, expected %d", phase, m.Samples, size)
	}
	m.Loss = runningLoss / float64(size)
	m.Accuracy = float64(runningCorrects) / float64(size)
	if confusion != nil {
		m.MacroF1 = confusion.GetMetric(MacroF1)
		klog.V(2).Infof("%s confusion matrix:\n%s", phase, confusion.Format(nil))
	}
	m.Duration = time.Since(phaseStart)
	return m, nil
}
