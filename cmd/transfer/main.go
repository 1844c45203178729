// transfer fine-tunes a pretrained classifier on a small image dataset, read
// either from class folders (-ds) or from streamed tar archives (-dp).
//
//	transfer -r ./images_dataset_ds -ds
//	transfer -r ./images_dataset_tar -dp -n 10
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-datapipe/history"
	"github.com/tsawler/go-datapipe/models"
	"github.com/tsawler/go-datapipe/tensor"
	"github.com/tsawler/go-datapipe/training"
	"github.com/tsawler/go-datapipe/vision/dataset"
	"github.com/tsawler/go-datapipe/vision/preprocessing"
)

var (
	flagRoot        string
	flagDataset     bool
	flagDatapipe    bool
	flagNumOfLabels int

	flagModel     = flag.String("model", "resnet18", "Backbone to fine-tune.")
	flagWeights   = flag.String("weights", "", "Pretrained backbone weights (.json or .json.gz checkpoint).")
	flagDevice    = flag.String("device", "auto", "Device: auto, cpu or an accelerator name.")
	flagEpochs    = flag.Int("epochs", 5, "Number of epochs.")
	flagLR        = flag.Float64("lr", 0.001, "Learning rate.")
	flagMomentum  = flag.Float64("momentum", 0.9, "SGD momentum.")
	flagScheduler = flag.String("scheduler", "step", "LR scheduler: step, exponential, cosine, plateau or constant.")
	flagStepSize  = flag.Int("step-size", 7, "Epochs between learning rate decays.")
	flagGamma     = flag.Float64("gamma", 0.1, "Learning rate decay factor.")
	flagBatchSize = flag.Int("batch-size", 1, "Samples per batch.")
	flagWorkers   = flag.Int("workers", 1, "Loader goroutines.")
	flagImageSize = flag.Int("image-size", 224, "Model input size.")
	flagSeed      = flag.Int64("seed", 1, "Seed for weights, augmentation and shuffling.")
	flagHistory   = flag.String("history", "", "SQLite file to log per-phase metrics to.")
	flagProgress  = flag.Bool("progress", false, "Draw a progress bar per phase on stderr.")
	flagCurves    = flag.String("curves", "", "Write training curves as JSON to this file.")
	flagCache     = flag.Int("cache", 0, "Decoded images to keep in memory per split in -ds mode.")
)

func init() {
	flag.StringVar(&flagRoot, "r", "", "Root dir of images (required).")
	flag.StringVar(&flagRoot, "root", "", "Root dir of images (required).")
	flag.BoolVar(&flagDataset, "ds", false, "Train from class folders under root/train and root/val.")
	flag.BoolVar(&flagDataset, "dataset", false, "Train from class folders under root/train and root/val.")
	flag.BoolVar(&flagDatapipe, "dp", false, "Train from train*/val* tar archives under root.")
	flag.BoolVar(&flagDatapipe, "datapipe", false, "Train from train*/val* tar archives under root.")
	flag.IntVar(&flagNumOfLabels, "n", 0, "Number of labels, required with -dp.")
	flag.IntVar(&flagNumOfLabels, "num_of_labels", 0, "Number of labels, required with -dp.")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if flagRoot == "" {
		klog.Fatalf("-r/-root is required")
	}
	if flagDataset == flagDatapipe {
		klog.Fatalf("exactly one of -ds/-dataset and -dp/-datapipe is required")
	}
	if flagDatapipe && flagNumOfLabels <= 0 {
		klog.Fatalf("-n/-num_of_labels must be set when using datapipe")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	device := must.M1(tensor.SelectDevice(*flagDevice))
	klog.Infof("device: %s", device)

	splits, numClasses := must.M2(loadSplits(device))
	must.M(train(ctx, device, splits, numClasses))
}

// loadSplits builds the train and val sources sharing one label mapping and
// returns them with the head width.
func loadSplits(device tensor.Device) (dataset.Splits, int, error) {
	transforms := map[dataset.Split]dataset.Transform{
		dataset.Train: preprocessing.TrainTransform(*flagImageSize, device, *flagSeed),
		dataset.Val:   preprocessing.EvalTransform(*flagImageSize, device),
	}
	splits := dataset.Splits{}

	if flagDataset {
		var labels dataset.LabelAssigner
		for _, split := range dataset.Phases {
			opts := []dataset.Option{dataset.WithTransform(transforms[split])}
			if *flagCache > 0 {
				opts = append(opts, dataset.WithCache(dataset.NewImageCache(*flagCache)))
			}
			if labels != nil {
				opts = append(opts, dataset.WithLabels(labels))
			}
			folder, err := dataset.NewImageFolder(filepath.Join(flagRoot, string(split)), opts...)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "%s split", split)
			}
			labels = folder.Labels()
			splits[split] = folder
			klog.Infof("%s", folder)
		}
		return splits, labels.Len(), nil
	}

	labels := dataset.NewFirstSeenLabels(flagNumOfLabels)
	for _, split := range dataset.Phases {
		pipe, err := dataset.NewDatapipe(flagRoot, split,
			dataset.WithLabels(labels), dataset.WithTransform(transforms[split]))
		if err != nil {
			return nil, 0, errors.Wrapf(err, "%s split", split)
		}
		splits[split] = pipe
		klog.Infof("%s", pipe)
	}
	if labels.Len() < flagNumOfLabels {
		klog.Warningf("archives hold %d labels, head has %d outputs", labels.Len(), flagNumOfLabels)
	}
	return splits, flagNumOfLabels, nil
}

func train(ctx context.Context, device tensor.Device, splits dataset.Splits, numClasses int) error {
	opts := models.DefaultOptions()
	opts.Device = device
	opts.Weights = *flagWeights
	opts.Seed = *flagSeed
	opts.InputSize = *flagImageSize

	model, err := models.Pretrained(*flagModel, opts)
	if err != nil {
		return err
	}
	if err := model.ReplaceHead(numClasses); err != nil {
		return err
	}
	training.NewModelArchitecturePrinter(os.Stderr, *flagModel).
		PrintArchitecture(model.Backbone().Spec(), model.Head())

	sgd := training.DefaultSGDConfig()
	sgd.LearningRate = *flagLR
	sgd.Momentum = *flagMomentum
	optimizer, err := training.NewSGD(model.Parameters(), sgd)
	if err != nil {
		return err
	}

	schedCfg := training.DefaultSchedulerConfig()
	schedCfg.Name = *flagScheduler
	schedCfg.StepSize = *flagStepSize
	schedCfg.Gamma = *flagGamma
	schedCfg.TMax = *flagEpochs
	scheduler, err := training.NewScheduler(schedCfg)
	if err != nil {
		return err
	}

	loaders := training.Loaders{}
	for _, split := range dataset.Phases {
		cfg := training.DefaultDataLoaderConfig()
		cfg.BatchSize = *flagBatchSize
		cfg.NumWorkers = *flagWorkers
		cfg.Shuffle = split == dataset.Train
		cfg.Seed = *flagSeed
		loader, err := training.NewDataLoader(splits[split], cfg)
		if err != nil {
			return errors.Wrapf(err, "%s loader", split)
		}
		loaders[split] = loader
	}

	var trainerOpts []training.TrainerOption
	if *flagProgress {
		trainerOpts = append(trainerOpts, training.WithProgress(os.Stderr))
	}
	if *flagHistory != "" {
		store, err := history.Open(*flagHistory, flagRoot)
		if err != nil {
			return err
		}
		defer store.Close()
		klog.Infof("recording run %s in %s", store.RunID(), *flagHistory)
		trainerOpts = append(trainerOpts, training.WithRecorder(store))
	}

	cfg := training.DefaultConfig()
	cfg.NumEpochs = *flagEpochs
	trainer, err := training.NewTrainer(model, training.NewCrossEntropyLoss(), optimizer, scheduler, cfg, trainerOpts...)
	if err != nil {
		return err
	}

	report, err := trainer.Train(ctx, loaders, splits.Sizes())
	if err != nil {
		return err
	}
	klog.Infof("best epoch %d, val accuracy %.4f", report.BestEpoch, report.BestAccuracy)

	if *flagCurves != "" {
		if err := training.WritePlots(*flagCurves,
			report.TrainingCurvesPlot(*flagModel),
			report.LearningRatePlot(*flagModel)); err != nil {
			return err
		}
		klog.Infof("training curves written to %s", *flagCurves)
	}
	return nil
}
