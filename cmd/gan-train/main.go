// Command gan-train trains an MLP generator against an MLP critic on one of the
// bundled Gaussian mixture datasets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/tsawler/go-gan/config"
	"github.com/tsawler/go-gan/datasets"
	"github.com/tsawler/go-gan/gan"
	"github.com/tsawler/go-gan/tensor"
	"github.com/tsawler/go-gan/training"
)

func main() {
	var (
		configPath string
		limit      int
		verbose    bool
		o          config.Overrides
	)
	flag.StringVar(&configPath, "config", "", "YAML run configuration (defaults are used when empty)")
	flag.StringVar(&o.OutputPath, "out", "", "directory for checkpoints and score history")
	flag.StringVar(&o.Dataset, "dataset", "", "gaussians, conditional_gaussians or labelled_gaussians")
	flag.IntVar(&o.BatchSize, "batch", 0, "batch size")
	flag.IntVar(&o.NumIter, "iters", 0, "number of training iterations")
	flag.Int64Var(&o.Seed, "seed", 0, "random seed")
	flag.BoolVar(&o.Accelerator, "accelerator", false, "place tensors on the accelerator")
	flag.BoolVar(&o.Metrics, "metrics", false, "append scalars to events.jsonl in the output directory")
	flag.BoolVar(&o.Progress, "progress", false, "show a progress bar")
	flag.IntVar(&limit, "limit", 0, "train on the first n samples only")
	flag.BoolVar(&verbose, "v", false, "log every visualize_nth iteration")
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, configPath, limit, o); err != nil {
		logger.Error("training failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func loadConfig(path string, o config.Overrides) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyOverrides(o)
	if cfg.OutputPath == "" {
		cfg.OutputPath = "runs"
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, logger *slog.Logger, configPath string, limit int, o config.Overrides) error {
	cfg, err := loadConfig(configPath, o)
	if err != nil {
		return err
	}
	if len(cfg.LatentShape) != 1 {
		return fmt.Errorf("the MLP generator needs a flat latent_shape, got %v", cfg.LatentShape)
	}
	if cfg.TwoLabels {
		return errors.New("the bundled datasets carry a single label factor; two_labels is not supported")
	}

	training.SetRandomSeed(cfg.Seed)
	device := training.ResolveDevice(cfg.Accelerator)
	logger.Info("host", "cpu", training.DescribeHost().String(), "device", device.String())

	ds, err := datasets.ByName(cfg.Dataset, cfg.DatasetSize, cfg.NumClasses, rand.NewPCG(uint64(cfg.Seed), 1))
	if err != nil {
		return err
	}
	opts, err := epochOptions(cfg, ds)
	if err != nil {
		return err
	}
	var samples training.Dataset = ds
	if limit > 0 {
		if samples, err = training.NewSubsetDataset(ds, limit); err != nil {
			return err
		}
	}
	loader, err := training.NewDataLoader(samples, cfg.BatchSize, true, device)
	if err != nil {
		return err
	}
	data, err := gan.NewEpochIterator(loader, opts)
	if err != nil {
		return err
	}

	gen, critic, scorer, err := buildNetworks(cfg, ds.Dim(), device)
	if err != nil {
		return err
	}
	strategy, err := gan.ParseStrategy(cfg.Loss, scorer)
	if err != nil {
		return err
	}
	scheduler, err := training.ParseScheduler(cfg.LRSchedule, cfg.NumIter)
	if err != nil {
		return err
	}

	genOpt := training.NewAdam(gen.Parameters(), cfg.LRGenerator, cfg.Beta1, cfg.Beta2, 1e-8, 0)
	criticOpt := training.NewAdam(critic.Parameters(), cfg.LRCritic, cfg.Beta1, cfg.Beta2, 1e-8, 0)

	trainer, err := gan.NewTrainer(cfg, gen, critic, genOpt, criticOpt, strategy,
		gan.WithSlog(logger),
		gan.WithScheduler(scheduler),
		gan.WithRandSource(rand.NewPCG(uint64(cfg.Seed), 2)))
	if err != nil {
		return err
	}
	logger.Info("run configured",
		"run_id", trainer.RunID(),
		"dataset", cfg.Dataset,
		"layout", ds.Layout().String(),
		"samples", samples.Len(),
		"loss", cfg.Loss,
		"generator_params", countParams(gen),
		"critic_params", countParams(critic),
		"out", cfg.OutputPath)

	history, err := trainer.Train(ctx, data)
	if errors.Is(err, context.Canceled) {
		logger.Warn("stopped early; the final checkpoint holds the last weights", "iterations", history.Len())
		return nil
	}
	if err != nil {
		return err
	}
	if n := history.Len(); n > 0 {
		logger.Info("done", "disc_loss", history.Disc[n-1], "gen_loss", history.Gen[n-1], "epochs", data.Epoch())
	}
	return nil
}

func countParams(n gan.Network) int {
	total := 0
	for _, p := range n.Parameters() {
		total += p.Numel()
	}
	return total
}

// epochOptions matches the label handling of the iterator to the layout of ds.
func epochOptions(cfg *config.Config, ds *datasets.GaussianMixture) (gan.EpochOptions, error) {
	opts := gan.EpochOptions{Device: training.ResolveDevice(cfg.Accelerator)}
	switch ds.Layout() {
	case datasets.Unlabelled:
		if cfg.Conditional {
			return opts, fmt.Errorf("dataset %s has no labels to condition on", cfg.Dataset)
		}
	case datasets.OneHot, datasets.Labelled:
		if !cfg.Conditional {
			return opts, fmt.Errorf("dataset %s is labelled; set conditional: true", cfg.Dataset)
		}
		opts.Conditional = true
		opts.Pictures = ds.Layout() == datasets.Labelled
		opts.NumClasses = ds.NumClasses()
	}
	return opts, nil
}

func buildNetworks(cfg *config.Config, dim int, device tensor.DeviceType) (gen, critic *gan.ModuleNetwork, scorer gan.Scorer, err error) {
	act := func() training.Module { return training.NewLeakyReLU(0.2) }
	mlp := func(in, out int) (*training.Sequential, error) {
		widths := append([]int{in}, cfg.Hidden...)
		return training.NewMLP(append(widths, out), act, device)
	}

	extra := 0
	if cfg.Conditional {
		extra = cfg.NumClasses
	}

	g, err := mlp(cfg.LatentShape[0]+extra, dim)
	if err != nil {
		return nil, nil, scorer, fmt.Errorf("build generator: %w", err)
	}
	c, err := mlp(dim+extra, 1)
	if err != nil {
		return nil, nil, scorer, fmt.Errorf("build critic: %w", err)
	}

	gen = gan.Wrap(g)
	switch {
	case cfg.ConditionalCritic:
		critic = gan.Wrap(c)
		scorer = gan.Scorer{Critic: critic, Conditioner: &gan.Conditioner{NumClasses: cfg.NumClasses}}
		return gen, critic, scorer, nil
	case cfg.Conditional:
		critic = gan.WrapConditional(c, cfg.NumClasses)
	default:
		critic = gan.Wrap(c)
	}
	return gen, critic, gan.Scorer{Critic: critic}, nil
}
