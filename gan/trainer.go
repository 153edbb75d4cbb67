package gan

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-gan/checkpoints"
	"github.com/tsawler/go-gan/config"
	"github.com/tsawler/go-gan/metrics"
	"github.com/tsawler/go-gan/tensor"
	"github.com/tsawler/go-gan/training"
)

// Logger receives the same scalars as the metrics sink.
type Logger interface {
	Add(name string, value float64, step int)
}

// Callback runs after every iteration with the 0-based iteration index.
type Callback func(t *Trainer, iteration int)

// CriticStepResult reports one critic update.
type CriticStepResult struct {
	Loss float64
	Real *Batch
	Fake *Batch
}

// GeneratorStepResult reports one generator update. Failure is set when the
// backward pass failed or produced unusable gradients; no optimizer step was
// applied in that case.
type GeneratorStepResult struct {
	Loss    float64
	Fake    *Batch
	Failure error
}

// StepResult holds the losses of the last critic and generator sub-steps.
type StepResult struct {
	CriticLoss    float64
	GeneratorLoss float64
	Failure       error
}

// Trainer alternates critic and generator updates.
type Trainer struct {
	Generator Network
	Critic    Network
	GenOpt    training.Optimizer
	CriticOpt training.Optimizer
	Strategy  Strategy
	Synth     *Synthesizer

	cfg       *config.Config
	log       *slog.Logger
	saver     *checkpoints.CheckpointSaver
	sink      metrics.ScalarWriter
	scheduler training.LRScheduler
	progress  bool
	src       rand.Source
	runID     string

	history   *metrics.History
	iteration int
	epoch     func() int
	last      StepResult
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithSlog sets the structured logger, slog.Default() otherwise.
func WithSlog(l *slog.Logger) Option {
	return func(t *Trainer) { t.log = l }
}

// WithSink sets the scalar sink. Without one, cfg.Metrics selects an events
// file under the output path or no sink at all.
func WithSink(w metrics.ScalarWriter) Option {
	return func(t *Trainer) { t.sink = w }
}

// WithScheduler applies s to both optimizers' initial learning rates once per
// iteration.
func WithScheduler(s training.LRScheduler) Option {
	return func(t *Trainer) { t.scheduler = s }
}

// WithProgress toggles the progress bar on stdout.
func WithProgress(on bool) Option {
	return func(t *Trainer) { t.progress = on }
}

// WithRandSource sets the source of latent noise and labels.
func WithRandSource(src rand.Source) Option {
	return func(t *Trainer) { t.src = src }
}

// NewTrainer validates cfg and wires the pair. A nil strategy behaves like
// UnimplementedStrategy. With cfg.Accelerator set, networks implementing
// DeviceMover are moved to the accelerator.
func NewTrainer(cfg *config.Config, gen, critic Network, genOpt, criticOpt training.Optimizer, strategy Strategy, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if gen == nil && critic == nil {
		return nil, errors.New("trainer needs at least one network")
	}
	if strategy == nil {
		strategy = UnimplementedStrategy{}
	}
	format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		Generator: gen,
		Critic:    critic,
		GenOpt:    genOpt,
		CriticOpt: criticOpt,
		Strategy:  strategy,
		cfg:       cfg,
		saver:     checkpoints.NewCheckpointSaver(format),
		progress:  cfg.Progress,
		runID:     checkpoints.NewRunID(),
	}
	for _, o := range opts {
		o(t)
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	if t.src == nil {
		t.src = rand.NewPCG(uint64(cfg.Seed), 0x9e3779b97f4a7c15)
	}

	if cfg.Accelerator {
		for _, n := range []Network{gen, critic} {
			if m, ok := n.(DeviceMover); ok {
				if err := m.MoveTo(tensor.GPU); err != nil {
					return nil, errors.Wrap(err, "move network to accelerator")
				}
			}
		}
	}
	if gen != nil {
		t.Synth = NewSynthesizer(gen, cfg, t.src)
	}
	if critic != nil {
		t.trainCritic()
	}
	return t, nil
}

// Config returns the configuration the trainer was built with.
func (t *Trainer) Config() *config.Config {
	return t.cfg
}

// RunID identifies the run in checkpoint metadata.
func (t *Trainer) RunID() string {
	return t.runID
}

// History is the score history of the current or last run.
func (t *Trainer) History() *metrics.History {
	return t.history
}

// trainCritic and trainGenerator freeze the other network before unfreezing
// their own, so the two are never trainable at once.
func (t *Trainer) trainCritic() {
	if t.Generator != nil {
		t.Generator.SetTrainable(false)
	}
	if t.Critic != nil {
		t.Critic.SetTrainable(true)
	}
}

func (t *Trainer) trainGenerator() {
	if t.Critic != nil {
		t.Critic.SetTrainable(false)
	}
	if t.Generator != nil {
		t.Generator.SetTrainable(true)
	}
}

func scalarLoss(loss *tensor.Tensor) (*tensor.Tensor, float64, error) {
	if loss.Numel() > 1 {
		var err error
		if loss, err = tensor.MeanAutograd(loss); err != nil {
			return nil, 0, err
		}
	}
	v, err := loss.Scalar()
	if err != nil {
		return nil, 0, err
	}
	return loss, v, nil
}

// TrainCriticStep performs one critic update on a real and a fake batch.
func (t *Trainer) TrainCriticStep(real, fake Iterator) (CriticStepResult, error) {
	var res CriticStepResult
	t.CriticOpt.ZeroGrad()
	t.trainCritic()

	var err error
	if res.Real, err = real.Next(); err != nil {
		return res, errors.Wrap(err, "draw real batch")
	}
	if res.Fake, err = fake.Next(); err != nil {
		return res, errors.Wrap(err, "draw fake batch")
	}

	loss, err := t.Strategy.DiscriminatorLoss(res.Real, res.Fake)
	if err != nil {
		return res, errors.Wrap(err, "discriminator loss")
	}
	loss, res.Loss, err = scalarLoss(loss)
	if err != nil {
		return res, err
	}
	if err := loss.Backward(); err != nil {
		return res, errors.Wrap(err, "critic backward")
	}
	if err := t.CriticOpt.Step(); err != nil {
		return res, errors.Wrap(err, "critic optimizer step")
	}
	return res, nil
}

// TrainGeneratorStep performs one generator update on fake, or on a batch
// drawn from the fake iterator when fake is nil or a relabelled real batch.
func (t *Trainer) TrainGeneratorStep(fakeIt Iterator, fake *Batch) (GeneratorStepResult, error) {
	var res GeneratorStepResult
	t.GenOpt.ZeroGrad()
	t.trainGenerator()

	// A shuffled stream alternates, so a relabelled draw is followed by a
	// synthesized one.
	for attempt := 0; fake == nil || fake.Relabelled; attempt++ {
		if attempt == 2 {
			return res, errors.New("fake stream yielded no synthesized batch")
		}
		var err error
		if fake, err = fakeIt.Next(); err != nil {
			return res, errors.Wrap(err, "draw fake batch")
		}
	}
	res.Fake = fake

	loss, err := t.Strategy.GeneratorLoss(fake)
	if err != nil {
		return res, errors.Wrap(err, "generator loss")
	}
	loss, res.Loss, err = scalarLoss(loss)
	if err != nil {
		return res, err
	}

	params := t.Generator.Parameters()
	switch {
	case !tensor.Reaches(loss, params):
		res.Failure = errors.WithStack(ErrNoGradient)
	default:
		if err := loss.Backward(); err != nil {
			res.Failure = errors.Wrap(err, "generator backward")
		} else if err := tensor.CheckFiniteGrads(params); err != nil {
			res.Failure = errors.WithStack(err)
		} else if err := t.GenOpt.Step(); err != nil {
			res.Failure = errors.Wrap(err, "generator optimizer step")
		}
	}
	if res.Failure != nil {
		tensor.ZeroGrad(params)
	}
	return res, nil
}

// TrainStep runs numDiscIters critic updates followed by one generator update
// on the fake batch of the last critic update.
func (t *Trainer) TrainStep(real, fake Iterator, numDiscIters int) (StepResult, error) {
	var res StepResult
	if numDiscIters < 1 {
		return res, errors.Errorf("need at least one critic step, got %d", numDiscIters)
	}

	var lastFake *Batch
	for i := 0; i < numDiscIters; i++ {
		cr, err := t.TrainCriticStep(real, fake)
		if err != nil {
			return res, errors.Wrapf(err, "critic step %d", i)
		}
		res.CriticLoss = cr.Loss
		lastFake = cr.Fake
	}

	gr, err := t.TrainGeneratorStep(fake, lastFake)
	if err != nil {
		return res, errors.Wrap(err, "generator step")
	}
	res.GeneratorLoss = gr.Loss
	res.Failure = gr.Failure
	return res, nil
}

type runOptions struct {
	logger   Logger
	callback Callback
}

// RunOption configures a single Train call.
type RunOption func(*runOptions)

// WithLogger forwards every recorded scalar to l.
func WithLogger(l Logger) RunOption {
	return func(o *runOptions) { o.logger = l }
}

// WithCallback calls fn after each iteration.
func WithCallback(fn Callback) RunOption {
	return func(o *runOptions) { o.callback = fn }
}

func (t *Trainer) outputPath(name string) string {
	return filepath.Join(t.cfg.OutputPath, name)
}

func (t *Trainer) openSink() (metrics.ScalarWriter, bool, error) {
	if t.sink != nil {
		return t.sink, false, nil
	}
	if !t.cfg.Metrics {
		return metrics.Nop{}, false, nil
	}
	w, err := metrics.NewEventWriter(t.cfg.OutputPath)
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}

// Train runs cfg.NumIter iterations over data and always ends with a "final"
// checkpoint. Cancelling ctx stops the loop between iterations; the final
// checkpoint is still written and ctx's error is returned.
func (t *Trainer) Train(ctx context.Context, data Iterator, opts ...RunOption) (*metrics.History, error) {
	var ro runOptions
	for _, o := range opts {
		o(&ro)
	}
	if t.Synth == nil || t.Critic == nil {
		return nil, errors.New("training needs both a generator and a critic")
	}
	if t.cfg.OutputPath != "" {
		if err := os.MkdirAll(t.cfg.OutputPath, 0o755); err != nil {
			return nil, errors.Wrap(err, "create output directory")
		}
	}

	sink, owned, err := t.openSink()
	if err != nil {
		return nil, err
	}
	if owned {
		defer sink.Close()
	}

	for _, n := range []Network{t.Generator, t.Critic} {
		if m, ok := n.(ModeSetter); ok {
			m.Train()
		}
	}
	if e, ok := data.(interface{ Epoch() int }); ok {
		t.epoch = e.Epoch
	}

	baseGenLR, baseCriticLR := t.GenOpt.GetLR(), t.CriticOpt.GetLR()
	fake := t.Synth.Stream(t.cfg.BatchSize, t.cfg.LatentShape, data, FakeOptions{})
	t.history = metrics.NewHistory(t.cfg.VisualizeNth)

	var bar *training.ProgressBar
	if t.progress {
		bar = training.NewProgressBar("Training", t.cfg.NumIter)
		bar.SetUnit("iter")
		bar.SetOutput(os.Stderr)
	}

	t.log.Info("training started",
		"run_id", t.runID,
		"iterations", t.cfg.NumIter,
		"critic_steps", t.cfg.NumDiscIters,
		"batch_size", t.cfg.BatchSize,
		"conditional", t.cfg.Conditional)

	start := time.Now()
	var runErr error
	for i := 0; i < t.cfg.NumIter; i++ {
		if err := ctx.Err(); err != nil {
			t.log.Warn("training interrupted", "iter", i, "err", err)
			runErr = err
			break
		}
		t.iteration = i

		if t.cfg.IsCheckpoint(i + 1) {
			if err := t.Save(strconv.Itoa(i + 1)); err != nil {
				return t.history, err
			}
		}

		if t.scheduler != nil {
			t.GenOpt.SetLR(t.scheduler.GetLR(i, i, baseGenLR))
			t.CriticOpt.SetLR(t.scheduler.GetLR(i, i, baseCriticLR))
		}

		res, err := t.TrainStep(data, fake, t.cfg.NumDiscIters)
		if err != nil {
			return t.history, errors.Wrapf(err, "iteration %d", i)
		}
		t.last = res
		if res.Failure != nil {
			if t.cfg.GeneratorFailure == config.FailureAbort {
				return t.history, errors.Wrapf(res.Failure, "iteration %d", i)
			}
			t.log.Warn("generator step skipped", "iter", i, "err", res.Failure)
		}

		t.history.Append(res.GeneratorLoss, res.CriticLoss, time.Since(start))
		t.history.RecordLR(t.GenOpt.GetLR())

		if err := sink.AddScalar("disc_loss", res.CriticLoss, i); err != nil {
			return t.history, errors.Wrap(err, "write metrics")
		}
		if err := sink.AddScalar("gen_loss", res.GeneratorLoss, i); err != nil {
			return t.history, errors.Wrap(err, "write metrics")
		}
		if ro.logger != nil {
			ro.logger.Add("disc_loss", res.CriticLoss, i)
			ro.logger.Add("gen_loss", res.GeneratorLoss, i)
		}
		if ro.callback != nil {
			ro.callback(t, i)
		}

		if err := t.history.SaveNPY(t.outputPath(metrics.HistoryFile)); err != nil {
			return t.history, err
		}

		if bar != nil {
			bar.Update(i+1, map[string]float64{"disc_loss": res.CriticLoss, "gen_loss": res.GeneratorLoss})
		}
		if t.cfg.VisualizeNth > 0 && i%t.cfg.VisualizeNth == 0 {
			t.log.Debug("iteration", "iter", i, "epoch", t.currentEpoch(),
				"disc_loss", res.CriticLoss, "gen_loss", res.GeneratorLoss)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	if err := t.Save("final"); err != nil {
		return t.history, err
	}
	if err := t.history.WritePlots(t.outputPath(metrics.CurvesFile), t.cfg.Dataset); err != nil {
		return t.history, err
	}
	t.log.Info("training finished", "iterations", t.history.Len(), "elapsed", time.Since(start).Round(time.Millisecond))
	return t.history, runErr
}

func (t *Trainer) currentEpoch() int {
	if t.epoch == nil {
		return 0
	}
	return t.epoch()
}

// CheckpointPath returns the file a network snapshot is written to, prefix
// being "gen" or "disc".
func (t *Trainer) CheckpointPath(prefix, tag string) string {
	return t.outputPath(fmt.Sprintf("%s_%s%s", prefix, tag, t.saver.Format().Extension()))
}

func learningRate(opt training.Optimizer) float64 {
	if opt == nil {
		return 0
	}
	return opt.GetLR()
}

// Save writes gen_<tag> and disc_<tag> under the output path. A missing
// network is skipped.
func (t *Trainer) Save(tag string) error {
	for _, s := range []struct {
		net    Network
		prefix string
		model  string
		lr     float64
	}{
		{t.Generator, "gen", "generator", learningRate(t.GenOpt)},
		{t.Critic, "disc", "critic", learningRate(t.CriticOpt)},
	} {
		if s.net == nil {
			continue
		}
		weights, err := checkpoints.ExtractWeights(s.net.Parameters(), s.model)
		if err != nil {
			return errors.Wrapf(err, "snapshot %s", s.model)
		}
		ckpt := &checkpoints.Checkpoint{
			Weights: weights,
			TrainingState: checkpoints.TrainingState{
				Iteration:    t.iteration,
				Epoch:        t.currentEpoch(),
				LearningRate: float32(s.lr),
				GenLoss:      float32(t.last.GeneratorLoss),
				DiscLoss:     float32(t.last.CriticLoss),
			},
			Metadata: checkpoints.CheckpointMetadata{
				RunID: t.runID,
				Tag:   tag,
				Model: s.model,
			},
		}
		path := t.CheckpointPath(s.prefix, tag)
		if err := t.saver.SaveCheckpoint(ckpt, path); err != nil {
			return errors.Wrapf(err, "save %s checkpoint %s", s.model, tag)
		}
		t.log.Debug("checkpoint saved", "tag", tag, "model", s.model, "path", path)
	}
	return nil
}

// Load restores both networks from the snapshots saved under tag. A missing
// network is skipped.
func (t *Trainer) Load(tag string) error {
	for _, s := range []struct {
		net    Network
		prefix string
	}{
		{t.Generator, "gen"},
		{t.Critic, "disc"},
	} {
		if s.net == nil {
			continue
		}
		ckpt, err := t.saver.LoadCheckpoint(t.CheckpointPath(s.prefix, tag))
		if err != nil {
			return err
		}
		if err := checkpoints.LoadWeights(ckpt.Weights, s.net.Parameters()); err != nil {
			return errors.Wrapf(err, "restore %s_%s", s.prefix, tag)
		}
	}
	return nil
}
