// Package config holds the run configuration of an adversarial training job.
package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrConflictingLabelModes is returned by Validate when two-label and
// single-label conditional generation are both enabled.
var ErrConflictingLabelModes = errors.New("two_labels and conditional are mutually exclusive")

// Generator failure policies.
const (
	FailureSkip  = "skip"
	FailureAbort = "abort"
)

// Config captures the runtime knobs for a training run. It is treated as
// read-only once Validate has passed.
type Config struct {
	Accelerator     bool    `yaml:"accelerator"`
	BatchSize       int     `yaml:"batch_size"`
	LatentShape     []int   `yaml:"latent_shape"`
	NumIter         int     `yaml:"num_iter"`
	NumDiscIters    int     `yaml:"num_disc_iters"`
	GradientPenalty float64 `yaml:"gradient_penalty"`
	Checkpoints     []int   `yaml:"checkpoints"`
	VisualizeNth    int     `yaml:"visualize_nth"`

	Conditional       bool `yaml:"conditional"`
	ConditionalCritic bool `yaml:"conditional_critic"`
	ShuffleLabels     bool `yaml:"shuffle_labels"`
	TwoLabels         bool `yaml:"two_labels"`
	NumClasses        int  `yaml:"n_classes"`
	NumClasses1       int  `yaml:"n_classes1"`
	NumClasses2       int  `yaml:"n_classes2"`

	OutputPath       string `yaml:"path"`
	Metrics          bool   `yaml:"metrics"`
	Progress         bool   `yaml:"progress"`
	CheckpointFormat string `yaml:"checkpoint_format"`
	GeneratorFailure string `yaml:"generator_failure"`
	Loss             string `yaml:"loss"`
	Seed             int64  `yaml:"seed"`

	// Used by the command line driver only.
	Dataset     string  `yaml:"dataset"`
	DatasetSize int     `yaml:"dataset_size"`
	Hidden      []int   `yaml:"hidden"`
	LRCritic    float64 `yaml:"lr_critic"`
	LRGenerator float64 `yaml:"lr_generator"`
	Beta1       float64 `yaml:"beta1"`
	Beta2       float64 `yaml:"beta2"`
	LRSchedule  string  `yaml:"lr_schedule"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		BatchSize:        256,
		LatentShape:      []int{2},
		NumIter:          50,
		NumDiscIters:     10,
		GradientPenalty:  0.1,
		Checkpoints:      []int{},
		VisualizeNth:     10,
		NumClasses:       4,
		NumClasses1:      41,
		NumClasses2:      35,
		CheckpointFormat: "json",
		GeneratorFailure: FailureSkip,
		Loss:             "bce",
		Dataset:          "gaussians",
		DatasetSize:      1000,
		Hidden:           []int{64, 64},
		LRCritic:         2e-4,
		LRGenerator:      2e-4,
		Beta1:            0.5,
		Beta2:            0.999,
	}
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Accelerator bool
	BatchSize   int
	NumIter     int
	OutputPath  string
	Dataset     string
	Seed        int64
	Metrics     bool
	Progress    bool
}

// Load reads a Config from YAML on top of Default and validates it. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults without validating.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Accelerator {
		c.Accelerator = true
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumIter > 0 {
		c.NumIter = o.NumIter
	}
	if o.OutputPath != "" {
		c.OutputPath = o.OutputPath
	}
	if o.Dataset != "" {
		c.Dataset = o.Dataset
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Metrics {
		c.Metrics = true
	}
	if o.Progress {
		c.Progress = true
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if len(c.LatentShape) == 0 {
		return errors.New("latent_shape must have at least one dimension")
	}
	for _, d := range c.LatentShape {
		if d <= 0 {
			return errors.Errorf("latent_shape dimensions must be > 0 (got %v)", c.LatentShape)
		}
	}
	if c.NumIter <= 0 {
		return errors.Errorf("num_iter must be > 0 (got %d)", c.NumIter)
	}
	if c.NumDiscIters <= 0 {
		return errors.Errorf("num_disc_iters must be > 0 (got %d)", c.NumDiscIters)
	}
	if c.VisualizeNth <= 0 {
		return errors.Errorf("visualize_nth must be > 0 (got %d)", c.VisualizeNth)
	}
	if c.GradientPenalty < 0 {
		return errors.Errorf("gradient_penalty must be >= 0 (got %g)", c.GradientPenalty)
	}
	for _, it := range c.Checkpoints {
		if it <= 0 {
			return errors.Errorf("checkpoint iterations are 1-based (got %d)", it)
		}
	}

	if c.TwoLabels && c.Conditional {
		return errors.WithStack(ErrConflictingLabelModes)
	}
	if c.Conditional && c.NumClasses < 2 {
		return errors.Errorf("conditional training needs n_classes >= 2 (got %d)", c.NumClasses)
	}
	if c.TwoLabels && (c.NumClasses1 < 1 || c.NumClasses2 < 1) {
		return errors.Errorf("two_labels needs n_classes1 and n_classes2 > 0 (got %d, %d)", c.NumClasses1, c.NumClasses2)
	}
	if c.ConditionalCritic && !c.Conditional {
		return errors.New("conditional_critic requires conditional")
	}
	if c.ShuffleLabels && !c.Conditional {
		return errors.New("shuffle_labels requires conditional")
	}

	switch c.CheckpointFormat {
	case "", "json", "binary":
	default:
		return errors.Errorf("checkpoint_format must be json or binary (got %q)", c.CheckpointFormat)
	}
	switch c.GeneratorFailure {
	case "", FailureSkip, FailureAbort:
	default:
		return errors.Errorf("generator_failure must be %s or %s (got %q)", FailureSkip, FailureAbort, c.GeneratorFailure)
	}
	switch c.Loss {
	case "", "bce", "lsgan", "wgan":
	default:
		return errors.Errorf("loss must be bce, lsgan or wgan (got %q)", c.Loss)
	}
	switch c.LRSchedule {
	case "", "constant", "step", "exponential", "cosine":
	default:
		return errors.Errorf("lr_schedule must be constant, step, exponential or cosine (got %q)", c.LRSchedule)
	}
	return nil
}

// IsCheckpoint reports whether the 1-based iteration is listed in Checkpoints.
func (c *Config) IsCheckpoint(iteration int) bool {
	for _, it := range c.Checkpoints {
		if it == iteration {
			return true
		}
	}
	return false
}
