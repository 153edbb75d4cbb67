package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
)

// HistoryFile is the name of the score history artifact.
const HistoryFile = "loss.npy"

// History accumulates per-iteration losses and elapsed wall time.
type History struct {
	VisualizeNth int
	Gen          []float64
	Disc         []float64
	Time         []float64
	LR           []float64
}

// NewHistory returns an empty history tagged with the visualization cadence.
func NewHistory(visualizeNth int) *History {
	return &History{VisualizeNth: visualizeNth}
}

// Append records one iteration. elapsed is the wall time since training began.
func (h *History) Append(genLoss, discLoss float64, elapsed time.Duration) {
	h.Gen = append(h.Gen, genLoss)
	h.Disc = append(h.Disc, discLoss)
	h.Time = append(h.Time, elapsed.Seconds())
}

// RecordLR records the learning rate in effect for the latest iteration.
func (h *History) RecordLR(lr float64) {
	h.LR = append(h.LR, lr)
}

// Len returns the number of recorded iterations.
func (h *History) Len() int {
	return len(h.Gen)
}

// Values flattens the history as [visualize_nth, gen..., disc..., time...].
func (h *History) Values() []float64 {
	out := make([]float64, 0, 1+3*len(h.Gen))
	out = append(out, float64(h.VisualizeNth))
	out = append(out, h.Gen...)
	out = append(out, h.Disc...)
	out = append(out, h.Time...)
	return out
}

// SaveNPY writes Values as a 1-D float64 .npy array, replacing path atomically.
func (h *History) SaveNPY(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "create history file")
	}
	if err := npyio.Write(tmp, h.Values()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "encode history %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "write history %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "move history into place at %s", path)
	}
	return nil
}

// LoadNPY reads a history written by SaveNPY. The learning rate series is not
// part of the artifact.
func LoadNPY(path string) (*History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open history file")
	}
	defer f.Close()

	var values []float64
	if err := npyio.Read(f, &values); err != nil {
		return nil, errors.Wrapf(err, "decode history %s", path)
	}
	if len(values) == 0 || (len(values)-1)%3 != 0 {
		return nil, errors.Errorf("history %s has %d values, want 1+3n", path, len(values))
	}
	n := (len(values) - 1) / 3
	return &History{
		VisualizeNth: int(values[0]),
		Gen:          append([]float64(nil), values[1:1+n]...),
		Disc:         append([]float64(nil), values[1+n:1+2*n]...),
		Time:         append([]float64(nil), values[1+2*n:]...),
	}, nil
}
