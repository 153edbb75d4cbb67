package checkpoints

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Values holds the contents of a weight tensor. In JSON finite values are
// plain numbers while NaN and infinities are written as the strings "NaN",
// "+Inf" and "-Inf", so a diverged network still round-trips.
type Values []float32

// MarshalJSON implements json.Marshaler.
func (v Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	b := make([]byte, 0, 2+len(v)*8)
	b = append(b, '[')
	for i, x := range v {
		if i > 0 {
			b = append(b, ',')
		}
		f := float64(x)
		switch {
		case math.IsNaN(f):
			b = append(b, `"NaN"`...)
		case math.IsInf(f, 1):
			b = append(b, `"+Inf"`...)
		case math.IsInf(f, -1):
			b = append(b, `"-Inf"`...)
		default:
			b = strconv.AppendFloat(b, f, 'g', -1, 32)
		}
	}
	return append(b, ']'), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Values) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = nil
		return nil
	}
	out := make(Values, len(raw))
	for i, r := range raw {
		s := string(r)
		if len(r) > 0 && r[0] == '"' {
			if err := json.Unmarshal(r, &s); err != nil {
				return err
			}
		}
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return errors.Wrapf(err, "value %d", i)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

// trainingStateJSON is the wire form of TrainingState. A non-finite loss or
// learning rate is written as null and read back as NaN.
type trainingStateJSON struct {
	Iteration    int      `json:"iteration"`
	Epoch        int      `json:"epoch"`
	LearningRate *float32 `json:"learning_rate"`
	GenLoss      *float32 `json:"gen_loss"`
	DiscLoss     *float32 `json:"disc_loss"`
}

func finiteOrNil(x float32) *float32 {
	f := float64(x)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &x
}

func orNaN(p *float32) float32 {
	if p == nil {
		return float32(math.NaN())
	}
	return *p
}

// MarshalJSON implements json.Marshaler.
func (s TrainingState) MarshalJSON() ([]byte, error) {
	return json.Marshal(trainingStateJSON{
		Iteration:    s.Iteration,
		Epoch:        s.Epoch,
		LearningRate: finiteOrNil(s.LearningRate),
		GenLoss:      finiteOrNil(s.GenLoss),
		DiscLoss:     finiteOrNil(s.DiscLoss),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *TrainingState) UnmarshalJSON(data []byte) error {
	var w trainingStateJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = TrainingState{
		Iteration:    w.Iteration,
		Epoch:        w.Epoch,
		LearningRate: orNaN(w.LearningRate),
		GenLoss:      orNaN(w.GenLoss),
		DiscLoss:     orNaN(w.DiscLoss),
	}
	return nil
}
